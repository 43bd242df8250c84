package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weatherstation/internal/sink"
	"github.com/i474232898/weatherstation/internal/weather"
)

// Sink is the remote measure service.
type Sink interface {
	Login(ctx context.Context) error
	ListSensors(ctx context.Context) ([]sink.RemoteSensor, error)
	LastTimestamp(ctx context.Context, sensor sink.SensorID) (time.Time, error)
	PostMeasures(ctx context.Context, sensor sink.SensorID, measures []weather.Measure) error
}

// MeasureSource is the read side of the local store.
type MeasureSource interface {
	QueryMeasuresSince(ctx context.Context, sensorName string, since time.Time) ([]weather.Measure, error)
}

// FailurePolicy decides what happens to the remaining sensors once one fails.
type FailurePolicy int

const (
	// AbortRun ends the run at the first failing sensor.
	AbortRun FailurePolicy = iota
	// SkipSensor records the failure and moves on to the next sensor.
	SkipSensor
)

func (p FailurePolicy) String() string {
	if p == SkipSensor {
		return "skip-sensor"
	}
	return "abort-run"
}

type SensorFailure struct {
	Sensor string
	Step   string
	Err    error
}

// Report summarizes one export run.
type Report struct {
	Sensors   int
	Posted    int
	PerSensor map[string]int
	Failures  []SensorFailure
	Elapsed   time.Duration
}

// Exporter forwards locally stored measures the sink has not seen yet.
type Exporter struct {
	sink   Sink
	source MeasureSource
	policy FailurePolicy
	log    logrus.FieldLogger
	now    func() time.Time
}

func New(s Sink, source MeasureSource, policy FailurePolicy, log logrus.FieldLogger) *Exporter {
	return &Exporter{
		sink:   s,
		source: source,
		policy: policy,
		log:    log.WithField("component", "exporter"),
		now:    time.Now,
	}
}

// Run logs in, then exports every sink sensor in the order the sink lists
// them. Sensors are processed sequentially.
func (e *Exporter) Run(ctx context.Context) (Report, error) {
	start := e.now()
	report := Report{PerSensor: make(map[string]int)}

	if err := e.sink.Login(ctx); err != nil {
		return report, fmt.Errorf("login: %w", err)
	}

	sensors, err := e.sink.ListSensors(ctx)
	if err != nil {
		return report, fmt.Errorf("list sensors: %w", err)
	}
	report.Sensors = len(sensors)

	for _, s := range sensors {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		n, step, err := e.exportSensor(ctx, s)
		if err != nil {
			report.Failures = append(report.Failures, SensorFailure{Sensor: s.Name, Step: step, Err: err})
			if e.policy == AbortRun {
				report.Elapsed = e.now().Sub(start)
				return report, fmt.Errorf("sensor %s: %s: %w", s.Name, step, err)
			}
			e.log.WithError(err).Warnf("Skipping sensor %s after failed %s", s.Name, step)
			continue
		}

		report.PerSensor[s.Name] = n
		report.Posted += n
	}

	report.Elapsed = e.now().Sub(start)
	e.log.Infof("Posted %d in %s", report.Posted, report.Elapsed)
	return report, nil
}

func (e *Exporter) exportSensor(ctx context.Context, s sink.RemoteSensor) (int, string, error) {
	since, err := e.sink.LastTimestamp(ctx, s.ID)
	if err != nil {
		return 0, "last timestamp", err
	}

	measures, err := e.source.QueryMeasuresSince(ctx, s.Name, since)
	if err != nil {
		return 0, "query", err
	}

	log := e.log.WithField("sensor", s.Name)
	if len(measures) == 0 {
		log.Debugf("Nothing new since %s", weather.FormatTimestamp(since))
		return 0, "", nil
	}

	if err := e.sink.PostMeasures(ctx, s.ID, measures); err != nil {
		return 0, "post", err
	}
	log.Infof("Posted %d measures since %s", len(measures), weather.FormatTimestamp(since))
	return len(measures), "", nil
}
