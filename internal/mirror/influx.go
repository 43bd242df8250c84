package mirror

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/i474232898/weatherstation/internal/config"
	"github.com/i474232898/weatherstation/internal/weather"
)

const measurement = "measure"

// Influx writes every stored reading as a time-series point.
type Influx struct {
	client influxdb2.Client
	org    string
	bucket string
}

func NewInflux(cfg config.MirrorConfig) *Influx {
	return &Influx{
		client: influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken),
		org:    cfg.InfluxOrg,
		bucket: cfg.InfluxBucket,
	}
}

func (i *Influx) Name() string { return "influx" }

func (i *Influx) Publish(ctx context.Context, snap weather.Snapshot, at time.Time) error {
	pts := points(snap, at)
	if len(pts) == 0 {
		return nil
	}

	writeAPI := i.client.WriteAPIBlocking(i.org, i.bucket)
	if err := writeAPI.WritePoint(ctx, pts...); err != nil {
		return fmt.Errorf("influx: %w", err)
	}
	return nil
}

func (i *Influx) Close() error {
	i.client.Close()
	return nil
}

func points(snap weather.Snapshot, at time.Time) []*write.Point {
	pts := make([]*write.Point, 0, len(snap.Readings))
	for _, r := range snap.Readings {
		pts = append(pts, influxdb2.NewPoint(
			measurement,
			map[string]string{"sensor": r.Name},
			map[string]any{"temperature": r.Temperature, "humidity": r.Humidity},
			at,
		))
	}
	return pts
}
