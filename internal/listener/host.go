package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weatherstation/internal/config"
	"github.com/i474232898/weatherstation/internal/weather"
)

// Host is the save step: the only reader of the mailbox and the only writer
// to the store.
type Host struct {
	mailbox  *Mailbox
	store    weather.Store
	mirrors  []weather.Mirror
	interval time.Duration
	attempts int
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewHost(mailbox *Mailbox, store weather.Store, cfg config.ListenerConfig, log logrus.FieldLogger, mirrors ...weather.Mirror) *Host {
	return &Host{
		mailbox:  mailbox,
		store:    store,
		mirrors:  mirrors,
		interval: cfg.PollInterval,
		attempts: cfg.PollAttempts,
		log:      log.WithField("component", "host"),
		now:      time.Now,
	}
}

// SaveLatest polls the mailbox right away and then every interval until a
// snapshot shows up or the attempts run out. Giving up is not an error;
// saved reports whether anything was stored.
func (h *Host) SaveLatest(ctx context.Context) (saved bool, err error) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= h.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-ticker.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}

		snap, ok := h.mailbox.Poll()
		if !ok {
			h.log.Debugf("No sensor data yet (attempt %d/%d)", attempt, h.attempts)
			continue
		}

		at := h.now()
		if err := h.store.SaveSnapshot(ctx, snap, at); err != nil {
			return false, fmt.Errorf("save snapshot: %w", err)
		}
		for _, r := range snap.Readings {
			h.log.Infof("Saved %s: %.1f°C %.1f%%", r.Name, r.Temperature, r.Humidity)
		}

		h.mirror(ctx, snap, at)
		return true, nil
	}

	h.log.Warnf("No sensor data received after %d attempts", h.attempts)
	return false, nil
}

func (h *Host) mirror(ctx context.Context, snap weather.Snapshot, at time.Time) {
	for _, m := range h.mirrors {
		if err := m.Publish(ctx, snap, at); err != nil {
			h.log.WithError(err).Warnf("Mirror %s failed", m.Name())
		}
	}
}
