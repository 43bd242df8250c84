// Package mirror holds write-only copies of the local store.
package mirror

import (
	"io"

	"github.com/i474232898/weatherstation/internal/config"
	"github.com/i474232898/weatherstation/internal/weather"
)

// FromConfig returns the mirrors enabled in cfg along with their closers.
func FromConfig(cfg config.MirrorConfig) ([]weather.Mirror, []io.Closer) {
	var (
		mirrors []weather.Mirror
		closers []io.Closer
	)
	if cfg.RedisAddr != "" {
		r := NewRedis(cfg.RedisAddr)
		mirrors = append(mirrors, r)
		closers = append(closers, r)
	}
	if cfg.InfluxURL != "" {
		i := NewInflux(cfg)
		mirrors = append(mirrors, i)
		closers = append(closers, i)
	}
	return mirrors, closers
}
