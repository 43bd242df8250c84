// Package cli holds what the three programs share: flags, config and
// logger setup, and the one-shot or repeating run loop.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	httpapi "github.com/i474232898/weatherstation/internal/api/http"
	"github.com/i474232898/weatherstation/internal/config"
	"github.com/i474232898/weatherstation/internal/logging"
	"github.com/i474232898/weatherstation/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

type Flags struct {
	Config string
	Log    string
	Wait   time.Duration
}

// ParseFlags parses the common command line of a program.
func ParseFlags(program string, args []string, output io.Writer) (Flags, error) {
	var f Flags

	fs := flag.NewFlagSet(program, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.Config, "config", "weatherstation.env", "dotenv file with the configuration")
	fs.StringVar(&f.Log, "log", "", "log level, overrides LOG_LEVEL")
	fs.DurationVar(&f.Wait, "wait", 0, "repeat every interval and serve the status API (0 runs once)")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if f.Wait < 0 {
		return f, fmt.Errorf("-wait must not be negative, got %s", f.Wait)
	}
	return f, nil
}

// Setup loads the configuration named by f and builds the logger.
func Setup(f Flags, out io.Writer) (*config.AppConfig, *logrus.Logger, error) {
	cfg, err := config.Load(f.Config)
	if err != nil {
		return nil, nil, err
	}
	if f.Log != "" {
		cfg.LogLevel = strings.ToLower(f.Log)
	}

	log, err := logging.New(out, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// Program is one of the weatherstation entry points.
type Program struct {
	Name string
	Step scheduler.Job
	// Measures backs /api/v1/measures; nil leaves the endpoint out.
	Measures httpapi.MeasureSource
}

// Run executes the program step once when wait is zero. Otherwise it repeats
// the step every wait and serves the status API until ctx is done; step
// failures are then logged and reported by the API instead of returned.
func Run(ctx context.Context, p Program, port string, wait time.Duration, log *logrus.Logger) error {
	if wait == 0 {
		return p.Step(ctx)
	}

	sched := scheduler.New(ctx, log)
	if err := sched.Add(p.Name, wait, p.Step); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	accessLog := log.WithField("component", "http").WriterLevel(logrus.InfoLevel)
	defer accessLog.Close()

	app := httpapi.NewApp(p.Name, accessLog)
	httpapi.RegisterRoutes(app, p.Name, sched, p.Measures)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(":" + port)
	}()
	log.Infof("Running %s every %s, status API on :%s", p.Name, wait, port)

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		return fmt.Errorf("status API: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error during shutdown")
	}
	return nil
}

// IsHelp reports whether err is the result of -h.
func IsHelp(err error) bool {
	return errors.Is(err, flag.ErrHelp)
}
