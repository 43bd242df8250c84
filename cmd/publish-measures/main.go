package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/i474232898/weatherstation/internal/cli"
	"github.com/i474232898/weatherstation/internal/exporter"
	"github.com/i474232898/weatherstation/internal/sink"
	"github.com/i474232898/weatherstation/internal/store"
)

const program = "publish-measures"

func main() {
	os.Exit(run())
}

func run() int {
	flags, err := cli.ParseFlags(program, os.Args[1:], os.Stderr)
	if err != nil {
		if cli.IsHelp(err) {
			return 0
		}
		return 1
	}

	cfg, log, err := cli.Setup(flags, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", program, err)
		return 1
	}
	if err := cfg.ValidateExporter(); err != nil {
		log.WithError(err).Error("Invalid configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Error("Could not open local store")
		return 1
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.WithError(err).Error("Could not create schema")
		return 1
	}

	policy := exporter.AbortRun
	if cfg.Export.ContinueOnError {
		policy = exporter.SkipSensor
	}
	client := sink.NewClient(cfg.Rest.URL, cfg.Rest.Username, cfg.Rest.Password, cfg.Rest.Timeout, log)
	exp := exporter.New(client, db, policy, log)

	step := func(ctx context.Context) error {
		report, err := exp.Run(ctx)
		for _, f := range report.Failures {
			log.WithError(f.Err).Warnf("Sensor %s failed at %s", f.Sensor, f.Step)
		}
		return err
	}

	err = cli.Run(ctx, cli.Program{Name: program, Step: step, Measures: db}, cfg.Port, flags.Wait, log)
	if err != nil {
		log.WithError(err).Error("Error occurred")
		if sink.IsUnreachableLogin(err) {
			return 1
		}
	}
	return 0
}
