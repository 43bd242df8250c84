package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/i474232898/weatherstation/internal/cli"
	"github.com/i474232898/weatherstation/internal/listener"
	"github.com/i474232898/weatherstation/internal/mirror"
	"github.com/i474232898/weatherstation/internal/store"
)

const program = "save-measures"

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
	if err := cfg.ValidateListener(); err != nil {
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

	mirrors, closers := mirror.FromConfig(cfg.Mirrors)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	// Every run connects, waits for one snapshot and disconnects again.
	step := func(ctx context.Context) error {
		mailbox := listener.NewMailbox()
		l := listener.New(cfg.Broker, cfg.Sensors, mailbox, log)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := l.Start(runCtx); err != nil {
			return err
		}
		defer l.Stop()
		go l.Run(runCtx)

		_, err := listener.NewHost(mailbox, db, cfg.Listener, log, mirrors...).SaveLatest(ctx)
		return err
	}

	err = cli.Run(ctx, cli.Program{Name: program, Step: step, Measures: db}, cfg.Port, flags.Wait, log)
	if err != nil {
		log.WithError(err).Error("Error occurred")
	}
	return 0
}
