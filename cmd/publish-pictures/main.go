package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/i474232898/weatherstation/internal/cli"
	"github.com/i474232898/weatherstation/internal/pictures"
	"github.com/i474232898/weatherstation/internal/sink"
)

const program = "publish-pictures"

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
	if err := cfg.ValidatePictures(); err != nil {
		log.WithError(err).Error("Invalid configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pc := cfg.Pictures
	client := sink.NewPictureClient(pc.URL, sink.PictureCredentials{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Username:     pc.Username,
		Password:     pc.Password,
	}, pc.LoginTimeout, pc.UploadTimeout, log)
	uploader := pictures.New(client, pc, log)

	step := func(ctx context.Context) error {
		_, err := uploader.Run(ctx)
		return err
	}

	err = cli.Run(ctx, cli.Program{Name: program, Step: step}, cfg.Port, flags.Wait, log)
	if err != nil {
		log.WithError(err).Error("Error occurred")
		if sink.IsUnreachableLogin(err) {
			return 1
		}
	}
	return 0
}
