package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	appLog "groupcal/internal/log"
)

const version = "0.1.0-dev"

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	app := &cli.App{
		Name:    "groupcal",
		Usage:   "Calendar module server, feed importer and client.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "/etc/groupcal/config.yaml",
				Usage:   "path to the YAML config file",
				EnvVars: []string{"GROUPCAL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			importCommand(),
			listCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		appLog.Error("groupcal failed", err)
		os.Exit(1)
	}
}
