package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/rewired-gh/casesim/internal/logger"
)

var (
	configFlag = cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to configuration file; defaults and CASESIM_* environment variables apply when empty",
		Value:   "",
	}
	refreshFlag = cli.BoolFlag{
		Name:  "refresh",
		Usage: "download dataset.url again even if dataset.path exists",
	}
	daysFlag = cli.IntFlag{
		Name:    "days",
		Aliases: []string{"d"},
		Usage:   "length of the user run in days (1..simulation.max_length)",
	}
	seedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "seed of the user run",
	}
	unseededFlag = cli.BoolFlag{
		Name:  "unseeded",
		Usage: "run the user run without a fixed seed",
	}
	chartsFlag = cli.BoolFlag{
		Name:  "charts",
		Usage: "write PNG line charts to report.output_dir",
	}
	pdfFlag = cli.BoolFlag{
		Name:  "pdf",
		Usage: "write a PDF report of both runs to report.output_dir",
	}
	notifyFlag = cli.BoolFlag{
		Name:  "notify",
		Usage: "send the run summary to Telegram",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:     "casesim",
		HelpName: "casesim",
		Usage:    "Monte Carlo simulation of daily COVID case counts for one district",
		Flags: []cli.Flag{
			&configFlag,
			&refreshFlag,
		},
		Commands: []*cli.Command{
			&dataCommand,
			&tablesCommand,
			&simulateCommand,
		},
		DefaultCommand: simulateCommand.Name,
	}
}

func main() {
	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logger.Fatal("%v", err)
	}
}
