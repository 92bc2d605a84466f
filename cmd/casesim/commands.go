package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/rewired-gh/casesim/internal/config"
	"github.com/rewired-gh/casesim/internal/logger"
	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/report"
	"github.com/rewired-gh/casesim/internal/telegram"
)

var dataCommand = cli.Command{
	Action: dataAction,
	Name:   "data",
	Usage:  "Prints the aggregated daily records of the district",
}

var tablesCommand = cli.Command{
	Action: tablesAction,
	Name:   "tables",
	Usage:  "Prints the frequency table and random bands of each variable",
}

var simulateCommand = cli.Command{
	Action: simulateAction,
	Name:   "simulate",
	Usage:  "Runs the fixed and the user simulation and prints their results",
	Flags: []cli.Flag{
		&daysFlag,
		&seedFlag,
		&unseededFlag,
		&chartsFlag,
		&pdfFlag,
		&notifyFlag,
	},
}

// setup loads and validates the configuration and initializes logging.
// override runs between loading and validation so flags take precedence.
func setup(c *cli.Context, override func(cfg *config.Config)) (*config.Config, error) {
	// A local .env file may carry CASESIM_* overrides; it is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	path := c.String(configFlag.Name)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Info("Configuration loaded from %s", path)
	}
	return cfg, nil
}

func dataAction(c *cli.Context) error {
	cfg, err := setup(c, nil)
	if err != nil {
		return err
	}

	records, err := loadRecords(c.Context, cfg, c.Bool(refreshFlag.Name))
	if err != nil {
		return err
	}

	report.NewRenderer(c.App.Writer, cfg.Report.TableStyle).RecordsTable(cfg.Dataset.District, records)
	return nil
}

func tablesAction(c *cli.Context) error {
	cfg, err := setup(c, nil)
	if err != nil {
		return err
	}

	records, err := loadRecords(c.Context, cfg, c.Bool(refreshFlag.Name))
	if err != nil {
		return err
	}
	_, tables, err := buildTables(cfg, records)
	if err != nil {
		return err
	}

	r := report.NewRenderer(c.App.Writer, cfg.Report.TableStyle)
	for _, v := range models.Variables {
		r.FrequencyTable(tables[v])
	}
	return nil
}

func simulateAction(c *cli.Context) error {
	cfg, err := setup(c, func(cfg *config.Config) {
		if c.IsSet(daysFlag.Name) {
			cfg.Simulation.UserRun.Length = c.Int(daysFlag.Name)
		}
		if c.IsSet(seedFlag.Name) {
			seed := c.Int64(seedFlag.Name)
			cfg.Simulation.UserRun.Seed = &seed
		}
		if c.Bool(unseededFlag.Name) {
			cfg.Simulation.UserRun.Seed = nil
		}
		if c.IsSet(chartsFlag.Name) {
			cfg.Report.Charts = c.Bool(chartsFlag.Name)
		}
		if c.IsSet(pdfFlag.Name) {
			cfg.Report.PDF = c.Bool(pdfFlag.Name)
		}
		if c.IsSet(notifyFlag.Name) {
			cfg.Telegram.Enabled = c.Bool(notifyFlag.Name)
		}
	})
	if err != nil {
		return err
	}

	// Initialize Telegram client before any work so bad credentials fail fast
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	records, err := loadRecords(c.Context, cfg, c.Bool(refreshFlag.Name))
	if err != nil {
		return err
	}
	observed, tables, err := buildTables(cfg, records)
	if err != nil {
		return err
	}

	results, err := runSimulations(cfg, tables)
	if err != nil {
		return err
	}

	r := report.NewRenderer(c.App.Writer, cfg.Report.TableStyle)
	summaries := make([]report.RunSummary, 0, len(results))
	doc := report.PDFDocument{District: cfg.Dataset.District, Tables: tables}
	for _, res := range results {
		r.SimulationTable(res.label, res.run)
		summary := report.Summarize(res.label, res.run, observed, tables)
		summaries = append(summaries, summary)
		charts := report.RunCharts(res.label, res.run, summary)
		doc.Runs = append(doc.Runs, report.PDFRun{Label: res.label, Run: res.run, Summary: summary, Charts: charts})

		if cfg.Report.Charts {
			paths, err := report.WriteCharts(cfg.Report.OutputDir, res.name, charts)
			if err != nil {
				return fmt.Errorf("failed to write charts: %w", err)
			}
			logger.Info("Wrote %d charts for %s to %s", len(paths), res.label, cfg.Report.OutputDir)
		}
	}
	r.SummaryTable(summaries)

	if cfg.Report.PDF {
		path := filepath.Join(cfg.Report.OutputDir, "casesim-report.pdf")
		if err := report.WritePDF(path, doc); err != nil {
			return fmt.Errorf("failed to write pdf report: %w", err)
		}
		logger.Info("Wrote PDF report to %s", path)
	}

	if telegramClient != nil {
		if err := telegramClient.Send(c.Context, cfg.Dataset.District, summaries); err != nil {
			logger.Error("Failed to send Telegram notification: %v", err)
		} else {
			logger.Info("Sent Telegram notification for %d runs", len(summaries))
		}
	}
	return nil
}
