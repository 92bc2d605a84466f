package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rewired-gh/casesim/internal/config"
	"github.com/rewired-gh/casesim/internal/dataset"
	"github.com/rewired-gh/casesim/internal/freqtable"
	"github.com/rewired-gh/casesim/internal/logger"
	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/montecarlo"
	"github.com/rewired-gh/casesim/internal/storage"
)

// loadRecords returns the daily records of the configured district. The
// dataset is downloaded first when a URL is configured and the local copy is
// missing or refresh is set. Aggregates are served from the cache while the
// source file is unchanged.
func loadRecords(ctx context.Context, cfg *config.Config, refresh bool) ([]models.DailyRecord, error) {
	path := cfg.Dataset.Path
	if cfg.Dataset.URL != "" {
		_, statErr := os.Stat(path)
		if refresh || errors.Is(statErr, os.ErrNotExist) {
			fetcher := dataset.NewFetcher(cfg.Dataset.Timeout, cfg.Dataset.MaxRetries, cfg.Dataset.RetryDelayBase)
			if err := fetcher.Download(ctx, cfg.Dataset.URL, path); err != nil {
				return nil, err
			}
		}
	}

	var store *storage.Storage
	if cfg.Cache.Enabled {
		store = storage.New(cfg.Cache.MaxEntries, cfg.Cache.FilePath, 0o644, 0o755)
		if err := store.Load(); err != nil {
			logger.Warn("Failed to load cache, starting fresh: %v", err)
			store = storage.New(cfg.Cache.MaxEntries, cfg.Cache.FilePath, 0o644, 0o755)
		}
		if records, ok := store.Lookup(path, cfg.Dataset.District); ok {
			logger.Info("Loaded %d days for %s from cache", len(records), cfg.Dataset.District)
			return records, nil
		}
		logger.Debug("Cache miss for %s", path)
	}

	startTime := time.Now()
	records, err := dataset.Load(dataset.Source{
		Path:           path,
		Sheet:          cfg.Dataset.Sheet,
		District:       cfg.Dataset.District,
		DistrictColumn: cfg.Dataset.DistrictColumn,
		DateColumn:     cfg.Dataset.DateColumn,
		DateLayouts:    cfg.Dataset.DateLayouts,
		Columns:        cfg.Dataset.Columns.ByVariable(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	logger.Debug("Dataset loaded in %v", time.Since(startTime))

	if store != nil {
		entry, err := storage.NewEntry(path, cfg.Dataset.District, records)
		if err == nil {
			err = store.Put(entry)
		}
		if err == nil {
			store.Rotate()
			err = store.Save()
		}
		if err != nil {
			logger.Warn("Failed to update cache: %v", err)
		}
	}

	return records, nil
}

// buildTables extracts the observed series and builds one frequency table per variable.
func buildTables(cfg *config.Config, records []models.DailyRecord) ([]models.ObservedSeries, montecarlo.Tables, error) {
	observed := make([]models.ObservedSeries, 0, len(models.Variables))
	for _, v := range models.Variables {
		s := models.SeriesFromRecords(records, v)
		if dropped := len(records) - s.Len(); dropped > 0 {
			logger.Warn("Dropped %d days with missing %s values", dropped, v)
		}
		observed = append(observed, s)
	}

	tables, err := freqtable.BuildAll(observed, cfg.FreqTable.ByVariable())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build frequency tables: %w", err)
	}
	for _, v := range models.Variables {
		t := tables[v]
		logger.Debug("Built %s table: n=%d, k=%d, p=%d, corrections=%v", v, t.N, t.ClassCount, t.ClassWidth, t.Corrections)
	}
	return observed, tables, nil
}

type runResult struct {
	name  string
	label string
	run   *montecarlo.SimulationRun
}

// runSimulations executes the fixed run and the user run on the same tables.
func runSimulations(cfg *config.Config, tables montecarlo.Tables) ([]runResult, error) {
	sim, err := montecarlo.New(tables, cfg.Simulation.Policy())
	if err != nil {
		return nil, err
	}

	runs := []struct {
		name  string
		label string
		cfg   config.RunConfig
	}{
		{"fixed", "Fixed run", cfg.Simulation.FixedRun},
		{"user", "User run", cfg.Simulation.UserRun},
	}

	results := make([]runResult, 0, len(runs))
	for _, r := range runs {
		run, err := sim.Run(r.cfg.Length, r.cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.label, err)
		}
		if run.Seeded {
			logger.Info("%s: %d days with seed %d", r.label, run.Length, run.Seed)
		} else {
			logger.Info("%s: %d days, unseeded (%s)", r.label, run.Length, replayHint(r.name, run.Seed))
		}
		results = append(results, runResult{name: r.name, label: r.label, run: run})
	}
	return results, nil
}

// replayHint tells how to reproduce an unseeded run. Only the user run has a
// flag; the fixed run is seeded through its config key.
func replayHint(name string, seed int64) string {
	if name == "user" {
		return fmt.Sprintf("replay with --seed %d", seed)
	}
	return fmt.Sprintf("replay with simulation.%s_run.seed: %d", name, seed)
}
