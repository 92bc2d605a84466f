package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/casesim/internal/freqtable"
	"github.com/rewired-gh/casesim/internal/models"
	"github.com/rewired-gh/casesim/internal/montecarlo"
)

// Config represents the complete application configuration
type Config struct {
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Cache      CacheConfig      `mapstructure:"cache"`
	FreqTable  FreqTableConfig  `mapstructure:"freqtable"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Report     ReportConfig     `mapstructure:"report"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatasetConfig describes where the historical records come from and how to read them
type DatasetConfig struct {
	Path           string        `mapstructure:"path"`
	URL            string        `mapstructure:"url"`
	Sheet          string        `mapstructure:"sheet"`
	District       string        `mapstructure:"district"`
	DistrictColumn string        `mapstructure:"district_column"`
	DateColumn     string        `mapstructure:"date_column"`
	DateLayouts    []string      `mapstructure:"date_layouts"`
	Columns        ColumnsConfig `mapstructure:"columns"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ColumnsConfig maps each variable to its spreadsheet column header
type ColumnsConfig struct {
	Suspected string `mapstructure:"suspected"`
	Positive  string `mapstructure:"positive"`
	Discarded string `mapstructure:"discarded"`
}

// ByVariable returns the column mapping keyed by variable.
func (c ColumnsConfig) ByVariable() map[models.Variable]string {
	return map[models.Variable]string{
		models.Suspected: c.Suspected,
		models.Positive:  c.Positive,
		models.Discarded: c.Discarded,
	}
}

// CacheConfig holds the aggregated-series cache configuration
type CacheConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	FilePath   string `mapstructure:"file_path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// FreqTableConfig holds the builder rules per variable
type FreqTableConfig struct {
	Suspected freqtable.Options `mapstructure:"suspected"`
	Positive  freqtable.Options `mapstructure:"positive"`
	Discarded freqtable.Options `mapstructure:"discarded"`
}

// ByVariable returns the builder options keyed by variable.
func (c FreqTableConfig) ByVariable() map[models.Variable]freqtable.Options {
	return map[models.Variable]freqtable.Options{
		models.Suspected: c.Suspected,
		models.Positive:  c.Positive,
		models.Discarded: c.Discarded,
	}
}

// RunConfig describes one simulation run. A nil Seed means an unseeded run.
type RunConfig struct {
	Length int    `mapstructure:"length"`
	Seed   *int64 `mapstructure:"seed"`
}

// SimulationConfig holds simulation behavior configuration
type SimulationConfig struct {
	FixedRun   RunConfig `mapstructure:"fixed_run"`
	UserRun    RunConfig `mapstructure:"user_run"`
	MaxLength  int       `mapstructure:"max_length"`
	DrawPolicy string    `mapstructure:"draw_policy"`
}

// ReportConfig holds presentation configuration
type ReportConfig struct {
	OutputDir  string `mapstructure:"output_dir"`
	Charts     bool   `mapstructure:"charts"`
	PDF        bool   `mapstructure:"pdf"`
	TableStyle string `mapstructure:"table_style"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CASESIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Dataset defaults
	v.SetDefault("dataset.path", "covid_dataset.xlsx")
	v.SetDefault("dataset.district", "CEMPAKA PUTIH")
	v.SetDefault("dataset.district_column", "nama_kecamatan")
	v.SetDefault("dataset.date_column", "tanggal")
	v.SetDefault("dataset.date_layouts", []string{"2006-01-02", "2006-01-02 15:04:05", "02/01/2006", "01-02-06", "1/2/06"})
	v.SetDefault("dataset.columns.suspected", "suspek")
	v.SetDefault("dataset.columns.positive", "positif")
	v.SetDefault("dataset.columns.discarded", "discarded")
	v.SetDefault("dataset.timeout", "30s")
	v.SetDefault("dataset.max_retries", 3)
	v.SetDefault("dataset.retry_delay_base", "1s")

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.file_path", "./data/series-cache.json")
	v.SetDefault("cache.max_entries", 8)

	// Builder defaults reproduce the historical per-variable rules
	for _, variable := range models.Variables {
		opts := freqtable.DefaultOptions(variable)
		prefix := "freqtable." + string(variable) + "."
		v.SetDefault(prefix+"class_count_offset", opts.ClassCountOffset)
		v.SetDefault(prefix+"round_probabilities", opts.RoundProbabilities)
		v.SetDefault(prefix+"double_correction", opts.DoubleCorrection)
	}

	// Simulation defaults
	v.SetDefault("simulation.fixed_run.length", 31)
	v.SetDefault("simulation.user_run.length", 31)
	v.SetDefault("simulation.user_run.seed", 42)
	v.SetDefault("simulation.max_length", 100)
	v.SetDefault("simulation.draw_policy", string(montecarlo.DrawReject))

	// Report defaults
	v.SetDefault("report.output_dir", "./out")
	v.SetDefault("report.charts", true)
	v.SetDefault("report.pdf", false)
	v.SetDefault("report.table_style", "light")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Dataset config
	if c.Dataset.Path == "" && c.Dataset.URL == "" {
		return fmt.Errorf("dataset.path or dataset.url is required")
	}
	if c.Dataset.District == "" {
		return fmt.Errorf("dataset.district is required")
	}
	if c.Dataset.DistrictColumn == "" || c.Dataset.DateColumn == "" {
		return fmt.Errorf("dataset.district_column and dataset.date_column are required")
	}
	for variable, column := range c.Dataset.Columns.ByVariable() {
		if column == "" {
			return fmt.Errorf("dataset.columns.%s is required", variable)
		}
	}
	if c.Dataset.URL != "" && c.Dataset.Timeout <= 0 {
		return fmt.Errorf("dataset.timeout must be positive when dataset.url is set")
	}

	// Validate Cache config
	if c.Cache.Enabled && c.Cache.FilePath == "" {
		return fmt.Errorf("cache.file_path is required when cache is enabled")
	}
	if c.Cache.Enabled && c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be at least 1")
	}

	// Validate Simulation config
	policy, err := montecarlo.ParseDrawPolicy(c.Simulation.DrawPolicy)
	if err != nil {
		return fmt.Errorf("simulation.draw_policy: %w", err)
	}
	if c.Simulation.MaxLength < 1 {
		return fmt.Errorf("simulation.max_length must be at least 1")
	}
	if c.Simulation.MaxLength > freqtable.BandMax && policy != montecarlo.DrawWithReplacement {
		return fmt.Errorf("simulation.max_length must be at most %d unless simulation.draw_policy is %q", freqtable.BandMax, montecarlo.DrawWithReplacement)
	}
	if err := c.Simulation.ValidateLength(c.Simulation.FixedRun.Length); err != nil {
		return fmt.Errorf("simulation.fixed_run.length: %w", err)
	}
	if err := c.Simulation.ValidateLength(c.Simulation.UserRun.Length); err != nil {
		return fmt.Errorf("simulation.user_run.length: %w", err)
	}

	// Validate Report config
	if (c.Report.Charts || c.Report.PDF) && c.Report.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required when charts or pdf are enabled")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ValidateLength checks a requested simulation length against 1..MaxLength.
func (s SimulationConfig) ValidateLength(length int) error {
	if length < 1 || length > s.MaxLength {
		return fmt.Errorf("length must be between 1 and %d, got %d", s.MaxLength, length)
	}
	return nil
}

// Policy returns the parsed draw policy. Call Validate first.
func (s SimulationConfig) Policy() montecarlo.DrawPolicy {
	p, _ := montecarlo.ParseDrawPolicy(s.DrawPolicy)
	return p
}
