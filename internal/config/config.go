package config

import (
	"fmt"
	"os"
	"time"

	"github.com/nbroyles/flatdb/internal/loader"
	"github.com/nbroyles/flatdb/internal/storage"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultReportSize = 10

// searchPaths are tried in order when Load is given no explicit path
var searchPaths = []string{"configs/flatdb.yaml", "flatdb.yaml"}

type Config struct {
	// DataDir holds one <name>.csv, <name>.data and <name>.config per database
	DataDir      string        `yaml:"data_dir"`
	ColumnWidths []int         `yaml:"column_widths"`
	QueueSize    int           `yaml:"queue_size"`
	QueueTimeout time.Duration `yaml:"queue_timeout"`
	ReportSize   int           `yaml:"report_size"`
	LogLevel     string        `yaml:"log_level"`
}

func Default() *Config {
	widths := make([]int, len(storage.PassengerColumnWidths))
	copy(widths, storage.PassengerColumnWidths)

	return &Config{
		DataDir:      ".",
		ColumnWidths: widths,
		QueueSize:    loader.DefaultQueueSize,
		QueueTimeout: loader.DefaultTimeout,
		ReportSize:   DefaultReportSize,
		LogLevel:     log.InfoLevel.String(),
	}
}

// Load reads configuration from configPath. With an empty path the default
// locations are searched and, if none exist, defaults are returned
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range searchPaths {
			data, err := os.ReadFile(p)
			if err == nil {
				return decode(cfg, data, p)
			}
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("could not read config %s: %w", configPath, err)
	}

	return decode(cfg, data, configPath)
}

func decode(cfg *Config, data []byte, source string) (*Config, error) {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config %s: %w", source, err)
	}

	applyDefaults(cfg)

	for i, w := range cfg.ColumnWidths {
		if w <= 0 {
			return cfg, fmt.Errorf("config %s: column %d has non-positive width %d", source, i, w)
		}
	}

	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("config %s: %w", source, err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if len(cfg.ColumnWidths) == 0 {
		cfg.ColumnWidths = Default().ColumnWidths
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = loader.DefaultQueueSize
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = loader.DefaultTimeout
	}
	if cfg.ReportSize <= 0 {
		cfg.ReportSize = DefaultReportSize
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = log.InfoLevel.String()
	}
}

// Level returns the configured logrus level, falling back to info
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// LoaderOptions converts the queue settings for the bulk loader
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{QueueSize: c.QueueSize, Timeout: c.QueueTimeout}
}
