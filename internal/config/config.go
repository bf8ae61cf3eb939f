// Package config provides YAML-based configuration loading for gridsim.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gridsim configuration, loaded from gridsim.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`
	Worker   WorkerConfig   `yaml:"worker"`
	Requeue  RequeueConfig  `yaml:"requeue"`
}

// DatabaseConfig holds connection settings. Driver is "mysql" for
// production or "sqlite" for single-node setups and tests.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
}

// QueueConfig holds beanstalkd connection settings.
type QueueConfig struct {
	Addr string `yaml:"addr"`
	Tube string `yaml:"tube"`
	// TTR is the reservation visibility timeout in seconds; an item not
	// deleted within TTR becomes reservable again.
	TTR int `yaml:"ttr"`
}

// ServerConfig holds the API server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// BaseURL is the externally reachable API root handed to workers as
	// the status-callback base.
	BaseURL string `yaml:"base_url"`
	// DataDir is where ingested map archives are unpacked.
	DataDir string `yaml:"data_dir"`
}

// WorkerConfig holds worker runtime settings.
type WorkerConfig struct {
	// DataDir is the parent of per-run private working directories.
	DataDir string `yaml:"data_dir"`
	// Runtime is the external map-algebra runtime executable.
	Runtime string `yaml:"runtime"`
	// ReserveTimeout bounds a single blocking queue reserve.
	ReserveTimeout time.Duration `yaml:"reserve_timeout"`
}

// RequeueConfig controls the serve-side scanner that re-enqueues stale
// PENDING job chunks (recovers from a crash between persist and enqueue).
type RequeueConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "gridsim"
	}
	if c.Database.Path == "" {
		c.Database.Path = "gridsim.db"
	}
	if c.Queue.Addr == "" {
		c.Queue.Addr = "127.0.0.1:11300"
	}
	if c.Queue.Tube == "" {
		c.Queue.Tube = "gridsimjobs"
	}
	if c.Queue.TTR == 0 {
		c.Queue.TTR = 3600
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://127.0.0.1:%d/api/v1", c.Server.Port)
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./data"
	}
	if c.Worker.DataDir == "" {
		c.Worker.DataDir = os.TempDir()
	}
	if c.Worker.ReserveTimeout == 0 {
		c.Worker.ReserveTimeout = 10 * time.Second
	}
	if c.Requeue.Interval == 0 {
		c.Requeue.Interval = time.Minute
	}
	if c.Requeue.StaleAfter == 0 {
		c.Requeue.StaleAfter = 15 * time.Minute
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.Driver != "sqlite" && c.Database.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Queue.TTR < 0 {
		errs = append(errs, "queue.ttr must be positive")
	}
	if c.Requeue.StaleAfter < c.Requeue.Interval {
		errs = append(errs, "requeue.stale_after must not be shorter than requeue.interval")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
