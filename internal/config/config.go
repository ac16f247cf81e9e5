package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultIgnored              = `node_modules|\.git`
	DefaultStabilityThresholdMs = 2000
	DefaultPollIntervalMs       = 100
)

type Config struct {
	mu sync.RWMutex

	InstanceID           string `json:"instanceId"`
	WatchPath            string `json:"watchPath"`
	Ignored              string `json:"ignored"`
	IgnoreInitial        bool   `json:"ignoreInitial"`
	StabilityThresholdMs int    `json:"stabilityThresholdMs"`
	PollIntervalMs       int    `json:"pollIntervalMs"`
	ExtensionsFile       string `json:"extensionsFile,omitempty"`
	LogFilePath          string `json:"logFilePath"`
	LogMaxSizeMB         int    `json:"logMaxSizeMB"`
	LogMaxAgeDays        int    `json:"logMaxAgeDays"`
	LogMaxBackups        int    `json:"logMaxBackups"`
	LogCompress          bool   `json:"logCompress"`
	StatusAddr           string `json:"statusAddr,omitempty"`
}

// fileConfig is the on-disk form of Config
type fileConfig struct {
	InstanceID           string `json:"instanceId"`
	WatchPath            string `json:"watchPath"`
	Ignored              string `json:"ignored"`
	IgnoreInitial        bool   `json:"ignoreInitial"`
	StabilityThresholdMs int    `json:"stabilityThresholdMs"`
	PollIntervalMs       int    `json:"pollIntervalMs"`
	ExtensionsFile       string `json:"extensionsFile,omitempty"`
	LogFilePath          string `json:"logFilePath"`
	LogMaxSizeMB         int    `json:"logMaxSizeMB"`
	LogMaxAgeDays        int    `json:"logMaxAgeDays"`
	LogMaxBackups        int    `json:"logMaxBackups"`
	LogCompress          bool   `json:"logCompress"`
	StatusAddr           string `json:"statusAddr,omitempty"`
}

// Load reads the config at path over the defaults. A missing file, or an empty path,
// yields the defaults. ORGANIZER_WATCH_PATH overrides the watched directory.
func Load(path string) (*Config, error) {
	fc := fileConfig{
		WatchPath:            defaultWatchPath(),
		Ignored:              DefaultIgnored,
		IgnoreInitial:        true,
		StabilityThresholdMs: DefaultStabilityThresholdMs,
		PollIntervalMs:       DefaultPollIntervalMs,
		LogFilePath:          filepath.Join(getDataDir(), "organizer.log"),
		LogMaxSizeMB:         10,
		LogMaxAgeDays:        14,
		LogMaxBackups:        3,
		LogCompress:          true,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			if err := json.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if env := os.Getenv("ORGANIZER_WATCH_PATH"); env != "" {
		fc.WatchPath = env
	}
	if fc.InstanceID == "" {
		fc.InstanceID = uuid.New().String()
	}

	cfg := &Config{}
	cfg.apply(fc)
	return cfg, nil
}

// Save writes the config as indented JSON
func (c *Config) Save(path string) error {
	c.mu.RLock()
	fc := c.snapshot()
	c.mu.RUnlock()

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the fields that cannot be defaulted
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if c.WatchPath == "" {
		errs = append(errs, errors.New("watchPath is required"))
	} else if !filepath.IsAbs(c.WatchPath) {
		errs = append(errs, fmt.Errorf("watchPath must be absolute: %s", c.WatchPath))
	}
	if c.Ignored != "" {
		if _, err := regexp.Compile(c.Ignored); err != nil {
			errs = append(errs, fmt.Errorf("invalid ignored pattern: %w", err))
		}
	}
	if c.StabilityThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("stabilityThresholdMs must not be negative: %d", c.StabilityThresholdMs))
	}
	if c.PollIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("pollIntervalMs must not be negative: %d", c.PollIntervalMs))
	}
	return errors.Join(errs...)
}

// StabilityThreshold is how long a file must stay unchanged before it is reported
func (c *Config) StabilityThreshold() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.StabilityThresholdMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) apply(fc fileConfig) {
	c.InstanceID = fc.InstanceID
	c.WatchPath = fc.WatchPath
	c.Ignored = fc.Ignored
	c.IgnoreInitial = fc.IgnoreInitial
	c.StabilityThresholdMs = fc.StabilityThresholdMs
	c.PollIntervalMs = fc.PollIntervalMs
	c.ExtensionsFile = fc.ExtensionsFile
	c.LogFilePath = fc.LogFilePath
	c.LogMaxSizeMB = fc.LogMaxSizeMB
	c.LogMaxAgeDays = fc.LogMaxAgeDays
	c.LogMaxBackups = fc.LogMaxBackups
	c.LogCompress = fc.LogCompress
	c.StatusAddr = fc.StatusAddr
}

func (c *Config) snapshot() fileConfig {
	return fileConfig{
		InstanceID:           c.InstanceID,
		WatchPath:            c.WatchPath,
		Ignored:              c.Ignored,
		IgnoreInitial:        c.IgnoreInitial,
		StabilityThresholdMs: c.StabilityThresholdMs,
		PollIntervalMs:       c.PollIntervalMs,
		ExtensionsFile:       c.ExtensionsFile,
		LogFilePath:          c.LogFilePath,
		LogMaxSizeMB:         c.LogMaxSizeMB,
		LogMaxAgeDays:        c.LogMaxAgeDays,
		LogMaxBackups:        c.LogMaxBackups,
		LogCompress:          c.LogCompress,
		StatusAddr:           c.StatusAddr,
	}
}

// defaultWatchPath is the user's Downloads folder
func defaultWatchPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Downloads")
}

// DataDir returns the directory for the log file and default config
func DataDir() string {
	return getDataDir()
}

func getDataDir() string {
	dir := os.Getenv("ORGANIZER_DATA_DIR")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".fileorganizer")
	}
	os.MkdirAll(dir, 0700)
	return dir
}
