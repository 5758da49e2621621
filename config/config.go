package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed fluxdec.toml
var defaultConfigData []byte

// Global state variables for the selected capture profile
var (
	ProfileName string
	TickRateHz  float64
	Revs        int
	MetricsAddr string
	Encoding    string // "auto", "fm" or "mfm"
	RateKbps    int    // 0 = auto-detect
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string    `toml:"default"`
	Metrics string    `toml:"metrics"`
	Profile []Profile `toml:"profile"`
}

// Profile describes one capture configuration
type Profile struct {
	Name     string  `toml:"name"`
	TickRate float64 `toml:"tickrate"` // capture clock in Hz
	Revs     int     `toml:"revs"`     // revolutions per track read
	Encoding string  `toml:"encoding"` // auto, fm, mfm
	RateKbps int     `toml:"ratekbps"` // 0 = auto-detect
}

// configPath determines the config file path based on the operating system
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "fluxdec")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".fluxdec"), nil
}

// Initialize loads and validates the configuration file.
// If the config file doesn't exist, it creates it from the embedded default.
func Initialize() error {
	configPath, err := configPath()
	if err != nil {
		return err
	}

	// Check if config file exists, create from embedded default if not
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}

		if err := os.WriteFile(configPath, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", configPath, err)
		}
	}

	var conf Config
	if _, err := toml.DecodeFile(configPath, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", configPath, err)
	}

	if conf.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}

	var found *Profile
	for i := range conf.Profile {
		if conf.Profile[i].Name == conf.Default {
			found = &conf.Profile[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("default profile %q not found in profile array", conf.Default)
	}

	if found.TickRate <= 0 {
		return fmt.Errorf("profile %q has invalid tickrate: %g (must be positive)", conf.Default, found.TickRate)
	}
	if found.Revs <= 0 {
		return fmt.Errorf("profile %q has invalid revs: %d (must be positive)", conf.Default, found.Revs)
	}
	switch found.Encoding {
	case "auto", "fm", "mfm":
	default:
		return fmt.Errorf("profile %q has invalid encoding %q (must be auto, fm or mfm)", conf.Default, found.Encoding)
	}
	if found.RateKbps < 0 {
		return fmt.Errorf("profile %q has invalid ratekbps: %d", conf.Default, found.RateKbps)
	}

	ProfileName = conf.Default
	TickRateHz = found.TickRate
	Revs = found.Revs
	Encoding = found.Encoding
	RateKbps = found.RateKbps
	MetricsAddr = conf.Metrics

	return nil
}
