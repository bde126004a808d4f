package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config holds the global pipesh configuration.
type Config struct {
	Shell   ShellConfig       `yaml:"shell"`
	Jobs    JobsConfig        `yaml:"jobs"`
	Journal JournalConfig     `yaml:"journal"`
	Aliases map[string]string `yaml:"aliases" validate:"dive,keys,alias_name,endkeys,required"`
	Log     LogConfig         `yaml:"log"`
}

// ShellConfig controls the interactive loop.
type ShellConfig struct {
	Prompt       string `yaml:"prompt"` // empty means user@host:cwd$
	Color        string `yaml:"color" validate:"oneof=auto always never"`
	HistoryFile  string `yaml:"history_file"`
	HistoryLimit int    `yaml:"history_limit" validate:"gte=0"`
}

// JobsConfig controls the background job table.
type JobsConfig struct {
	KeepFinished bool   `yaml:"keep_finished"`
	KillGrace    string `yaml:"kill_grace" validate:"omitempty,duration"`
}

// DefaultKillGrace is used when no kill_grace is configured.
const DefaultKillGrace = 500 * time.Millisecond

// KillGraceDuration parses the configured kill grace or returns the default.
func (j *JobsConfig) KillGraceDuration() time.Duration {
	if j.KillGrace != "" {
		d, err := time.ParseDuration(j.KillGrace)
		if err == nil {
			return d
		}
	}
	return DefaultKillGrace
}

// JournalConfig controls the execution journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig controls internal tracing.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Shell: ShellConfig{
			Color:        "auto",
			HistoryFile:  filepath.Join(home, ".local", "share", "pipesh", "history"),
			HistoryLimit: 1000,
		},
		Journal: JournalConfig{
			Path: filepath.Join(home, ".local", "share", "pipesh", "journal.jsonl"),
		},
		Aliases: map[string]string{},
		Log:     LogConfig{Level: "warn"},
	}
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pipesh", "config.yaml")
}

// Load reads the config from the standard location
// (~/.config/pipesh/config.yaml). If the file doesn't exist, returns the
// default config.
func Load() (*Config, error) {
	return LoadFrom(afero.NewOsFs(), ConfigPath())
}

// LoadFrom reads the config at path on fs.
func LoadFrom(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}

	cfg.Shell.HistoryFile = expandHome(cfg.Shell.HistoryFile)
	cfg.Journal.Path = expandHome(cfg.Journal.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for basic semantic errors.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	if err := validate.RegisterValidation("duration", validDuration); err != nil {
		return err
	}
	if err := validate.RegisterValidation("alias_name", validAliasName); err != nil {
		return err
	}
	return validate.Struct(c)
}

func validDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validAliasName rejects names the parser could never produce as a first
// word.
func validAliasName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return name != "" && !strings.ContainsAny(name, " \t\n|<>&'\"\\=")
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
