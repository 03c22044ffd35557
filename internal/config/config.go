package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel         = "small"
	DefaultLanguage      = "auto"
	DefaultQueueSize     = 32
	DefaultSilenceDBFS   = -65
	DefaultListenAddress = "127.0.0.1:8765"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the file-backed settings layer. Empty paths fall back to the
// platform defaults at the point of use.
type Config struct {
	Model                string  `yaml:"model"`
	ModelDir             string  `yaml:"model_dir"`
	Language             string  `yaml:"language"`
	AutoDownload         bool    `yaml:"auto_download"`
	PrefillWithLanguage  bool    `yaml:"prefill_with_language"`
	QueueSize            int     `yaml:"queue_size"`
	SilenceGate          bool    `yaml:"silence_gate"`
	SilenceThresholdDBFS float64 `yaml:"silence_threshold_dbfs"`
	Listen               string  `yaml:"listen"`
	History              bool    `yaml:"history"`
	HistoryPath          string  `yaml:"history_path"`
}

func Default() Config {
	return Config{
		Model:                DefaultModel,
		Language:             DefaultLanguage,
		AutoDownload:         true,
		PrefillWithLanguage:  true,
		QueueSize:            DefaultQueueSize,
		SilenceGate:          true,
		SilenceThresholdDBFS: DefaultSilenceDBFS,
		Listen:               DefaultListenAddress,
		History:              true,
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := decode(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decode(content []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.SilenceThresholdDBFS > 0 {
		return fmt.Errorf("%w: silence_threshold_dbfs must be <= 0, got %g", ErrInvalidConfig, c.SilenceThresholdDBFS)
	}
	if c.Listen != "" && !strings.Contains(c.Listen, ":") {
		return fmt.Errorf("%w: listen must be host:port, got %q", ErrInvalidConfig, c.Listen)
	}
	return nil
}

// Save writes c as YAML, used by `setup --write-config`.
func Save(path string, c Config) error {
	content, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
