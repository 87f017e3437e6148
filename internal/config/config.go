package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"jremap/internal/rename"
	"jremap/internal/resolver"
)

const DefaultPath = "jremap.yaml"

type Config struct {
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Anchors struct {
		Path string `yaml:"path"`
	} `yaml:"anchors"`
	Signature struct {
		Workers int `yaml:"workers"`
	} `yaml:"signature"`
	Resolver resolver.Options `yaml:"resolver"`
	Rename   struct {
		Annotate             bool   `yaml:"annotate"`
		AnnotationDescriptor string `yaml:"annotation_descriptor"`
	} `yaml:"rename"`
	Decompiler struct {
		Command []string `yaml:"command"`
		Timeout string   `yaml:"timeout"`
	} `yaml:"decompiler"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.Store.Path = "jremap.db"
	cfg.Log.Level = "info"
	cfg.Resolver = resolver.DefaultOptions()
	cfg.Rename.Annotate = true
	cfg.Rename.AnnotationDescriptor = rename.DefaultAnnotationDescriptor
	cfg.Decompiler.Timeout = "10m"
	return &cfg
}

// LoadConfig reads path over the defaults. A missing file is not an error.
// .env is loaded first, then JREMAP_* variables override the file.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.WithField("path", path).Debug("no config file, using defaults")
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("JREMAP_STORE"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("JREMAP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("JREMAP_ANCHORS"); v != "" {
		c.Anchors.Path = v
	}
	if v := os.Getenv("JREMAP_DECOMPILER"); v != "" {
		c.Decompiler.Command = strings.Fields(v)
	}
	if v := os.Getenv("JREMAP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("JREMAP_WORKERS: %w", err)
		}
		c.Signature.Workers = n
		c.Resolver.Workers = n
	}
	if v := os.Getenv("JREMAP_ANNOTATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("JREMAP_ANNOTATE: %w", err)
		}
		c.Rename.Annotate = b
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Store.Path == "" {
		return errors.New("store.path is empty")
	}
	r := c.Resolver
	if r.Threshold < 0 || r.Threshold > 1 {
		return fmt.Errorf("resolver.threshold %v is outside [0, 1]", r.Threshold)
	}
	if r.Margin < 0 || r.Margin > 1 {
		return fmt.Errorf("resolver.margin %v is outside [0, 1]", r.Margin)
	}
	w := r.Weights
	if w.Neighbour < 0 || w.Literal < 0 || w.Owner < 0 || w.Position < 0 {
		return errors.New("resolver.weights must not be negative")
	}
	if d := c.Rename.AnnotationDescriptor; d != "" && (!strings.HasPrefix(d, "L") || !strings.HasSuffix(d, ";")) {
		return fmt.Errorf("rename.annotation_descriptor %q is not a class descriptor", d)
	}
	if _, err := c.DecompilerTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func (c *Config) DecompilerTimeout() (time.Duration, error) {
	if c.Decompiler.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Decompiler.Timeout)
	if err != nil {
		return 0, fmt.Errorf("decompiler.timeout: %w", err)
	}
	return d, nil
}

func (c *Config) RenameOptions() rename.Options {
	return rename.Options{
		Annotate:             c.Rename.Annotate,
		AnnotationDescriptor: c.Rename.AnnotationDescriptor,
	}
}
