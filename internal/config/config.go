// Package config loads the optional partsync configuration file and its
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/filter"
)

// EnvPrefix prefixes every environment override, e.g. PARTSYNC_WORKERS.
const EnvPrefix = "PARTSYNC"

// Config represents the optional partsync configuration file. Nil fields
// are unset and fall back to built-in defaults.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Digest   DigestConfig   `toml:"digest"`
}

// DefaultsConfig holds persistent flag defaults. Each field can be
// overridden by PARTSYNC_<FIELD>, e.g. PARTSYNC_CACHE_DIR.
type DefaultsConfig struct {
	Workers     *int    `toml:"workers"      validate:"omitempty,min=1,max=256"`
	Retries     *int    `toml:"retries"      validate:"omitempty,min=1,max=100"`
	Backoff     *string `toml:"backoff"`
	BWLimit     *string `toml:"bwlimit"`
	CacheDir    *string `toml:"cache_dir"    split_words:"true"`
	ExcludeFile *string `toml:"exclude_file" split_words:"true"`
	Remote      *string `toml:"remote"`
	Remove      *bool   `toml:"remove"`
	Journal     *bool   `toml:"journal"`
}

// DigestConfig tunes the digest sampler. Planning and applying must agree
// on every field. Overrides use PARTSYNC_DIGEST_<FIELD>.
type DigestConfig struct {
	Algorithm *string `toml:"algorithm"  validate:"omitempty,oneof=blake3 xxhash md5"`
	Threshold *string `toml:"threshold"`
	BlockSize *string `toml:"block_size" split_words:"true"`
	Samples   *int    `toml:"samples"    validate:"omitempty,min=2,max=4096"`
}

// Path returns the resolved path to the config file. PARTSYNC_CONFIG
// overrides the XDG location.
func Path() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "partsync", "config.toml")
}

// Load reads the config file from Path, applies environment overrides and
// validates the result. A missing file is not an error.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg.Defaults); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	if err := envconfig.Process(EnvPrefix+"_DIGEST", &cfg.Digest); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and parses every size string once so that bad
// values surface at startup.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c.Defaults); err != nil {
		return fmt.Errorf("invalid [defaults]: %w", err)
	}
	if err := v.Struct(c.Digest); err != nil {
		return fmt.Errorf("invalid [digest]: %w", err)
	}

	for key, s := range map[string]*string{
		"defaults.bwlimit":  c.Defaults.BWLimit,
		"digest.threshold":  c.Digest.Threshold,
		"digest.block_size": c.Digest.BlockSize,
	} {
		if s == nil {
			continue
		}
		if _, err := filter.ParseSize(*s); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Defaults.Backoff != nil {
		if _, err := time.ParseDuration(*c.Defaults.Backoff); err != nil {
			return fmt.Errorf("invalid defaults.backoff: %w", err)
		}
	}
	return nil
}

// Sampler builds the digest sampler described by the [digest] section.
func (d DigestConfig) Sampler() (*digest.Sampler, error) {
	alg := ""
	if d.Algorithm != nil {
		alg = *d.Algorithm
	}
	a, err := digest.ParseAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	s := digest.NewSampler(a)

	if d.Threshold != nil {
		if s.Threshold, err = filter.ParseSize(*d.Threshold); err != nil {
			return nil, fmt.Errorf("digest threshold: %w", err)
		}
	}
	if d.BlockSize != nil {
		if s.BlockSize, err = filter.ParseSize(*d.BlockSize); err != nil {
			return nil, fmt.Errorf("digest block size: %w", err)
		}
	}
	if d.Samples != nil {
		s.Samples = *d.Samples
	}
	return s, nil
}
