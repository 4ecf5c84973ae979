package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel        string            `mapstructure:"log_level"`
	LogFormat       string            `mapstructure:"log_format"`
	Packer          string            `mapstructure:"packer"`
	Workers         int               `mapstructure:"workers"`
	MaxBundleSize   int64             `mapstructure:"max_bundle_size"`
	ObjectAlignment int64             `mapstructure:"object_alignment"`
	BlockSize       int               `mapstructure:"block_size"`
	VendorCodecs    map[string]string `mapstructure:"vendor_codecs"`
	Database        string            `mapstructure:"database"`
	Backup          bool              `mapstructure:"backup"`
}

var (
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{"text", "json"}
	packers      = []string{"original", "none", "lz4", "lz4hc", "lzma"}
	vendorCodecs = []string{"oodle", "zstd"}
)

// Load initializes and loads configuration from file
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("packer", "original")
	v.SetDefault("workers", runtime.NumCPU())
	v.SetDefault("max_bundle_size", int64(4)<<30)
	v.SetDefault("object_alignment", 1)
	v.SetDefault("block_size", 0)
	v.SetDefault("vendor_codecs", map[string]string{})
	v.SetDefault("database", "abedit.db")
	v.SetDefault("backup", false)

	v.SetEnvPrefix("ABEDIT")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName("abedit")
		v.SetConfigType("yaml")
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate normalizes enum values and checks numeric bounds.
func (c *Config) Validate() error {
	var err error
	if c.LogLevel, err = oneOf("log_level", c.LogLevel, logLevels); err != nil {
		return err
	}
	if c.LogFormat, err = oneOf("log_format", c.LogFormat, logFormats); err != nil {
		return err
	}
	if c.Packer, err = oneOf("packer", c.Packer, packers); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxBundleSize < 0 {
		return fmt.Errorf("max_bundle_size cannot be negative")
	}
	if c.ObjectAlignment < 1 {
		return fmt.Errorf("object_alignment must be at least 1, got %d", c.ObjectAlignment)
	}
	if c.BlockSize < 0 {
		return fmt.Errorf("block_size cannot be negative")
	}
	return validateVendorCodecs(c.VendorCodecs)
}

func oneOf(key, value string, allowed []string) (string, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return value, nil
		}
	}
	return "", fmt.Errorf("invalid %s '%s', must be one of: %s", key, value, strings.Join(allowed, ", "))
}

// validateVendorCodecs checks that each key is a block compression id above
// the built-in range and each value names a supported codec.
func validateVendorCodecs(codecs map[string]string) error {
	for id, name := range codecs {
		n, err := strconv.ParseUint(id, 10, 8)
		if err != nil || n <= 3 || n > 0x3f {
			return fmt.Errorf("invalid vendor codec id '%s', must be between 4 and 63", id)
		}
		if _, err := oneOf("vendor codec", name, vendorCodecs); err != nil {
			return err
		}
	}
	return nil
}
