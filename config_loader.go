package swiftstream

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig,
// e.g. SWIFTSTREAM_DELIMITER.
const EnvPrefix = "SWIFTSTREAM"

var configKeys = []string{
	"has_headers",
	"delimiter",
	"quote_char",
	"null_string",
	"flexible",
	"flexible_default",
	"trim",
	"ignore_null_bytes",
	"lossy",
	"channel_capacity",
	"shape",
}

// LoaderConfig holds optional inputs for LoadConfig.
type LoaderConfig struct {
	EnvFile string
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithEnvFile loads variables from a .env file before environment binding.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// LoadConfig reads a Config from an optional YAML file and SWIFTSTREAM_*
// environment variables, layered over DefaultConfig. The result is validated.
func LoadConfig(path string, opts ...LoaderOption) (Config, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	if lc.EnvFile != "" {
		if _, err := os.Stat(lc.EnvFile); err == nil {
			if err := godotenv.Load(lc.EnvFile); err != nil {
				return Config{}, fmt.Errorf("failed to load env file %s: %w", lc.EnvFile, err)
			}
		}
	}

	v := viper.New()
	setConfigDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setConfigDefaults(v *viper.Viper, d Config) {
	v.SetDefault("has_headers", d.HasHeaders)
	v.SetDefault("delimiter", d.Delimiter)
	v.SetDefault("quote_char", d.QuoteChar)
	v.SetDefault("flexible", d.Flexible)
	v.SetDefault("trim", string(d.Trim))
	v.SetDefault("ignore_null_bytes", d.IgnoreNullBytes)
	v.SetDefault("lossy", d.Lossy)
	v.SetDefault("channel_capacity", d.ChannelCapacity)
	v.SetDefault("shape", string(d.Shape))
}
