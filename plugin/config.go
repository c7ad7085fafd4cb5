package plugin

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "ASYNCTRACE"

// Config switches the propagation plugin per boundary family.
type Config struct {
	// Enabled installs the connect, write and promise interceptors.
	Enabled bool `envconfig:"ENABLED" default:"true" json:"enabled"`
	// HTTPCodecEnabled additionally traces the encoder as internal work.
	HTTPCodecEnabled bool `envconfig:"HTTP_CODEC_ENABLED" default:"false" json:"httpCodecEnabled"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// LoadConfig reads ASYNCTRACE_ENABLED and ASYNCTRACE_HTTP_CODEC_ENABLED.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}
