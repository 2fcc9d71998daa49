package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding the YAML file path.
const ConfigFileEnv = "OGW_CONFIG"

// Load merges Defaults() + the optional YAML file at $OGW_CONFIG + env overrides.
func Load() (*Config, error) {
	config := Defaults()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := mergeFile(config, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Protocol names are case-insensitive.
	config.Sidecar.Protocol = strings.ToLower(strings.TrimSpace(config.Sidecar.Protocol))

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// mergeFile decodes a YAML file over config. Keys absent from the file keep
// their current values; unknown keys are rejected.
func mergeFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies the sidecar-standard variables and OGW_* variables.
func applyEnvOverrides(config *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, val))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, val))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	// Sidecar
	setString("DAPR_HOST", &config.Sidecar.Host)
	setString("DAPR_PROTOCOL", &config.Sidecar.Protocol)
	setInt("DAPR_HTTP_PORT", &config.Sidecar.HTTPPort)
	setInt("DAPR_GRPC_PORT", &config.Sidecar.GRPCPort)
	setString("DAPR_API_TOKEN", &config.Sidecar.APIToken)
	setDuration("OGW_SIDECAR_TIMEOUT", &config.Sidecar.Timeout)

	// Server
	setInt("APP_PORT", &config.Server.Port)
	if val := os.Getenv("OGW_MAX_BODY_BYTES"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("OGW_MAX_BODY_BYTES: invalid integer %q", val))
		} else {
			config.Server.MaxBodyBytes = n
		}
	}
	setDuration("OGW_SHUTDOWN_TIMEOUT", &config.Server.ShutdownTimeout)

	// Components
	setString("STATE_STORE_NAME", &config.Components.StateStore)
	setString("QUERY_STATE_STORE_NAME", &config.Components.QueryStateStore)
	setString("PUBSUB_NAME", &config.Components.PubSub)

	// Logging
	setString("OGW_LOG_LEVEL", &config.Log.Level)
	setString("OGW_LOG_FORMAT", &config.Log.Format)

	// Audit; an explicitly empty OGW_AUDIT_DIR disables the trail.
	if val, ok := os.LookupEnv("OGW_AUDIT_DIR"); ok {
		config.Audit.Dir = val
	}

	// Auth
	setString("OGW_AUTH_ALGORITHM", &config.Auth.Algorithm)
	setString("OGW_AUTH_SECRET", &config.Auth.Secret)
	setString("OGW_AUTH_PUBLIC_KEY_FILE", &config.Auth.PublicKeyFile)

	// Tracing
	setString("OGW_TRACING_EXPORTER", &config.Tracing.Exporter)
	setString("OGW_TRACING_ENDPOINT", &config.Tracing.Endpoint)
	if val := os.Getenv("OGW_TRACING_SAMPLE_RATE"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("OGW_TRACING_SAMPLE_RATE: invalid number %q", val))
		} else {
			config.Tracing.SampleRate = f
		}
	}

	return errors.Join(errs...)
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
