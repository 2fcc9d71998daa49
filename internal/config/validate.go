package config

import (
	"fmt"
	"strings"
)

// Validate checks a merged configuration.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateSidecar(&config.Sidecar); err != nil {
		return fmt.Errorf("sidecar validation failed: %w", err)
	}
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := validateComponents(&config.Components); err != nil {
		return fmt.Errorf("components validation failed: %w", err)
	}
	if err := validateLog(&config.Log); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	if err := validateAuth(&config.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := validateTracing(&config.Tracing); err != nil {
		return fmt.Errorf("tracing validation failed: %w", err)
	}

	return nil
}

func validateSidecar(s *SidecarConfig) error {
	if s.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	switch s.Protocol {
	case ProtocolHTTP, ProtocolGRPC:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolHTTP, ProtocolGRPC, s.Protocol)
	}
	if err := validatePort("httpPort", s.HTTPPort); err != nil {
		return err
	}
	if err := validatePort("grpcPort", s.GRPCPort); err != nil {
		return err
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", s.Timeout)
	}
	return nil
}

func validateServer(s *ServerConfig) error {
	if err := validatePort("port", s.Port); err != nil {
		return err
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("maxBodyBytes must be positive, got %d", s.MaxBodyBytes)
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdownTimeout must be positive, got %v", s.ShutdownTimeout)
	}
	return nil
}

func validateComponents(c *ComponentsConfig) error {
	if c.StateStore == "" {
		return fmt.Errorf("stateStore must not be empty")
	}
	if c.QueryStateStore == "" {
		return fmt.Errorf("queryStateStore must not be empty")
	}
	if c.PubSub == "" {
		return fmt.Errorf("pubsub must not be empty")
	}
	return nil
}

func validateLog(l *LogConfig) error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text, got %q", l.Format)
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	switch a.Algorithm {
	case "":
		return nil
	case "HS256":
		if a.Secret == "" {
			return fmt.Errorf("HS256 requires a secret")
		}
	case "RS256":
		if a.PublicKeyFile == "" {
			return fmt.Errorf("RS256 requires a public key file")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", a.Algorithm)
	}
	return nil
}

func validateTracing(t *TracingConfig) error {
	switch t.Exporter {
	case "none", "stdout":
	case "zipkin":
		if t.Endpoint == "" {
			return fmt.Errorf("zipkin exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("exporter must be none, stdout or zipkin, got %q", t.Exporter)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sampleRate must be within [0, 1], got %v", t.SampleRate)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d is outside [1, 65535]", name, port)
	}
	return nil
}
