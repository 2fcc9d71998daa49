package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Sidecar protocols.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Config is the full gateway configuration. Treat it as read-only after Load.
type Config struct {
	Sidecar    SidecarConfig    `yaml:"sidecar"`
	Server     ServerConfig     `yaml:"server"`
	Components ComponentsConfig `yaml:"components"`
	Log        LogConfig        `yaml:"log"`
	Audit      AuditConfig      `yaml:"audit"`
	Auth       AuthConfig       `yaml:"auth"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// SidecarConfig locates the sidecar and bounds each call to it.
type SidecarConfig struct {
	Host     string        `yaml:"host"`
	Protocol string        `yaml:"protocol"`
	HTTPPort int           `yaml:"httpPort"`
	GRPCPort int           `yaml:"grpcPort"`
	APIToken string        `yaml:"apiToken"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HTTPEndpoint is the base URL of the sidecar HTTP API.
func (s SidecarConfig) HTTPEndpoint() string {
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
}

// GRPCAddress is the host:port of the sidecar gRPC API.
func (s SidecarConfig) GRPCAddress() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.GRPCPort))
}

// ServerConfig controls the gateway's own HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// ComponentsConfig names the sidecar components the gateway talks to.
type ComponentsConfig struct {
	StateStore      string `yaml:"stateStore"`
	QueryStateStore string `yaml:"queryStateStore"`
	PubSub          string `yaml:"pubsub"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig controls the JSONL audit trail. An empty Dir disables it.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Enabled reports whether audit entries are written.
func (a AuditConfig) Enabled() bool {
	return a.Dir != ""
}

// AuthConfig enables bearer token checks. An empty Algorithm disables them.
type AuthConfig struct {
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
}

// Enabled reports whether requests must carry a bearer token.
func (a AuthConfig) Enabled() bool {
	return a.Algorithm != ""
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate"`
	ServiceName string  `yaml:"serviceName"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Sidecar: SidecarConfig{
			Host:     "localhost",
			Protocol: ProtocolHTTP,
			HTTPPort: 3500,
			GRPCPort: 50001,
			Timeout:  10 * time.Second,
		},
		Server: ServerConfig{
			Port:            3000,
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Components: ComponentsConfig{
			StateStore:      "statestore",
			QueryStateStore: "statestore-im",
			PubSub:          "pubsub",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRate:  1.0,
			ServiceName: "ogw",
		},
	}
}
