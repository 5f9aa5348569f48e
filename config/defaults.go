package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const (
	// DefaultPort is the cleartext listen port when nothing is configured.
	DefaultPort = 8787

	// DefaultMaxBodySize caps model-endpoint request bodies (10 MiB).
	DefaultMaxBodySize = 10 << 20

	// DefaultLongContextThreshold is the token estimate above which the
	// background tier is preferred.
	DefaultLongContextThreshold = 60000

	// DefaultRetentionDays is how long request logs are kept.
	DefaultRetentionDays = 30
)

// Environment variables recognized at launch.
const (
	EnvHome           = "CC_GW_HOME"
	EnvPort           = "PORT"
	EnvDebugEndpoints = "CC_GW_DEBUG_ENDPOINTS"
	EnvUIRoot         = "CC_GW_UI_ROOT"
)

// Home returns the gateway data root: $CC_GW_HOME when set, otherwise
// ~/.cc-gw. The directory is not created here.
func Home() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cc-gw"
	}
	return filepath.Join(home, ".cc-gw")
}

// FilePath returns the config document path under the given home.
func FilePath(home string) string { return filepath.Join(home, "config.json") }

// DataDir returns the SQLite directory under the given home.
func DataDir(home string) string { return filepath.Join(home, "data") }

// DBPath returns the SQLite database file path under the given home.
func DBPath(home string) string { return filepath.Join(DataDir(home), "gateway.db") }

// KeyPath returns the encryption key file path under the given home.
func KeyPath(home string) string { return filepath.Join(home, "encryption.key") }

// LogDir returns the server log directory under the given home.
func LogDir(home string) string { return filepath.Join(home, "logs") }

// LogFilePath returns the server log file path under the given home.
func LogFilePath(home string) string { return filepath.Join(LogDir(home), "cc-gw.log") }

// PIDPath returns the daemon pidfile path under the given home.
func PIDPath(home string) string { return filepath.Join(home, "cc-gw.pid") }

// DebugEndpoints reports whether resolved upstream URLs should be logged.
func DebugEndpoints() bool { return os.Getenv(EnvDebugEndpoints) == "1" }

// UIRoot returns the static UI asset directory, empty when unset.
func UIRoot() string { return os.Getenv(EnvUIRoot) }

// Default returns the configuration document written on first boot.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Host: "127.0.0.1", Port: DefaultPort},
		Endpoints: map[string]*EndpointRouting{
			"anthropic": {Defaults: RouteDefaults{LongContextThreshold: DefaultLongContextThreshold}},
			"openai":    {Defaults: RouteDefaults{LongContextThreshold: DefaultLongContextThreshold}},
		},
		Auth: AuthConfig{Enabled: false},
		Log: LogConfig{
			Level:         "info",
			Format:        "json",
			RetentionDays: DefaultRetentionDays,
		},
		PersistPayloads: true,
		MaxBodySize:     DefaultMaxBodySize,
		Telemetry:       TelemetryConfig{Enabled: false, ServiceName: "cc-gw", SampleRate: 1.0},
		RateLimit:       RateLimitConfig{Enabled: true, RPS: 50, Burst: 100},
	}
}

// applyEnvOverrides layers launch-time environment overrides onto a loaded
// document. Overrides are never persisted.
func applyEnvOverrides(c *Config) {
	if p := os.Getenv(EnvPort); p != "" {
		if port, err := strconv.Atoi(p); err == nil && port > 0 && port < 65536 {
			c.Listen.Port = port
		}
	}
}

// normalize fills derivable zero values so downstream code can rely on them.
func normalize(c *Config) {
	if c.Listen.Host == "" {
		c.Listen.Host = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.RetentionDays == 0 {
		c.Log.RetentionDays = DefaultRetentionDays
	}
	if c.Endpoints == nil {
		c.Endpoints = map[string]*EndpointRouting{}
	}
	for _, key := range []string{"anthropic", "openai"} {
		if c.Endpoints[key] == nil {
			c.Endpoints[key] = &EndpointRouting{}
		}
		if c.Endpoints[key].Defaults.LongContextThreshold == 0 {
			c.Endpoints[key].Defaults.LongContextThreshold = DefaultLongContextThreshold
		}
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "cc-gw"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
}
