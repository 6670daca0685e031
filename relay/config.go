package relay

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultChunkSize     = 1024
	DefaultListenerSleep = time.Second
)

// Config holds the addresses the relay binaries work with.
type Config struct {
	Controller Endpoint `yaml:"controller"`
	Proxy      Endpoint `yaml:"proxy"`
	// Websocket is the telemetry server. An empty host disables websocket mirroring.
	Websocket Endpoint `yaml:"websocket"`

	ChunkSize int `yaml:"chunk_size"`
	// ListenerSleepSecs is the pause between reads in tail mode.
	ListenerSleepSecs int `yaml:"listener_sleep_secs"`
}

// Endpoint is a host and port pair.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address renders host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Enabled reports whether a host was configured.
func (e Endpoint) Enabled() bool {
	return e.Host != ""
}

// ListenerSleep is the tail pause as a duration.
func (c *Config) ListenerSleep() time.Duration {
	return time.Duration(c.ListenerSleepSecs) * time.Second
}

// Load builds the configuration from defaults, the optional YAML file at path and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg, getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Controller: Endpoint{Host: "127.0.0.1", Port: 30002},
		Proxy:      Endpoint{Host: "0.0.0.0", Port: 30012},
		Websocket:  Endpoint{Port: 5000},
		ChunkSize:  DefaultChunkSize,

		ListenerSleepSecs: int(DefaultListenerSleep / time.Second),
	}
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides reads the variable names the relay has always been deployed with.
// Unparseable numbers are ignored.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("URX_HOST"); v != "" {
		cfg.Controller.Host = v
	}
	envInt(getenv, "URX_PORT", &cfg.Controller.Port)
	if v := getenv("PROXY_HOST"); v != "" {
		cfg.Proxy.Host = v
	}
	envInt(getenv, "PROXY_PORT", &cfg.Proxy.Port)
	if v := getenv("WEBSOCKET_HOST"); v != "" {
		cfg.Websocket.Host = v
	}
	envInt(getenv, "WEBSOCKET_PORT", &cfg.Websocket.Port)

	// A negative sleep falls back to the default rather than failing validation.
	var sleep int
	if envInt(getenv, "LISTENER_SLEEP_TIME", &sleep) {
		if sleep < 0 {
			sleep = int(DefaultListenerSleep / time.Second)
		}
		cfg.ListenerSleepSecs = sleep
	}
}

func envInt(getenv func(string) string, name string, dst *int) bool {
	v := getenv(name)
	if v == "" {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return false
	}
	*dst = n
	return true
}

// Validate checks ports and sizes.
func (c *Config) Validate() error {
	if c.Controller.Host == "" {
		return fmt.Errorf("controller host is required")
	}
	for _, ep := range []struct {
		name string
		port int
	}{
		{"controller", c.Controller.Port},
		{"proxy", c.Proxy.Port},
		{"websocket", c.Websocket.Port},
	} {
		if ep.port < 0 || ep.port > 65535 {
			return fmt.Errorf("%s port %d out of range", ep.name, ep.port)
		}
	}
	if c.Controller.Port == 0 {
		return fmt.Errorf("controller port is required")
	}
	if c.Websocket.Enabled() && c.Websocket.Port == 0 {
		return fmt.Errorf("websocket port is required when websocket host is set")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ListenerSleepSecs < 0 {
		return fmt.Errorf("listener_sleep_secs must not be negative")
	}
	return nil
}
