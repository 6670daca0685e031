package ur_arm

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.viam.com/rdk/logging"
)

// Controller defaults.
const (
	DefaultPort          = 30002
	DefaultMonitorPort   = 30002
	DefaultRobotiqBaud   = 115200
	DefaultRobotiqSlave  = 9
	defaultSettleDelayMs = 500
)

// Config is the arm component config. Numeric motion values are controller
// units: meters, radians and seconds.
type Config struct {
	Host        string `json:"host"`
	Port        int    `json:"port,omitempty"`
	MonitorPort int    `json:"monitor_port,omitempty"`
	Mode        string `json:"mode,omitempty"` // "live" or "stub"

	Velocity                float64 `json:"velocity,omitempty"`
	Acceleration            float64 `json:"acceleration,omitempty"`
	WaitForStartTimeoutSecs float64 `json:"wait_for_start_timeout_secs,omitempty"`
	CompletionTimeoutSecs   float64 `json:"completion_timeout_secs,omitempty"`
	AmountMovement          float64 `json:"amount_movement,omitempty"`
	AmountRotation          float64 `json:"amount_rotation,omitempty"`
	SettleDelayMs           int     `json:"settle_delay_ms,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// Validate ensures all parts of the config are valid
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if err := validateConnection(path, cfg.Mode, cfg.Host); err != nil {
		return nil, nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MonitorPort == 0 {
		cfg.MonitorPort = DefaultMonitorPort
	}
	if cfg.SettleDelayMs == 0 {
		cfg.SettleDelayMs = defaultSettleDelayMs
	}

	for name, v := range map[string]float64{
		"velocity":                    cfg.Velocity,
		"acceleration":                cfg.Acceleration,
		"wait_for_start_timeout_secs": cfg.WaitForStartTimeoutSecs,
		"completion_timeout_secs":     cfg.CompletionTimeoutSecs,
		"amount_movement":             cfg.AmountMovement,
		"amount_rotation":             cfg.AmountRotation,
	} {
		if v < 0 {
			return nil, nil, fmt.Errorf("%s: %s must be positive, got %v", path, name, v)
		}
	}
	if cfg.SettleDelayMs < 0 {
		return nil, nil, fmt.Errorf("%s: settle_delay_ms must not be negative", path)
	}
	return nil, nil, nil
}

// ServiceConfig converts the component config into session settings.
func (cfg *Config) ServiceConfig() ServiceConfig {
	return ServiceConfig{
		Mode:                cfg.Mode,
		Host:                cfg.Host,
		Port:                orDefault(cfg.Port, DefaultPort),
		MonitorPort:         orDefault(cfg.MonitorPort, DefaultMonitorPort),
		SettleDelay:         time.Duration(orDefault(cfg.SettleDelayMs, defaultSettleDelayMs)) * time.Millisecond,
		Velocity:            cfg.Velocity,
		Acceleration:        cfg.Acceleration,
		WaitForStartTimeout: time.Duration(cfg.WaitForStartTimeoutSecs * float64(time.Second)),
		CompletionTimeout:   time.Duration(cfg.CompletionTimeoutSecs * float64(time.Second)),
		AmountMovement:      cfg.AmountMovement,
		AmountRotation:      cfg.AmountRotation,
	}
}

// GripperConfig is the gripper component config. With serial_port set the
// gripper is driven over Modbus RTU, otherwise through the controller session.
type GripperConfig struct {
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	MonitorPort int    `json:"monitor_port,omitempty"`
	Mode        string `json:"mode,omitempty"`

	SerialPort string `json:"serial_port,omitempty"`
	Baudrate   int    `json:"baudrate,omitempty"`
	SlaveID    int    `json:"slave_id,omitempty"`

	Speed int `json:"speed,omitempty"`
	Force int `json:"force,omitempty"`
}

func (cfg *GripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.SerialPort == "" {
		if err := validateConnection(path, cfg.Mode, cfg.Host); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MonitorPort == 0 {
		cfg.MonitorPort = DefaultMonitorPort
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = DefaultRobotiqBaud
	}
	if cfg.SlaveID == 0 {
		cfg.SlaveID = DefaultRobotiqSlave
	}
	if cfg.Speed == 0 {
		cfg.Speed = DefaultGripperSpeed
	}
	if cfg.Force == 0 {
		cfg.Force = DefaultGripperForce
	}
	if cfg.Speed < 0 || cfg.Speed > 255 {
		return nil, nil, fmt.Errorf("%s: speed must be between 0 and 255, got %d", path, cfg.Speed)
	}
	if cfg.Force < 0 || cfg.Force > 255 {
		return nil, nil, fmt.Errorf("%s: force must be between 0 and 255, got %d", path, cfg.Force)
	}
	return nil, nil, nil
}

// ServiceConfig is the connection part of the gripper config; motion settings
// stay at their defaults unless an arm on the same controller sets them.
func (cfg *GripperConfig) ServiceConfig() ServiceConfig {
	return ServiceConfig{
		Mode:         cfg.Mode,
		Host:         cfg.Host,
		Port:         orDefault(cfg.Port, DefaultPort),
		MonitorPort:  orDefault(cfg.MonitorPort, DefaultMonitorPort),
		SettleDelay:  defaultSettleDelayMs * time.Millisecond,
		GripperSpeed: cfg.Speed,
		GripperForce: cfg.Force,
	}
}

func validateConnection(path, mode, host string) error {
	switch mode {
	case "", ModeLive:
		if host == "" {
			return fmt.Errorf("%s: must specify host of the robot controller", path)
		}
	case ModeStub:
	default:
		return fmt.Errorf("%s: mode must be %q or %q, got %q", path, ModeLive, ModeStub, mode)
	}
	return nil
}

// Address is the registry key for a controller session.
func (c ServiceConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
