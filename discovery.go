// discovery.go
package ur_arm

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var URDiscoveryModel = resource.NewModel("devrel", "ur", "discovery")

const defaultProbeTimeout = 500 * time.Millisecond

func init() {
	resource.RegisterService(
		discovery.API,
		URDiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newURDiscovery,
		})
}

// DiscoveryConfig is the configuration for the discovery service
type DiscoveryConfig struct {
	// Hosts are candidate controller addresses, with or without a port.
	Hosts          []string `json:"hosts,omitempty"`
	Port           int      `json:"port,omitempty"`
	ProbeTimeoutMs int      `json:"probe_timeout_ms,omitempty"`
	SkipSerial     bool     `json:"skip_serial,omitempty"`
}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, nil, fmt.Errorf("%s: port %d out of range", path, cfg.Port)
	}
	if cfg.ProbeTimeoutMs < 0 {
		return nil, nil, fmt.Errorf("%s: probe_timeout_ms must not be negative", path)
	}
	for _, h := range cfg.Hosts {
		if strings.TrimSpace(h) == "" {
			return nil, nil, fmt.Errorf("%s: hosts must not contain empty entries", path)
		}
	}
	return nil, nil, nil
}

// urDiscovery implements the discovery service
type urDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
	cfg    *DiscoveryConfig

	probeHost   func(ctx context.Context, addr string, timeout time.Duration) bool
	probeSerial func(port string) bool
	listPorts   func() []string
}

func newURDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &urDiscovery{
		Named:       conf.ResourceName().AsNamed(),
		logger:      logger,
		cfg:         cfg,
		probeHost:   probeControllerHost,
		probeSerial: probeRobotiqPort,
		listPorts:   enumerateSerialPorts,
	}, nil
}

// DiscoverResources probes controller hosts over TCP and serial ports for Robotiq
// grippers, and returns component configurations for everything that answered.
func (dis *urDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting UR discovery")

	timeout := defaultProbeTimeout
	if dis.cfg.ProbeTimeoutMs > 0 {
		timeout = time.Duration(dis.cfg.ProbeTimeoutMs) * time.Millisecond
	}

	var allConfigs []resource.Config
	for _, addr := range dis.candidateHosts(extra) {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		if !dis.probeHost(ctx, addr, timeout) {
			dis.logger.Debugf("No controller answered at %s", addr)
			continue
		}
		dis.logger.Infof("Discovered UR controller at %s", addr)
		allConfigs = append(allConfigs, controllerConfigs(addr)...)
	}

	if !dis.cfg.SkipSerial {
		candidates := filterCandidatePorts(dis.listPorts())
		dis.logger.Debugf("Checking %d candidate serial ports for Robotiq grippers", len(candidates))
		for _, portPath := range candidates {
			select {
			case <-ctx.Done():
				dis.logger.Info("Discovery cancelled")
				return allConfigs, ctx.Err()
			default:
			}

			if !dis.probeSerial(portPath) {
				continue
			}
			dis.logger.Infof("Discovered Robotiq gripper on %s", portPath)
			allConfigs = append(allConfigs, robotiqConfig(portPath))
		}
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No UR hardware discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}
	return allConfigs, nil
}

// candidateHosts merges configured and per-call hosts into host:port addresses.
// extra["hosts"] may be a list or a comma separated string.
func (dis *urDiscovery) candidateHosts(extra map[string]any) []string {
	raw := append([]string{}, dis.cfg.Hosts...)
	switch v := extra["hosts"].(type) {
	case string:
		raw = append(raw, strings.Split(v, ",")...)
	case []string:
		raw = append(raw, v...)
	case []any:
		for _, h := range v {
			if s, ok := h.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	port := orDefault(dis.cfg.Port, DefaultPort)
	seen := map[string]bool{}
	var addrs []string
	for _, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		addr := h
		if _, _, err := net.SplitHostPort(h); err != nil {
			addr = net.JoinHostPort(h, strconv.Itoa(port))
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		addrs = append(addrs, addr)
	}
	return addrs
}

// controllerConfigs creates an arm and a socket-driven gripper for one controller.
func controllerConfigs(addr string) []resource.Config {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	suffix := strings.NewReplacer(".", "-", ":", "-").Replace(host)

	attrs := func() map[string]interface{} {
		return map[string]interface{}{
			"host": host,
			"port": port,
		}
	}
	return []resource.Config{
		{
			Name:       "ur-arm-" + suffix,
			API:        arm.API,
			Model:      URArmModel,
			Attributes: attrs(),
		},
		{
			Name:       "ur-gripper-" + suffix,
			API:        gripper.API,
			Model:      URGripperModel,
			Attributes: attrs(),
		},
	}
}

func robotiqConfig(portPath string) resource.Config {
	return resource.Config{
		Name:  "robotiq-gripper-" + extractPortSuffix(portPath),
		API:   gripper.API,
		Model: URGripperModel,
		Attributes: map[string]interface{}{
			"serial_port": portPath,
			"baudrate":    DefaultRobotiqBaud,
			"slave_id":    DefaultRobotiqSlave,
		},
	}
}

func probeControllerHost(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func probeRobotiqPort(portPath string) bool {
	_, err := ProbeRobotiq(RobotiqConfig{SerialPort: portPath})
	return err == nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port looks like a USB RS-485 adapter
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") || strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	return strings.HasPrefix(port, "COM")
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
