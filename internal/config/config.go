package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPS     SerialConfig  `yaml:"gps"`
	Sensor  SerialConfig  `yaml:"sensor"`
	NTRIP   NTRIPConfig   `yaml:"ntrip"`
	Log     LogConfig     `yaml:"log"`
	Display DisplayConfig `yaml:"display"`
	UDP     UDPConfig     `yaml:"udp"`
	Loop    LoopConfig    `yaml:"loop"`
	Web     WebConfig     `yaml:"web"`
}

type SerialConfig struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// Driver is "bugst" (default) or "termios".
	Driver string `yaml:"driver"`
}

// NTRIPConfig configures the correction relay. An empty Mount disables it.
type NTRIPConfig struct {
	Caster         string        `yaml:"caster"`
	Mount          string        `yaml:"mount"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	UserAgent      string        `yaml:"user_agent"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type LogConfig struct {
	// Path of the CSV log. Empty means telemux-<UTC timestamp>.csv in the
	// working directory.
	Path string `yaml:"path"`
}

type DisplayConfig struct {
	// Mode is "auto" (render when stdout is a terminal), "on" or "off".
	Mode    string        `yaml:"mode"`
	Refresh time.Duration `yaml:"refresh"`
}

type UDPConfig struct {
	// Dest receives every GPS sentence as a datagram when set.
	Dest string `yaml:"dest"`
}

type WebConfig struct {
	// Listen enables the JSON status server on host:port when set.
	Listen string `yaml:"listen"`
}

type LoopConfig struct {
	// RateHz caps orchestrator iterations per second. 0 disables pacing.
	RateHz int `yaml:"rate_hz"`
}

const (
	DefaultGPSBaud           = 115200
	DefaultGPSReadTimeout    = 10 * time.Millisecond
	DefaultSensorBaud        = 9600
	DefaultSensorReadTimeout = time.Second
	DefaultCaster            = "rtk2go.com:2101"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultDisplayRefresh    = 200 * time.Millisecond
	DefaultRateHz            = 200
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills unset fields and rejects inconsistent settings.
// Callers apply command-line overrides first.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.GPS.Device = strings.TrimSpace(cfg.GPS.Device)
	cfg.Sensor.Device = strings.TrimSpace(cfg.Sensor.Device)
	if cfg.GPS.Device == "" {
		return fmt.Errorf("gps.device is required")
	}
	if cfg.Sensor.Device == "" {
		return fmt.Errorf("sensor.device is required")
	}
	if cfg.GPS.Device == cfg.Sensor.Device {
		return fmt.Errorf("gps.device and sensor.device must differ (both %q)", cfg.GPS.Device)
	}

	if err := defaultSerial("gps", &cfg.GPS, DefaultGPSBaud, DefaultGPSReadTimeout); err != nil {
		return err
	}
	if err := defaultSerial("sensor", &cfg.Sensor, DefaultSensorBaud, DefaultSensorReadTimeout); err != nil {
		return err
	}

	cfg.NTRIP.Mount = strings.TrimPrefix(strings.TrimSpace(cfg.NTRIP.Mount), "/")
	if cfg.NTRIP.Caster == "" {
		cfg.NTRIP.Caster = DefaultCaster
	}
	if !strings.Contains(cfg.NTRIP.Caster, ":") {
		return fmt.Errorf("ntrip.caster must be host:port (got %q)", cfg.NTRIP.Caster)
	}
	if cfg.NTRIP.ReconnectDelay < 0 {
		return fmt.Errorf("ntrip.reconnect_delay must be >= 0")
	}
	if cfg.NTRIP.ReconnectDelay == 0 {
		cfg.NTRIP.ReconnectDelay = DefaultReconnectDelay
	}

	cfg.Display.Mode = strings.ToLower(strings.TrimSpace(cfg.Display.Mode))
	switch cfg.Display.Mode {
	case "":
		cfg.Display.Mode = "auto"
	case "auto", "on", "off":
	default:
		return fmt.Errorf("display.mode must be one of: auto, on, off")
	}
	if cfg.Display.Refresh < 0 {
		return fmt.Errorf("display.refresh must be >= 0")
	}
	if cfg.Display.Refresh == 0 {
		cfg.Display.Refresh = DefaultDisplayRefresh
	}

	if cfg.Loop.RateHz < 0 {
		return fmt.Errorf("loop.rate_hz must be >= 0")
	}
	if cfg.Loop.RateHz == 0 {
		cfg.Loop.RateHz = DefaultRateHz
	}

	cfg.UDP.Dest = strings.TrimSpace(cfg.UDP.Dest)

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)
	if cfg.Web.Listen != "" && !strings.Contains(cfg.Web.Listen, ":") {
		return fmt.Errorf("web.listen must be host:port (got %q)", cfg.Web.Listen)
	}
	return nil
}

func defaultSerial(name string, c *SerialConfig, baud int, timeout time.Duration) error {
	if c.Baud < 0 {
		return fmt.Errorf("%s.baud must be > 0", name)
	}
	if c.Baud == 0 {
		c.Baud = baud
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%s.read_timeout must be > 0", name)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = timeout
	}
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "", "bugst":
		c.Driver = "bugst"
	case "termios":
		c.Driver = "termios"
	default:
		return fmt.Errorf("%s.driver must be one of: bugst, termios", name)
	}
	return nil
}

// RelayEnabled reports whether a correction mountpoint is configured.
func (c Config) RelayEnabled() bool {
	return c.NTRIP.Mount != ""
}

// DefaultLogPath names a fresh log file for a run starting at now.
func DefaultLogPath(now time.Time) string {
	return "telemux-" + now.UTC().Format("20060102T150405Z") + ".csv"
}
