package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Camera types.
const (
	CameraTetheredGPIO = "tethered_gpio"
	CameraMock         = "mock"
)

// Light and vibration driver types.
const (
	DriverNone   = "none"
	DriverGPIO   = "gpio"
	DriverPWM    = "pwm"
	DriverSerial = "serial"
)

// Extractor types.
const (
	ExtractorFixed   = "fixed"
	ExtractorCommand = "command"
)

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation ("tethered_gpio" or "mock").
type CameraConfig struct {
	Type           string `yaml:"type"`
	FocusPin       int    `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int    `yaml:"shutter_delay_ms"` // shutter hold time (ms)
	// DownloadDir is where the tethering software drops new images.
	// Empty means trigger only.
	DownloadDir   string `yaml:"download_dir"`
	MockLatencyMs int    `yaml:"mock_latency_ms"`
	MockFailEvery int    `yaml:"mock_fail_every"`
}

// LightConfig drives the illumination.
type LightConfig struct {
	Type      string `yaml:"type"` // "gpio" or "none"
	Pin       int    `yaml:"pin"`
	ActiveLow bool   `yaml:"active_low"`
}

// VibrationConfig drives the exciter that raises the ripples.
type VibrationConfig struct {
	Type        string  `yaml:"type"` // "pwm", "serial" or "none"
	FrequencyHz float64 `yaml:"frequency_hz"`
	Pin         int     `yaml:"pin"`          // PWM-capable pin (pwm)
	DutyPercent float64 `yaml:"duty_percent"` // 0-100 (pwm)
	SerialPort  string  `yaml:"serial_port"`  // e.g. /dev/ttyUSB0 (serial)
	BaudRate    int     `yaml:"baud_rate"`    // (serial)
}

// OpticsConfig holds the calibration constants of the camera mount.
type OpticsConfig struct {
	BaseResolution   float64 `yaml:"base_resolution"`
	GeometryConstant float64 `yaml:"geometry_constant"`
	ResizeFactor     float64 `yaml:"resize_factor"`
}

// MeasurementConfig sets the run timings and the form defaults.
type MeasurementConfig struct {
	StabilizationMs  int     `yaml:"stabilization_ms"`
	CadenceMs        int     `yaml:"cadence_ms"`
	CaptureTimeoutMs int     `yaml:"capture_timeout_ms"`
	CaptureCount     int     `yaml:"capture_count"`
	DistanceMm       float64 `yaml:"distance_mm"`
	DensityGPerCm3   float64 `yaml:"density_g_per_cm3"`
}

// ExtractorConfig selects the wavelength analysis.
type ExtractorConfig struct {
	Type         string   `yaml:"type"`          // "fixed" or "command"
	WavelengthPx float64  `yaml:"wavelength_px"` // fixed
	Command      string   `yaml:"command"`       // command
	Args         []string `yaml:"args"`
	Bins         int      `yaml:"bins"`
}

// StorageConfig locates the measurement history.
type StorageConfig struct {
	Path         string `yaml:"path"`
	HistoryLimit int    `yaml:"history_limit"`
}

// WebConfig configures the HTTP interface.
type WebConfig struct {
	Port int `yaml:"port"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Light       LightConfig       `yaml:"light"`
	Vibration   VibrationConfig   `yaml:"vibration"`
	Optics      OpticsConfig      `yaml:"optics"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	Storage     StorageConfig     `yaml:"storage"`
	Web         WebConfig         `yaml:"web"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files located directly in a
// directory named "configs".
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %q", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %q", path)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("config path must not leave the working directory: %q", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults
// filled in.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func (cfg *Config) applyDefaults() error {
	switch cfg.Camera.Type {
	case CameraTetheredGPIO, CameraMock:
	case "":
		return fmt.Errorf("camera.type is required")
	default:
		return fmt.Errorf("unknown camera.type %q", cfg.Camera.Type)
	}
	if cfg.Camera.FocusDelayMs <= 0 {
		cfg.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if cfg.Camera.ShutterDelayMs <= 0 {
		cfg.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if cfg.Camera.MockFailEvery < 0 {
		return fmt.Errorf("camera.mock_fail_every must be >= 0, got %d", cfg.Camera.MockFailEvery)
	}

	switch cfg.Light.Type {
	case "":
		cfg.Light.Type = DriverNone
	case DriverNone, DriverGPIO:
	default:
		return fmt.Errorf("unknown light.type %q", cfg.Light.Type)
	}

	switch cfg.Vibration.Type {
	case "":
		cfg.Vibration.Type = DriverNone
	case DriverNone, DriverPWM, DriverSerial:
	default:
		return fmt.Errorf("unknown vibration.type %q", cfg.Vibration.Type)
	}
	if cfg.Vibration.FrequencyHz == 0 {
		cfg.Vibration.FrequencyHz = 144.5
	}
	if !positive(cfg.Vibration.FrequencyHz) {
		return fmt.Errorf("vibration.frequency_hz must be > 0, got %.2f", cfg.Vibration.FrequencyHz)
	}
	if cfg.Vibration.DutyPercent == 0 {
		cfg.Vibration.DutyPercent = 50
	}
	if cfg.Vibration.DutyPercent < 0 || cfg.Vibration.DutyPercent > 100 {
		return fmt.Errorf("vibration.duty_percent must be between 0 and 100, got %.2f", cfg.Vibration.DutyPercent)
	}
	if cfg.Vibration.BaudRate <= 0 {
		cfg.Vibration.BaudRate = 115200
	}
	if cfg.Vibration.Type == DriverSerial && cfg.Vibration.SerialPort == "" {
		return fmt.Errorf("vibration.serial_port is required for serial vibration")
	}

	if cfg.Optics.BaseResolution == 0 {
		cfg.Optics.BaseResolution = 39500
	}
	if cfg.Optics.GeometryConstant == 0 {
		cfg.Optics.GeometryConstant = 87
	}
	if cfg.Optics.ResizeFactor == 0 {
		cfg.Optics.ResizeFactor = 1
	}
	if !positive(cfg.Optics.BaseResolution) || !positive(cfg.Optics.GeometryConstant) || !positive(cfg.Optics.ResizeFactor) {
		return fmt.Errorf("optics constants must be > 0")
	}

	m := &cfg.Measurement
	if m.StabilizationMs <= 0 {
		m.StabilizationMs = 3000
	}
	if m.CadenceMs <= 0 {
		m.CadenceMs = 500
	}
	if m.CaptureTimeoutMs <= 0 {
		m.CaptureTimeoutMs = 2000
	}
	if m.CaptureCount <= 0 {
		m.CaptureCount = 5
	}
	if m.DistanceMm < 0 {
		return fmt.Errorf("measurement.distance_mm must be >= 0, got %.2f", m.DistanceMm)
	}

	switch cfg.Extractor.Type {
	case ExtractorFixed:
		if !positive(cfg.Extractor.WavelengthPx) {
			return fmt.Errorf("extractor.wavelength_px must be > 0 for the fixed extractor")
		}
	case ExtractorCommand:
		if cfg.Extractor.Command == "" {
			return fmt.Errorf("extractor.command is required for the command extractor")
		}
	case "":
		return fmt.Errorf("extractor.type is required")
	default:
		return fmt.Errorf("unknown extractor.type %q", cfg.Extractor.Type)
	}
	if cfg.Extractor.Bins <= 0 {
		cfg.Extractor.Bins = 40
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/ripplego.db"
	}
	if cfg.Storage.HistoryLimit <= 0 {
		cfg.Storage.HistoryLimit = 20
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.Port < 1 || cfg.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 1 and 65535, got %d", cfg.Web.Port)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	return nil
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// MockLatency returns the simulated capture time of the mock camera.
func (c *Config) MockLatency() time.Duration {
	return time.Duration(c.Camera.MockLatencyMs) * time.Millisecond
}

// StabilizationDelay returns the wait between stimulus start and capture.
func (c *Config) StabilizationDelay() time.Duration {
	return time.Duration(c.Measurement.StabilizationMs) * time.Millisecond
}

// Cadence returns the interval between two capture triggers.
func (c *Config) Cadence() time.Duration {
	return time.Duration(c.Measurement.CadenceMs) * time.Millisecond
}

// CaptureTimeout returns how long a single capture may take.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Measurement.CaptureTimeoutMs) * time.Millisecond
}

// DutyRatio returns the vibration duty cycle as a ratio (0.0 to 1.0).
func (c *Config) DutyRatio() float64 {
	return c.Vibration.DutyPercent / 100.0
}
