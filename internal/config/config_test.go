package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DoubleTraversal(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Try to escape via ../../configs/ok.yaml : filepath.Clean resolves this
	// and the parent must still be "configs".
	path := filepath.Join(cfgDir, "../../configs/ok.yaml")
	err := ValidateConfigPath(path)
	// After Clean the parent may or may not be "configs" depending on resolution.
	// The important thing is it either succeeds with a valid parent or fails.
	_ = err
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
camera:
  type: "tethered_gpio"
  focus_pin: 24
  shutter_pin: 25
  download_dir: "/var/lib/ripplego/incoming"
light:
  type: "gpio"
  pin: 17
  active_low: true
vibration:
  type: "pwm"
  frequency_hz: 120.0
  pin: 18
  duty_percent: 40
optics:
  base_resolution: 39500
  geometry_constant: 87
  resize_factor: 2
measurement:
  stabilization_ms: 2500
  cadence_ms: 200
  capture_timeout_ms: 1500
  capture_count: 8
  distance_mm: 50
  density_g_per_cm3: 1.0
extractor:
  type: "command"
  command: "/usr/local/bin/ripples"
  args: ["--edges"]
  bins: 60
storage:
  path: "/var/lib/ripplego/history.db"
  history_limit: 50
web:
  port: 9090
defaults:
  debug_level: 2
  mock_gpio: false
`

const minimalYAML = `
camera:
  type: "mock"
extractor:
  type: "fixed"
  wavelength_px: 850
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Camera.Type != CameraTetheredGPIO {
		t.Errorf("camera.type = %q, want %q", cfg.Camera.Type, CameraTetheredGPIO)
	}
	if cfg.Camera.DownloadDir != "/var/lib/ripplego/incoming" {
		t.Errorf("camera.download_dir = %q", cfg.Camera.DownloadDir)
	}
	if cfg.Light.Type != DriverGPIO || cfg.Light.Pin != 17 || !cfg.Light.ActiveLow {
		t.Errorf("light = %+v", cfg.Light)
	}
	if cfg.Vibration.Type != DriverPWM || cfg.Vibration.FrequencyHz != 120 || cfg.Vibration.Pin != 18 {
		t.Errorf("vibration = %+v", cfg.Vibration)
	}
	if cfg.Optics.ResizeFactor != 2 {
		t.Errorf("optics.resize_factor = %v, want 2", cfg.Optics.ResizeFactor)
	}
	if cfg.Measurement.CaptureCount != 8 {
		t.Errorf("measurement.capture_count = %d, want 8", cfg.Measurement.CaptureCount)
	}
	if cfg.Extractor.Type != ExtractorCommand || cfg.Extractor.Bins != 60 || len(cfg.Extractor.Args) != 1 {
		t.Errorf("extractor = %+v", cfg.Extractor)
	}
	if cfg.Storage.HistoryLimit != 50 {
		t.Errorf("storage.history_limit = %d, want 50", cfg.Storage.HistoryLimit)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("web.port = %d, want 9090", cfg.Web.Port)
	}
	if cfg.Defaults.DebugLevel != 2 || cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"camera.focus_delay_ms", cfg.Camera.FocusDelayMs, 500},
		{"camera.shutter_delay_ms", cfg.Camera.ShutterDelayMs, 200},
		{"light.type", cfg.Light.Type, DriverNone},
		{"vibration.type", cfg.Vibration.Type, DriverNone},
		{"vibration.frequency_hz", cfg.Vibration.FrequencyHz, 144.5},
		{"vibration.duty_percent", cfg.Vibration.DutyPercent, 50.0},
		{"vibration.baud_rate", cfg.Vibration.BaudRate, 115200},
		{"optics.base_resolution", cfg.Optics.BaseResolution, 39500.0},
		{"optics.geometry_constant", cfg.Optics.GeometryConstant, 87.0},
		{"optics.resize_factor", cfg.Optics.ResizeFactor, 1.0},
		{"measurement.stabilization_ms", cfg.Measurement.StabilizationMs, 3000},
		{"measurement.cadence_ms", cfg.Measurement.CadenceMs, 500},
		{"measurement.capture_timeout_ms", cfg.Measurement.CaptureTimeoutMs, 2000},
		{"measurement.capture_count", cfg.Measurement.CaptureCount, 5},
		{"extractor.bins", cfg.Extractor.Bins, 40},
		{"storage.path", cfg.Storage.Path, "data/ripplego.db"},
		{"storage.history_limit", cfg.Storage.HistoryLimit, 20},
		{"web.port", cfg.Web.Port, 8080},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s default = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing camera type", "extractor: {type: fixed, wavelength_px: 850}"},
		{"unknown camera type", "camera: {type: webcam}\nextractor: {type: fixed, wavelength_px: 850}"},
		{"missing extractor type", "camera: {type: mock}"},
		{"unknown extractor", "camera: {type: mock}\nextractor: {type: fft}"},
		{"fixed without wavelength", "camera: {type: mock}\nextractor: {type: fixed}"},
		{"command without path", "camera: {type: mock}\nextractor: {type: command}"},
		{"unknown light", minimalYAML + "light: {type: laser}"},
		{"unknown vibration", minimalYAML + "vibration: {type: motor}"},
		{"negative frequency", minimalYAML + "vibration: {frequency_hz: -1}"},
		{"duty over 100", minimalYAML + "vibration: {duty_percent: 150}"},
		{"serial without port", minimalYAML + "vibration: {type: serial}"},
		{"negative optics", minimalYAML + "optics: {resize_factor: -2}"},
		{"negative distance", minimalYAML + "measurement: {distance_mm: -5}"},
		{"debug level", minimalYAML + "defaults: {debug_level: 9}"},
		{"bad port", minimalYAML + "web: {port: 70000}"},
		{"negative fail every", "camera: {type: mock, mock_fail_every: -1}\nextractor: {type: fixed, wavelength_px: 850}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty config (camera.type missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	path := writeConfig(t, minimalYAML+"unknown_section:\n  foo: bar\n")
	_, err := Load(path)
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_RepositoryDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("configs/default.yaml should load: %v", err)
	}
	if !cfg.Defaults.MockGPIO {
		t.Error("the shipped configuration should default to mock GPIO")
	}
}

// ---------- Helper methods ----------

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Camera:      CameraConfig{FocusDelayMs: 500, ShutterDelayMs: 200, MockLatencyMs: 30},
		Measurement: MeasurementConfig{StabilizationMs: 3000, CadenceMs: 500, CaptureTimeoutMs: 2000},
	}
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"FocusDelay", cfg.FocusDelay(), 500 * time.Millisecond},
		{"ShutterDelay", cfg.ShutterDelay(), 200 * time.Millisecond},
		{"MockLatency", cfg.MockLatency(), 30 * time.Millisecond},
		{"StabilizationDelay", cfg.StabilizationDelay(), 3 * time.Second},
		{"Cadence", cfg.Cadence(), 500 * time.Millisecond},
		{"CaptureTimeout", cfg.CaptureTimeout(), 2 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestConfig_DutyRatio(t *testing.T) {
	cfg := &Config{Vibration: VibrationConfig{DutyPercent: 40}}
	if got := cfg.DutyRatio(); got != 0.4 {
		t.Errorf("DutyRatio() = %v, want 0.4", got)
	}
}
