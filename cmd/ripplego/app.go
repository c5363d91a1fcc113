package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/cjeanneret/RippleGo/internal/config"
	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/hw/actuator"
	"github.com/cjeanneret/RippleGo/internal/hw/camera"
	"github.com/cjeanneret/RippleGo/internal/hw/gpio"
	"github.com/cjeanneret/RippleGo/internal/logic/capture"
	"github.com/cjeanneret/RippleGo/internal/logic/geometry"
	"github.com/cjeanneret/RippleGo/internal/logic/measure"
	"github.com/cjeanneret/RippleGo/internal/logic/stimulus"
	"github.com/cjeanneret/RippleGo/internal/logic/wavelength"
	"github.com/cjeanneret/RippleGo/internal/store"
)

// app owns the hardware, the orchestrator and the history database built
// from one configuration.
type app struct {
	cfg     *config.Config
	gpio    gpio.Driver
	orch    *measure.Orchestrator
	store   *store.Store
	closers []io.Closer
}

// newApp initializes the hardware from cfg. onTransition may be nil.
func newApp(cfg *config.Config, onTransition func(measure.Event)) (*app, error) {
	a := &app{cfg: cfg}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	a.gpio = g
	a.closers = append(a.closers, g)

	debug.Step(2, "Initializing stimulus")
	light, err := newLightFromConfig(g, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init light: %w", err)
	}
	shaker, err := newShakerFromConfig(g, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init vibration: %w", err)
	}
	if c, ok := shaker.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	debug.PrintStruct("Light config", cfg.Light)
	debug.PrintStruct("Vibration config", cfg.Vibration)

	debug.Step(3, "Initializing camera")
	cam, err := newCameraFromConfig(g, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init camera: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)

	debug.Step(4, "Initializing wavelength extractor")
	ext, err := newExtractorFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	debug.Value("Extractor type", cfg.Extractor.Type)

	cal := geometry.NewCalibration(cfg)
	if err := cal.Validate(); err != nil {
		a.Close()
		return nil, err
	}
	debug.PrintStruct("Calibration", cal)

	a.orch = measure.New(
		stimulus.NewController(light, shaker),
		capture.NewScheduler(cam),
		ext,
		measure.Options{
			Calibration:        cal,
			StabilizationDelay: cfg.StabilizationDelay(),
			Cadence:            cfg.Cadence(),
			CaptureTimeout:     cfg.CaptureTimeout(),
			OnTransition:       onTransition,
		},
	)
	return a, nil
}

// openStore opens the history database configured in cfg.
func (a *app) openStore() error {
	s, err := store.Open(a.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open history %s: %w", a.cfg.Storage.Path, err)
	}
	a.store = s
	a.closers = append(a.closers, s)
	return nil
}

// Close releases everything newApp and openStore acquired, most recent
// first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(g gpio.Driver, cfg *config.Config) (camera.Camera, error) {
	switch cfg.Camera.Type {
	case config.CameraTetheredGPIO:
		return camera.NewTetheredGPIO(
			g,
			cfg.Camera.FocusPin,
			cfg.Camera.ShutterPin,
			cfg.FocusDelay(),
			cfg.ShutterDelay(),
			cfg.Camera.DownloadDir,
		), nil
	case config.CameraMock:
		return &camera.Mock{
			Latency:   cfg.MockLatency(),
			FailEvery: cfg.Camera.MockFailEvery,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// newLightFromConfig returns the optical stimulus, or nil when disabled.
func newLightFromConfig(g gpio.Driver, cfg *config.Config) (stimulus.Actuator, error) {
	switch cfg.Light.Type {
	case config.DriverNone:
		return nil, nil
	case config.DriverGPIO:
		return actuator.NewGPIOLight(g, cfg.Light.Pin, cfg.Light.ActiveLow), nil
	default:
		return nil, fmt.Errorf("unsupported light type: %s", cfg.Light.Type)
	}
}

// newShakerFromConfig returns the haptic stimulus, or nil when disabled.
func newShakerFromConfig(g gpio.Driver, cfg *config.Config) (stimulus.Actuator, error) {
	v := cfg.Vibration
	switch v.Type {
	case config.DriverNone:
		return nil, nil
	case config.DriverPWM:
		return actuator.NewPWMShaker(g, v.Pin, v.FrequencyHz, cfg.DutyRatio())
	case config.DriverSerial:
		return actuator.NewSerialShaker(v.SerialPort, v.BaudRate, v.FrequencyHz, nil), nil
	default:
		return nil, fmt.Errorf("unsupported vibration type: %s", v.Type)
	}
}

// newExtractorFromConfig selects the wavelength analysis.
func newExtractorFromConfig(cfg *config.Config) (wavelength.Extractor, error) {
	e := cfg.Extractor
	switch e.Type {
	case config.ExtractorFixed:
		return wavelength.Fixed{Wavelength: e.WavelengthPx}, nil
	case config.ExtractorCommand:
		return &wavelength.Command{Path: e.Command, Args: e.Args, Bins: e.Bins}, nil
	default:
		return nil, fmt.Errorf("unsupported extractor type: %s", e.Type)
	}
}
