package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/cjeanneret/RippleGo/internal/config"
	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/logic/measure"
	"github.com/cjeanneret/RippleGo/internal/store"
	"github.com/cjeanneret/RippleGo/internal/web"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debugLevel int
	mockGPIO   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "ripplego",
		Short:        "Measure liquid surface tension from capillary ripples",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	pf.IntVar(&g.debugLevel, "debug", 0, "override debug level (0-4)")
	pf.BoolVar(&g.mockGPIO, "mock", false, "use the mock GPIO driver")

	root.AddCommand(newMeasureCmd(g), newServeCmd(g), newHistoryCmd(g))
	return root
}

// loadConfig reads the configuration and applies the persistent flags the
// user actually set.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	if err := config.ValidateConfigPath(g.configPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	if err := applyGlobalOverrides(cfg, g, changed); err != nil {
		return nil, err
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", g.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return cfg, nil
}

// applyGlobalOverrides copies the changed persistent flags into cfg.
func applyGlobalOverrides(cfg *config.Config, g *globalFlags, changed map[string]bool) error {
	if changed["debug"] {
		if g.debugLevel < debug.LevelOff || g.debugLevel > debug.LevelTrace {
			return fmt.Errorf("debug level must be between 0 and 4, got %d", g.debugLevel)
		}
		cfg.Defaults.DebugLevel = g.debugLevel
	}
	if changed["mock"] {
		cfg.Defaults.MockGPIO = g.mockGPIO
	}
	return nil
}

// ---------- measure ----------

type measureFlags struct {
	distance    string
	density     string
	count       string
	frequencyHz float64
	runs        int
}

func newMeasureCmd(g *globalFlags) *cobra.Command {
	f := &measureFlags{}
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Run one or more measurements and print the tension",
		Example: "  ripplego measure --distance 850 --density 1.0 --count 5\n" +
			"  ripplego measure --distance 850 --runs 3",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("distance") {
				f.distance = formatFloat(cfg.Measurement.DistanceMm)
			}
			if !cmd.Flags().Changed("density") && cfg.Measurement.DensityGPerCm3 != 0 {
				f.density = formatFloat(cfg.Measurement.DensityGPerCm3)
			}
			if !cmd.Flags().Changed("count") {
				f.count = strconv.Itoa(cfg.Measurement.CaptureCount)
			}
			if !cmd.Flags().Changed("frequency") {
				f.frequencyHz = cfg.Vibration.FrequencyHz
			}
			if f.runs <= 0 {
				return fmt.Errorf("runs must be positive, got %d", f.runs)
			}

			params, n, err := measure.ParseParameters(f.distance, f.density, f.count, f.frequencyHz)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), measure.Message(err))
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openStore(); err != nil {
				return err
			}

			_, err = runMeasurements(ctx, a.orch, a.store, params, n, f.runs, cmd.OutOrStdout())
			return err
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.distance, "distance", "", "camera to surface distance in mm")
	fl.StringVar(&f.density, "density", "", "liquid density in g/cm3 (recorded only)")
	fl.StringVar(&f.count, "count", "", "frames captured per run")
	fl.Float64Var(&f.frequencyHz, "frequency", 0, "stimulus frequency in Hz")
	fl.IntVar(&f.runs, "runs", 1, "number of sequential runs to average")
	return cmd
}

// runner is the part of the orchestrator the measure command drives.
type runner interface {
	Start(ctx context.Context, params measure.PhysicalParameters, n int) (string, error)
	Wait(ctx context.Context) (measure.Outcome, error)
}

// recorder persists completed runs. *store.Store implements it.
type recorder interface {
	Record(ctx context.Context, m store.Measurement) (string, error)
}

// runMeasurements performs runs sequential measurements, records every
// completed one and prints each value with the running average. A
// cancelled run stops the series; failed runs are reported and skipped.
func runMeasurements(ctx context.Context, r runner, rec recorder, params measure.PhysicalParameters, n, runs int, out io.Writer) ([]float64, error) {
	var values []float64
	for i := 1; i <= runs; i++ {
		if ctx.Err() != nil {
			return values, measure.ErrCancelled
		}
		if _, err := r.Start(ctx, params, n); err != nil {
			fmt.Fprintf(out, "Run %d/%d: %s\n", i, runs, measure.Message(err))
			return values, err
		}
		// The run context derives from ctx, so an interrupt ends the run
		// and Wait returns its Cancelled outcome.
		outcome, err := r.Wait(context.Background())
		if err != nil {
			fmt.Fprintf(out, "Run %d/%d: %s\n", i, runs, measure.Message(err))
			if errors.Is(err, measure.ErrCancelled) {
				return values, err
			}
			continue
		}

		values = append(values, outcome.Result.Value)
		if rec != nil {
			m, err := store.FromOutcome(outcome)
			if err == nil {
				_, err = rec.Record(ctx, m)
			}
			if err != nil {
				debug.Error(err)
			}
		}
		fmt.Fprintf(out, "Run %d/%d: %s mN/m (average %s mN/m over %d)\n",
			i, runs, measure.FormatTension(outcome.Result.Value),
			measure.FormatTension(store.Average(values)), len(values))
	}
	if len(values) == 0 {
		return values, fmt.Errorf("%w: no run completed", measure.ErrComputation)
	}
	return values, nil
}

// ---------- serve ----------

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				if port <= 0 || port > 65535 {
					return fmt.Errorf("port must be 1-65535, got %d", port)
				}
				cfg.Web.Port = port
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

			var a *app
			onTransition := func(ev measure.Event) {
				broadcaster.Publish("state", ev.To.String(), ev)
				if ev.To == measure.Complete {
					recordLast(context.Background(), a.orch.Last(), a.store)
				}
			}
			a, err = newApp(cfg, onTransition)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openStore(); err != nil {
				return err
			}

			srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Web.Port), web.Deps{
				Broadcaster:  broadcaster,
				Measurer:     a.orch,
				History:      a.store,
				FormDefaults: formDefaults(cfg),
				HistoryLimit: cfg.Storage.HistoryLimit,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port")
	return cmd
}

// recordLast stores a completed outcome; failures are logged only.
func recordLast(ctx context.Context, out measure.Outcome, rec recorder) {
	if rec == nil {
		return
	}
	m, err := store.FromOutcome(out)
	if err != nil {
		debug.Error(err)
		return
	}
	if _, err := rec.Record(ctx, m); err != nil {
		debug.Error(err)
	}
}

func formDefaults(cfg *config.Config) web.FormConfig {
	return web.FormConfig{
		DistanceMm:     cfg.Measurement.DistanceMm,
		DensityGPerCm3: cfg.Measurement.DensityGPerCm3,
		FrequencyHz:    cfg.Vibration.FrequencyHz,
		Count:          cfg.Measurement.CaptureCount,
	}
}

// ---------- history ----------

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored measurements",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Storage.HistoryLimit
			}
			s, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer s.Close()
			return printHistory(cmd.Context(), s, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows (0 = all)")
	return cmd
}

func printHistory(ctx context.Context, h web.History, limit int, out io.Writer) error {
	rows, err := h.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No measurements recorded")
		return nil
	}
	for _, m := range rows {
		fmt.Fprintf(out, "%s  %8.1f mm  %8.1f px  %10s mN/m  %s\n",
			m.CreatedAt.Format("2006-01-02 15:04:05"), m.DistanceMm, m.WavelengthPx,
			measure.FormatTension(m.Tension), m.ID)
	}
	sum, err := h.Summary(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "n=%d mean=%s sd=%s min=%s max=%s mN/m\n", sum.Count,
		measure.FormatTension(sum.Mean), measure.FormatTension(sum.StdDev),
		measure.FormatTension(sum.Min), measure.FormatTension(sum.Max))
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
