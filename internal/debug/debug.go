package debug

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (run started, result)
	LevelLive    = 2 // Live info (state transitions, frames captured)
	LevelVerbose = 3 // Verbose (calibration, extractor details)
	LevelTrace   = 4 // Trace (GPIO, serial, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger           = zerolog.Nop()
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (run summary, tension result)
// 2 = live info (state transitions, frames taken)
// 3 = verbose (calibration details, extractor output)
// 4 = trace (GPIO, serial, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects debug output. The level set by Init is kept.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	if level <= LevelOff {
		logger = zerolog.Nop()
		return
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    out != os.Stdout,
		TimeFormat: time.RFC3339,
	}
	logger = zerolog.New(cw).Level(zerolog.TraceLevel).With().Timestamp().Str("app", "RippleGo").Logger()
}

func current(minLevel int) (zerolog.Logger, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return logger, level >= minLevel
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l, ok := current(LevelInfo); ok {
		l.Info().Msgf(format, args...)
	}
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	if l, ok := current(LevelInfo); ok {
		l.Info().Str("section", title).Msg("═══════════════════════════════════════")
	}
}

// Result prints the outcome of a measurement run (level 1).
func Result(runID string, tension float64, samples int) {
	if l, ok := current(LevelInfo); ok {
		l.Info().Str("run", runID).Float64("tension_mn_m", tension).Int("samples", samples).Msg("measurement complete")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l, ok := current(LevelLive); ok {
		l.Info().Str("tag", "live").Msgf(format, args...)
	}
}

// Transition prints a run state change (level 2).
func Transition(runID, from, to string) {
	if l, ok := current(LevelLive); ok {
		l.Info().Str("run", runID).Str("from", from).Str("to", to).Msg("state transition")
	}
}

// Frame prints a capture trigger outcome (level 2).
func Frame(index, total int, err error) {
	l, ok := current(LevelLive)
	if !ok {
		return
	}
	if err != nil {
		l.Warn().Int("trigger", index).Int("total", total).Err(err).Msg("capture failed")
		return
	}
	l.Info().Int("trigger", index).Int("total", total).Msg("frame captured")
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l, ok := current(LevelVerbose); ok {
		l.Debug().Msgf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l, ok := current(LevelVerbose); ok {
		l.Debug().Interface(name, v).Msg("")
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l, ok := current(LevelVerbose); ok {
		l.Debug().Str("section", name).Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l, ok := current(LevelVerbose); ok {
		l.Debug().Int("step", num).Msg(description)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if l, ok := current(LevelInfo); ok {
		l.Info().Interface(name, value).Msg("")
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if l, ok := current(LevelTrace); ok {
		l.Trace().Msgf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l, ok := current(LevelTrace); ok {
		l.Trace().Str("op", operation).Int("pin", pin).Interface("value", value).Msg("gpio")
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if l, ok := current(LevelInfo); ok {
		l.Error().Err(err).Msg("")
	}
}
