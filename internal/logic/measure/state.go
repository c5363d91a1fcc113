package measure

import (
	"errors"
	"time"
)

// RunState is the lifecycle of one measurement run.
type RunState int

const (
	Idle RunState = iota
	Stimulating
	Capturing
	Computing
	Complete
	Failed
	Cancelled
)

var stateNames = map[RunState]string{
	Idle:        "idle",
	Stimulating: "stimulating",
	Capturing:   "capturing",
	Computing:   "computing",
	Complete:    "complete",
	Failed:      "failed",
	Cancelled:   "cancelled",
}

func (s RunState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether a new run may start from s.
func (s RunState) Terminal() bool {
	return s == Complete || s == Failed || s == Cancelled
}

// MarshalText renders the state by name in JSON and logs.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrRunInProgress  = errors.New("measurement run in progress")
	ErrComputation    = errors.New("computation failed")
	ErrCancelled      = errors.New("measurement cancelled")
	ErrNotCancellable = errors.New("no run to cancel")
)

// PhysicalParameters are supplied fresh for every run.
type PhysicalParameters struct {
	DistanceMm float64 `json:"distance_mm"`
	// DensityGPerCm3 is recorded with the result but does not enter the
	// dispersion relation.
	DensityGPerCm3 float64 `json:"density_g_per_cm3"`
	FrequencyHz    float64 `json:"frequency_hz"`
}

// TensionResult is the artifact of a successful run.
type TensionResult struct {
	Value       float64 `json:"value_mn_m"`
	SampleCount int     `json:"sample_count"`
}

// Outcome summarizes a finished (or running) measurement.
type Outcome struct {
	RunID      string             `json:"run_id"`
	State      RunState           `json:"state"`
	Params     PhysicalParameters `json:"params"`
	Count      int                `json:"count"`
	Result     *TensionResult     `json:"result,omitempty"`
	Err        error              `json:"-"`
	Wavelength float64            `json:"wavelength_px,omitempty"`
	Resolution float64            `json:"resolution_px_per_m,omitempty"`
	Attempts   int                `json:"attempts"`
	Failures   int                `json:"failures"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Event is emitted on every state transition.
type Event struct {
	RunID string    `json:"run_id"`
	From  RunState  `json:"from"`
	To    RunState  `json:"to"`
	At    time.Time `json:"at"`
}
