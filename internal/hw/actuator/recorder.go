package actuator

import (
	"context"
	"sync"
)

// Recorder is an in-memory actuator that records every call. It backs
// dry runs and is the fake used by tests of the stimulus and measurement
// layers.
type Recorder struct {
	name string

	mu       sync.Mutex
	on       bool
	starts   int
	stops    int
	calls    []string
	freqHz   float64
	startErr error
	stopErr  error
}

// NewRecorder returns a Recorder reporting name.
func NewRecorder(name string) *Recorder {
	return &Recorder{name: name}
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "start")
	r.starts++
	if r.startErr != nil {
		return r.startErr
	}
	r.on = true
	return nil
}

func (r *Recorder) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "stop")
	r.stops++
	if r.stopErr != nil {
		return r.stopErr
	}
	r.on = false
	return nil
}

// SetFrequency records the requested drive frequency.
func (r *Recorder) SetFrequency(hz float64) error {
	r.mu.Lock()
	r.freqHz = hz
	r.mu.Unlock()
	return nil
}

// Frequency returns the last frequency passed to SetFrequency.
func (r *Recorder) Frequency() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freqHz
}

// FailStart makes subsequent Start calls return err.
func (r *Recorder) FailStart(err error) {
	r.mu.Lock()
	r.startErr = err
	r.mu.Unlock()
}

// FailStop makes subsequent Stop calls return err.
func (r *Recorder) FailStop(err error) {
	r.mu.Lock()
	r.stopErr = err
	r.mu.Unlock()
}

// On reports whether the actuator is currently running.
func (r *Recorder) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Counts returns the number of Start and Stop calls.
func (r *Recorder) Counts() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// Calls returns the ordered call log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}
