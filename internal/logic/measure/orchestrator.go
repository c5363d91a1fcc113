package measure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/logic/capture"
	"github.com/cjeanneret/RippleGo/internal/logic/geometry"
	"github.com/cjeanneret/RippleGo/internal/logic/tension"
	"github.com/cjeanneret/RippleGo/internal/logic/wavelength"
)

// Stimulus is the optical and haptic excitation of the sample.
// SetFrequency tunes the exciter to the run frequency before Start.
type Stimulus interface {
	SetFrequency(hz float64) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Scheduler arms capture bursts.
type Scheduler interface {
	Arm(req capture.Request) (*capture.Run, error)
}

// Default timings of a run.
const (
	DefaultStabilizationDelay = 3 * time.Second
	DefaultCadence            = 500 * time.Millisecond
)

// Options tune an Orchestrator. Zero values select the defaults.
type Options struct {
	Calibration        geometry.Calibration
	StabilizationDelay time.Duration
	Cadence            time.Duration
	CaptureTimeout     time.Duration
	// OnTransition is called, outside any lock, after every state change.
	OnTransition func(Event)
}

// Orchestrator runs one measurement at a time: stimulus, stabilization,
// capture burst, wavelength extraction and tension computation.
// All state transitions of a run happen on its own goroutine.
type Orchestrator struct {
	stim  Stimulus
	sched Scheduler
	ext   wavelength.Extractor
	opts  Options

	mu    sync.Mutex
	state RunState
	run   *activeRun
	last  Outcome
}

type activeRun struct {
	id              string
	params          PhysicalParameters
	n               int
	ctx             context.Context
	cancel          context.CancelFunc
	cancelRequested bool
	outcome         Outcome
	done            chan struct{}
}

func New(stim Stimulus, sched Scheduler, ext wavelength.Extractor, opts Options) *Orchestrator {
	if opts.Calibration == (geometry.Calibration{}) {
		opts.Calibration = geometry.DefaultCalibration()
	}
	if opts.StabilizationDelay <= 0 {
		opts.StabilizationDelay = DefaultStabilizationDelay
	}
	if opts.Cadence <= 0 {
		opts.Cadence = DefaultCadence
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = capture.DefaultTimeout
	}
	return &Orchestrator{
		stim:  stim,
		sched: sched,
		ext:   wavelength.Safe(ext),
		opts:  opts,
		state: Idle,
		last:  Outcome{State: Idle},
	}
}

// Start validates the parameters and launches a run capturing n frames.
// Validation failures return ErrInvalidInput with no side effects; a run
// that has not reached a terminal state yields ErrRunInProgress.
// Cancelling ctx before the computation starts cancels the run.
func (o *Orchestrator) Start(ctx context.Context, params PhysicalParameters, n int) (string, error) {
	if err := validate(&params, n); err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.state != Idle && !o.state.Terminal() {
		o.mu.Unlock()
		return "", ErrRunInProgress
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &activeRun{
		id:     uuid.New().String(),
		params: params,
		n:      n,
		ctx:    rctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.outcome = Outcome{
		RunID:     r.id,
		Params:    params,
		Count:     n,
		StartedAt: time.Now(),
	}
	o.run = r
	ev := o.setState(r, Stimulating)
	o.mu.Unlock()
	o.emit(ev)

	debug.Info("Run %s: distance=%.1fmm frequency=%.1fHz frames=%d", r.id, params.DistanceMm, params.FrequencyHz, n)
	go o.execute(r)
	return r.id, nil
}

// Cancel stops the active run while it is stimulating or capturing and
// returns once the run has reached Cancelled.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	r := o.run
	if r == nil || (o.state != Stimulating && o.state != Capturing) {
		o.mu.Unlock()
		return ErrNotCancellable
	}
	r.cancelRequested = true
	r.cancel()
	o.mu.Unlock()

	<-r.done
	return nil
}

// State returns the current run state.
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Last returns the outcome of the most recently finished run.
func (o *Orchestrator) Last() Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Wait blocks until the active run finishes and returns its outcome with
// the run error (nil on Complete). Without an active run it returns the
// last outcome.
func (o *Orchestrator) Wait(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	r := o.run
	last := o.last
	o.mu.Unlock()

	if r == nil {
		return last, last.Err
	}
	select {
	case <-r.done:
		return r.outcome, r.outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// setState must be called with o.mu held.
func (o *Orchestrator) setState(r *activeRun, to RunState) Event {
	ev := Event{RunID: r.id, From: o.state, To: to, At: time.Now()}
	o.state = to
	r.outcome.State = to
	return ev
}

func (o *Orchestrator) emit(ev Event) {
	debug.Transition(ev.RunID, ev.From.String(), ev.To.String())
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(ev)
	}
}

// advance moves r to the next non-terminal state unless a cancel was
// accepted.
func (o *Orchestrator) advance(r *activeRun, to RunState) bool {
	o.mu.Lock()
	if r.cancelRequested {
		o.mu.Unlock()
		return false
	}
	ev := o.setState(r, to)
	o.mu.Unlock()
	o.emit(ev)
	return true
}

func (o *Orchestrator) execute(r *activeRun) {
	defer close(r.done)
	defer r.cancel()

	// The exciter runs at the frequency the tension is computed with.
	if err := o.stim.SetFrequency(r.params.FrequencyHz); err != nil {
		o.finish(r, Failed, fmt.Errorf("tune stimulus: %w", err))
		return
	}
	if err := o.stim.Start(r.ctx); err != nil {
		o.finish(r, Failed, fmt.Errorf("start stimulus: %w", err))
		return
	}

	debug.Live("Run %s: stabilizing for %v", r.id, o.opts.StabilizationDelay)
	t := time.NewTimer(o.opts.StabilizationDelay)
	select {
	case <-r.ctx.Done():
		t.Stop()
		o.finish(r, Cancelled, ErrCancelled)
		return
	case <-t.C:
	}

	if !o.advance(r, Capturing) {
		o.finish(r, Cancelled, ErrCancelled)
		return
	}
	run, err := o.sched.Arm(capture.Request{
		Count:   r.n,
		Cadence: o.opts.Cadence,
		Timeout: o.opts.CaptureTimeout,
	})
	if err != nil {
		o.finish(r, Failed, fmt.Errorf("arm capture: %w", err))
		return
	}

	var batch capture.Batch
	select {
	case <-r.ctx.Done():
		run.Cancel()
		o.finish(r, Cancelled, ErrCancelled)
		return
	case b, ok := <-run.Done():
		if !ok {
			o.finish(r, Cancelled, ErrCancelled)
			return
		}
		batch = b
	}
	r.outcome.Attempts = batch.Attempts
	r.outcome.Failures = batch.Failures

	if !o.advance(r, Computing) {
		// The batch is discarded.
		o.finish(r, Cancelled, ErrCancelled)
		return
	}

	result, err := o.compute(r, batch)
	if err != nil {
		o.finish(r, Failed, fmt.Errorf("%w: %w", ErrComputation, err))
		return
	}
	r.outcome.Result = result
	o.finish(r, Complete, nil)
}

func (o *Orchestrator) compute(r *activeRun, batch capture.Batch) (*TensionResult, error) {
	res, err := o.opts.Calibration.Resolution(r.params.DistanceMm)
	if err != nil {
		return nil, err
	}
	r.outcome.Resolution = res

	wl, err := o.ext.Extract(r.ctx, batch.Frames)
	if err != nil {
		return nil, fmt.Errorf("extract wavelength: %w", err)
	}
	r.outcome.Wavelength = wl
	debug.Verbose("Run %s: wavelength=%.3fpx resolution=%.1fpx/m", r.id, wl, res)

	v, err := tension.Tension(wl, res, r.params.FrequencyHz)
	if err != nil {
		return nil, err
	}
	return &TensionResult{Value: v, SampleCount: len(batch.Frames)}, nil
}

// finish stops the stimulus and publishes the terminal state. It runs
// exactly once per run.
func (o *Orchestrator) finish(r *activeRun, state RunState, err error) {
	// The run context may already be cancelled; stopping must still reach
	// the hardware.
	if serr := o.stim.Stop(context.Background()); serr != nil {
		debug.Error(fmt.Errorf("run %s: stop stimulus: %w", r.id, serr))
	}

	o.mu.Lock()
	if r.cancelRequested && state != Complete && !errors.Is(err, ErrCancelled) {
		state, err = Cancelled, errors.Join(ErrCancelled, err)
	}
	r.outcome.Err = err
	r.outcome.FinishedAt = time.Now()
	ev := o.setState(r, state)
	o.last = r.outcome
	o.run = nil
	o.mu.Unlock()
	o.emit(ev)

	switch state {
	case Complete:
		debug.Result(r.id, r.outcome.Result.Value, r.outcome.Result.SampleCount)
	case Failed:
		debug.Error(fmt.Errorf("run %s: %w", r.id, err))
	default:
		debug.Info("Run %s: cancelled", r.id)
	}
}
