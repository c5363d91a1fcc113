package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/hw/camera"
)

// DefaultTimeout bounds a single capture when Request.Timeout is zero.
const DefaultTimeout = 2 * time.Second

var (
	ErrAlreadyArmed   = errors.New("capture already in progress")
	ErrInvalidRequest = errors.New("invalid capture request")
)

// Request describes one burst: Count triggers spaced Cadence apart, each
// allowed at most Timeout to produce a frame.
type Request struct {
	Count   int
	Cadence time.Duration
	Timeout time.Duration
}

func (r Request) validate() error {
	if r.Count <= 0 {
		return fmt.Errorf("%w: count %d", ErrInvalidRequest, r.Count)
	}
	if r.Cadence <= 0 {
		return fmt.Errorf("%w: cadence %v", ErrInvalidRequest, r.Cadence)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: timeout %v", ErrInvalidRequest, r.Timeout)
	}
	return nil
}

// Batch is the result of a completed burst. Frames are ordered by trigger
// index and only hold successful captures, so len(Frames) <= Attempts.
type Batch struct {
	Frames   []camera.Frame
	Attempts int
	Failures int
}

// Scheduler fires timed capture triggers against a camera. At most one
// burst is armed at a time and at most one capture of that burst is in
// flight.
type Scheduler struct {
	camera camera.Camera

	mu    sync.Mutex
	armed *Run
}

func NewScheduler(c camera.Camera) *Scheduler {
	return &Scheduler{camera: c}
}

// Run is the handle on an armed burst.
type Run struct {
	s      *Scheduler
	cancel context.CancelFunc
	done   chan Batch
	exited chan struct{}
}

type result struct {
	index int
	frame camera.Frame
	err   error
}

// Arm starts a burst. The first trigger fires immediately.
func (s *Scheduler) Arm(req Request) (*Run, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Timeout == 0 {
		req.Timeout = DefaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed != nil {
		return nil, ErrAlreadyArmed
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Run{
		s:      s,
		cancel: cancel,
		done:   make(chan Batch, 1),
		exited: make(chan struct{}),
	}
	s.armed = r
	go r.loop(ctx, req)
	return r, nil
}

// Armed reports whether a burst is in progress.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed != nil
}

func (s *Scheduler) release(r *Run) {
	s.mu.Lock()
	if s.armed == r {
		s.armed = nil
	}
	s.mu.Unlock()
}

// Done receives exactly one Batch once every trigger has resolved. It is
// closed without a value if the run is cancelled first.
func (r *Run) Done() <-chan Batch {
	return r.done
}

// Cancel stops pending triggers and discards the partial batch. When it
// returns no further trigger will fire. A capture already in flight is
// not interrupted; it runs to completion or to its own timeout and its
// result is dropped.
func (r *Run) Cancel() {
	r.cancel()
	<-r.exited
}

// loop keeps at most one capture in flight. A tick that arrives while the
// camera is busy is owed and fires as soon as the pending capture
// resolves, so a slow device stretches the burst instead of overlapping
// trigger sequences.
func (r *Run) loop(ctx context.Context, req Request) {
	defer close(r.exited)
	defer r.cancel()

	// Buffered so an in-flight capture never blocks after the loop exits.
	results := make(chan result, req.Count)
	slots := make([]*camera.Frame, req.Count)

	ticker := time.NewTicker(req.Cadence)
	defer ticker.Stop()
	tick := ticker.C

	fired, resolved, failures, owed := 0, 0, 0, 0
	busy := false
	fire := func() {
		i := fired
		fired++
		busy = true
		debug.Trace("Capture: trigger %d/%d", i+1, req.Count)
		go func() {
			// Bounded by its own timeout only: Cancel is cooperative and
			// never cuts a trigger sequence short.
			tctx, cancel := context.WithTimeout(context.Background(), req.Timeout)
			defer cancel()
			f, err := r.s.camera.Capture(tctx)
			results <- result{index: i, frame: f, err: err}
		}()
	}

	fire()
	if fired >= req.Count {
		tick = nil
	}
	for resolved < req.Count {
		select {
		case <-ctx.Done():
			debug.Live("Capture: cancelled after %d/%d triggers", fired, req.Count)
			r.s.release(r)
			close(r.done)
			return

		case <-tick:
			if busy {
				owed++
				debug.Trace("Capture: camera busy, trigger %d deferred", fired+owed)
			} else {
				fire()
			}
			if fired+owed >= req.Count {
				tick = nil
			}

		case res := <-results:
			busy = false
			resolved++
			debug.Frame(res.index+1, req.Count, res.err)
			if res.err != nil {
				failures++
			} else {
				f := res.frame
				f.Index = res.index
				slots[res.index] = &f
			}
			if owed > 0 {
				owed--
				fire()
			}
		}
	}

	batch := Batch{Attempts: fired, Failures: failures}
	for _, f := range slots {
		if f != nil {
			batch.Frames = append(batch.Frames, *f)
		}
	}
	r.s.release(r)
	r.done <- batch
	close(r.done)
}
