package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/RippleGo/internal/debug"
)

// ErrMockFailure is returned by Mock on its scripted failing calls.
var ErrMockFailure = errors.New("mock capture failure")

// Mock is a development camera. It returns a small synthetic frame after
// Latency and fails every FailEvery-th call when FailEvery > 0.
type Mock struct {
	Latency   time.Duration
	FailEvery int

	mu    sync.Mutex
	calls int
}

func (m *Mock) Capture(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()

	if err := sleep(ctx, m.Latency); err != nil {
		return Frame{}, err
	}
	if m.FailEvery > 0 && n%m.FailEvery == 0 {
		debug.Trace("Camera (mock): failing call %d", n)
		return Frame{}, ErrMockFailure
	}
	debug.Trace("Camera (mock): frame %d", n)
	return Frame{
		Data:       []byte(fmt.Sprintf("mock-frame-%d", n)),
		CapturedAt: time.Now(),
	}, nil
}

// Calls returns how many captures were requested.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
