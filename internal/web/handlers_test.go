package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/RippleGo/internal/logic/geometry"
	"github.com/cjeanneret/RippleGo/internal/logic/measure"
	"github.com/cjeanneret/RippleGo/internal/store"
)

// fakeMeasurer records Start calls and returns scripted errors.
type fakeMeasurer struct {
	mu        sync.Mutex
	starts    []measure.PhysicalParameters
	counts    []int
	startErr  error
	cancelErr error
	state     measure.RunState
	last      measure.Outcome
}

func (f *fakeMeasurer) Start(_ context.Context, p measure.PhysicalParameters, n int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	if p.DistanceMm <= 0 {
		return "", fmt.Errorf("%w: %w", measure.ErrInvalidInput, geometry.ErrInvalidDistance)
	}
	f.starts = append(f.starts, p)
	f.counts = append(f.counts, n)
	f.state = measure.Stimulating
	return fmt.Sprintf("run-%d", len(f.starts)), nil
}

func (f *fakeMeasurer) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeMeasurer) State() measure.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeMeasurer) Last() measure.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeHistory struct {
	rows      []store.Measurement
	err       error
	lastLimit int
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]store.Measurement, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeHistory) Summary(_ context.Context, limit int) (store.Summary, error) {
	rows, err := f.Recent(context.Background(), limit)
	if err != nil {
		return store.Summary{}, err
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Tension
	}
	return store.Summarize(values), nil
}

// ---------- Handler helpers ----------

func newTestHandlers(m Measurer, hist History) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	h := NewHandlers(
		NewStatusBroadcaster(),
		m,
		hist,
		FormConfig{
			DistanceMm:     850,
			DensityGPerCm3: 1,
			FrequencyHz:    144.5,
			Count:          5,
		},
		staticFS,
	)
	h.MinRunInterval = 0
	return h
}

func runBody(t *testing.T, req RunRequest) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func postRun(h *Handlers, body *bytes.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/run", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleRun(w, req)
	return w
}

// ---------- ValidateRunRequest ----------

func TestValidateRunRequest(t *testing.T) {
	cases := []struct {
		name  string
		count int
		ok    bool
	}{
		{"default", 0, true},
		{"one", 1, true},
		{"max", MaxCount, true},
		{"negative", -1, false},
		{"too_many", MaxCount + 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRunRequest(RunRequest{DistanceMm: 850, Count: tc.count})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, measure.ErrInvalidInput)
			}
		})
	}
}

// ---------- HandleRun ----------

func TestHandleRun_ValidPost(t *testing.T) {
	m := &fakeMeasurer{}
	h := newTestHandlers(m, nil)

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850, DensityGPerCm3: 1, Count: 3}))

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "started", resp["status"])
	assert.Equal(t, "run-1", resp["run_id"])

	require.Len(t, m.starts, 1)
	assert.Equal(t, 850.0, m.starts[0].DistanceMm)
	assert.Equal(t, 1.0, m.starts[0].DensityGPerCm3)
	assert.Equal(t, 3, m.counts[0])
}

func TestHandleRun_DefaultCount(t *testing.T) {
	m := &fakeMeasurer{}
	h := newTestHandlers(m, nil)

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []int{measure.DefaultCount}, m.counts)
}

func TestHandleRun_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleRun_InvalidJSON(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, measure.InvalidInputText, strings.TrimSpace(w.Body.String()))
}

func TestHandleRun_InvalidDistance(t *testing.T) {
	m := &fakeMeasurer{}
	h := newTestHandlers(m, nil)

	for _, d := range []float64{0, -12} {
		w := postRun(h, runBody(t, RunRequest{DistanceMm: d}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, measure.InvalidDistanceText, strings.TrimSpace(w.Body.String()))
	}
	assert.Empty(t, m.starts)
}

func TestHandleRun_InvalidCount(t *testing.T) {
	m := &fakeMeasurer{}
	h := newTestHandlers(m, nil)

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850, Count: -3}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, measure.InvalidInputText, strings.TrimSpace(w.Body.String()))
	assert.Empty(t, m.starts)
}

func TestHandleRun_OversizedBody(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	big := strings.Repeat("x", 2<<20) // 2 MB
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(big))
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code, "oversized body")
}

func TestHandleRun_NilMeasurer(t *testing.T) {
	h := newTestHandlers(nil, nil)

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleRun_RunInProgress(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{startErr: measure.ErrRunInProgress}, nil)

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRun_UnexpectedError(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{startErr: errors.New("boom")}, nil)

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleRun_RateLimiting(t *testing.T) {
	m := &fakeMeasurer{}
	h := newTestHandlers(m, nil)
	h.MinRunInterval = 5 * time.Second

	w1 := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))
	require.Equal(t, http.StatusAccepted, w1.Code)

	// Second request within 5 seconds should be rate-limited
	w2 := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Len(t, m.starts, 1)
}

func TestHandleRun_RejectedRunDoesNotRateLimit(t *testing.T) {
	m := &fakeMeasurer{}
	h := newTestHandlers(m, nil)
	h.MinRunInterval = 5 * time.Second

	w1 := postRun(h, runBody(t, RunRequest{DistanceMm: -1}))
	require.Equal(t, http.StatusBadRequest, w1.Code)

	w2 := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))
	assert.Equal(t, http.StatusAccepted, w2.Code)
}

func TestHandleRun_Broadcasts(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := postRun(h, runBody(t, RunRequest{DistanceMm: 850}))
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case msg := <-ch:
		assert.Contains(t, msg, "Measurement started")
	case <-time.After(time.Second):
		t.Fatal("no broadcast")
	}
}

// ---------- HandleCancel ----------

func TestHandleCancel(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	w := httptest.NewRecorder()
	h.HandleCancel(w, httptest.NewRequest(http.MethodPost, "/cancel", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	h = newTestHandlers(&fakeMeasurer{cancelErr: measure.ErrNotCancellable}, nil)
	w = httptest.NewRecorder()
	h.HandleCancel(w, httptest.NewRequest(http.MethodPost, "/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	h = newTestHandlers(nil, nil)
	w = httptest.NewRecorder()
	h.HandleCancel(w, httptest.NewRequest(http.MethodPost, "/cancel", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------- HandleStatus ----------

func TestHandleStatus_Idle(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "idle", resp["state"])
	assert.NotContains(t, resp, "last")
	assert.NotContains(t, resp, "tension")
}

func TestHandleStatus_Complete(t *testing.T) {
	m := &fakeMeasurer{
		state: measure.Complete,
		last: measure.Outcome{
			RunID:  "abc",
			State:  measure.Complete,
			Result: &measure.TensionResult{Value: 6248.020885675804, SampleCount: 5},
		},
	}
	h := newTestHandlers(m, nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "6248.02", resp["tension"])
	assert.Contains(t, w.Body.String(), `"state":"complete"`)
	assert.Contains(t, w.Body.String(), `"run_id":"abc"`)
}

func TestHandleStatus_Failed(t *testing.T) {
	m := &fakeMeasurer{
		state: measure.Failed,
		last: measure.Outcome{
			RunID: "abc",
			State: measure.Failed,
			Err:   fmt.Errorf("%w: extractor exploded", measure.ErrComputation),
		},
	}
	h := newTestHandlers(m, nil)
	w := httptest.NewRecorder()

	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "failed", resp["state"])
	assert.Contains(t, resp["message"], "extractor exploded")
	assert.NotContains(t, resp, "tension")
}

// ---------- HandleHistory ----------

func sampleRows() []store.Measurement {
	return []store.Measurement{
		{ID: "3", Tension: 72},
		{ID: "2", Tension: 70},
		{ID: "1", Tension: 68},
	}
}

func TestHandleHistory(t *testing.T) {
	hist := &fakeHistory{rows: sampleRows()}
	h := newTestHandlers(&fakeMeasurer{}, hist)
	w := httptest.NewRecorder()

	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/history?limit=2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp HistoryResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Measurements, 2)
	assert.Equal(t, "3", resp.Measurements[0].ID)
	assert.Equal(t, 2, resp.Summary.Count)
	assert.InDelta(t, 71.0, resp.Summary.Mean, 1e-9)
	assert.Equal(t, 2, hist.lastLimit)
}

func TestHandleHistory_DefaultLimit(t *testing.T) {
	hist := &fakeHistory{}
	h := newTestHandlers(&fakeMeasurer{}, hist)
	h.HistoryLimit = 7
	w := httptest.NewRecorder()

	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/history", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, hist.lastLimit)
	assert.Contains(t, w.Body.String(), `"measurements":[]`)
}

func TestHandleHistory_Errors(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, &fakeHistory{})
	w := httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h = newTestHandlers(&fakeMeasurer{}, &fakeHistory{err: errors.New("disk gone")})
	w = httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	h = newTestHandlers(&fakeMeasurer{}, nil)
	w = httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var fc FormConfig
	require.NoError(t, json.NewDecoder(w.Body).Decode(&fc))
	assert.Equal(t, FormConfig{DistanceMm: 850, DensityGPerCm3: 1, FrequencyHz: 144.5, Count: 5}, fc)
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&fakeMeasurer{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<html>")
}

// ---------- Server ----------

func TestServer_Routes(t *testing.T) {
	srv, err := NewServer(":0", Deps{Measurer: &fakeMeasurer{}, History: &fakeHistory{}})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	for _, path := range []string{"/", "/status", "/history", "/config", "/static/app.js"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.URL + "/run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", Deps{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
