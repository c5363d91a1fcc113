package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/RippleGo/internal/debug"
	"github.com/cjeanneret/RippleGo/internal/logic/measure"
	"github.com/cjeanneret/RippleGo/internal/store"
)

const (
	// MaxRequestBytes bounds the POST /run body.
	MaxRequestBytes = 1 << 20
	// MaxCount bounds the number of frames a single request may ask for.
	MaxCount = 100
	// DefaultMinRunInterval is the minimum delay between two accepted runs.
	DefaultMinRunInterval = 5 * time.Second
)

// Measurer runs measurements. *measure.Orchestrator implements it.
type Measurer interface {
	Start(ctx context.Context, params measure.PhysicalParameters, n int) (string, error)
	Cancel() error
	State() measure.RunState
	Last() measure.Outcome
}

// History reads stored results. *store.Store implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]store.Measurement, error)
	Summary(ctx context.Context, limit int) (store.Summary, error)
}

// RunRequest is the body of POST /run. A zero frequency or count selects
// the default.
type RunRequest struct {
	DistanceMm     float64 `json:"distance_mm"`
	DensityGPerCm3 float64 `json:"density_g_per_cm3"`
	FrequencyHz    float64 `json:"frequency_hz"`
	Count          int     `json:"count"`
}

// FormConfig holds default values for the measurement form (from config).
type FormConfig struct {
	DistanceMm     float64 `json:"distance_mm"`
	DensityGPerCm3 float64 `json:"density_g_per_cm3"`
	FrequencyHz    float64 `json:"frequency_hz"`
	Count          int     `json:"count"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State   measure.RunState `json:"state"`
	Tension string           `json:"tension,omitempty"`
	Message string           `json:"message,omitempty"`
	Last    *measure.Outcome `json:"last,omitempty"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Measurements []store.Measurement `json:"measurements"`
	Summary      store.Summary       `json:"summary"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster    *StatusBroadcaster
	Measurer       Measurer
	History        History
	FormDefaults   FormConfig
	HistoryLimit   int
	MinRunInterval time.Duration

	mu       sync.Mutex
	lastRun  time.Time
	runCtx   context.Context
	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If measurer is nil, POST /run returns 503; if history is nil, GET
// /history returns 503.
func NewHandlers(broadcaster *StatusBroadcaster, measurer Measurer, history History, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:    broadcaster,
		Measurer:       measurer,
		History:        history,
		FormDefaults:   formDefaults,
		HistoryLimit:   20,
		MinRunInterval: DefaultMinRunInterval,
		runCtx:         context.Background(),
		staticFS:       staticFS,
	}
}

// ValidateRunRequest checks the bounds the HTTP layer owns. Physical
// parameters are validated by the measurement itself.
func ValidateRunRequest(req RunRequest) error {
	if req.Count < 0 || req.Count > MaxCount {
		return fmt.Errorf("%w: count must be between 1 and %d", measure.ErrInvalidInput, MaxCount)
	}
	return nil
}

func (h *Handlers) setRunContext(ctx context.Context) {
	h.mu.Lock()
	h.runCtx = ctx
	h.mu.Unlock()
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start a measurement.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, measure.InvalidInputText, http.StatusBadRequest)
		return
	}
	if err := ValidateRunRequest(req); err != nil {
		http.Error(w, measure.Message(err), http.StatusBadRequest)
		return
	}

	if h.Measurer == nil {
		http.Error(w, "measurement not configured", http.StatusServiceUnavailable)
		return
	}

	n := req.Count
	if n == 0 {
		n = measure.DefaultCount
	}
	params := measure.PhysicalParameters{
		DistanceMm:     req.DistanceMm,
		DensityGPerCm3: req.DensityGPerCm3,
		FrequencyHz:    req.FrequencyHz,
	}

	h.mu.Lock()
	if !h.lastRun.IsZero() && time.Since(h.lastRun) < h.MinRunInterval {
		h.mu.Unlock()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	runID, err := h.Measurer.Start(h.runCtx, params, n)
	if err == nil {
		h.lastRun = time.Now()
	}
	h.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, measure.ErrRunInProgress):
		http.Error(w, "measurement already in progress", http.StatusConflict)
		return
	case errors.Is(err, measure.ErrInvalidInput):
		http.Error(w, measure.Message(err), http.StatusBadRequest)
		return
	default:
		debug.Error(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.Broadcaster.Broadcast("info", "Measurement started")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "run_id": runID})
}

// HandleCancel handles POST /cancel.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Measurer == nil {
		http.Error(w, "measurement not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.Measurer.Cancel(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Measurer == nil {
		http.Error(w, "measurement not configured", http.StatusServiceUnavailable)
		return
	}
	resp := StatusResponse{State: h.Measurer.State()}
	if last := h.Measurer.Last(); last.RunID != "" {
		resp.Last = &last
		if last.Result != nil {
			resp.Tension = measure.FormatTension(last.Result.Value)
		}
		resp.Message = measure.Message(last.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHistory handles GET /history?limit=N.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	limit := h.HistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}

	rows, err := h.History.Recent(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	sum, err := h.History.Summary(r.Context(), limit)
	if err != nil {
		debug.Error(err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.Measurement{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Measurements: rows, Summary: sum})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
