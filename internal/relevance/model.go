// Package relevance manages the cross-encoder relevance model used by the
// rerank stage. The model moves between Unloaded and Loaded; scoring loads
// it on demand and an idle model is released after a configurable delay.
package relevance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/metrics"
)

// State is the lifecycle state of the relevance model.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Backend is the compute behind the model. Score returns one score per doc,
// in input order, for pairs (query, docs[i]).
type Backend interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
	Describe() BackendInfo
}

// BackendInfo identifies the backend for status reports.
type BackendInfo struct {
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

// Info is a point-in-time status of the model.
type Info struct {
	BackendInfo
	Loaded   bool      `json:"model_loaded"`
	State    string    `json:"state"`
	Loads    int64     `json:"loads"`
	LastUsed time.Time `json:"last_used,omitzero"`
}

// Options configures a Model.
type Options struct {
	// IdleUnloadAfter releases a loaded model with no scoring activity for
	// this long. Zero keeps the model loaded until Unload is called.
	IdleUnloadAfter time.Duration
	// Exclusive serializes Score calls for backends whose compute context
	// is not reentrant.
	Exclusive bool
	Metrics   *metrics.Metrics
}

// Model guards a Backend with the Unloaded/Loaded state machine. Load and
// Unload hold the write lock; scoring holds the read lock, so an unload
// waits for in-flight scoring to finish.
type Model struct {
	backend Backend
	opts    Options
	logger  *slog.Logger

	mu      sync.RWMutex
	state   State
	scoreMu sync.Mutex

	loads    atomic.Int64
	lastUsed atomic.Int64

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewModel(backend Backend, opts Options) *Model {
	info := backend.Describe()
	return &Model{
		backend: backend,
		opts:    opts,
		logger:  slog.Default().With("component", "relevance-model", "model", info.Model),
	}
}

// Load transitions to Loaded. It is a no-op when already loaded.
func (m *Model) Load(ctx context.Context) error {
	_, err := m.EnsureLoaded(ctx)
	return err
}

// EnsureLoaded loads the model if needed and returns how long the load took,
// or zero if it was already loaded.
func (m *Model) EnsureLoaded(ctx context.Context) (time.Duration, error) {
	m.mu.RLock()
	loaded := m.state == StateLoaded
	m.mu.RUnlock()
	if loaded {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoaded {
		return 0, nil
	}
	start := time.Now()
	if err := m.backend.Load(ctx); err != nil {
		m.logger.Error("model load failed", "error", err)
		return 0, fmt.Errorf("%w: %v", apperrors.ErrModelUnavailable, err)
	}
	m.state = StateLoaded
	m.loads.Add(1)
	m.touch()
	elapsed := time.Since(start)
	m.logger.Info("model loaded", "duration", elapsed)
	if m.opts.Metrics != nil {
		m.opts.Metrics.ModelLoadsTotal.Inc()
		m.opts.Metrics.ModelLoaded.Set(1)
	}
	m.armIdleTimer()
	return elapsed, nil
}

// Unload releases the backend. It reports whether a loaded model was released.
func (m *Model) Unload(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, "requested")
}

func (m *Model) unloadLocked(ctx context.Context, reason string) (bool, error) {
	if m.state == StateUnloaded {
		return false, nil
	}
	m.stopIdleTimer()
	err := m.backend.Unload(ctx)
	m.state = StateUnloaded
	if m.opts.Metrics != nil {
		m.opts.Metrics.ModelLoaded.Set(0)
	}
	if err != nil {
		m.logger.Warn("model unload reported an error", "reason", reason, "error", err)
		return true, fmt.Errorf("unloading relevance model: %w", err)
	}
	m.logger.Info("model unloaded", "reason", reason)
	return true, nil
}

// IsLoaded reports whether the model is in the Loaded state.
func (m *Model) IsLoaded() bool {
	return m.State() == StateLoaded
}

func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Model) Info() Info {
	state := m.State()
	info := Info{
		BackendInfo: m.backend.Describe(),
		Loaded:      state == StateLoaded,
		State:       state.String(),
		Loads:       m.loads.Load(),
	}
	if ts := m.lastUsed.Load(); ts != 0 {
		info.LastUsed = time.Unix(0, ts).UTC()
	}
	return info
}

// Score returns relevance scores for (query, docs[i]) in input order,
// loading the model first if it is Unloaded.
func (m *Model) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}
	for {
		if _, err := m.EnsureLoaded(ctx); err != nil {
			return nil, err
		}
		m.mu.RLock()
		if m.state != StateLoaded {
			// Unloaded between EnsureLoaded and RLock.
			m.mu.RUnlock()
			continue
		}
		scores, err := m.scoreLocked(ctx, query, docs)
		m.mu.RUnlock()
		return scores, err
	}
}

// ScoreOne scores a single (query, doc) pair.
func (m *Model) ScoreOne(ctx context.Context, query, doc string) (float64, error) {
	scores, err := m.Score(ctx, query, []string{doc})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

func (m *Model) scoreLocked(ctx context.Context, query string, docs []string) ([]float64, error) {
	if m.opts.Exclusive {
		m.scoreMu.Lock()
		defer m.scoreMu.Unlock()
	}
	defer m.touch()
	scores, err := m.backend.Score(ctx, query, docs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrScoringFailure, err)
	}
	if len(scores) != len(docs) {
		return nil, fmt.Errorf("%w: backend returned %d scores for %d documents",
			apperrors.ErrScoringFailure, len(scores), len(docs))
	}
	return scores, nil
}

func (m *Model) touch() {
	m.lastUsed.Store(time.Now().UnixNano())
}

func (m *Model) armIdleTimer() {
	if m.opts.IdleUnloadAfter <= 0 {
		return
	}
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.opts.IdleUnloadAfter, m.idleCheck)
}

func (m *Model) stopIdleTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// idleCheck unloads the model if it has been idle for IdleUnloadAfter,
// otherwise re-arms for the remaining idle time.
func (m *Model) idleCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateLoaded {
		return
	}
	idle := time.Since(time.Unix(0, m.lastUsed.Load()))
	if idle < m.opts.IdleUnloadAfter {
		m.timerMu.Lock()
		m.timer = time.AfterFunc(m.opts.IdleUnloadAfter-idle, m.idleCheck)
		m.timerMu.Unlock()
		return
	}
	_, _ = m.unloadLocked(context.Background(), "idle")
}

// Close stops the idle timer and unloads the model.
func (m *Model) Close(ctx context.Context) error {
	_, err := m.Unload(ctx)
	return err
}
