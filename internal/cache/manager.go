// Package cache maps query fingerprints to computed results with a shape-dependent TTL.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
)

// Lookup results reported to a Recorder.
const (
	ResultHit       = "hit"
	ResultMiss      = "miss"
	ResultCoalesced = "coalesced"
)

// Recorder receives cache lookup outcomes.
type Recorder interface {
	CacheResult(result string)
}

// Policy picks a TTL per query. Ranges reaching today change as visits arrive,
// so they expire sooner than historical ones.
type Policy struct {
	TodayTTL      time.Duration
	HistoricalTTL time.Duration
}

// DefaultPolicy returns five minutes for live ranges and a day for historical ones.
func DefaultPolicy() Policy {
	return Policy{TodayTTL: 5 * time.Minute, HistoricalTTL: 24 * time.Hour}
}

// TTL returns how long a result for q stays fresh.
func (p Policy) TTL(q *query.Query) time.Duration {
	if q.DateRange().EndsOnOrAfter(q.Today()) {
		return p.TodayTTL
	}
	return p.HistoricalTTL
}

type envelope[V any] struct {
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
	Value    V             `json:"value"`
}

// Manager caches values of type V by fingerprint.
type Manager[V any] struct {
	store    Store
	policy   Policy
	group    singleflight.Group
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewManager creates a manager over store.
func NewManager[V any](store Store, policy Policy, logger *slog.Logger) *Manager[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[V]{store: store, policy: policy, logger: logger, now: time.Now}
}

// WithRecorder attaches a lookup recorder and returns the manager.
func (m *Manager[V]) WithRecorder(r Recorder) *Manager[V] {
	m.recorder = r
	return m
}

// TTL returns the TTL the policy assigns to q.
func (m *Manager[V]) TTL(q *query.Query) time.Duration {
	return m.policy.TTL(q)
}

// Get returns the cached value for fingerprint. Store failures count as a miss.
func (m *Manager[V]) Get(ctx context.Context, fingerprint string) (V, bool) {
	var zero V
	data, ok, err := m.store.Get(ctx, fingerprint)
	if err != nil {
		m.logger.Warn("Cache read failed, recomputing", slog.String("fingerprint", fingerprint), slog.Any("error", err))
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var env envelope[V]
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn("Discarding undecodable cache entry", slog.String("fingerprint", fingerprint), slog.Any("error", err))
		return zero, false
	}
	if m.now().After(env.StoredAt.Add(env.TTL)) {
		return zero, false
	}
	return env.Value, true
}

// Put stores value for ttl. Store failures are logged, never returned.
func (m *Manager[V]) Put(ctx context.Context, fingerprint string, value V, ttl time.Duration) {
	data, err := json.Marshal(envelope[V]{StoredAt: m.now(), TTL: ttl, Value: value})
	if err != nil {
		m.logger.Warn("Cache encode failed", slog.String("fingerprint", fingerprint), slog.Any("error", err))
		return
	}
	if err := m.store.Set(ctx, fingerprint, data, ttl); err != nil {
		m.logger.Warn("Cache write failed", slog.String("fingerprint", fingerprint), slog.Any("error", err))
	}
}

// Compute runs fn at most once per fingerprint at a time and stores its result.
// Concurrent callers for the same fingerprint wait for the in-flight run.
// A failed run stores nothing. The shared run is detached from any single
// caller's cancellation; a caller whose ctx ends stops waiting.
func (m *Manager[V]) Compute(ctx context.Context, fingerprint string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	ch := m.group.DoChan(fingerprint, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		if v, ok := m.Get(flightCtx, fingerprint); ok {
			return v, nil
		}
		v, err := fn(flightCtx)
		if err != nil {
			return nil, err
		}
		m.Put(flightCtx, fingerprint, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.record(ResultCoalesced)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// GetOrCompute returns the cached value for q, computing and storing it on a miss.
func (m *Manager[V]) GetOrCompute(ctx context.Context, q *query.Query, fn func(context.Context) (V, error)) (V, bool, error) {
	fp := q.Fingerprint()
	if v, ok := m.Get(ctx, fp); ok {
		m.record(ResultHit)
		return v, true, nil
	}
	m.record(ResultMiss)
	v, err := m.Compute(ctx, fp, m.TTL(q), fn)
	return v, false, err
}

// Purge drops every entry.
func (m *Manager[V]) Purge(ctx context.Context) error {
	return m.store.Purge(ctx)
}

// Record forwards a lookup outcome to the recorder, if any.
func (m *Manager[V]) Record(result string) {
	m.record(result)
}

func (m *Manager[V]) record(result string) {
	if m.recorder != nil {
		m.recorder.CacheResult(result)
	}
}
