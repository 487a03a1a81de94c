// Package analytics orchestrates query handling: validation, result caching,
// execution and formatting, for single, batch and network requests.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/cache"
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/metrics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/pkg/async"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
)

// Runner computes a Result. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, q *query.Query) (*executor.Result, error)
}

// Observer receives one call per handled query.
type Observer interface {
	ObserveQuery(format, outcome string, elapsed time.Duration)
}

// NetworkAggregator fans a query out across tenants.
type NetworkAggregator interface {
	// Authorize fails with Forbidden or NotMultiTenant before anything is parsed.
	Authorize(access auth.Checker) error
	Aggregate(ctx context.Context, q *query.Query) (any, error)
}

// Outcome is a handled query and how it was answered.
type Outcome struct {
	Query   *query.Query
	Result  *executor.Result
	Payload any
	Cached  bool
	TTL     time.Duration
	States  []State
}

// Handler is safe for concurrent use.
type Handler struct {
	parser     *query.Parser
	runner     Runner
	cache      *cache.Manager[*executor.Result]
	formatters *formatter.Set
	pool       *async.Pool
	network    NetworkAggregator
	observer   Observer
	logger     *slog.Logger
}

// NewHandler creates a Handler. batchWorkers bounds how many sub-queries of a batch run at once.
func NewHandler(parser *query.Parser, runner Runner, results *cache.Manager[*executor.Result], formatters *formatter.Set, batchWorkers int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		parser:     parser,
		runner:     runner,
		cache:      results,
		formatters: formatters,
		pool:       async.NewPool(batchWorkers),
		logger:     logger,
	}
}

// WithNetwork enables network requests and returns the handler.
func (h *Handler) WithNetwork(n NetworkAggregator) *Handler {
	h.network = n
	return h
}

// WithObserver attaches a query observer and returns the handler.
func (h *Handler) WithObserver(o Observer) *Handler {
	h.observer = o
	return h
}

// Parser returns the parser requests are validated with.
func (h *Handler) Parser() *query.Parser { return h.parser }

// Formatters returns the formatter set.
func (h *Handler) Formatters() *formatter.Set { return h.formatters }

// Handle dispatches a raw request to the network, batch or single query path and
// returns the response payload. Every caller needs viewer access.
func (h *Handler) Handle(ctx context.Context, raw map[string]any, access auth.Checker) (any, error) {
	if access == nil || !access.HasAccess(auth.LevelViewer) {
		return nil, queryerr.New(queryerr.Forbidden, "viewer access required")
	}
	switch {
	case query.IsNetwork(raw):
		return h.Network(ctx, raw, access)
	case query.IsBatch(raw):
		return h.Batch(ctx, raw)
	default:
		out, err := h.Query(ctx, raw)
		if err != nil {
			return nil, err
		}
		return out.Payload, nil
	}
}

// Query validates raw input and answers it.
func (h *Handler) Query(ctx context.Context, raw map[string]any) (*Outcome, error) {
	start := time.Now()
	tr := newTrace("", h.logger)

	q, err := h.parser.Parse(raw)
	if err != nil {
		h.observe(query.ParseFormat(formatOf(raw)), metrics.OutcomeError, start)
		return nil, tr.fail(err)
	}
	tr.id = q.Fingerprint()
	tr.to(StateValidated)
	return h.process(ctx, tr, q, start)
}

// Run answers an already validated query.
func (h *Handler) Run(ctx context.Context, q *query.Query) (*Outcome, error) {
	tr := newTrace(q.Fingerprint(), h.logger)
	tr.to(StateValidated)
	return h.process(ctx, tr, q, time.Now())
}

// Result returns the cached or freshly computed Result of q without formatting it.
func (h *Handler) Result(ctx context.Context, q *query.Query) (*executor.Result, bool, error) {
	res, cached, err := h.cache.GetOrCompute(ctx, q, func(ctx context.Context) (*executor.Result, error) {
		return h.runner.Execute(ctx, q)
	})
	if err != nil {
		return nil, false, executionError(err)
	}
	return res, cached, nil
}

func (h *Handler) process(ctx context.Context, tr *trace, q *query.Query, start time.Time) (out *Outcome, err error) {
	fm := h.formatters.For(q.Format())
	outcome := metrics.OutcomeSuccess
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeError
		}
		h.observe(q.Format(), outcome, start)
	}()

	// Shape requirements are validation: no cache or storage work for a query that cannot render.
	if c, ok := fm.(formatter.Checker); ok {
		if err := c.Check(q); err != nil {
			return nil, tr.fail(err)
		}
	}

	ttl := h.cache.TTL(q)
	fp := q.Fingerprint()
	tr.to(StateCacheChecked)

	res, hit := h.cache.Get(ctx, fp)
	if hit {
		h.cache.Record(cache.ResultHit)
		tr.to(StateCacheHit)
		outcome = metrics.OutcomeCached
	} else {
		h.cache.Record(cache.ResultMiss)
		tr.to(StateExecuting)
		res, err = h.cache.Compute(ctx, fp, ttl, func(ctx context.Context) (*executor.Result, error) {
			return h.runner.Execute(ctx, q)
		})
		if err != nil {
			return nil, tr.fail(executionError(err))
		}
	}

	payload, err := fm.Format(q, res, formatter.State{TTL: ttl, Cached: hit})
	if err != nil {
		return nil, tr.fail(err)
	}
	tr.to(StateFormatted)
	tr.to(StateDone)

	return &Outcome{
		Query:   q,
		Result:  res,
		Payload: payload,
		Cached:  hit,
		TTL:     ttl,
		States:  tr.path(),
	}, nil
}

// Network answers a network request after checking access and multisite support.
func (h *Handler) Network(ctx context.Context, raw map[string]any, access auth.Checker) (any, error) {
	if h.network == nil {
		if access == nil || !access.HasAccess(auth.LevelNetworkAdmin) {
			return nil, queryerr.New(queryerr.Forbidden, "network queries require network admin access")
		}
		return nil, queryerr.New(queryerr.NotMultiTenant, "network queries require a multisite installation")
	}
	if err := h.network.Authorize(access); err != nil {
		return nil, err
	}
	q, err := h.parser.ParseNetwork(raw)
	if err != nil {
		return nil, err
	}
	return h.network.Aggregate(ctx, q)
}

func (h *Handler) observe(f query.Format, outcome string, start time.Time) {
	if h.observer != nil {
		h.observer.ObserveQuery(string(f), outcome, time.Since(start))
	}
}

// executionError keeps typed errors and classifies the rest as execution failures.
func executionError(err error) error {
	var qe *queryerr.Error
	if errors.As(err, &qe) {
		return err
	}
	return queryerr.Wrap(queryerr.ExecutionFailed, err, "query execution failed")
}

func formatOf(raw map[string]any) string {
	s, _ := raw["format"].(string)
	return s
}
