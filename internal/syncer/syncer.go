// Package syncer pulls server changes into the local store, one paginated
// delta fetch per organization scope.
//
// Each scope moves idle -> fetching_page -> applying and back to
// fetching_page while the server returns a next-page token. A page is
// durable once applied; a failed page ends that scope only. Scopes run
// concurrently and one scope's failure never cancels another.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/medsync/internal/adapters"
	"github.com/dmitrijs2005/medsync/internal/dispatch"
	"github.com/dmitrijs2005/medsync/internal/fanout"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/metrics"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/store"
)

const tracerName = "github.com/dmitrijs2005/medsync/internal/syncer"

type State string

const (
	StateIdle         State = "idle"
	StateFetchingPage State = "fetching_page"
	StateApplying     State = "applying"
)

// Hooks observe progress. PageApplied fires after every durable page and
// ScopeDone exactly once per scope and call.
type Hooks struct {
	PageApplied func(oid string, items int)
	ScopeDone   func(oid string, err error)
}

type options struct {
	log         logging.Logger
	metrics     *metrics.Metrics
	tp          trace.TracerProvider
	concurrency int
	hooks       Hooks
	callbacks   *dispatch.Queue
}

type Option func(*options)

func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.tp = tp } }

// WithConcurrency bounds the number of scopes synced at once.
func WithConcurrency(n int) Option { return func(o *options) { o.concurrency = n } }

func WithHooks(h Hooks) Option { return func(o *options) { o.hooks = h } }

// WithCallbackQueue delivers hooks on q instead of the syncing goroutine.
func WithCallbackQueue(q *dispatch.Queue) Option { return func(o *options) { o.callbacks = q } }

// page is one fetched page, not yet applied.
type page struct {
	items       int
	next        string
	refreshedAt int64
	apply       func(ctx context.Context) error
}

type source struct {
	op     string
	entity models.Entity
	latest func(ctx context.Context, oid string) (time.Time, error)
	fetch  func(ctx context.Context, cursor, token, oid string) (*page, error)
}

type engine struct {
	st     *store.Store
	o      options
	log    logging.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	states map[string]State
}

func newEngine(st *store.Store, component string, opts []Option) *engine {
	o := options{concurrency: 4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	return &engine{
		st:     st,
		o:      o,
		log:    o.log.With("component", component),
		tracer: o.tp.Tracer(tracerName),
		states: make(map[string]State),
	}
}

// State returns the current state of scope oid.
func (e *engine) State(oid string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[oid]; ok {
		return s
	}
	return StateIdle
}

func (e *engine) setState(oid string, s State) {
	e.mu.Lock()
	e.states[oid] = s
	e.mu.Unlock()
}

func (e *engine) emit(fn func()) {
	if e.o.callbacks == nil || !e.o.callbacks.Post(fn) {
		fn()
	}
}

func (e *engine) run(ctx context.Context, src source, oids []string) error {
	return fanout.Each(ctx, src.op, oids, e.o.concurrency, func(ctx context.Context, oid string) error {
		return e.syncScope(ctx, src, oid)
	})
}

func (e *engine) syncScope(ctx context.Context, src source, oid string) (err error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, src.op, trace.WithAttributes(
		attribute.String("medsync.entity", string(src.entity)),
		attribute.String("medsync.oid", oid),
	))
	defer func() {
		e.setState(oid, StateIdle)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.log.Error(ctx, "scope sync failed", "entity", src.entity, "oid", oid, "err", err)
		}
		span.End()
		e.o.metrics.ScopeDone(string(src.entity), started, err)
		if h := e.o.hooks.ScopeDone; h != nil {
			e.emit(func() { h(oid, err) })
		}
	}()

	latest, err := src.latest(ctx, oid)
	if err != nil {
		return fmt.Errorf("%s %s: latest update: %w", src.entity, oid, err)
	}
	cursor := adapters.FormatEpoch(latest)

	token := ""
	for pageNo := 1; ; pageNo++ {
		e.setState(oid, StateFetchingPage)
		pg, err := src.fetch(ctx, cursor, token, oid)
		if err != nil {
			return fmt.Errorf("%s %s: page %d: %w", src.entity, oid, pageNo, err)
		}

		e.setState(oid, StateApplying)
		if err := e.apply(ctx, pg, pageNo); err != nil {
			return fmt.Errorf("%s %s: apply page %d: %w", src.entity, oid, pageNo, err)
		}
		e.o.metrics.PageApplied(string(src.entity), pg.items)
		if h := e.o.hooks.PageApplied; h != nil {
			n := pg.items
			e.emit(func() { h(oid, n) })
		}
		e.log.Debug(ctx, "page applied", "entity", src.entity, "oid", oid, "page", pageNo, "items", pg.items)

		if pg.next == "" {
			if pg.refreshedAt != 0 {
				if err := e.st.SetSyncCursor(ctx, src.entity, oid, adapters.EpochTime(pg.refreshedAt)); err != nil {
					return fmt.Errorf("%s %s: store sync cursor: %w", src.entity, oid, err)
				}
			}
			e.log.Info(ctx, "scope synced", "entity", src.entity, "oid", oid, "pages", pageNo)
			return nil
		}
		token = pg.next
	}
}

func (e *engine) apply(ctx context.Context, pg *page, n int) error {
	ctx, span := e.tracer.Start(ctx, "apply page", trace.WithAttributes(
		attribute.Int("medsync.page", n),
		attribute.Int("medsync.items", pg.items),
	))
	defer span.End()
	if err := pg.apply(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
