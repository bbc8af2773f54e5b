// Package reconcile applies local changes first and pushes them to the
// server afterwards.
//
// Add, Update and Delete commit locally and return at once; the remote call
// runs in the background and its outcome is delivered through a
// dispatch.Future. Work is never cancelled once started. Whatever did not
// reach the server is found again by SyncUnsynced, which runs a create pass,
// an edit pass and a delete pass, in that order.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/dmitrijs2005/medsync/internal/dispatch"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/metrics"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/store"
)

const tracerName = "github.com/dmitrijs2005/medsync/internal/reconcile"

// errStale aborts a confirmation unit when the entity changed after the
// snapshot that was pushed.
var errStale = errors.New("changed since push")

type options struct {
	log     logging.Logger
	metrics *metrics.Metrics
	tp      trace.TracerProvider
	limit   int
	now     func() time.Time
}

type Option func(*options)

func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.tp = tp } }

// WithConcurrency bounds the remote calls of one pass.
func WithConcurrency(n int) Option { return func(o *options) { o.limit = n } }

// WithClock replaces time.Now for update timestamps.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

type base struct {
	st      *store.Store
	log     logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	limit   int
	now     func() time.Time
	entity  models.Entity

	wg sync.WaitGroup

	mu       sync.Mutex
	inflight map[models.Handle]chan struct{}
}

func newBase(st *store.Store, entity models.Entity, opts []Option) *base {
	o := options{limit: 4, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	return &base{
		st:       st,
		log:      o.log.With("component", "reconcile."+string(entity)),
		metrics:  o.metrics,
		tracer:   o.tp.Tracer(tracerName),
		limit:    o.limit,
		now:      o.now,
		entity:   entity,
		inflight: make(map[models.Handle]chan struct{}),
	}
}

// Wait blocks until every background remote call started so far finished.
func (b *base) Wait() { b.wg.Wait() }

// claim marks h as being created remotely; it fails if that is already
// under way.
func (b *base) claim(h models.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[h]; busy {
		return false
	}
	b.inflight[h] = make(chan struct{})
	return true
}

func (b *base) release(h models.Handle) {
	b.mu.Lock()
	if done, ok := b.inflight[h]; ok {
		close(done)
		delete(b.inflight, h)
	}
	b.mu.Unlock()
}

func (b *base) creating(h models.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, busy := b.inflight[h]
	return busy
}

// settled waits until no create of h is in flight.
func (b *base) settled(ctx context.Context, h models.Handle) error {
	b.mu.Lock()
	done, busy := b.inflight[h]
	b.mu.Unlock()
	if !busy {
		return nil
	}
	b.log.Debug(ctx, "delete waits for create", "handle", h)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *base) async(ctx context.Context, fn func(ctx context.Context) error) *dispatch.Future {
	f := dispatch.NewFuture()
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		f.Resolve(fn(ctx))
	}()
	return f
}

type pass struct {
	name string
	run  func(ctx context.Context) error
}

// runPasses runs every pass in order, even after a failure, and combines
// their errors.
func (b *base) runPasses(ctx context.Context, passes ...pass) error {
	var errs []error
	for _, p := range passes {
		err := b.runPass(ctx, p)
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (b *base) runPass(ctx context.Context, p pass) error {
	ctx, span := b.tracer.Start(ctx, "reconcile "+string(b.entity)+" "+p.name,
		trace.WithAttributes(attribute.String("medsync.pass", p.name)))
	defer span.End()

	err := p.run(ctx)
	b.metrics.Reconciled(string(b.entity), p.name, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.log.Warn(ctx, "reconcile pass failed", "pass", p.name, "err", err)
	}
	return err
}
