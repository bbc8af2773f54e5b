package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/metrics"
	"github.com/dmitrijs2005/medsync/internal/migrations"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/relations"
	"github.com/dmitrijs2005/medsync/internal/repositories/cases"
	"github.com/dmitrijs2005/medsync/internal/repositories/changelog"
	"github.com/dmitrijs2005/medsync/internal/repositories/metadata"
)

// Changes lists the handles a committed unit of work touched.
// The zero value means "no observable effect".
type Changes struct {
	Inserted []models.Handle
	Updated  []models.Handle
	Deleted  []models.Handle
	// Cursor is the change-log sequence of the unit's last entry.
	Cursor int64
}

func (c Changes) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Handles returns every touched handle.
func (c Changes) Handles() []models.Handle {
	out := make([]models.Handle, 0, len(c.Inserted)+len(c.Updated)+len(c.Deleted))
	out = append(out, c.Inserted...)
	out = append(out, c.Updated...)
	return append(out, c.Deleted...)
}

type options struct {
	log       logging.Logger
	metrics   *metrics.Metrics
	tp        trace.TracerProvider
	cacheSize int
	caseTypes []models.CaseType
	migrate   bool
}

type Option func(*options)

func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithTracerProvider traces SQL statements of a store created by Open.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.tp = tp } }

func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithCaseTypes replaces the seed data; nil disables seeding.
func WithCaseTypes(types []models.CaseType) Option { return func(o *options) { o.caseTypes = types } }

// WithoutMigrations skips schema migration in New.
func WithoutMigrations() Option { return func(o *options) { o.migrate = false } }

type result struct {
	changes Changes
	err     error
}

type job struct {
	ctx   context.Context
	fn    func(*UnitOfWork) error
	wipe  bool
	reply chan result
}

// Store is one logical local store. Create it with Open or New and release
// it with Close.
type Store struct {
	db      *sql.DB
	ownsDB  bool
	log     logging.Logger
	metrics *metrics.Metrics
	rel     *relations.Manager
	fg      *Foreground

	jobs    chan job
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	// mu guards the change-log cursor and the wiping flag.
	mu        sync.RWMutex
	cursor    int64
	cursorSet bool
	wiping    bool

	subMu   sync.Mutex
	subs    map[int]chan Changes
	nextSub int
}

// DSN builds the modernc SQLite connection string used by Open.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens (creating if needed) the SQLite database at path with traced
// statements, migrates it and starts the background worker.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	tp := o.tp
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	db, err := otelsql.Open("sqlite", DSN(path),
		otelsql.WithTracerProvider(tp),
		otelsql.WithAttributes(attribute.String("db.system", "sqlite")),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)

	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func buildOptions(opts []Option) options {
	o := options{cacheSize: 512, caseTypes: models.DefaultCaseTypes(), migrate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	return o
}

// New wraps an open database. The caller keeps ownership of db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	if o.migrate {
		if err := migrations.Up(ctx, db); err != nil {
			return nil, err
		}
	}

	log := o.log.With("component", "store")
	s := &Store{
		db:      db,
		log:     log,
		metrics: o.metrics,
		rel:     relations.New(o.log),
		jobs:    make(chan job, 64),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Changes),
	}

	fg, err := newForeground(s, o.cacheSize)
	if err != nil {
		return nil, err
	}
	s.fg = fg

	cursor, ok, err := metadata.NewSQLiteRepository(db).GetInt64(ctx, metadata.ChangeLogCursorKey)
	if err != nil {
		return nil, fmt.Errorf("load change-log cursor: %w", err)
	}
	s.cursor, s.cursorSet = cursor, ok

	go s.run()

	if len(o.caseTypes) > 0 {
		if err := s.SeedCaseTypes(ctx, o.caseTypes); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close stops accepting units, waits for queued ones and closes the
// database if Open created it.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.closeMu.Unlock()
	<-s.done

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Relations() *relations.Manager { return s.rel }

func (s *Store) Foreground() *Foreground { return s.fg }

func (s *Store) run() {
	defer close(s.done)
	for j := range s.jobs {
		changes, err := s.execute(j)
		j.reply <- result{changes: changes, err: err}
	}
}

func (s *Store) submit(ctx context.Context, j job) (Changes, error) {
	j.ctx = ctx
	j.reply = make(chan result, 1)

	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return Changes{}, fmt.Errorf("store: %w", common.ErrClosed)
	}
	s.jobs <- j
	s.closeMu.RUnlock()

	r := <-j.reply
	return r.changes, r.err
}

// Perform runs fn as one unit of work on the background context and returns
// what it changed. Units run one at a time in submission order.
func (s *Store) Perform(ctx context.Context, fn func(*UnitOfWork) error) (Changes, error) {
	return s.submit(ctx, job{fn: fn})
}

func (s *Store) execute(j job) (changes Changes, err error) {
	ctx := context.WithoutCancel(j.ctx)
	u := newUnit(s)
	defer u.close()

	if j.wipe {
		s.setWiping(true)
		defer s.setWiping(false)
	}

	defer func() {
		if p := recover(); p != nil {
			s.log.Error(ctx, "unit of work panicked", "panic", p)
			s.metrics.Committed(common.ErrStore)
			changes, err = Changes{}, fmt.Errorf("%w: unit of work panicked: %v", common.ErrStore, p)
		}
	}()

	var fnErr error
	txErr := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u.begin(ctx, tx)
		if fnErr = j.fn(u); fnErr != nil {
			return fnErr
		}
		return u.flush()
	})
	s.metrics.Committed(txErr)

	if txErr != nil {
		if fnErr != nil {
			s.log.Warn(ctx, "unit of work rolled back", "err", fnErr)
			return Changes{}, fnErr
		}
		s.log.Error(ctx, "commit failed", "err", txErr)
		return Changes{}, fmt.Errorf("%w: %w", common.ErrStore, txErr)
	}

	if j.wipe {
		s.resetCursor()
		s.fg.purge()
		return Changes{}, nil
	}

	changes = u.changes
	if !changes.Empty() {
		s.fg.merge(ctx)
		s.publish(changes)
	}
	return changes, nil
}

// Cursor returns the last change-log sequence merged into the foreground
// context; ok is false while the cursor is unset.
func (s *Store) Cursor() (seq int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, s.cursorSet
}

func (s *Store) advanceCursor(ctx context.Context, seq int64) {
	s.mu.Lock()
	if s.cursorSet && seq <= s.cursor {
		s.mu.Unlock()
		return
	}
	s.cursor, s.cursorSet = seq, true
	s.mu.Unlock()

	s.metrics.CursorAdvanced(seq)
	if err := metadata.NewSQLiteRepository(s.db).SetInt64(ctx, metadata.ChangeLogCursorKey, seq); err != nil {
		s.log.Error(ctx, "persist change-log cursor", "err", err, "cursor", seq)
	}
}

func (s *Store) resetCursor() {
	s.mu.Lock()
	s.cursor, s.cursorSet = 0, false
	s.mu.Unlock()
	s.metrics.CursorAdvanced(0)
}

func (s *Store) setWiping(v bool) {
	s.mu.Lock()
	s.wiping = v
	s.mu.Unlock()
}

// Wiping reports whether a wipe is in progress.
func (s *Store) Wiping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wiping
}

// Subscribe delivers Changes of every later commit until cancel is called.
// Slow subscribers miss notifications rather than block the worker.
func (s *Store) Subscribe(buffer int) (<-chan Changes, func()) {
	ch := make(chan Changes, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish(c Changes) {
	if s.Wiping() {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.log.Warn(context.Background(), "subscriber lagging, notification dropped", "subscriber", id, "cursor", c.Cursor)
		}
	}
}

// Wipe removes every entity, edge, change-log entry and metadata key, then
// unsets the cursor and empties the foreground cache. Case types are kept.
func (s *Store) Wipe(ctx context.Context) error {
	_, err := s.submit(ctx, job{wipe: true, fn: func(u *UnitOfWork) error {
		for _, q := range []string{
			`DELETE FROM record_tags`,
			`DELETE FROM record_cases`,
			`DELETE FROM record_files`,
			`DELETE FROM tags`,
			`DELETE FROM records`,
			`DELETE FROM cases`,
		} {
			if _, err := u.tx.ExecContext(u.ctx, q); err != nil {
				return fmt.Errorf("wipe: %w", err)
			}
		}
		if err := changelog.NewSQLiteRepository(u.tx).Clear(u.ctx); err != nil {
			return err
		}
		return metadata.NewSQLiteRepository(u.tx).Clear(u.ctx)
	}})
	if err == nil {
		s.log.Info(ctx, "store wiped")
	}
	return err
}

// PruneChangeLog deletes change-log entries already merged into the
// foreground context.
func (s *Store) PruneChangeLog(ctx context.Context) (int64, error) {
	var n int64
	_, err := s.Perform(ctx, func(u *UnitOfWork) error {
		seq, ok := s.Cursor()
		if !ok {
			return nil
		}
		var err error
		n, err = changelog.NewSQLiteRepository(u.tx).Prune(u.ctx, seq)
		return err
	})
	return n, err
}

// SeedCaseTypes stores types unless case types already exist.
func (s *Store) SeedCaseTypes(ctx context.Context, types []models.CaseType) error {
	_, err := s.Perform(ctx, func(u *UnitOfWork) error {
		seeded, err := cases.NewSQLiteRepository(u.tx).SeedCaseTypes(u.ctx, types)
		if seeded {
			s.log.Info(u.ctx, "case types seeded", "count", len(types))
		}
		return err
	})
	return err
}

func (s *Store) UpsertRecords(ctx context.Context, recs []*models.Record) (Changes, error) {
	return s.Perform(ctx, func(u *UnitOfWork) error {
		_, err := u.UpsertRecords(recs)
		return err
	})
}

func (s *Store) FetchRecords(ctx context.Context, p query.Predicate) ([]*models.Record, error) {
	return s.fg.Records(ctx, p)
}

func (s *Store) UpdateRecord(ctx context.Context, h models.Handle, mutate func(*models.Record) error) (Changes, error) {
	return s.Perform(ctx, func(u *UnitOfWork) error {
		_, err := u.UpdateRecord(h, mutate)
		return err
	})
}

func (s *Store) DeleteRecords(ctx context.Context, p query.Predicate) (Changes, error) {
	return s.Perform(ctx, func(u *UnitOfWork) error {
		_, err := u.DeleteRecords(p)
		return err
	})
}

func (s *Store) UpsertCases(ctx context.Context, cs []*models.Case) (Changes, error) {
	return s.Perform(ctx, func(u *UnitOfWork) error {
		_, err := u.UpsertCases(cs)
		return err
	})
}

func (s *Store) FetchCases(ctx context.Context, p query.CasePredicate) ([]*models.Case, error) {
	return s.fg.Cases(ctx, p)
}

func (s *Store) UpdateCase(ctx context.Context, h models.Handle, mutate func(*models.Case) error) (Changes, error) {
	return s.Perform(ctx, func(u *UnitOfWork) error {
		_, err := u.UpdateCase(h, mutate)
		return err
	})
}

func (s *Store) DeleteCases(ctx context.Context, p query.CasePredicate) (Changes, error) {
	return s.Perform(ctx, func(u *UnitOfWork) error {
		_, err := u.DeleteCases(p)
		return err
	})
}

// LatestRecordUpdate returns the greatest record update time of oid, or the
// zero time when the scope has no records.
func (s *Store) LatestRecordUpdate(ctx context.Context, oid string) (time.Time, error) {
	recs, err := s.fg.Records(ctx, query.LatestUpdatedForOrg(oid))
	if err != nil || len(recs) == 0 {
		return time.Time{}, err
	}
	return recs[0].UpdatedAt, nil
}

func (s *Store) LatestCaseUpdate(ctx context.Context, oid string) (time.Time, error) {
	cs, err := s.fg.Cases(ctx, query.LatestUpdatedCaseForOrg(oid))
	if err != nil || len(cs) == 0 {
		return time.Time{}, err
	}
	return cs[0].UpdatedAt, nil
}

// SyncCursor returns the "last seen" server time stored for entity in oid.
func (s *Store) SyncCursor(ctx context.Context, entity models.Entity, oid string) (time.Time, bool, error) {
	return metadata.NewSQLiteRepository(s.db).GetTime(ctx, metadata.SyncCursorKey(string(entity), oid))
}

func (s *Store) SetSyncCursor(ctx context.Context, entity models.Entity, oid string, t time.Time) error {
	_, err := s.Perform(ctx, func(u *UnitOfWork) error {
		return u.Metadata().SetTime(u.ctx, metadata.SyncCursorKey(string(entity), oid), t)
	})
	return err
}
