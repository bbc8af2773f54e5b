package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/repositories/cases"
	"github.com/dmitrijs2005/medsync/internal/repositories/changelog"
	"github.com/dmitrijs2005/medsync/internal/repositories/records"
)

// Foreground is the read side of a Store. Entities it returns are copies;
// mutating them has no effect on the store.
type Foreground struct {
	s  *Store
	db *sql.DB

	// mu orders cache fills against merges; gen changes on every merge so a
	// fill that raced a commit is discarded.
	mu      sync.Mutex
	gen     uint64
	records *lru.Cache[models.Handle, *models.Record]
	cases   *lru.Cache[models.Handle, *models.Case]
}

func newForeground(s *Store, size int) (*Foreground, error) {
	rc, err := lru.New[models.Handle, *models.Record](size)
	if err != nil {
		return nil, fmt.Errorf("record cache: %w", err)
	}
	cc, err := lru.New[models.Handle, *models.Case](size)
	if err != nil {
		return nil, fmt.Errorf("case cache: %w", err)
	}
	return &Foreground{s: s, db: s.db, records: rc, cases: cc}, nil
}

func (f *Foreground) generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

// merge folds change-log entries past the cursor into the cache and
// advances the cursor. It runs on the worker after each commit.
func (f *Foreground) merge(ctx context.Context) {
	from, _ := f.s.Cursor()
	entries, err := changelog.NewSQLiteRepository(f.db).Since(ctx, from)
	if err != nil {
		f.s.log.Error(ctx, "read change log", "err", err, "cursor", from)
		return
	}
	if len(entries) == 0 {
		return
	}

	f.mu.Lock()
	for _, e := range entries {
		switch e.Entity {
		case models.EntityRecord:
			f.records.Remove(e.Handle)
		case models.EntityCase:
			f.cases.Remove(e.Handle)
		}
	}
	f.gen++
	f.mu.Unlock()

	f.s.advanceCursor(ctx, entries[len(entries)-1].Seq)
}

func (f *Foreground) purge() {
	f.mu.Lock()
	f.records.Purge()
	f.cases.Purge()
	f.gen++
	f.mu.Unlock()
}

func (f *Foreground) Record(ctx context.Context, h models.Handle) (*models.Record, error) {
	if r, ok := f.records.Get(h); ok {
		return r.Clone(), nil
	}
	gen := f.generation()
	r, err := loadRecord(ctx, f.db, f.s.rel, h)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if gen == f.gen {
		f.records.Add(h, r.Clone())
	}
	f.mu.Unlock()
	return r, nil
}

func (f *Foreground) RecordByID(ctx context.Context, id string) (*models.Record, error) {
	r, err := records.NewSQLiteRepository(f.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.Record(ctx, r.Handle)
}

// FindRecordHandles returns the handles of records matching p.
func (f *Foreground) FindRecordHandles(ctx context.Context, p query.Predicate) ([]models.Handle, error) {
	return records.NewSQLiteRepository(f.db).Handles(ctx, p)
}

// Records returns the records matching p in p's order.
func (f *Foreground) Records(ctx context.Context, p query.Predicate) ([]*models.Record, error) {
	hs, err := f.FindRecordHandles(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Record, 0, len(hs))
	for _, h := range hs {
		r, err := f.Record(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *Foreground) Case(ctx context.Context, h models.Handle) (*models.Case, error) {
	if c, ok := f.cases.Get(h); ok {
		return c.Clone(), nil
	}
	gen := f.generation()
	c, err := cases.NewSQLiteRepository(f.db).Get(ctx, h)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if gen == f.gen {
		f.cases.Add(h, c.Clone())
	}
	f.mu.Unlock()
	return c, nil
}

func (f *Foreground) CaseByID(ctx context.Context, id string) (*models.Case, error) {
	c, err := cases.NewSQLiteRepository(f.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.Case(ctx, c.Handle)
}

func (f *Foreground) FindCaseHandles(ctx context.Context, p query.CasePredicate) ([]models.Handle, error) {
	return cases.NewSQLiteRepository(f.db).Handles(ctx, p)
}

func (f *Foreground) Cases(ctx context.Context, p query.CasePredicate) ([]*models.Case, error) {
	hs, err := f.FindCaseHandles(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Case, 0, len(hs))
	for _, h := range hs {
		c, err := f.Case(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// TagNames returns the tag names of a record ordered case-insensitively.
func (f *Foreground) TagNames(ctx context.Context, h models.Handle) ([]string, error) {
	r, err := f.Record(ctx, h)
	if err != nil {
		return nil, err
	}
	return r.Tags, nil
}

// CaseHandles returns the cases a record belongs to.
func (f *Foreground) CaseHandles(ctx context.Context, h models.Handle) ([]models.Handle, error) {
	r, err := f.Record(ctx, h)
	if err != nil {
		return nil, err
	}
	return r.Cases, nil
}

// LastSyncedAt returns the server time of the last completed sync of entity
// in oid.
func (f *Foreground) LastSyncedAt(ctx context.Context, entity models.Entity, oid string) (time.Time, bool, error) {
	return f.s.SyncCursor(ctx, entity, oid)
}

// RecordsOfCase returns the handles of records associated with a case.
func (f *Foreground) RecordsOfCase(ctx context.Context, h models.Handle) ([]models.Handle, error) {
	return f.s.rel.RecordsForCase(ctx, f.db, h)
}

// CountGrouped runs a grouped count such as query.CountByTag.
func (f *Foreground) CountGrouped(ctx context.Context, a query.Aggregation) (map[string]int, error) {
	return records.NewSQLiteRepository(f.db).Grouped(ctx, a)
}

func (f *Foreground) CaseTypes(ctx context.Context) ([]models.CaseType, error) {
	return cases.NewSQLiteRepository(f.db).CaseTypes(ctx)
}
