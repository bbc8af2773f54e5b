package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/repositories/cases"
	"github.com/dmitrijs2005/medsync/internal/repositories/changelog"
	"github.com/dmitrijs2005/medsync/internal/repositories/links"
	"github.com/dmitrijs2005/medsync/internal/repositories/metadata"
	"github.com/dmitrijs2005/medsync/internal/repositories/records"
	"github.com/dmitrijs2005/medsync/internal/repositories/tags"
)

type touch struct {
	entity models.Entity
	op     models.ChangeOp
}

// UnitOfWork is the handle passed to a function run by Store.Perform. It is
// only valid until that function returns; entities it returns are detached
// copies.
type UnitOfWork struct {
	s      *Store
	ctx    context.Context
	tx     dbx.DBTX
	closed atomic.Bool

	bound   map[models.Handle]struct{}
	order   []models.Handle
	touched map[models.Handle]touch
	changes Changes
}

func newUnit(s *Store) *UnitOfWork {
	return &UnitOfWork{
		s:       s,
		bound:   make(map[models.Handle]struct{}),
		touched: make(map[models.Handle]touch),
	}
}

func (u *UnitOfWork) begin(ctx context.Context, tx dbx.DBTX) {
	u.ctx, u.tx = ctx, tx
}

func (u *UnitOfWork) close() { u.closed.Store(true) }

func (u *UnitOfWork) live() error {
	if u.closed.Load() || u.tx == nil {
		return fmt.Errorf("unit of work: %w", common.ErrClosed)
	}
	return nil
}

func (u *UnitOfWork) Context() context.Context { return u.ctx }

func (u *UnitOfWork) Tx() dbx.DBTX { return u.tx }

// Bound reports whether h was loaded or inserted by this unit.
func (u *UnitOfWork) Bound(h models.Handle) bool {
	_, ok := u.bound[h]
	return ok
}

func (u *UnitOfWork) bind(h models.Handle) { u.bound[h] = struct{}{} }

// Touch adds h to the change set. An insert followed by updates stays an
// insert and anything followed by a delete becomes a delete.
func (u *UnitOfWork) Touch(e models.Entity, h models.Handle, op models.ChangeOp) {
	prev, ok := u.touched[h]
	if !ok {
		u.order = append(u.order, h)
		u.touched[h] = touch{entity: e, op: op}
		return
	}
	switch {
	case op == models.OpDelete:
		prev.op = models.OpDelete
	case prev.op == models.OpInsert, prev.op == models.OpDelete:
	default:
		prev.op = op
	}
	u.touched[h] = prev
}

// flush writes the change set to the change log.
func (u *UnitOfWork) flush() error {
	log := changelog.NewSQLiteRepository(u.tx)
	for _, h := range u.order {
		t := u.touched[h]
		seq, err := log.Append(u.ctx, t.entity, h, t.op)
		if err != nil {
			return fmt.Errorf("append change log: %w", err)
		}
		u.changes.Cursor = seq
		switch t.op {
		case models.OpInsert:
			u.changes.Inserted = append(u.changes.Inserted, h)
		case models.OpUpdate:
			u.changes.Updated = append(u.changes.Updated, h)
		case models.OpDelete:
			u.changes.Deleted = append(u.changes.Deleted, h)
		}
	}
	return nil
}

func (u *UnitOfWork) Metadata() metadata.Repository { return metadata.NewSQLiteRepository(u.tx) }

func (u *UnitOfWork) records() *records.SQLiteRepository { return records.NewSQLiteRepository(u.tx) }

func (u *UnitOfWork) cases() *cases.SQLiteRepository { return cases.NewSQLiteRepository(u.tx) }

// Record loads the record with handle h and binds it to the unit.
func (u *UnitOfWork) Record(h models.Handle) (*models.Record, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	r, err := loadRecord(u.ctx, u.tx, u.s.rel, h)
	if err != nil {
		return nil, err
	}
	u.bind(r.Handle)
	return r, nil
}

func (u *UnitOfWork) RecordByID(id string) (*models.Record, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	r, err := u.records().GetByID(u.ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Record(r.Handle)
}

// FetchRecords loads and binds every record matching p.
func (u *UnitOfWork) FetchRecords(p query.Predicate) ([]*models.Record, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	rs, err := loadRecords(u.ctx, u.tx, u.s.rel, p)
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		u.bind(r.Handle)
	}
	return rs, nil
}

// bindCases loads each case so that associations may reference it.
func (u *UnitOfWork) bindCases(hs []models.Handle) error {
	for _, h := range hs {
		if u.Bound(h) {
			continue
		}
		if _, err := u.Case(h); err != nil {
			return fmt.Errorf("case %s: %w", h, err)
		}
	}
	return nil
}

func (u *UnitOfWork) associate(r *models.Record) error {
	if err := u.bindCases(r.Cases); err != nil {
		return err
	}
	if err := u.s.rel.SetCases(u, r.Handle, r.Cases); err != nil {
		return err
	}
	return u.s.rel.SetTags(u, r.Handle, r.Tags)
}

// InsertRecord stores a new record together with its files, tags and
// cases. A missing handle is generated; r is updated in place.
func (u *UnitOfWork) InsertRecord(r *models.Record) error {
	if err := u.live(); err != nil {
		return err
	}
	if r.Handle == "" {
		r.Handle = models.NewHandle()
	}
	if r.SyncState == "" {
		r.SyncState = models.SyncUploading
	}
	if err := u.records().Insert(u.ctx, r); err != nil {
		return err
	}
	u.bind(r.Handle)
	if err := u.records().SetFiles(u.ctx, r.Handle, r.FilePaths); err != nil {
		return err
	}
	if err := u.associate(r); err != nil {
		return err
	}
	u.Touch(models.EntityRecord, r.Handle, models.OpInsert)
	return nil
}

// UpsertRecords stores server records. A record whose id already exists
// locally keeps its handle and is updated, otherwise it is inserted. Rows
// with unconfirmed local edits, a pending archive or a create still being
// applied are left as they are.
// Remote case ids are resolved to local cases; unknown ids are skipped.
func (u *UnitOfWork) UpsertRecords(recs []*models.Record) ([]models.Handle, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	out := make([]models.Handle, 0, len(recs))
	for _, in := range recs {
		h, err := u.upsertRecord(in)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (u *UnitOfWork) upsertRecord(in *models.Record) (models.Handle, error) {
	if in.ID == "" {
		return "", common.Missing("record", in.Handle.String(), "id")
	}
	r := in.Clone()

	existing, err := u.records().GetByID(u.ctx, r.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		r.Handle = models.NewHandle()
		if r.SyncState == "" {
			r.SyncState = models.SyncUploadSuccess
		}
		if err := u.resolveCases(r); err != nil {
			return "", err
		}
		if err := u.InsertRecord(r); err != nil {
			return "", err
		}
		return r.Handle, nil
	case err != nil:
		return "", err
	}

	u.bind(existing.Handle)
	if existing.IsEdited || existing.IsArchived || existing.SyncState == models.SyncUploading {
		u.s.log.Debug(u.ctx, "upsert skipped, local change pending", "id", r.ID, "handle", existing.Handle)
		return existing.Handle, nil
	}

	r.Handle = existing.Handle
	if r.SyncState == "" {
		r.SyncState = models.SyncUploadSuccess
	}
	if r.Thumbnail == "" {
		r.Thumbnail = existing.Thumbnail
	}
	if r.SmartReport == nil {
		r.SmartReport = existing.SmartReport
	}
	if err := u.records().Update(u.ctx, r); err != nil {
		return "", err
	}
	if len(r.FilePaths) > 0 {
		if err := u.records().SetFiles(u.ctx, r.Handle, r.FilePaths); err != nil {
			return "", err
		}
	}
	if err := u.resolveCases(r); err != nil {
		return "", err
	}
	if err := u.associate(r); err != nil {
		return "", err
	}
	u.Touch(models.EntityRecord, r.Handle, models.OpUpdate)
	return r.Handle, nil
}

func (u *UnitOfWork) resolveCases(r *models.Record) error {
	if len(r.Cases) > 0 || len(r.CaseIDs) == 0 {
		return nil
	}
	for _, id := range r.CaseIDs {
		c, err := u.CaseByID(id)
		if errors.Is(err, common.ErrNotFound) {
			u.s.log.Debug(u.ctx, "record references unknown case", "record", r.ID, "case", id)
			continue
		}
		if err != nil {
			return err
		}
		r.Cases = append(r.Cases, c.Handle)
	}
	return nil
}

// UpdateRecord applies mutate to a copy of the stored record and writes it
// back. Tags and cases are replaced by the mutated sets.
func (u *UnitOfWork) UpdateRecord(h models.Handle, mutate func(*models.Record) error) (*models.Record, error) {
	cur, err := u.Record(h)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Handle = cur.Handle

	if err := u.records().Update(u.ctx, next); err != nil {
		return nil, err
	}
	if !slices.Equal(cur.FilePaths, next.FilePaths) {
		if err := u.records().SetFiles(u.ctx, h, next.FilePaths); err != nil {
			return nil, err
		}
	}
	if err := u.associate(next); err != nil {
		return nil, err
	}
	u.Touch(models.EntityRecord, h, models.OpUpdate)
	return u.Record(h)
}

// AdoptRecordID gives the record h the server id. A different row already
// holding id, inserted by a sync that overtook the create, is removed with
// its edges first so that h stays the only handle for the document.
func (u *UnitOfWork) AdoptRecordID(h models.Handle, id string, mutate func(*models.Record) error) (*models.Record, error) {
	if id == "" {
		return nil, common.Missing("record", h.String(), "id")
	}
	dup, err := u.RecordByID(id)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return nil, err
	case dup.Handle != h:
		u.s.log.Debug(u.ctx, "merging synced duplicate into local record", "id", id, "handle", h, "duplicate", dup.Handle)
		if _, err := u.DeleteRecords(query.ByHandle(dup.Handle)); err != nil {
			return nil, err
		}
	}
	return u.UpdateRecord(h, func(r *models.Record) error {
		r.ID = id
		if r.Thumbnail == "" && dup != nil {
			r.Thumbnail = dup.Thumbnail
		}
		if mutate == nil {
			return nil
		}
		return mutate(r)
	})
}

// DeleteRecords removes every record matching p with its edges and returns
// their handles. Tags left without records are removed too.
func (u *UnitOfWork) DeleteRecords(p query.Predicate) ([]models.Handle, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	hs, err := u.records().Handles(u.ctx, p)
	if err != nil || len(hs) == 0 {
		return nil, err
	}

	tagRepo := tags.NewSQLiteRepository(u.tx)
	linkRepo := links.NewSQLiteRepository(u.tx)
	var tagIDs []int64
	for _, h := range hs {
		u.bind(h)
		ts, err := tagRepo.ForRecord(u.ctx, h)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(ts))
		for _, t := range ts {
			ids = append(ids, t.ID)
		}
		if err := tagRepo.Detach(u.ctx, h, ids...); err != nil {
			return nil, err
		}
		if err := linkRepo.RemoveRecord(u.ctx, h); err != nil {
			return nil, err
		}
		if err := u.records().SetFiles(u.ctx, h, nil); err != nil {
			return nil, err
		}
		tagIDs = append(tagIDs, ids...)
	}

	if _, err := u.records().Delete(u.ctx, hs...); err != nil {
		return nil, err
	}
	if _, err := tagRepo.DeleteIfOrphaned(u.ctx, tagIDs...); err != nil {
		return nil, err
	}
	for _, h := range hs {
		u.Touch(models.EntityRecord, h, models.OpDelete)
	}
	return hs, nil
}

// Case loads the case with handle h and binds it to the unit.
func (u *UnitOfWork) Case(h models.Handle) (*models.Case, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	c, err := u.cases().Get(u.ctx, h)
	if err != nil {
		return nil, err
	}
	u.bind(c.Handle)
	return c, nil
}

func (u *UnitOfWork) CaseByID(id string) (*models.Case, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	c, err := u.cases().GetByID(u.ctx, id)
	if err != nil {
		return nil, err
	}
	u.bind(c.Handle)
	return c, nil
}

func (u *UnitOfWork) FetchCases(p query.CasePredicate) ([]*models.Case, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	cs, err := u.cases().Find(u.ctx, p)
	if err != nil {
		return nil, err
	}
	for _, c := range cs {
		u.bind(c.Handle)
	}
	return cs, nil
}

// InsertCase stores a new case, generating a handle and an id when absent.
func (u *UnitOfWork) InsertCase(c *models.Case) error {
	if err := u.live(); err != nil {
		return err
	}
	if c.Handle == "" {
		c.Handle = models.NewHandle()
	}
	if c.ID == "" {
		c.ID = string(models.NewHandle())
	}
	if c.Status == "" {
		c.Status = models.CaseActive
	}
	if err := u.cases().Insert(u.ctx, c); err != nil {
		return err
	}
	u.bind(c.Handle)
	u.Touch(models.EntityCase, c.Handle, models.OpInsert)
	return nil
}

// UpsertCases stores server cases by id. Cases with pending local changes
// are skipped; cases the server reports as deleted are removed locally.
func (u *UnitOfWork) UpsertCases(cs []*models.Case) ([]models.Handle, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	out := make([]models.Handle, 0, len(cs))
	for _, in := range cs {
		h, err := u.upsertCase(in)
		if err != nil {
			return nil, err
		}
		if h != "" {
			out = append(out, h)
		}
	}
	return out, nil
}

func (u *UnitOfWork) upsertCase(in *models.Case) (models.Handle, error) {
	if in.ID == "" {
		return "", common.Missing("case", in.Handle.String(), "id")
	}
	c := in.Clone()
	c.IsRemoteCreated = true
	c.IsEdited = false

	existing, err := u.cases().GetByID(u.ctx, c.ID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		if c.Status == models.CaseDeleted {
			return "", nil
		}
		c.Handle = models.NewHandle()
		if err := u.InsertCase(c); err != nil {
			return "", err
		}
		return c.Handle, nil
	case err != nil:
		return "", err
	}

	u.bind(existing.Handle)
	if c.Status == models.CaseDeleted {
		if _, err := u.DeleteCases(query.CaseByHandle(existing.Handle)); err != nil {
			return "", err
		}
		return existing.Handle, nil
	}
	if existing.IsEdited || existing.Status == models.CaseDeleted {
		u.s.log.Debug(u.ctx, "upsert skipped, local change pending", "case", c.ID, "handle", existing.Handle)
		return existing.Handle, nil
	}

	c.Handle = existing.Handle
	if err := u.cases().Update(u.ctx, c); err != nil {
		return "", err
	}
	u.Touch(models.EntityCase, c.Handle, models.OpUpdate)
	return c.Handle, nil
}

func (u *UnitOfWork) UpdateCase(h models.Handle, mutate func(*models.Case) error) (*models.Case, error) {
	cur, err := u.Case(h)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Handle = cur.Handle
	if err := u.cases().Update(u.ctx, next); err != nil {
		return nil, err
	}
	u.Touch(models.EntityCase, h, models.OpUpdate)
	return next, nil
}

// DeleteCases detaches every matching case from its records and removes it.
func (u *UnitOfWork) DeleteCases(p query.CasePredicate) ([]models.Handle, error) {
	if err := u.live(); err != nil {
		return nil, err
	}
	hs, err := u.cases().Handles(u.ctx, p)
	if err != nil || len(hs) == 0 {
		return nil, err
	}
	for _, h := range hs {
		u.bind(h)
		if err := u.s.rel.DetachCase(u, h); err != nil {
			return nil, err
		}
	}
	if _, err := u.cases().Delete(u.ctx, hs...); err != nil {
		return nil, err
	}
	for _, h := range hs {
		u.Touch(models.EntityCase, h, models.OpDelete)
	}
	return hs, nil
}
