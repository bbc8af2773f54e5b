// Package relations maintains the record-case and record-tag associations.
//
// Every mutating call runs inside a store unit of work. Association sets are
// replaced as a whole (remove everything, then add the given set), tags are
// looked up or created by normalized name inside the same unit, and tags left
// without records are deleted in the same transaction.
//
// A call naming an entity that the unit has not loaded or inserted fails with
// common.ErrNotBound and changes nothing.
package relations

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/repositories/links"
	"github.com/dmitrijs2005/medsync/internal/repositories/tags"
)

// Unit is the slice of a store unit of work the manager needs.
type Unit interface {
	Context() context.Context
	Tx() dbx.DBTX
	// Bound reports whether h was loaded or inserted by this unit.
	Bound(h models.Handle) bool
	// Touch records h in the unit's change set.
	Touch(e models.Entity, h models.Handle, op models.ChangeOp)
}

type Manager struct {
	log logging.Logger
}

func New(log logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{log: log.With("component", "relations")}
}

func (m *Manager) requireBound(u Unit, op string, hs ...models.Handle) error {
	for _, h := range hs {
		if !u.Bound(h) {
			m.log.Error(u.Context(), "association on unbound entity", "op", op, "handle", h)
			return fmt.Errorf("%s %s: %w", op, h, common.ErrNotBound)
		}
	}
	return nil
}

// SetCases makes the case set of record exactly cases.
func (m *Manager) SetCases(u Unit, record models.Handle, cases []models.Handle) error {
	cases = dedupe(cases)
	if err := m.requireBound(u, "set cases", append([]models.Handle{record}, cases...)...); err != nil {
		return err
	}

	ctx := u.Context()
	repo := links.NewSQLiteRepository(u.Tx())
	if err := repo.RemoveRecord(ctx, record); err != nil {
		return err
	}
	for _, c := range cases {
		if err := repo.Add(ctx, record, c); err != nil {
			return err
		}
	}
	u.Touch(models.EntityRecord, record, models.OpUpdate)
	return nil
}

// SetTags makes the tag set of record exactly names. Blank names are ignored
// and names equal after normalization count once.
func (m *Manager) SetTags(u Unit, record models.Handle, names []string) error {
	if err := m.requireBound(u, "set tags", record); err != nil {
		return err
	}

	ctx := u.Context()
	repo := tags.NewSQLiteRepository(u.Tx())

	previous, err := repo.ForRecord(ctx, record)
	if err != nil {
		return err
	}
	prevIDs := tagIDs(previous)
	if err := repo.Detach(ctx, record, prevIDs...); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = models.NormalizeTagName(name)
		if name == "" {
			continue
		}
		if _, dup := seen[models.TagKey(name)]; dup {
			continue
		}
		seen[models.TagKey(name)] = struct{}{}

		t, err := repo.LookupOrCreate(ctx, name)
		if err != nil {
			return err
		}
		if err := repo.Attach(ctx, record, t.ID); err != nil {
			return err
		}
	}

	if _, err := repo.DeleteIfOrphaned(ctx, prevIDs...); err != nil {
		return err
	}
	u.Touch(models.EntityRecord, record, models.OpUpdate)
	return nil
}

// RemoveTag detaches one tag by name and deletes it if no record uses it.
func (m *Manager) RemoveTag(u Unit, record models.Handle, name string) error {
	if err := m.requireBound(u, "remove tag", record); err != nil {
		return err
	}

	ctx := u.Context()
	repo := tags.NewSQLiteRepository(u.Tx())
	t, err := repo.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := repo.Detach(ctx, record, t.ID); err != nil {
		return err
	}
	if _, err := repo.DeleteIfOrphaned(ctx, t.ID); err != nil {
		return err
	}
	u.Touch(models.EntityRecord, record, models.OpUpdate)
	return nil
}

func (m *Manager) RemoveAllTags(u Unit, record models.Handle) error {
	return m.SetTags(u, record, nil)
}

// DetachCase removes every record edge of a case, touching the records.
func (m *Manager) DetachCase(u Unit, caseHandle models.Handle) error {
	if err := m.requireBound(u, "detach case", caseHandle); err != nil {
		return err
	}

	ctx := u.Context()
	repo := links.NewSQLiteRepository(u.Tx())
	records, err := repo.RecordsOf(ctx, caseHandle)
	if err != nil {
		return err
	}
	if err := repo.RemoveCase(ctx, caseHandle); err != nil {
		return err
	}
	for _, r := range records {
		u.Touch(models.EntityRecord, r, models.OpUpdate)
	}
	return nil
}

// CleanupOrphanTags deletes every tag without records.
func (m *Manager) CleanupOrphanTags(u Unit) (int64, error) {
	n, err := tags.NewSQLiteRepository(u.Tx()).DeleteOrphans(u.Context())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Debug(u.Context(), "orphan tags removed", "count", n)
	}
	return n, nil
}

// TagNames returns the tag names of record, sorted case-insensitively.
func (m *Manager) TagNames(ctx context.Context, db dbx.DBTX, record models.Handle) ([]string, error) {
	ts, err := tags.NewSQLiteRepository(db).ForRecord(ctx, record)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ts))
	for _, t := range ts {
		names = append(names, t.Name)
	}
	return names, nil
}

func (m *Manager) CaseHandles(ctx context.Context, db dbx.DBTX, record models.Handle) ([]models.Handle, error) {
	return links.NewSQLiteRepository(db).CasesOf(ctx, record)
}

func (m *Manager) RecordsForCase(ctx context.Context, db dbx.DBTX, caseHandle models.Handle) ([]models.Handle, error) {
	return links.NewSQLiteRepository(db).RecordsOf(ctx, caseHandle)
}

func tagIDs(ts []models.Tag) []int64 {
	ids := make([]int64, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	return ids
}

func dedupe(hs []models.Handle) []models.Handle {
	out := slices.Clone(hs)
	slices.Sort(out)
	return slices.Compact(out)
}
