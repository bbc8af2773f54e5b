package records

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbtest"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
)

func newRecord(h, id, oid string, updated time.Time) *models.Record {
	return &models.Record{
		Handle:       models.Handle(h),
		ID:           id,
		OrgID:        oid,
		DocumentType: "lab",
		UpdatedAt:    updated,
		SyncState:    models.SyncUploadSuccess,
	}
}

func TestInsertGetUpdate(t *testing.T) {
	db := dbtest.Open(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := newRecord("h1", "d1", "o1", ts)
	rec.SmartReport = []byte(`{"a":1}`)
	rec.IsSmart = true
	require.NoError(t, r.Insert(ctx, rec))

	got, err := r.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.Handle("h1"), got.Handle)
	assert.True(t, ts.Equal(got.UpdatedAt))
	assert.True(t, got.IsSmart)
	assert.False(t, got.IsEdited)
	assert.Equal(t, []byte(`{"a":1}`), got.SmartReport)
	assert.True(t, got.DocumentDate.IsZero())

	got.IsEdited = true
	got.SyncState = models.SyncUploadFailure
	require.NoError(t, r.Update(ctx, got))

	again, err := r.Get(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, again.IsEdited)
	assert.Equal(t, models.SyncUploadFailure, again.SyncState)
}

func TestGet_NotFound(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	_, err := r.Get(ctx, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = r.GetByID(ctx, "")
	require.ErrorIs(t, err, common.ErrNotFound)

	err = r.Update(ctx, newRecord("nope", "x", "o", time.Now()))
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestInsert_DuplicateIDRejected(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newRecord("h1", "d1", "o1", time.Now())))
	require.Error(t, r.Insert(ctx, newRecord("h2", "d1", "o1", time.Now())))

	// records without id do not collide
	require.NoError(t, r.Insert(ctx, newRecord("h3", "", "o1", time.Now())))
	require.NoError(t, r.Insert(ctx, newRecord("h4", "", "o1", time.Now())))
}

func TestFind_LatestUpdatedForOrg(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, newRecord("h1", "d1", "o1", base)))
	require.NoError(t, r.Insert(ctx, newRecord("h2", "d2", "o1", base.Add(time.Hour))))
	require.NoError(t, r.Insert(ctx, newRecord("h3", "d3", "o2", base.Add(2*time.Hour))))
	require.NoError(t, r.Insert(ctx, newRecord("h4", "d4", "o1", time.Time{})))

	got, err := r.Find(ctx, query.LatestUpdatedForOrg("o1"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].ID)

	got, err = r.Find(ctx, query.LatestUpdatedForOrg("o3"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHandles_PendingPredicates(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	ok := newRecord("ok", "d1", "o1", time.Now())
	failed := newRecord("failed", "d2", "o1", time.Now())
	failed.SyncState = models.SyncUploadFailure
	noID := newRecord("noid", "", "o1", time.Now())
	edited := newRecord("edited", "d3", "o1", time.Now())
	edited.IsEdited = true
	archived := newRecord("archived", "d4", "o1", time.Now())
	archived.IsArchived = true
	archived.SyncState = models.SyncUploadFailure

	for _, rec := range []*models.Record{ok, failed, noID, edited, archived} {
		require.NoError(t, r.Insert(ctx, rec))
	}

	hs, err := r.Handles(ctx, query.PendingSync().OrderBy("r.handle"))
	require.NoError(t, err)
	assert.Equal(t, []models.Handle{"failed", "noid"}, hs)

	hs, err = r.Handles(ctx, query.PendingEdit())
	require.NoError(t, err)
	assert.Equal(t, []models.Handle{"edited"}, hs)

	hs, err = r.Handles(ctx, query.PendingArchivedDeletion())
	require.NoError(t, err)
	assert.Equal(t, []models.Handle{"archived"}, hs)

	hs, err = r.Handles(ctx, query.NilID())
	require.NoError(t, err)
	assert.Equal(t, []models.Handle{"noid"}, hs)

	hs, err = r.Handles(ctx, query.ByIDs("d1", "d3").OrderBy("r.id"))
	require.NoError(t, err)
	assert.Equal(t, []models.Handle{"ok", "edited"}, hs)
}

func TestFilesAndDelete(t *testing.T) {
	db := dbtest.Open(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newRecord("h1", "d1", "o1", time.Now())))
	require.NoError(t, r.SetFiles(ctx, "h1", []string{"/a.pdf", "/b.pdf"}))
	require.NoError(t, r.SetFiles(ctx, "h1", []string{"/c.pdf", "/a.pdf"}))

	files, err := r.Files(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/c.pdf", "/a.pdf"}, files)

	n, err := r.Delete(ctx, "h1", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, dbtest.Count(t, db, `SELECT COUNT(*) FROM record_files`))

	n, err = r.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGrouped_ByDocumentType(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	a := newRecord("h1", "d1", "o1", time.Now())
	b := newRecord("h2", "d2", "o1", time.Now())
	c := newRecord("h3", "d3", "o2", time.Now())
	c.DocumentType = "imaging"
	for _, rec := range []*models.Record{a, b, c} {
		require.NoError(t, r.Insert(ctx, rec))
	}

	got, err := r.Grouped(ctx, query.CountByDocumentType(query.GroupFilter{}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"lab": 2, "imaging": 1}, got)

	got, err = r.Grouped(ctx, query.CountByDocumentType(query.GroupFilter{OrgID: "o2"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"imaging": 1}, got)
}
