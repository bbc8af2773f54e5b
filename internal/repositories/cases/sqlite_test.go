package cases

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

func newCase(h, id, oid string) *models.Case {
	return &models.Case{
		Handle:   models.Handle(h),
		ID:       id,
		Name:     "Visit " + id,
		TypeCode: "visit",
		OrgID:    oid,
		Status:   models.CaseActive,
	}
}

func TestInsertGetUpdateDelete(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	c := newCase("h1", "c1", "o1")
	c.Date = time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, c))

	got, err := r.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Visit c1", got.Name)
	assert.True(t, c.Date.Equal(got.Date))
	assert.False(t, got.IsRemoteCreated)

	got.IsRemoteCreated = true
	got.Status = models.CaseDeleted
	require.NoError(t, r.Update(ctx, got))

	hs, err := r.Handles(ctx, query.CasesPendingDeletion())
	require.NoError(t, err)
	assert.Equal(t, []models.Handle{"h1"}, hs)

	n, err := r.Delete(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.Get(ctx, "h1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestFind_PendingCreateAndEdit(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	local := newCase("local", "c1", "o1")
	remote := newCase("remote", "c2", "o1")
	remote.IsRemoteCreated = true
	edited := newCase("edited", "c3", "o1")
	edited.IsRemoteCreated = true
	edited.IsEdited = true
	for _, c := range []*models.Case{local, remote, edited} {
		require.NoError(t, r.Insert(ctx, c))
	}

	got, err := r.Find(ctx, query.CasesPendingCreate())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)

	got, err = r.Find(ctx, query.CasesPendingEdit())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].ID)
}

func TestSeedCaseTypes_OnlyWhenEmpty(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	seeded, err := r.SeedCaseTypes(ctx, models.DefaultCaseTypes())
	require.NoError(t, err)
	require.True(t, seeded)

	seeded, err = r.SeedCaseTypes(ctx, []models.CaseType{{Code: "x", Name: "X"}})
	require.NoError(t, err)
	require.False(t, seeded)

	types, err := r.CaseTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, len(models.DefaultCaseTypes()))
}
