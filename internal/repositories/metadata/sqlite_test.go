package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medsync/internal/dbtest"
)

func TestSetAndGet_InsertThenGet(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k1", []byte{0x01, 0x02}))

	v, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, v)
}

func TestGet_NotExists_ReturnsNilNil(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))

	v, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSet_UpsertOverwritesValue(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("old")))
	require.NoError(t, r.Set(ctx, "k", []byte("new")))

	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestDeleteListClear(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte("1")))
	require.NoError(t, r.Set(ctx, "b", []byte("2")))
	require.NoError(t, r.Delete(ctx, "a"))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"b": []byte("2")}, all)

	require.NoError(t, r.Clear(ctx))
	all, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInt64AndTime(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	_, ok, err := r.GetInt64(ctx, ChangeLogCursorKey)
	require.NoError(t, err)
	require.False(t, ok, "cursor starts unset")

	require.NoError(t, r.SetInt64(ctx, ChangeLogCursorKey, 42))
	v, ok, err := r.GetInt64(ctx, ChangeLogCursorKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), v)

	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	key := SyncCursorKey("records", "o1")
	require.Equal(t, "sync.records.o1", key)
	require.NoError(t, r.SetTime(ctx, key, ts))
	got, ok, err := r.GetTime(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ts.Equal(got))
}

func TestGetInt64_Garbage(t *testing.T) {
	r := NewSQLiteRepository(dbtest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("not-a-number")))
	_, _, err := r.GetInt64(ctx, "k")
	require.Error(t, err)
}
