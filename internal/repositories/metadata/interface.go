// Package metadata stores small key-value state next to the entities:
// the change-log cursor and per-organization sync cursors.
package metadata

import (
	"context"
	"time"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	GetInt64(ctx context.Context, key string) (int64, bool, error)
	SetInt64(ctx context.Context, key string, v int64) error
	GetTime(ctx context.Context, key string) (time.Time, bool, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

// ChangeLogCursorKey holds the last change-log sequence merged into the
// foreground context.
const ChangeLogCursorKey = "changelog.cursor"

// SyncCursorKey is the "last seen" server time of one entity kind in one
// organization scope.
func SyncCursorKey(entity, oid string) string { return "sync." + entity + "." + oid }
