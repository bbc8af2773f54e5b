// Package changelog records which entities every committed unit of work
// touched, in commit order.
package changelog

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/models"
)

// Entry is one change-log row. Seq increases monotonically.
type Entry struct {
	Seq    int64
	Entity models.Entity
	Handle models.Handle
	Op     models.ChangeOp
}

type Repository interface {
	Append(ctx context.Context, e models.Entity, h models.Handle, op models.ChangeOp) (int64, error)
	// Since returns entries with Seq > cursor in order.
	Since(ctx context.Context, cursor int64) ([]Entry, error)
	// Prune deletes entries with Seq <= upTo.
	Prune(ctx context.Context, upTo int64) (int64, error)
	Clear(ctx context.Context) error
}
