// Package tags persists tag rows and record-tag edges. Tags are unique by
// their lower-cased trimmed name.
package tags

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/models"
)

type Repository interface {
	// LookupOrCreate returns the tag for name, creating it on first use.
	LookupOrCreate(ctx context.Context, name string) (models.Tag, error)
	Lookup(ctx context.Context, name string) (models.Tag, error)

	ForRecord(ctx context.Context, record models.Handle) ([]models.Tag, error)
	Attach(ctx context.Context, record models.Handle, tagID int64) error
	Detach(ctx context.Context, record models.Handle, tagIDs ...int64) error

	// DeleteIfOrphaned removes the given tags that have no record edges left.
	DeleteIfOrphaned(ctx context.Context, tagIDs ...int64) (int64, error)
	// DeleteOrphans removes every tag without record edges.
	DeleteOrphans(ctx context.Context) (int64, error)
}
