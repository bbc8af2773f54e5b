package records

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
)

// Repository describes row-level operations on records.
type Repository interface {
	// Get returns the record with handle h or common.ErrNotFound.
	Get(ctx context.Context, h models.Handle) (*models.Record, error)

	// GetByID returns the record with server or temporary id, or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Record, error)

	// Find returns every record matching p, in p's order.
	Find(ctx context.Context, p query.Predicate) ([]*models.Record, error)

	// Handles returns the handles of records matching p.
	Handles(ctx context.Context, p query.Predicate) ([]models.Handle, error)

	Insert(ctx context.Context, r *models.Record) error

	// Update overwrites every column of the row identified by r.Handle.
	Update(ctx context.Context, r *models.Record) error

	// Delete removes rows and returns how many were removed.
	Delete(ctx context.Context, hs ...models.Handle) (int64, error)

	Files(ctx context.Context, h models.Handle) ([]string, error)
	SetFiles(ctx context.Context, h models.Handle, paths []string) error

	// Grouped runs an aggregation and returns key -> count.
	Grouped(ctx context.Context, a query.Aggregation) (map[string]int, error)
}
