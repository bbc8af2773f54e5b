// Package cases provides the persistence layer for Case rows and the
// case-type lookup table.
package cases

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
)

type Repository interface {
	Get(ctx context.Context, h models.Handle) (*models.Case, error)
	GetByID(ctx context.Context, id string) (*models.Case, error)
	Find(ctx context.Context, p query.CasePredicate) ([]*models.Case, error)
	Handles(ctx context.Context, p query.CasePredicate) ([]models.Handle, error)
	Insert(ctx context.Context, c *models.Case) error
	Update(ctx context.Context, c *models.Case) error
	Delete(ctx context.Context, hs ...models.Handle) (int64, error)

	CaseTypes(ctx context.Context) ([]models.CaseType, error)
	// SeedCaseTypes inserts types only when the table is empty and reports
	// whether it did.
	SeedCaseTypes(ctx context.Context, types []models.CaseType) (bool, error)
}
