// Package links persists record-case edges.
package links

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/models"
)

type Repository interface {
	CasesOf(ctx context.Context, record models.Handle) ([]models.Handle, error)
	RecordsOf(ctx context.Context, caseHandle models.Handle) ([]models.Handle, error)
	Add(ctx context.Context, record, caseHandle models.Handle) error
	// RemoveRecord drops every edge of record.
	RemoveRecord(ctx context.Context, record models.Handle) error
	// RemoveCase drops every edge of caseHandle.
	RemoveCase(ctx context.Context, caseHandle models.Handle) error
}
