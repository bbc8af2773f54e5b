package links

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) handles(ctx context.Context, q string, arg models.Handle) ([]models.Handle, error) {
	rows, err := r.db.QueryContext(ctx, q, string(arg))
	if err != nil {
		return nil, fmt.Errorf("failed to select links of %s: %w", arg, err)
	}
	defer rows.Close()

	var out []models.Handle
	for rows.Next() {
		var h models.Handle
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CasesOf(ctx context.Context, record models.Handle) ([]models.Handle, error) {
	return r.handles(ctx, `SELECT case_handle FROM record_cases WHERE record_handle = ? ORDER BY case_handle`, record)
}

func (r *SQLiteRepository) RecordsOf(ctx context.Context, caseHandle models.Handle) ([]models.Handle, error) {
	return r.handles(ctx, `SELECT record_handle FROM record_cases WHERE case_handle = ? ORDER BY record_handle`, caseHandle)
}

func (r *SQLiteRepository) Add(ctx context.Context, record, caseHandle models.Handle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO record_cases (record_handle, case_handle) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		string(record), string(caseHandle))
	if err != nil {
		return fmt.Errorf("failed to link %s to case %s: %w", record, caseHandle, err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveRecord(ctx context.Context, record models.Handle) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM record_cases WHERE record_handle = ?`, string(record)); err != nil {
		return fmt.Errorf("failed to unlink record %s: %w", record, err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveCase(ctx context.Context, caseHandle models.Handle) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM record_cases WHERE case_handle = ?`, string(caseHandle)); err != nil {
		return fmt.Errorf("failed to unlink case %s: %w", caseHandle, err)
	}
	return nil
}
