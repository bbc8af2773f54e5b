package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Append(ctx context.Context, e models.Entity, h models.Handle, op models.ChangeOp) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO change_log (entity, handle, op, created_at) VALUES (?, ?, ?, ?)`,
		string(e), string(h), string(op), r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to append change %s/%s: %w", e, h, err)
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) Since(ctx context.Context, cursor int64) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, entity, handle, op FROM change_log WHERE seq > ? ORDER BY seq`, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Seq, &e.Entity, &e.Handle, &e.Op); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Prune(ctx context.Context, upTo int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM change_log WHERE seq <= ?`, upTo)
	if err != nil {
		return 0, fmt.Errorf("failed to prune change log: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM change_log`); err != nil {
		return fmt.Errorf("failed to clear change log: %w", err)
	}
	return nil
}
