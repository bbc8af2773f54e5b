package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `c.handle, c.id, c.name, c.type_code, c.org_id, c.created_at, c.updated_at,
	c.case_date, c.is_remote_created, c.is_edited, c.status`

func scan(s interface{ Scan(...any) error }) (*models.Case, error) {
	var (
		c                     models.Case
		created, updated, day sql.NullInt64
		status                string
	)
	err := s.Scan(&c.Handle, &c.ID, &c.Name, &c.TypeCode, &c.OrgID, &created, &updated,
		&day, &c.IsRemoteCreated, &c.IsEdited, &status)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = dbx.FromMillis(created)
	c.UpdatedAt = dbx.FromMillis(updated)
	c.Date = dbx.FromMillis(day)
	c.Status = models.CaseStatus(status)
	return &c, nil
}

func (r *SQLiteRepository) getOne(ctx context.Context, cond string, arg any) (*models.Case, error) {
	c, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM cases c WHERE `+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, h models.Handle) (*models.Case, error) {
	return r.getOne(ctx, "c.handle = ?", string(h))
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	return r.getOne(ctx, "c.id = ?", id)
}

func (r *SQLiteRepository) Find(ctx context.Context, p query.CasePredicate) ([]*models.Case, error) {
	w, args := p.Where()
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM cases c WHERE `+w+p.Tail(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select cases: %w", err)
	}
	defer rows.Close()

	var result []*models.Case
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Handles(ctx context.Context, p query.CasePredicate) ([]models.Handle, error) {
	w, args := p.Where()
	rows, err := r.db.QueryContext(ctx, `SELECT c.handle FROM cases c WHERE `+w+p.Tail(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select case handles: %w", err)
	}
	defer rows.Close()

	var result []models.Handle
	for rows.Next() {
		var h models.Handle
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Insert(ctx context.Context, c *models.Case) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cases (handle, id, name, type_code, org_id, created_at, updated_at,
			case_date, is_remote_created, is_edited, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.Handle), c.ID, c.Name, c.TypeCode, c.OrgID, dbx.Millis(c.CreatedAt),
		dbx.Millis(c.UpdatedAt), dbx.Millis(c.Date), c.IsRemoteCreated, c.IsEdited, string(c.Status))
	if err != nil {
		return fmt.Errorf("failed to insert case %s: %w", c.Handle, err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, c *models.Case) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases SET id = ?, name = ?, type_code = ?, org_id = ?, created_at = ?,
			updated_at = ?, case_date = ?, is_remote_created = ?, is_edited = ?, status = ?
		WHERE handle = ?`,
		c.ID, c.Name, c.TypeCode, c.OrgID, dbx.Millis(c.CreatedAt), dbx.Millis(c.UpdatedAt),
		dbx.Millis(c.Date), c.IsRemoteCreated, c.IsEdited, string(c.Status), string(c.Handle))
	if err != nil {
		return fmt.Errorf("failed to update case %s: %w", c.Handle, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("update case %s: %w", c.Handle, common.ErrNotFound)
	}
	return nil
}

// Delete removes case rows. Callers must detach records first; the
// record_cases foreign key rejects the delete otherwise.
func (r *SQLiteRepository) Delete(ctx context.Context, hs ...models.Handle) (int64, error) {
	if len(hs) == 0 {
		return 0, nil
	}
	args := make([]any, len(hs))
	for i, h := range hs {
		args[i] = string(h)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM cases WHERE handle IN (`+dbx.Placeholders(len(hs))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cases: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CaseTypes(ctx context.Context) ([]models.CaseType, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, name, icon FROM case_types ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to select case types: %w", err)
	}
	defer rows.Close()

	var out []models.CaseType
	for rows.Next() {
		var ct models.CaseType
		if err := rows.Scan(&ct.Code, &ct.Name, &ct.Icon); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SeedCaseTypes(ctx context.Context, types []models.CaseType) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM case_types`).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count case types: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	for _, ct := range types {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO case_types (code, name, icon) VALUES (?, ?, ?)`, ct.Code, ct.Name, ct.Icon); err != nil {
			return false, fmt.Errorf("failed to seed case type %s: %w", ct.Code, err)
		}
	}
	return len(types) > 0, nil
}
