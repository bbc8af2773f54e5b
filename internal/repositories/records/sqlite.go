package records

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

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `r.handle, r.id, r.content_hash, r.document_type, r.document_date, r.upload_date,
	r.updated_at, r.org_id, r.thumbnail, r.sync_state, r.is_analyzing, r.is_smart,
	r.is_edited, r.is_archived, r.smart_report`

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Record, error) {
	var (
		rec                  models.Record
		id                   sql.NullString
		docDate, upDate, upd sql.NullInt64
		state                string
		analyzing, smart     bool
		edited, archived     bool
	)
	err := s.Scan(&rec.Handle, &id, &rec.ContentHash, &rec.DocumentType, &docDate, &upDate,
		&upd, &rec.OrgID, &rec.Thumbnail, &state, &analyzing, &smart,
		&edited, &archived, &rec.SmartReport)
	if err != nil {
		return nil, err
	}
	rec.ID = id.String
	rec.DocumentDate = dbx.FromMillis(docDate)
	rec.UploadDate = dbx.FromMillis(upDate)
	rec.UpdatedAt = dbx.FromMillis(upd)
	rec.SyncState = models.SyncState(state)
	rec.IsAnalyzing, rec.IsSmart = analyzing, smart
	rec.IsEdited, rec.IsArchived = edited, archived
	return &rec, nil
}

func nullID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

func (r *SQLiteRepository) getOne(ctx context.Context, cond string, arg any) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM records r WHERE `+cond, arg)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, h models.Handle) (*models.Record, error) {
	return r.getOne(ctx, "r.handle = ?", string(h))
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Record, error) {
	if id == "" {
		return nil, common.ErrNotFound
	}
	return r.getOne(ctx, "r.id = ?", id)
}

func (r *SQLiteRepository) Find(ctx context.Context, p query.Predicate) ([]*models.Record, error) {
	w, args := p.Where()
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM records r WHERE `+w+p.Tail(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Handles(ctx context.Context, p query.Predicate) ([]models.Handle, error) {
	w, args := p.Where()
	rows, err := r.db.QueryContext(ctx, `SELECT r.handle FROM records r WHERE `+w+p.Tail(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select record handles: %w", err)
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

func (r *SQLiteRepository) Insert(ctx context.Context, rec *models.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (handle, id, content_hash, document_type, document_date, upload_date,
			updated_at, org_id, thumbnail, sync_state, is_analyzing, is_smart,
			is_edited, is_archived, smart_report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Handle), nullID(rec.ID), rec.ContentHash, rec.DocumentType,
		dbx.Millis(rec.DocumentDate), dbx.Millis(rec.UploadDate), dbx.Millis(rec.UpdatedAt),
		rec.OrgID, rec.Thumbnail, string(rec.SyncState), rec.IsAnalyzing, rec.IsSmart,
		rec.IsEdited, rec.IsArchived, rec.SmartReport)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.Handle, err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, rec *models.Record) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE records SET id = ?, content_hash = ?, document_type = ?, document_date = ?,
			upload_date = ?, updated_at = ?, org_id = ?, thumbnail = ?, sync_state = ?,
			is_analyzing = ?, is_smart = ?, is_edited = ?, is_archived = ?, smart_report = ?
		WHERE handle = ?`,
		nullID(rec.ID), rec.ContentHash, rec.DocumentType, dbx.Millis(rec.DocumentDate),
		dbx.Millis(rec.UploadDate), dbx.Millis(rec.UpdatedAt), rec.OrgID, rec.Thumbnail,
		string(rec.SyncState), rec.IsAnalyzing, rec.IsSmart, rec.IsEdited, rec.IsArchived,
		rec.SmartReport, string(rec.Handle))
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.Handle, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("update record %s: %w", rec.Handle, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, hs ...models.Handle) (int64, error) {
	if len(hs) == 0 {
		return 0, nil
	}
	args := make([]any, len(hs))
	for i, h := range hs {
		args[i] = string(h)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE handle IN (`+dbx.Placeholders(len(hs))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Files(ctx context.Context, h models.Handle) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path FROM record_files WHERE record_handle = ? ORDER BY position`, string(h))
	if err != nil {
		return nil, fmt.Errorf("failed to select files of %s: %w", h, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SetFiles replaces the file list of h.
func (r *SQLiteRepository) SetFiles(ctx context.Context, h models.Handle, paths []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM record_files WHERE record_handle = ?`, string(h)); err != nil {
		return fmt.Errorf("failed to clear files of %s: %w", h, err)
	}
	for i, p := range paths {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO record_files (record_handle, position, path) VALUES (?, ?, ?)`, string(h), i, p); err != nil {
			return fmt.Errorf("failed to insert file of %s: %w", h, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Grouped(ctx context.Context, a query.Aggregation) (map[string]int, error) {
	q, args := a.SQL()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}
