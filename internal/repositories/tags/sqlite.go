package tags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Lookup(ctx context.Context, name string) (models.Tag, error) {
	var t models.Tag
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM tags WHERE name_key = ?`, models.TagKey(name)).
		Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tag{}, common.ErrNotFound
	}
	if err != nil {
		return models.Tag{}, fmt.Errorf("failed to lookup tag %q: %w", name, err)
	}
	return t, nil
}

func (r *SQLiteRepository) LookupOrCreate(ctx context.Context, name string) (models.Tag, error) {
	name = models.NormalizeTagName(name)
	t, err := r.Lookup(ctx, name)
	if err == nil || !errors.Is(err, common.ErrNotFound) {
		return t, err
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO tags (name, name_key) VALUES (?, ?)`, name, models.TagKey(name))
	if err != nil {
		return models.Tag{}, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Tag{}, fmt.Errorf("failed to read tag id: %w", err)
	}
	return models.Tag{ID: id, Name: name}, nil
}

func (r *SQLiteRepository) ForRecord(ctx context.Context, record models.Handle) ([]models.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name FROM tags t
		JOIN record_tags rt ON rt.tag_id = t.id
		WHERE rt.record_handle = ?
		ORDER BY t.name_key`, string(record))
	if err != nil {
		return nil, fmt.Errorf("failed to select tags of %s: %w", record, err)
	}
	defer rows.Close()

	var out []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Attach(ctx context.Context, record models.Handle, tagID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO record_tags (record_handle, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, string(record), tagID)
	if err != nil {
		return fmt.Errorf("failed to attach tag %d to %s: %w", tagID, record, err)
	}
	return nil
}

func (r *SQLiteRepository) Detach(ctx context.Context, record models.Handle, tagIDs ...int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	args := []any{string(record)}
	for _, id := range tagIDs {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM record_tags WHERE record_handle = ? AND tag_id IN (`+dbx.Placeholders(len(tagIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to detach tags from %s: %w", record, err)
	}
	return nil
}

const orphan = `NOT EXISTS (SELECT 1 FROM record_tags rt WHERE rt.tag_id = tags.id)`

func (r *SQLiteRepository) DeleteIfOrphaned(ctx context.Context, tagIDs ...int64) (int64, error) {
	if len(tagIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(tagIDs))
	for i, id := range tagIDs {
		args[i] = id
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tags WHERE id IN (`+dbx.Placeholders(len(tagIDs))+`) AND `+orphan, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned tags: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE `+orphan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned tags: %w", err)
	}
	return res.RowsAffected()
}
