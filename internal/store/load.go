package store

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/relations"
	"github.com/dmitrijs2005/medsync/internal/repositories/records"
)

// assemble fills the projections of r from the edge tables.
func assemble(ctx context.Context, db dbx.DBTX, rel *relations.Manager, r *models.Record) error {
	files, err := records.NewSQLiteRepository(db).Files(ctx, r.Handle)
	if err != nil {
		return err
	}
	tags, err := rel.TagNames(ctx, db, r.Handle)
	if err != nil {
		return err
	}
	cases, err := rel.CaseHandles(ctx, db, r.Handle)
	if err != nil {
		return err
	}
	r.FilePaths, r.Tags, r.Cases = files, tags, cases
	return nil
}

func loadRecord(ctx context.Context, db dbx.DBTX, rel *relations.Manager, h models.Handle) (*models.Record, error) {
	r, err := records.NewSQLiteRepository(db).Get(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := assemble(ctx, db, rel, r); err != nil {
		return nil, err
	}
	return r, nil
}

func loadRecords(ctx context.Context, db dbx.DBTX, rel *relations.Manager, p query.Predicate) ([]*models.Record, error) {
	rs, err := records.NewSQLiteRepository(db).Find(ctx, p)
	if err != nil {
		return nil, err
	}
	for _, r := range rs {
		if err := assemble(ctx, db, rel, r); err != nil {
			return nil, err
		}
	}
	return rs, nil
}
