package syncer

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/adapters"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/store"
)

// Records syncs records.
type Records struct {
	*engine
	api  remote.RecordsAPI
	conv *adapters.Converter
}

func NewRecords(st *store.Store, api remote.RecordsAPI, conv *adapters.Converter, opts ...Option) *Records {
	if conv == nil {
		conv = adapters.NewConverter(nil, nil, 0)
	}
	return &Records{engine: newEngine(st, "syncer.records", opts), api: api, conv: conv}
}

// FetchFromServer syncs every scope in oids and fails if any scope failed.
func (r *Records) FetchFromServer(ctx context.Context, oids ...string) error {
	return r.run(ctx, source{
		op:     "fetch records",
		entity: models.EntityRecord,
		latest: r.st.LatestRecordUpdate,
		fetch:  r.fetch,
	}, oids)
}

func (r *Records) fetch(ctx context.Context, cursor, token, oid string) (*page, error) {
	resp, err := r.api.List(ctx, cursor, token, oid)
	if err != nil {
		return nil, err
	}
	return &page{
		items:       len(resp.Items),
		next:        resp.NextPageToken,
		refreshedAt: resp.ServerRefreshedAt,
		apply: func(ctx context.Context) error {
			if len(resp.Items) == 0 {
				return nil
			}
			recs := r.conv.ConvertRecords(ctx, resp.Items)
			_, err := r.st.UpsertRecords(ctx, recs)
			return err
		},
	}, nil
}
