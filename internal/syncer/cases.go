package syncer

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/adapters"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/store"
)

// Cases syncs cases. Sync cases before records so that record payloads can
// reference them.
type Cases struct {
	*engine
	api  remote.CasesAPI
	conv *adapters.Converter
}

func NewCases(st *store.Store, api remote.CasesAPI, opts ...Option) *Cases {
	return &Cases{engine: newEngine(st, "syncer.cases", opts), api: api, conv: adapters.NewConverter(nil, nil, 0)}
}

func (c *Cases) FetchFromServer(ctx context.Context, oids ...string) error {
	return c.run(ctx, source{
		op:     "fetch cases",
		entity: models.EntityCase,
		latest: c.st.LatestCaseUpdate,
		fetch:  c.fetch,
	}, oids)
}

func (c *Cases) fetch(ctx context.Context, cursor, token, oid string) (*page, error) {
	resp, err := c.api.List(ctx, cursor, token, oid)
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
			_, err := c.st.UpsertCases(ctx, c.conv.ConvertCases(resp.Items))
			return err
		},
	}, nil
}
