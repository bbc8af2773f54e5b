package grpcapi

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/remote"
)

const (
	methodCreateCase = "/medsync.v1.Cases/Create"
	methodListCases  = "/medsync.v1.Cases/List"
	methodUpdateCase = "/medsync.v1.Cases/Update"
	methodDeleteCase = "/medsync.v1.Cases/Delete"
)

// CasesClient implements remote.CasesAPI.
type CasesClient struct {
	c *Client
}

var _ remote.CasesAPI = (*CasesClient)(nil)

func (cc *CasesClient) Create(ctx context.Context, oid string, item remote.CaseItem) error {
	return cc.c.call(ctx, methodCreateCase, &remote.CreateCaseRequest{OrgID: oid, Case: item}, &remote.Empty{})
}

func (cc *CasesClient) List(ctx context.Context, cursor, pageToken, oid string) (*remote.ListCasesResponse, error) {
	req := &remote.ListRequest{Cursor: cursor, PageToken: pageToken, OrgID: oid}
	resp := &remote.ListCasesResponse{}
	if err := cc.c.call(ctx, methodListCases, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (cc *CasesClient) Update(ctx context.Context, id, oid string, fields remote.CaseFields) error {
	req := &remote.UpdateCaseRequest{ID: id, OrgID: oid, Fields: fields}
	return cc.c.call(ctx, methodUpdateCase, req, &remote.Empty{})
}

func (cc *CasesClient) Delete(ctx context.Context, id, oid string) (int, error) {
	resp := &remote.DeleteResponse{}
	if err := cc.c.call(ctx, methodDeleteCase, &remote.DocumentRequest{ID: id, OrgID: oid}, resp); err != nil {
		return 0, err
	}
	return resp.Status, nil
}
