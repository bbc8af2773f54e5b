package grpcapi

import (
	"context"

	"github.com/dmitrijs2005/medsync/internal/remote"
)

const (
	methodListRecords  = "/medsync.v1.Records/List"
	methodCreateBatch  = "/medsync.v1.Records/CreateBatch"
	methodUpdateRecord = "/medsync.v1.Records/Update"
	methodDeleteRecord = "/medsync.v1.Records/Delete"
	methodFetchDetails = "/medsync.v1.Records/FetchDetails"
)

// RecordsClient implements remote.RecordsAPI.
type RecordsClient struct {
	c *Client
}

var _ remote.RecordsAPI = (*RecordsClient)(nil)

func (r *RecordsClient) List(ctx context.Context, cursor, pageToken, oid string) (*remote.ListRecordsResponse, error) {
	req := &remote.ListRequest{Cursor: cursor, PageToken: pageToken, OrgID: oid}
	resp := &remote.ListRecordsResponse{}
	if err := r.c.call(ctx, methodListRecords, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *RecordsClient) CreateBatch(ctx context.Context, oid string, items []remote.BatchItem) ([]remote.BatchResponse, error) {
	req := &remote.CreateBatchRequest{OrgID: oid, Items: items}
	resp := &remote.CreateBatchResponse{}
	if err := r.c.call(ctx, methodCreateBatch, req, resp); err != nil {
		return nil, err
	}
	return resp.Responses, nil
}

// SubmitFile posts the bytes to the pre-signed form over HTTP; it does not
// use the gRPC connection.
func (r *RecordsClient) SubmitFile(ctx context.Context, form remote.UploadForm, data []byte) error {
	return r.c.files.Submit(ctx, form, data)
}

func (r *RecordsClient) Update(ctx context.Context, id, oid string, fields remote.RecordFields) error {
	req := &remote.UpdateRecordRequest{ID: id, OrgID: oid, Fields: fields}
	return r.c.call(ctx, methodUpdateRecord, req, &remote.Empty{})
}

func (r *RecordsClient) Delete(ctx context.Context, id, oid string) (int, error) {
	resp := &remote.DeleteResponse{}
	if err := r.c.call(ctx, methodDeleteRecord, &remote.DocumentRequest{ID: id, OrgID: oid}, resp); err != nil {
		return 0, err
	}
	return resp.Status, nil
}

func (r *RecordsClient) FetchDetails(ctx context.Context, id, oid string) (*remote.RecordDetails, error) {
	resp := &remote.RecordDetails{}
	if err := r.c.call(ctx, methodFetchDetails, &remote.DocumentRequest{ID: id, OrgID: oid}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
