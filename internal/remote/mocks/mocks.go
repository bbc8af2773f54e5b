// Package mocks provides testify mocks of the remote APIs.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrijs2005/medsync/internal/remote"
)

type RecordsAPI struct {
	mock.Mock
}

var _ remote.RecordsAPI = (*RecordsAPI)(nil)

func (m *RecordsAPI) List(ctx context.Context, cursor, pageToken, oid string) (*remote.ListRecordsResponse, error) {
	args := m.Called(ctx, cursor, pageToken, oid)
	resp, _ := args.Get(0).(*remote.ListRecordsResponse)
	return resp, args.Error(1)
}

// CreateBatch returns either a fixed response slice or, when the first
// return value is a function, its result for the given items.
func (m *RecordsAPI) CreateBatch(ctx context.Context, oid string, items []remote.BatchItem) ([]remote.BatchResponse, error) {
	args := m.Called(ctx, oid, items)
	if fn, ok := args.Get(0).(func(context.Context, string, []remote.BatchItem) []remote.BatchResponse); ok {
		return fn(ctx, oid, items), args.Error(1)
	}
	resp, _ := args.Get(0).([]remote.BatchResponse)
	return resp, args.Error(1)
}

func (m *RecordsAPI) SubmitFile(ctx context.Context, form remote.UploadForm, data []byte) error {
	return m.Called(ctx, form, data).Error(0)
}

func (m *RecordsAPI) Update(ctx context.Context, id, oid string, fields remote.RecordFields) error {
	return m.Called(ctx, id, oid, fields).Error(0)
}

func (m *RecordsAPI) Delete(ctx context.Context, id, oid string) (int, error) {
	args := m.Called(ctx, id, oid)
	return args.Int(0), args.Error(1)
}

func (m *RecordsAPI) FetchDetails(ctx context.Context, id, oid string) (*remote.RecordDetails, error) {
	args := m.Called(ctx, id, oid)
	resp, _ := args.Get(0).(*remote.RecordDetails)
	return resp, args.Error(1)
}

type CasesAPI struct {
	mock.Mock
}

var _ remote.CasesAPI = (*CasesAPI)(nil)

func (m *CasesAPI) Create(ctx context.Context, oid string, c remote.CaseItem) error {
	return m.Called(ctx, oid, c).Error(0)
}

func (m *CasesAPI) List(ctx context.Context, cursor, pageToken, oid string) (*remote.ListCasesResponse, error) {
	args := m.Called(ctx, cursor, pageToken, oid)
	resp, _ := args.Get(0).(*remote.ListCasesResponse)
	return resp, args.Error(1)
}

func (m *CasesAPI) Update(ctx context.Context, id, oid string, fields remote.CaseFields) error {
	return m.Called(ctx, id, oid, fields).Error(0)
}

func (m *CasesAPI) Delete(ctx context.Context, id, oid string) (int, error) {
	args := m.Called(ctx, id, oid)
	return args.Int(0), args.Error(1)
}

type Thumbnails struct {
	mock.Mock
}

func (m *Thumbnails) Fetch(ctx context.Context, url string) (string, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Error(1)
}
