package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/fanout"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/remote/mocks"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func hexSum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestUpload_CreatesBatchThenSubmitsForms(t *testing.T) {
	api := &mocks.RecordsAPI{}
	a := writeFile(t, "a.pdf", "AAA")

	api.On("CreateBatch", mock.Anything, "o1", mock.MatchedBy(func(items []remote.BatchItem) bool {
		return len(items) == 1 && items[0].ClientRef == "r1" &&
			items[0].Files[0].Name == "a.pdf" && items[0].Files[0].ContentHash == hexSum("AAA") &&
			items[0].Files[0].ContentType == "application/pdf"
	})).Return([]remote.BatchResponse{{
		ClientRef:   "r1",
		DocumentID:  "d1",
		UploadForms: []remote.UploadForm{{URL: "http://u", FileName: "a.pdf"}},
	}}, nil).Once()
	api.On("SubmitFile", mock.Anything, remote.UploadForm{URL: "http://u", FileName: "a.pdf"}, []byte("AAA")).Return(nil).Once()

	res, err := New(api).Upload(context.Background(), "o1", []Item{{Ref: "r1", Paths: []string{a}}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].DocumentID)
	assert.Equal(t, hexSum("AAA"), res[0].ContentHash)
	api.AssertExpectations(t)
}

func TestUpload_RetriesNetworkErrors(t *testing.T) {
	api := &mocks.RecordsAPI{}
	a := writeFile(t, "a.pdf", "AAA")

	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).Return([]remote.BatchResponse{{
		ClientRef: "r1", DocumentID: "d1", UploadForms: []remote.UploadForm{{URL: "http://u", FileName: "a.pdf"}},
	}}, nil)
	api.On("SubmitFile", mock.Anything, mock.Anything, mock.Anything).Return(common.ErrNetwork).Twice()
	api.On("SubmitFile", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	m := New(api, WithRetry(time.Millisecond, 3))
	res, err := m.Upload(context.Background(), "o1", []Item{{Ref: "r1", Paths: []string{a}}})
	require.NoError(t, err)
	assert.Equal(t, "d1", res[0].DocumentID)
	api.AssertNumberOfCalls(t, "SubmitFile", 3)
}

func TestUpload_PerItemFailuresAreAggregated(t *testing.T) {
	api := &mocks.RecordsAPI{}
	ok := writeFile(t, "ok.pdf", "OK")
	bad := writeFile(t, "bad.pdf", "BAD")
	rejected := writeFile(t, "rejected.pdf", "NO")

	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).Return([]remote.BatchResponse{
		{ClientRef: "ok", DocumentID: "d-ok", UploadForms: []remote.UploadForm{{URL: "http://u/ok", FileName: "ok.pdf"}}},
		{ClientRef: "bad", DocumentID: "d-bad", UploadForms: []remote.UploadForm{{URL: "http://u/bad", FileName: "bad.pdf"}}},
		{ClientRef: "rejected", ErrorDetails: "unsupported file type"},
	}, nil)
	api.On("SubmitFile", mock.Anything, remote.UploadForm{URL: "http://u/ok", FileName: "ok.pdf"}, mock.Anything).Return(nil)
	api.On("SubmitFile", mock.Anything, remote.UploadForm{URL: "http://u/bad", FileName: "bad.pdf"}, mock.Anything).
		Return(errors.New("forbidden"))

	res, err := New(api, WithRetry(time.Millisecond, 1)).Upload(context.Background(), "o1", []Item{
		{Ref: "ok", Paths: []string{ok}},
		{Ref: "bad", Paths: []string{bad}},
		{Ref: "rejected", Paths: []string{rejected}},
		{Ref: "nofiles"},
	})

	var be *fanout.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.Failed())
	assert.Equal(t, 4, be.Total)
	assert.ErrorIs(t, err, common.ErrRejected)
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.Equal(t, "d-ok", res[0].DocumentID)
	assert.NoError(t, res[0].Err)
	assert.Error(t, res[1].Err)
	assert.Empty(t, res[1].DocumentID)
	assert.ErrorIs(t, res[2].Err, common.ErrRejected)
	assert.ErrorIs(t, res[3].Err, common.ErrValidation)
	api.AssertNumberOfCalls(t, "SubmitFile", 2)
}

func TestUpload_CreateBatchFailureFailsEveryItem(t *testing.T) {
	api := &mocks.RecordsAPI{}
	a := writeFile(t, "a.pdf", "A")
	b := writeFile(t, "b.pdf", "B")
	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).Return(nil, common.ErrUnavailable)

	res, err := New(api).Upload(context.Background(), "o1", []Item{
		{Ref: "a", Paths: []string{a}},
		{Ref: "b", Paths: []string{b}},
	})
	assert.ErrorIs(t, err, common.ErrUnavailable)
	for _, r := range res {
		assert.ErrorIs(t, r.Err, common.ErrUnavailable)
	}
	api.AssertNotCalled(t, "SubmitFile", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_MissingFile(t *testing.T) {
	api := &mocks.RecordsAPI{}

	res, err := New(api).Upload(context.Background(), "o1", []Item{{Ref: "r1", Paths: []string{"/nonexistent/x.pdf"}}})
	assert.Error(t, err)
	assert.ErrorIs(t, res[0].Err, os.ErrNotExist)
	api.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_AcceptedRunsBeforeSubmission(t *testing.T) {
	api := &mocks.RecordsAPI{}
	a := writeFile(t, "a.pdf", "AAA")
	b := writeFile(t, "b.pdf", "BBB")

	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).Return([]remote.BatchResponse{
		{ClientRef: "r1", DocumentID: "d1", UploadForms: []remote.UploadForm{{URL: "http://u/1", FileName: "a.pdf"}}},
		{ClientRef: "r2", DocumentID: "d2", UploadForms: []remote.UploadForm{{URL: "http://u/2", FileName: "b.pdf"}}},
	}, nil).Once()

	var accepted []string
	api.On("SubmitFile", mock.Anything, remote.UploadForm{URL: "http://u/1", FileName: "a.pdf"}, []byte("AAA")).
		Run(func(mock.Arguments) { assert.Equal(t, []string{"d1", "d2"}, accepted) }).
		Return(nil).Once()

	items := []Item{
		{Ref: "r1", Paths: []string{a}, Accepted: func(_ context.Context, id string) error {
			accepted = append(accepted, id)
			return nil
		}},
		{Ref: "r2", Paths: []string{b}, Accepted: func(_ context.Context, id string) error {
			accepted = append(accepted, id)
			return errors.New("store closed")
		}},
	}
	res, err := New(api).Upload(context.Background(), "o1", items)

	var be *fanout.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Failed())
	assert.Equal(t, "d1", res[0].DocumentID)
	assert.ErrorContains(t, res[1].Err, "store closed")
	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "SubmitFile", 1)
}
