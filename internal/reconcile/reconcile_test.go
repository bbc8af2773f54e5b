package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dbtest"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/remote/mocks"
	"github.com/dmitrijs2005/medsync/internal/store"
	"github.com/dmitrijs2005/medsync/internal/upload"
)

var ctx = context.Background()

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(ctx, dbtest.Open(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// clock returns strictly increasing timestamps, one second apart.
func clock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base.Add(time.Duration(n.Add(1)) * time.Second) }
}

func newRecordService(t *testing.T, st *store.Store, api *mocks.RecordsAPI, opts ...Option) *RecordService {
	t.Helper()
	up := upload.New(api, upload.WithRetry(time.Millisecond, 1))
	s := NewRecordService(st, api, up, append([]Option{WithClock(clock())}, opts...)...)
	t.Cleanup(s.Wait)
	return s
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func seedRecord(t *testing.T, st *store.Store, id string) models.Handle {
	t.Helper()
	_, err := st.UpsertRecords(ctx, []*models.Record{{
		ID:           id,
		OrgID:        "o1",
		DocumentType: "lab",
		UpdatedAt:    time.Unix(1_700_000_000, 0),
	}})
	require.NoError(t, err)
	r, err := st.Foreground().RecordByID(ctx, id)
	require.NoError(t, err)
	return r.Handle
}

func seedCase(t *testing.T, st *store.Store, id, name string) models.Handle {
	t.Helper()
	_, err := st.UpsertCases(ctx, []*models.Case{{ID: id, OrgID: "o1", Name: name, TypeCode: "general"}})
	require.NoError(t, err)
	c, err := st.Foreground().CaseByID(ctx, id)
	require.NoError(t, err)
	return c.Handle
}

// expectUpload registers one create-batch answer for docID and its form
// submission, returning both calls for further setup.
func expectUpload(api *mocks.RecordsAPI, docID string) (create, submit *mock.Call) {
	create = api.On("CreateBatch", mock.Anything, "o1", mock.Anything).
		Return(func(_ context.Context, _ string, items []remote.BatchItem) []remote.BatchResponse {
			return []remote.BatchResponse{{
				ClientRef:   items[0].ClientRef,
				DocumentID:  docID,
				UploadForms: []remote.UploadForm{{URL: "http://u/" + docID}},
			}}
		}, nil).Once()
	submit = api.On("SubmitFile", mock.Anything, remote.UploadForm{URL: "http://u/" + docID}, mock.Anything).Return(nil).Once()
	return create, submit
}

func TestRecordAdd_AdoptsServerID(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	expectUpload(api, "d1")
	s := newRecordService(t, st, api)

	r, fut := s.Add(ctx, RecordDraft{
		OrgID:        "o1",
		DocumentType: "lab",
		FilePaths:    []string{writeFile(t, "a.pdf", "AAA")},
		Tags:         []string{"blood"},
	})
	require.NotNil(t, r)
	assert.True(t, models.IsTemporaryID(r.ID))
	assert.Equal(t, models.SyncUploading, r.SyncState)

	require.NoError(t, fut.Wait(ctx))
	got, err := st.Foreground().Record(ctx, r.Handle)
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.True(t, got.Authoritative())
	assert.NotEmpty(t, got.ContentHash)
	assert.Equal(t, []string{"blood"}, got.Tags)
	api.AssertExpectations(t)
}

func TestRecordAdd_FailureIsRetriedBySyncUnsynced(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).Return(nil, common.ErrUnavailable).Once()
	s := newRecordService(t, st, api)

	r, fut := s.Add(ctx, RecordDraft{OrgID: "o1", DocumentType: "lab", FilePaths: []string{writeFile(t, "a.pdf", "AAA")}})
	require.ErrorIs(t, fut.Wait(ctx), common.ErrUnavailable)

	got, err := st.Foreground().Record(ctx, r.Handle)
	require.NoError(t, err)
	assert.Equal(t, models.SyncUploadFailure, got.SyncState)

	expectUpload(api, "d2")
	require.NoError(t, s.SyncUnsynced(ctx))

	got, err = st.Foreground().Record(ctx, r.Handle)
	require.NoError(t, err)
	assert.Equal(t, "d2", got.ID)
	assert.Equal(t, models.SyncUploadSuccess, got.SyncState)
	api.AssertExpectations(t)
}

func TestRecordUpdate_FailedPushStaysEditedUntilRetried(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	s := newRecordService(t, st, api)

	h := seedRecord(t, st, "d1")
	cx := seedCase(t, st, "cx", "CaseX")

	want := remote.RecordFields{DocumentType: "lab", Tags: []string{}, CaseIDs: []string{"cx"}}
	api.On("Update", mock.Anything, "d1", "o1", want).Return(common.ErrNetwork).Once()

	r, fut := s.Update(ctx, h, RecordChanges{Cases: []models.Handle{cx}})
	require.NotNil(t, r)
	require.ErrorIs(t, fut.Wait(ctx), common.ErrNetwork)

	got, err := st.Foreground().Record(ctx, h)
	require.NoError(t, err)
	assert.True(t, got.IsEdited)
	assert.Equal(t, []models.Handle{cx}, got.Cases)

	api.On("Update", mock.Anything, "d1", "o1", want).Return(nil).Once()
	require.NoError(t, s.SyncUnsynced(ctx))

	got, err = st.Foreground().Record(ctx, h)
	require.NoError(t, err)
	assert.False(t, got.IsEdited)
	api.AssertExpectations(t)
}

func TestRecordUpdate_BeforeUploadIsCarriedByCreate(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).Return(nil, common.ErrNetwork).Once()
	s := newRecordService(t, st, api)

	r, fut := s.Add(ctx, RecordDraft{OrgID: "o1", DocumentType: "lab", FilePaths: []string{writeFile(t, "a.pdf", "AAA")}})
	require.Error(t, fut.Wait(ctx))

	typ := "imaging"
	_, fut = s.Update(ctx, r.Handle, RecordChanges{DocumentType: &typ})
	require.NoError(t, fut.Wait(ctx))
	api.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// The create carries the edited metadata, so no update follows.
	api.On("CreateBatch", mock.Anything, "o1", mock.MatchedBy(func(items []remote.BatchItem) bool {
		return len(items) == 1 && items[0].Metadata.DocumentType == "imaging"
	})).Return([]remote.BatchResponse{{ClientRef: r.Handle.String(), DocumentID: "d9"}}, nil).Once()
	require.NoError(t, s.SyncUnsynced(ctx))
	api.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	got, err := st.Foreground().Record(ctx, r.Handle)
	require.NoError(t, err)
	assert.Equal(t, "d9", got.ID)
	assert.False(t, got.IsEdited)
	api.AssertExpectations(t)
}

func TestRecordAdd_SyncDuringSubmissionKeepsOneRow(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	_, submit := expectUpload(api, "d1")
	submit.Run(func(mock.Arguments) {
		_, err := st.UpsertRecords(ctx, []*models.Record{{ID: "d1", OrgID: "o1", DocumentType: "remote"}})
		assert.NoError(t, err)
	})
	s := newRecordService(t, st, api)

	r, fut := s.Add(ctx, RecordDraft{OrgID: "o1", DocumentType: "lab", FilePaths: []string{writeFile(t, "a.pdf", "AAA")}})
	require.NoError(t, fut.Wait(ctx))
	require.NoError(t, s.SyncUnsynced(ctx))

	assert.Equal(t, 1, dbtest.Count(t, st.DB(), `SELECT COUNT(*) FROM records`))
	got, err := st.Foreground().RecordByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, r.Handle, got.Handle)
	assert.Equal(t, "lab", got.DocumentType)
	assert.Equal(t, models.SyncUploadSuccess, got.SyncState)
	api.AssertNumberOfCalls(t, "CreateBatch", 1)
	api.AssertExpectations(t)
}

func TestRecordAdd_SyncBeforeAcceptanceIsMerged(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	create, _ := expectUpload(api, "d1")
	create.Run(func(mock.Arguments) {
		_, err := st.UpsertRecords(ctx, []*models.Record{{ID: "d1", OrgID: "o1", DocumentType: "remote", Tags: []string{"synced"}}})
		assert.NoError(t, err)
	})
	s := newRecordService(t, st, api)

	r, fut := s.Add(ctx, RecordDraft{
		OrgID:        "o1",
		DocumentType: "lab",
		FilePaths:    []string{writeFile(t, "a.pdf", "AAA")},
		Tags:         []string{"blood"},
	})
	require.NoError(t, fut.Wait(ctx))
	require.NoError(t, s.SyncUnsynced(ctx))

	assert.Equal(t, 1, dbtest.Count(t, st.DB(), `SELECT COUNT(*) FROM records`))
	assert.Equal(t, 1, dbtest.Count(t, st.DB(), `SELECT COUNT(*) FROM tags`))
	got, err := st.Foreground().RecordByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, r.Handle, got.Handle)
	assert.Equal(t, []string{"blood"}, got.Tags)
	api.AssertNumberOfCalls(t, "CreateBatch", 1)
}

func TestRecordDelete_WaitsForCreateInFlight(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	_, submit := expectUpload(api, "d1")
	proceed := make(chan struct{})
	submit.Run(func(mock.Arguments) { <-proceed })
	api.On("Delete", mock.Anything, "d1", "o1").Return(common.StatusDeleted, nil).Once()
	s := newRecordService(t, st, api)

	r, created := s.Add(ctx, RecordDraft{OrgID: "o1", DocumentType: "lab", FilePaths: []string{writeFile(t, "a.pdf", "AAA")}})
	deleted := s.Delete(ctx, r.Handle, true)

	select {
	case <-deleted.Done():
		t.Fatalf("delete resolved before the create finished: %v", deleted.Err())
	case <-time.After(20 * time.Millisecond):
	}
	got, err := st.Foreground().Record(ctx, r.Handle)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	close(proceed)
	require.NoError(t, created.Wait(ctx))
	require.NoError(t, deleted.Wait(ctx))

	_, err = st.Foreground().Record(ctx, r.Handle)
	assert.ErrorIs(t, err, common.ErrNotFound)
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDelete_FailedCreateInFlightDeletesLocally(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	proceed := make(chan struct{})
	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).
		Run(func(mock.Arguments) { <-proceed }).
		Return(nil, common.ErrUnavailable).Once()
	s := newRecordService(t, st, api)

	r, created := s.Add(ctx, RecordDraft{OrgID: "o1", DocumentType: "lab", FilePaths: []string{writeFile(t, "a.pdf", "AAA")}})
	deleted := s.Delete(ctx, r.Handle, true)
	close(proceed)

	require.ErrorIs(t, created.Wait(ctx), common.ErrUnavailable)
	require.NoError(t, deleted.Wait(ctx))
	_, err := st.Foreground().Record(ctx, r.Handle)
	assert.ErrorIs(t, err, common.ErrNotFound)
	api.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDelete_RequiresNoContent(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	s := newRecordService(t, st, api)
	h := seedRecord(t, st, "d1")

	api.On("Delete", mock.Anything, "d1", "o1").Return(200, nil).Once()
	require.ErrorIs(t, s.Delete(ctx, h, true).Wait(ctx), common.ErrDeleteNotConfirmed)

	got, err := st.Foreground().Record(ctx, h)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	api.On("Delete", mock.Anything, "d1", "o1").Return(common.StatusDeleted, nil).Once()
	require.NoError(t, s.SyncUnsynced(ctx))

	_, err = st.Foreground().Record(ctx, h)
	assert.ErrorIs(t, err, common.ErrNotFound)
	api.AssertExpectations(t)
}

func TestRecordDelete_LocalOnlyArchivesWithoutCall(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	s := newRecordService(t, st, api)
	h := seedRecord(t, st, "d1")

	require.NoError(t, s.Delete(ctx, h, false).Wait(ctx))
	got, err := st.Foreground().Record(ctx, h)
	require.NoError(t, err)
	assert.True(t, got.IsArchived)
	api.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDelete_TemporaryIDNeverReachesServer(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	s := newRecordService(t, st, api)

	r := &models.Record{ID: models.NewTemporaryID(), OrgID: "o1", DocumentType: "lab", SyncState: models.SyncUploadFailure}
	_, err := st.Perform(ctx, func(u *store.UnitOfWork) error { return u.InsertRecord(r) })
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, r.Handle, true).Wait(ctx))
	_, err = st.Foreground().Record(ctx, r.Handle)
	assert.ErrorIs(t, err, common.ErrNotFound)
	api.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordFetchDetails_StoresSmartReport(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	s := newRecordService(t, st, api)
	h := seedRecord(t, st, "d1")

	api.On("FetchDetails", mock.Anything, "d1", "o1").
		Return(&remote.RecordDetails{SmartReport: []byte(`{"summary":"ok"}`)}, nil).Once()

	d, err := s.FetchDetails(ctx, h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"ok"}`, string(d.SmartReport))

	got, err := st.Foreground().Record(ctx, h)
	require.NoError(t, err)
	assert.True(t, got.IsSmart)
	assert.JSONEq(t, `{"summary":"ok"}`, string(got.SmartReport))
}

func TestRecordSyncUnsynced_PassOrderAndAggregateError(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	s := newRecordService(t, st, api, WithTracerProvider(tp))

	var mu sync.Mutex
	var calls []string
	track := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
		}
	}

	edited := seedRecord(t, st, "d1")
	_, err := st.UpdateRecord(ctx, edited, func(r *models.Record) error {
		r.IsEdited = true
		return nil
	})
	require.NoError(t, err)
	archived := seedRecord(t, st, "d2")
	_, err = st.UpdateRecord(ctx, archived, func(r *models.Record) error {
		r.IsArchived = true
		return nil
	})
	require.NoError(t, err)

	pending := &models.Record{ID: models.NewTemporaryID(), OrgID: "o1", DocumentType: "lab", FilePaths: []string{writeFile(t, "a.pdf", "AAA")}}
	invalid := &models.Record{ID: models.NewTemporaryID(), OrgID: "o1"}
	_, err = st.Perform(ctx, func(u *store.UnitOfWork) error {
		if err := u.InsertRecord(pending); err != nil {
			return err
		}
		return u.InsertRecord(invalid)
	})
	require.NoError(t, err)

	api.On("CreateBatch", mock.Anything, "o1", mock.Anything).
		Return([]remote.BatchResponse{{ClientRef: pending.Handle.String(), DocumentID: "d3"}}, nil).
		Run(track("create")).Once()
	api.On("Update", mock.Anything, "d1", "o1", mock.Anything).Return(nil).Run(track("update")).Once()
	api.On("Delete", mock.Anything, "d2", "o1").Return(common.StatusDeleted, nil).Run(track("delete")).Once()

	err = s.SyncUnsynced(ctx)
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, []string{"create", "update", "delete"}, calls)

	got, err := st.Foreground().Record(ctx, invalid.Handle)
	require.NoError(t, err)
	assert.Equal(t, models.SyncUploadFailure, got.SyncState)

	n, err := st.Foreground().FindRecordHandles(ctx, query.ByID("d2"))
	require.NoError(t, err)
	assert.Empty(t, n)

	var names []string
	for _, sp := range sr.Ended() {
		names = append(names, sp.Name())
	}
	assert.Equal(t, []string{"reconcile record create", "reconcile record edit", "reconcile record delete"}, names)
	api.AssertExpectations(t)
}

func TestRecordSyncUnsynced_SkipsCreateInFlight(t *testing.T) {
	st := newStore(t)
	api := &mocks.RecordsAPI{}
	s := newRecordService(t, st, api)

	r := &models.Record{ID: models.NewTemporaryID(), OrgID: "o1", DocumentType: "lab", FilePaths: []string{"x"}}
	_, err := st.Perform(ctx, func(u *store.UnitOfWork) error { return u.InsertRecord(r) })
	require.NoError(t, err)

	require.True(t, s.claim(r.Handle))
	require.NoError(t, s.SyncUnsynced(ctx))
	s.release(r.Handle)
	api.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything, mock.Anything)
}

func newCaseService(t *testing.T, st *store.Store, api *mocks.CasesAPI) *CaseService {
	t.Helper()
	s := NewCaseService(st, api, WithClock(clock()))
	t.Cleanup(s.Wait)
	return s
}

func TestCaseAdd_CreatesRemotely(t *testing.T) {
	st := newStore(t)
	api := &mocks.CasesAPI{}
	s := newCaseService(t, st, api)

	api.On("Create", mock.Anything, "o1", mock.MatchedBy(func(it remote.CaseItem) bool {
		return it.Name == "Checkup" && it.ID != "" && it.Status == "active"
	})).Return(nil).Once()

	c, fut := s.Add(ctx, CaseDraft{OrgID: "o1", Name: "Checkup", TypeCode: "general"})
	require.NotNil(t, c)
	assert.False(t, c.IsRemoteCreated)
	require.NoError(t, fut.Wait(ctx))

	got, err := st.Foreground().Case(ctx, c.Handle)
	require.NoError(t, err)
	assert.True(t, got.IsRemoteCreated)
	assert.Equal(t, c.ID, got.ID)
	api.AssertExpectations(t)
}

func TestCaseUpdate_FailureKeepsEdited(t *testing.T) {
	st := newStore(t)
	api := &mocks.CasesAPI{}
	s := newCaseService(t, st, api)
	h := seedCase(t, st, "c1", "Old")

	name := "New"
	want := remote.CaseFields{Name: "New", TypeCode: "general"}
	api.On("Update", mock.Anything, "c1", "o1", want).Return(common.ErrUnavailable).Once()

	_, fut := s.Update(ctx, h, CaseChanges{Name: &name})
	require.ErrorIs(t, fut.Wait(ctx), common.ErrUnavailable)
	got, err := st.Foreground().Case(ctx, h)
	require.NoError(t, err)
	assert.True(t, got.IsEdited)
	assert.Equal(t, "New", got.Name)

	api.On("Update", mock.Anything, "c1", "o1", want).Return(nil).Once()
	require.NoError(t, s.SyncUnsynced(ctx))
	got, err = st.Foreground().Case(ctx, h)
	require.NoError(t, err)
	assert.False(t, got.IsEdited)
	api.AssertExpectations(t)
}

func TestCaseDelete_DetachesRecordsOnConfirmation(t *testing.T) {
	st := newStore(t)
	api := &mocks.CasesAPI{}
	s := newCaseService(t, st, api)
	h := seedCase(t, st, "c1", "Visit")
	rh := seedRecord(t, st, "d1")
	_, err := st.UpdateRecord(ctx, rh, func(r *models.Record) error {
		r.Cases = []models.Handle{h}
		return nil
	})
	require.NoError(t, err)

	api.On("Delete", mock.Anything, "c1", "o1").Return(common.StatusDeleted, nil).Once()
	require.NoError(t, s.Delete(ctx, h, true).Wait(ctx))

	_, err = st.Foreground().Case(ctx, h)
	assert.ErrorIs(t, err, common.ErrNotFound)
	hs, err := st.Foreground().CaseHandles(ctx, rh)
	require.NoError(t, err)
	assert.Empty(t, hs)
	api.AssertExpectations(t)
}

func TestCaseDelete_NeverCreatedIsLocal(t *testing.T) {
	st := newStore(t)
	api := &mocks.CasesAPI{}
	s := newCaseService(t, st, api)
	api.On("Create", mock.Anything, "o1", mock.Anything).Return(common.ErrNetwork).Once()

	c, fut := s.Add(ctx, CaseDraft{OrgID: "o1", Name: "Draft"})
	require.ErrorIs(t, fut.Wait(ctx), common.ErrNetwork)

	require.NoError(t, s.Delete(ctx, c.Handle, true).Wait(ctx))
	_, err := st.Foreground().Case(ctx, c.Handle)
	assert.ErrorIs(t, err, common.ErrNotFound)
	api.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestCaseSyncUnsynced_ValidationFailsBeforeCall(t *testing.T) {
	st := newStore(t)
	api := &mocks.CasesAPI{}
	s := newCaseService(t, st, api)

	c := &models.Case{OrgID: "o1"}
	_, err := st.Perform(ctx, func(u *store.UnitOfWork) error { return u.InsertCase(c) })
	require.NoError(t, err)

	err = s.SyncUnsynced(ctx)
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)
	api.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCaseDelete_WaitsForCreateInFlight(t *testing.T) {
	st := newStore(t)
	api := &mocks.CasesAPI{}
	s := newCaseService(t, st, api)

	proceed := make(chan struct{})
	api.On("Create", mock.Anything, "o1", mock.Anything).Run(func(mock.Arguments) { <-proceed }).Return(nil).Once()

	c, created := s.Add(ctx, CaseDraft{OrgID: "o1", Name: "Visit"})
	api.On("Delete", mock.Anything, c.ID, "o1").Return(common.StatusDeleted, nil).Once()
	deleted := s.Delete(ctx, c.Handle, true)

	select {
	case <-deleted.Done():
		t.Fatalf("delete resolved before the create finished: %v", deleted.Err())
	case <-time.After(20 * time.Millisecond):
	}

	close(proceed)
	require.NoError(t, created.Wait(ctx))
	require.NoError(t, deleted.Wait(ctx))

	_, err := st.Foreground().Case(ctx, c.Handle)
	assert.ErrorIs(t, err, common.ErrNotFound)
	api.AssertExpectations(t)
}
