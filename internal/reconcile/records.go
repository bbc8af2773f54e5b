package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/medsync/internal/adapters"
	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dispatch"
	"github.com/dmitrijs2005/medsync/internal/fanout"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/store"
	"github.com/dmitrijs2005/medsync/internal/upload"
)

// RecordDraft describes a new document.
type RecordDraft struct {
	OrgID        string
	DocumentType string
	DocumentDate time.Time
	FilePaths    []string
	Tags         []string
	Cases        []models.Handle
}

// RecordChanges describes an edit. Nil fields are left unchanged; a non-nil
// empty Tags or Cases clears the set.
type RecordChanges struct {
	DocumentType *string
	DocumentDate *time.Time
	Tags         []string
	Cases        []models.Handle
}

func (c RecordChanges) apply(r *models.Record) {
	if c.DocumentType != nil {
		r.DocumentType = *c.DocumentType
	}
	if c.DocumentDate != nil {
		r.DocumentDate = *c.DocumentDate
	}
	if c.Tags != nil {
		r.Tags = slices.Clone(c.Tags)
	}
	if c.Cases != nil {
		r.Cases = slices.Clone(c.Cases)
	}
}

// RecordService reconciles records with the server.
type RecordService struct {
	*base
	api     remote.RecordsAPI
	uploads *upload.Manager
}

func NewRecordService(st *store.Store, api remote.RecordsAPI, uploads *upload.Manager, opts ...Option) *RecordService {
	if uploads == nil {
		uploads = upload.New(api)
	}
	return &RecordService{base: newBase(st, models.EntityRecord, opts), api: api, uploads: uploads}
}

// Add stores a new record under a temporary id and uploads it in the
// background. The returned record is usable whatever the upload outcome;
// a failed upload leaves it in upload_failure for SyncUnsynced.
func (s *RecordService) Add(ctx context.Context, d RecordDraft) (*models.Record, *dispatch.Future) {
	now := s.now()
	r := &models.Record{
		ID:           models.NewTemporaryID(),
		OrgID:        d.OrgID,
		DocumentType: d.DocumentType,
		DocumentDate: d.DocumentDate,
		UploadDate:   now,
		UpdatedAt:    now,
		FilePaths:    slices.Clone(d.FilePaths),
		Tags:         slices.Clone(d.Tags),
		Cases:        slices.Clone(d.Cases),
		SyncState:    models.SyncUploading,
	}
	if _, err := s.st.Perform(ctx, func(u *store.UnitOfWork) error { return u.InsertRecord(r) }); err != nil {
		return nil, dispatch.Resolved(err)
	}

	out, err := s.st.Foreground().Record(ctx, r.Handle)
	if err != nil {
		out = r.Clone()
	}
	h := r.Handle
	s.claim(h)
	return out, s.async(ctx, func(ctx context.Context) error {
		return s.createClaimed(ctx, []models.Handle{h})[0]
	})
}

// Update changes the record locally, marks it edited and pushes the edit.
// Records the server has not accepted yet are pushed by their create.
func (s *RecordService) Update(ctx context.Context, h models.Handle, ch RecordChanges) (*models.Record, *dispatch.Future) {
	_, err := s.st.UpdateRecord(ctx, h, func(r *models.Record) error {
		ch.apply(r)
		r.IsEdited = true
		r.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, dispatch.Resolved(err)
	}
	out, err := s.st.Foreground().Record(ctx, h)
	if err != nil {
		return nil, dispatch.Resolved(err)
	}
	return out, s.async(ctx, func(ctx context.Context) error { return s.push(ctx, h) })
}

// Delete archives the record. With fromServer the server deletion runs in
// the background and the row is removed only once the server confirms it.
// A record the server never accepted is removed locally at once.
func (s *RecordService) Delete(ctx context.Context, h models.Handle, fromServer bool) *dispatch.Future {
	r, err := s.st.Foreground().Record(ctx, h)
	if err != nil {
		return dispatch.Resolved(err)
	}
	if neverUploaded(r) && !s.creating(h) {
		_, err := s.st.DeleteRecords(ctx, query.ByHandle(h))
		return dispatch.Resolved(err)
	}

	if _, err := s.st.UpdateRecord(ctx, h, func(r *models.Record) error {
		r.IsArchived = true
		return nil
	}); err != nil {
		return dispatch.Resolved(err)
	}
	if !fromServer {
		return dispatch.Resolved(nil)
	}
	return s.async(ctx, func(ctx context.Context) error { return s.finalizeDelete(ctx, h) })
}

// FetchDetails loads the server-side details of an uploaded record and
// stores its smart report locally.
func (s *RecordService) FetchDetails(ctx context.Context, h models.Handle) (*remote.RecordDetails, error) {
	r, err := s.st.Foreground().Record(ctx, h)
	if err != nil {
		return nil, err
	}
	if !r.Authoritative() {
		return nil, common.Missing("record", h.String(), "server id")
	}
	d, err := s.api.FetchDetails(ctx, r.ID, r.OrgID)
	if err != nil {
		return nil, err
	}
	if _, err := s.st.UpdateRecord(ctx, h, func(r *models.Record) error {
		if len(d.SmartReport) > 0 {
			r.SmartReport = slices.Clone([]byte(d.SmartReport))
			r.IsSmart = true
		}
		r.IsAnalyzing = false
		return nil
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// SyncUnsynced pushes everything not yet on the server: pending uploads,
// then pending edits, then archived records. All passes run; the result
// combines their failures.
func (s *RecordService) SyncUnsynced(ctx context.Context) error {
	return s.runPasses(ctx,
		pass{name: "create", run: s.createPass},
		pass{name: "edit", run: s.editPass},
		pass{name: "delete", run: s.deletePass},
	)
}

func (s *RecordService) createPass(ctx context.Context) error {
	hs, err := s.st.Foreground().FindRecordHandles(ctx, query.PendingSync())
	if err != nil || len(hs) == 0 {
		return err
	}
	return fanout.Collect("create records", len(hs), s.createMany(ctx, hs))
}

func (s *RecordService) editPass(ctx context.Context) error {
	hs, err := s.st.Foreground().FindRecordHandles(ctx, query.And(query.PendingEdit(), query.Uploaded()))
	if err != nil || len(hs) == 0 {
		return err
	}
	return fanout.Each(ctx, "update records", hs, s.limit, s.push)
}

func (s *RecordService) deletePass(ctx context.Context) error {
	hs, err := s.st.Foreground().FindRecordHandles(ctx, query.PendingArchivedDeletion())
	if err != nil || len(hs) == 0 {
		return err
	}
	return fanout.Each(ctx, "delete records", hs, s.limit, s.finalizeDelete)
}

func neverUploaded(r *models.Record) bool {
	return r.ID == "" || models.IsTemporaryID(r.ID)
}

func validateForCreate(r *models.Record) error {
	switch {
	case r.OrgID == "":
		return common.Missing("record", r.Handle.String(), "org id")
	case r.DocumentType == "":
		return common.Missing("record", r.Handle.String(), "document type")
	}
	return nil
}

func validateForPush(r *models.Record) error {
	if r.ID == "" || models.IsTemporaryID(r.ID) {
		return common.Missing("record", r.Handle.String(), "id")
	}
	return validateForCreate(r)
}

// createMany uploads the given records, one create-batch per organization.
// Records already being created elsewhere are skipped.
func (s *RecordService) createMany(ctx context.Context, hs []models.Handle) []error {
	errs := make([]error, len(hs))
	var claimed []models.Handle
	var at []int
	for i, h := range hs {
		if !s.claim(h) {
			s.log.Debug(ctx, "create already in flight", "handle", h)
			continue
		}
		claimed = append(claimed, h)
		at = append(at, i)
	}
	for j, err := range s.createClaimed(ctx, claimed) {
		errs[at[j]] = err
	}
	return errs
}

// createClaimed uploads records whose claims the caller holds and releases
// them when done.
func (s *RecordService) createClaimed(ctx context.Context, hs []models.Handle) []error {
	defer func() {
		for _, h := range hs {
			s.release(h)
		}
	}()

	errs := make([]error, len(hs))
	snaps := make([]*models.Record, len(hs))
	byOrg := make(map[string][]int)
	var orgs []string

	for i, h := range hs {
		r, err := s.st.Foreground().Record(ctx, h)
		if err != nil {
			errs[i] = err
			continue
		}
		if err := validateForCreate(r); err != nil {
			errs[i] = err
			s.markUploadFailed(ctx, h, err)
			continue
		}
		snaps[i] = r
		if _, ok := byOrg[r.OrgID]; !ok {
			orgs = append(orgs, r.OrgID)
		}
		byOrg[r.OrgID] = append(byOrg[r.OrgID], i)
	}

	_ = fanout.Each(ctx, "upload", orgs, s.limit, func(ctx context.Context, oid string) error {
		idxs := byOrg[oid]
		items := make([]upload.Item, len(idxs))
		for j, i := range idxs {
			r := snaps[i]
			items[j] = upload.Item{
				Ref:      r.Handle.String(),
				Paths:    r.FilePaths,
				Metadata: adapters.RecordFields(r, s.caseIDs(ctx, r.Cases)),
				Accepted: func(ctx context.Context, id string) error {
					return s.adopt(ctx, r.Handle, id, nil)
				},
			}
		}
		results, _ := s.uploads.Upload(ctx, oid, items)
		for j, res := range results {
			errs[idxs[j]] = s.applyCreate(ctx, snaps[idxs[j]], res)
		}
		return nil
	})
	return errs
}

// adopt moves the server id onto the local record in one unit of work, so a
// sync that already stored the document never leaves a second row behind.
func (s *RecordService) adopt(ctx context.Context, h models.Handle, id string, mutate func(*models.Record) error) error {
	_, err := s.st.Perform(ctx, func(u *store.UnitOfWork) error {
		_, err := u.AdoptRecordID(h, id, mutate)
		return err
	})
	return err
}

func (s *RecordService) applyCreate(ctx context.Context, snap *models.Record, res upload.Result) error {
	if res.Err != nil {
		s.markUploadFailed(ctx, snap.Handle, res.Err)
		return res.Err
	}
	err := s.adopt(ctx, snap.Handle, res.DocumentID, func(r *models.Record) error {
		r.ContentHash = res.ContentHash
		r.SyncState = models.SyncUploadSuccess
		if r.UpdatedAt.Equal(snap.UpdatedAt) {
			r.IsEdited = false
		}
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "record uploaded but not updated locally", "handle", snap.Handle, "id", res.DocumentID, "err", err)
		return err
	}
	s.log.Info(ctx, "record uploaded", "handle", snap.Handle, "id", res.DocumentID)

	// Edits made while the upload was running go out now.
	if cur, err := s.st.Foreground().Record(ctx, snap.Handle); err == nil && cur.IsEdited && !cur.IsArchived {
		return s.push(ctx, snap.Handle)
	}
	return nil
}

func (s *RecordService) markUploadFailed(ctx context.Context, h models.Handle, cause error) {
	s.log.Warn(ctx, "record upload failed", "handle", h, "err", cause)
	if _, err := s.st.UpdateRecord(ctx, h, func(r *models.Record) error {
		r.SyncState = models.SyncUploadFailure
		return nil
	}); err != nil {
		s.log.Error(ctx, "mark upload failure", "handle", h, "err", err)
	}
}

// push sends the local metadata of an uploaded record and clears isEdited
// unless the record changed meanwhile.
func (s *RecordService) push(ctx context.Context, h models.Handle) error {
	r, err := s.st.Foreground().Record(ctx, h)
	if err != nil {
		return err
	}
	if !r.Authoritative() {
		s.log.Debug(ctx, "edit deferred until upload", "handle", h)
		return nil
	}
	if err := validateForPush(r); err != nil {
		return err
	}

	if err := s.api.Update(ctx, r.ID, r.OrgID, adapters.RecordFields(r, s.caseIDs(ctx, r.Cases))); err != nil {
		s.log.Warn(ctx, "record update not pushed", "handle", h, "id", r.ID, "err", err)
		return fmt.Errorf("update %s: %w", r.ID, err)
	}

	_, err = s.st.UpdateRecord(ctx, h, func(cur *models.Record) error {
		if !cur.UpdatedAt.Equal(r.UpdatedAt) {
			return errStale
		}
		cur.IsEdited = false
		return nil
	})
	if errors.Is(err, errStale) {
		return nil
	}
	return err
}

// finalizeDelete removes an archived record from the server and then
// locally. A create still in flight is awaited first, since only its
// outcome tells whether the server holds the document.
func (s *RecordService) finalizeDelete(ctx context.Context, h models.Handle) error {
	if err := s.settled(ctx, h); err != nil {
		return err
	}
	r, err := s.st.Foreground().Record(ctx, h)
	if err != nil {
		return err
	}
	if neverUploaded(r) {
		_, err := s.st.DeleteRecords(ctx, query.ByHandle(h))
		return err
	}
	if r.OrgID == "" {
		return common.Missing("record", h.String(), "org id")
	}

	status, err := s.api.Delete(ctx, r.ID, r.OrgID)
	if err != nil {
		s.log.Warn(ctx, "record delete not pushed", "handle", h, "id", r.ID, "err", err)
		return fmt.Errorf("delete %s: %w", r.ID, err)
	}
	if status != common.StatusDeleted {
		s.log.Warn(ctx, "record delete not confirmed", "handle", h, "id", r.ID, "status", status)
		return fmt.Errorf("delete %s: %w: status %d", r.ID, common.ErrDeleteNotConfirmed, status)
	}
	_, err = s.st.DeleteRecords(ctx, query.ByHandle(h))
	return err
}

// caseIDs maps case handles to server ids, skipping cases that vanished.
func (s *RecordService) caseIDs(ctx context.Context, hs []models.Handle) []string {
	ids := make([]string, 0, len(hs))
	for _, h := range hs {
		c, err := s.st.Foreground().Case(ctx, h)
		if err != nil {
			s.log.Debug(ctx, "case not found", "case", h, "err", err)
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids
}
