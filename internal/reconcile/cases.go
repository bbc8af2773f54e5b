package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medsync/internal/adapters"
	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/dispatch"
	"github.com/dmitrijs2005/medsync/internal/fanout"
	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/query"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/store"
)

type CaseDraft struct {
	OrgID    string
	Name     string
	TypeCode string
	Date     time.Time
}

// CaseChanges describes an edit; nil fields are left unchanged.
type CaseChanges struct {
	Name     *string
	TypeCode *string
	Date     *time.Time
}

func (c CaseChanges) apply(cs *models.Case) {
	if c.Name != nil {
		cs.Name = *c.Name
	}
	if c.TypeCode != nil {
		cs.TypeCode = *c.TypeCode
	}
	if c.Date != nil {
		cs.Date = *c.Date
	}
}

// CaseService reconciles cases with the server. Case ids are generated
// locally and kept by the server, so a create needs no id exchange.
type CaseService struct {
	*base
	api remote.CasesAPI
}

func NewCaseService(st *store.Store, api remote.CasesAPI, opts ...Option) *CaseService {
	return &CaseService{base: newBase(st, models.EntityCase, opts), api: api}
}

// Add stores a new case and creates it on the server in the background.
func (s *CaseService) Add(ctx context.Context, d CaseDraft) (*models.Case, *dispatch.Future) {
	now := s.now()
	c := &models.Case{
		Name:      d.Name,
		TypeCode:  d.TypeCode,
		OrgID:     d.OrgID,
		Date:      d.Date,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.CaseActive,
	}
	if _, err := s.st.Perform(ctx, func(u *store.UnitOfWork) error { return u.InsertCase(c) }); err != nil {
		return nil, dispatch.Resolved(err)
	}
	h := c.Handle
	s.claim(h)
	return c.Clone(), s.async(ctx, func(ctx context.Context) error { return s.createClaimed(ctx, h) })
}

// Update changes the case locally, marks it edited and pushes the edit.
func (s *CaseService) Update(ctx context.Context, h models.Handle, ch CaseChanges) (*models.Case, *dispatch.Future) {
	if _, err := s.st.UpdateCase(ctx, h, func(c *models.Case) error {
		ch.apply(c)
		c.IsEdited = true
		c.UpdatedAt = s.now()
		return nil
	}); err != nil {
		return nil, dispatch.Resolved(err)
	}
	out, err := s.st.Foreground().Case(ctx, h)
	if err != nil {
		return nil, dispatch.Resolved(err)
	}
	return out, s.async(ctx, func(ctx context.Context) error { return s.push(ctx, h) })
}

// Delete marks the case deleted. With fromServer the server deletion runs
// in the background and the row is removed once the server confirms it. A
// case the server never saw is removed locally at once.
func (s *CaseService) Delete(ctx context.Context, h models.Handle, fromServer bool) *dispatch.Future {
	c, err := s.st.Foreground().Case(ctx, h)
	if err != nil {
		return dispatch.Resolved(err)
	}
	if !c.IsRemoteCreated && !s.creating(h) {
		_, err := s.st.DeleteCases(ctx, query.CaseByHandle(h))
		return dispatch.Resolved(err)
	}
	if _, err := s.st.UpdateCase(ctx, h, func(c *models.Case) error {
		c.Status = models.CaseDeleted
		return nil
	}); err != nil {
		return dispatch.Resolved(err)
	}
	if !fromServer {
		return dispatch.Resolved(nil)
	}
	return s.async(ctx, func(ctx context.Context) error { return s.finalizeDelete(ctx, h) })
}

func (s *CaseService) SyncUnsynced(ctx context.Context) error {
	return s.runPasses(ctx,
		pass{name: "create", run: s.createPass},
		pass{name: "edit", run: s.editPass},
		pass{name: "delete", run: s.deletePass},
	)
}

func (s *CaseService) createPass(ctx context.Context) error {
	hs, err := s.st.Foreground().FindCaseHandles(ctx, query.CasesPendingCreate())
	if err != nil || len(hs) == 0 {
		return err
	}
	return fanout.Each(ctx, "create cases", hs, s.limit, s.create)
}

func (s *CaseService) editPass(ctx context.Context) error {
	hs, err := s.st.Foreground().FindCaseHandles(ctx, query.CasesPendingEdit())
	if err != nil || len(hs) == 0 {
		return err
	}
	return fanout.Each(ctx, "update cases", hs, s.limit, s.push)
}

func (s *CaseService) deletePass(ctx context.Context) error {
	hs, err := s.st.Foreground().FindCaseHandles(ctx, query.CasesPendingDeletion())
	if err != nil || len(hs) == 0 {
		return err
	}
	return fanout.Each(ctx, "delete cases", hs, s.limit, s.finalizeDelete)
}

func validateCase(c *models.Case) error {
	switch {
	case c.ID == "":
		return common.Missing("case", c.Handle.String(), "id")
	case c.Name == "":
		return common.Missing("case", c.Handle.String(), "name")
	case c.OrgID == "":
		return common.Missing("case", c.Handle.String(), "org id")
	}
	return nil
}

func (s *CaseService) create(ctx context.Context, h models.Handle) error {
	if !s.claim(h) {
		s.log.Debug(ctx, "create already in flight", "handle", h)
		return nil
	}
	return s.createClaimed(ctx, h)
}

func (s *CaseService) createClaimed(ctx context.Context, h models.Handle) error {
	defer s.release(h)

	c, err := s.st.Foreground().Case(ctx, h)
	if err != nil {
		return err
	}
	if c.IsRemoteCreated {
		return nil
	}
	if err := validateCase(c); err != nil {
		return err
	}
	if err := s.api.Create(ctx, c.OrgID, adapters.CaseItem(c)); err != nil {
		s.log.Warn(ctx, "case create not pushed", "handle", h, "id", c.ID, "err", err)
		return fmt.Errorf("create case %s: %w", c.ID, err)
	}

	var edited bool
	if _, err := s.st.UpdateCase(ctx, h, func(cur *models.Case) error {
		cur.IsRemoteCreated = true
		if cur.UpdatedAt.Equal(c.UpdatedAt) {
			cur.IsEdited = false
		}
		edited = cur.IsEdited && cur.Status == models.CaseActive
		return nil
	}); err != nil {
		return err
	}
	s.log.Info(ctx, "case created", "handle", h, "id", c.ID)
	if edited {
		return s.push(ctx, h)
	}
	return nil
}

func (s *CaseService) push(ctx context.Context, h models.Handle) error {
	c, err := s.st.Foreground().Case(ctx, h)
	if err != nil {
		return err
	}
	if !c.IsRemoteCreated {
		s.log.Debug(ctx, "edit deferred until create", "handle", h)
		return nil
	}
	if err := validateCase(c); err != nil {
		return err
	}
	if err := s.api.Update(ctx, c.ID, c.OrgID, adapters.CaseFields(c)); err != nil {
		s.log.Warn(ctx, "case update not pushed", "handle", h, "id", c.ID, "err", err)
		return fmt.Errorf("update case %s: %w", c.ID, err)
	}

	_, err = s.st.UpdateCase(ctx, h, func(cur *models.Case) error {
		if !cur.UpdatedAt.Equal(c.UpdatedAt) {
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

func (s *CaseService) finalizeDelete(ctx context.Context, h models.Handle) error {
	if err := s.settled(ctx, h); err != nil {
		return err
	}
	c, err := s.st.Foreground().Case(ctx, h)
	if err != nil {
		return err
	}
	if !c.IsRemoteCreated {
		_, err := s.st.DeleteCases(ctx, query.CaseByHandle(h))
		return err
	}

	status, err := s.api.Delete(ctx, c.ID, c.OrgID)
	if err != nil {
		s.log.Warn(ctx, "case delete not pushed", "handle", h, "id", c.ID, "err", err)
		return fmt.Errorf("delete case %s: %w", c.ID, err)
	}
	if status != common.StatusDeleted {
		return fmt.Errorf("delete case %s: %w: status %d", c.ID, common.ErrDeleteNotConfirmed, status)
	}
	_, err = s.st.DeleteCases(ctx, query.CaseByHandle(h))
	return err
}
