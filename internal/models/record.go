// Package models defines the local entities kept by medsync: records,
// cases, tags and case types.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handle is the stable local identity of a Record or Case. It never changes,
// even when the server assigns the entity a new id.
type Handle string

func NewHandle() Handle { return Handle(uuid.NewString()) }

func (h Handle) String() string { return string(h) }

// Entity names a table family in the change log.
type Entity string

const (
	EntityRecord Entity = "record"
	EntityCase   Entity = "case"
)

// ChangeOp is the kind of mutation written to the change log.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// SyncState tracks upload progress of a record.
type SyncState string

const (
	SyncUploading     SyncState = "uploading"
	SyncUploadSuccess SyncState = "upload_success"
	SyncUploadFailure SyncState = "upload_failure"
)

const temporaryIDPrefix = "local-"

// NewTemporaryID returns a placeholder id for a record the server has not
// accepted yet.
func NewTemporaryID() string { return temporaryIDPrefix + uuid.NewString() }

// IsTemporaryID reports whether id was produced by NewTemporaryID.
func IsTemporaryID(id string) bool { return strings.HasPrefix(id, temporaryIDPrefix) }

// Record is a document owned by an organization-scoped user.
type Record struct {
	Handle Handle

	// ID is server-assigned once created; before that it holds a temporary id.
	ID           string
	ContentHash  string
	DocumentType string
	DocumentDate time.Time
	UploadDate   time.Time
	UpdatedAt    time.Time
	OrgID        string
	Thumbnail    string
	FilePaths    []string

	SyncState   SyncState
	IsAnalyzing bool
	IsSmart     bool
	// IsEdited means local state diverges from the last confirmed remote state.
	IsEdited    bool
	IsArchived  bool
	SmartReport []byte

	// Tags and Cases are projections of the relationship tables.
	Tags  []string
	Cases []Handle

	// CaseIDs carries remote case ids from wire payloads; they are resolved
	// to Cases when the record is upserted.
	CaseIDs []string
}

// Authoritative reports whether the server has accepted this record.
func (r *Record) Authoritative() bool {
	return r.ID != "" && !IsTemporaryID(r.ID) && r.SyncState == SyncUploadSuccess
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.FilePaths = slices.Clone(r.FilePaths)
	c.SmartReport = slices.Clone(r.SmartReport)
	c.Tags = slices.Clone(r.Tags)
	c.Cases = slices.Clone(r.Cases)
	c.CaseIDs = slices.Clone(r.CaseIDs)
	return &c
}
