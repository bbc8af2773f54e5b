package models

import "time"

type CaseStatus string

const (
	CaseActive  CaseStatus = "active"
	CaseDeleted CaseStatus = "deleted"
)

// Case groups records, e.g. a visit or an episode.
type Case struct {
	Handle Handle

	// ID is generated locally and accepted by the server on create.
	ID       string
	Name     string
	TypeCode string
	OrgID    string

	CreatedAt time.Time
	UpdatedAt time.Time
	Date      time.Time

	IsRemoteCreated bool
	IsEdited        bool
	Status          CaseStatus
}

func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// CaseType is static lookup data.
type CaseType struct {
	Code string
	Name string
	Icon string
}

func DefaultCaseTypes() []CaseType {
	return []CaseType{
		{Code: "visit", Name: "Doctor visit", Icon: "stethoscope"},
		{Code: "hospitalization", Name: "Hospitalization", Icon: "bed"},
		{Code: "lab", Name: "Laboratory", Icon: "flask"},
		{Code: "imaging", Name: "Imaging", Icon: "scan"},
		{Code: "other", Name: "Other", Icon: "folder"},
	}
}
