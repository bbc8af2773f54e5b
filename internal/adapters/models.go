// Package adapters maps server payloads to local models and back.
//
// Mapping is pure. The only side effect lives in Converter, which fetches
// record thumbnails on a best-effort basis while converting a page.
package adapters

import (
	"slices"

	"github.com/dmitrijs2005/medsync/internal/models"
	"github.com/dmitrijs2005/medsync/internal/remote"
)

// RecordFromRemote builds an insertable record. Remote case ids are kept
// in CaseIDs and resolved by the store.
func RecordFromRemote(it remote.RecordItem) *models.Record {
	return &models.Record{
		ID:           it.ID,
		ContentHash:  it.ContentHash,
		DocumentType: it.DocumentType,
		Tags:         slices.Clone(it.Tags),
		DocumentDate: EpochTime(it.DocumentDate),
		UploadDate:   EpochTime(it.UploadDate),
		UpdatedAt:    EpochTime(it.UpdatedAt),
		OrgID:        it.OrgID,
		SyncState:    models.SyncUploadSuccess,
		IsSmart:      it.IsSmart,
		IsAnalyzing:  it.IsAnalyzing,
		CaseIDs:      slices.Clone(it.CaseIDs),
	}
}

// RecordFields returns the editable metadata of r; caseIDs are the server
// ids of r's cases.
func RecordFields(r *models.Record, caseIDs []string) remote.RecordFields {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	if caseIDs == nil {
		caseIDs = []string{}
	}
	return remote.RecordFields{
		DocumentType: r.DocumentType,
		DocumentDate: Epoch(r.DocumentDate),
		Tags:         slices.Clone(tags),
		CaseIDs:      slices.Clone(caseIDs),
	}
}

func CaseFromRemote(it remote.CaseItem) *models.Case {
	status := models.CaseStatus(it.Status)
	if status == "" {
		status = models.CaseActive
	}
	return &models.Case{
		ID:              it.ID,
		Name:            it.Name,
		TypeCode:        it.TypeCode,
		OrgID:           it.OrgID,
		CreatedAt:       EpochTime(it.CreatedAt),
		UpdatedAt:       EpochTime(it.UpdatedAt),
		Date:            EpochTime(it.Date),
		IsRemoteCreated: true,
		Status:          status,
	}
}

// CaseItem is the create payload of c.
func CaseItem(c *models.Case) remote.CaseItem {
	return remote.CaseItem{
		ID:        c.ID,
		Name:      c.Name,
		TypeCode:  c.TypeCode,
		OrgID:     c.OrgID,
		CreatedAt: Epoch(c.CreatedAt),
		UpdatedAt: Epoch(c.UpdatedAt),
		Date:      Epoch(c.Date),
		Status:    string(c.Status),
	}
}

func CaseFields(c *models.Case) remote.CaseFields {
	return remote.CaseFields{Name: c.Name, TypeCode: c.TypeCode, Date: Epoch(c.Date)}
}
