package query

import (
	"strings"

	"github.com/dmitrijs2005/medsync/internal/models"
)

// GroupFilter narrows grouped counts. Zero fields are ignored.
type GroupFilter struct {
	OrgID        string
	CaseHandle   models.Handle
	DocumentType string
}

func (f GroupFilter) predicate() Predicate {
	p := NotArchived()
	if f.OrgID != "" {
		p = p.And(ByOrg(f.OrgID))
	}
	if f.CaseHandle != "" {
		p = p.And(ByCase(f.CaseHandle))
	}
	if f.DocumentType != "" {
		p = p.And(ByDocumentType(f.DocumentType))
	}
	return p
}

// Aggregation is a grouped count; each result row is (key, count).
type Aggregation struct {
	query string
	args  []any
}

func (a Aggregation) SQL() (string, []any) { return a.query, a.args }

func CountByDocumentType(f GroupFilter) Aggregation {
	w, args := f.predicate().Where()
	q := strings.Join([]string{
		"SELECT r.document_type, COUNT(*) FROM records r WHERE ", w,
		" GROUP BY r.document_type",
	}, "")
	return Aggregation{query: q, args: args}
}

// CountByTag counts records per tag name.
func CountByTag(f GroupFilter) Aggregation {
	w, args := f.predicate().Where()
	q := strings.Join([]string{
		"SELECT t.name, COUNT(DISTINCT r.handle) FROM tags t",
		" JOIN record_tags rt ON rt.tag_id = t.id",
		" JOIN records r ON r.handle = rt.record_handle WHERE ", w,
		" GROUP BY t.id, t.name",
	}, "")
	return Aggregation{query: q, args: args}
}
