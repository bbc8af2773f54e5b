package query

import (
	"strings"

	"github.com/dmitrijs2005/medsync/internal/models"
)

// Predicate filters and orders records.
type Predicate struct{ clause }

func All() Predicate { return Predicate{} }

// And combines predicates; the last non-empty ordering and limit win.
func And(ps ...Predicate) Predicate {
	var c clause
	for _, p := range ps {
		c = c.and(p.clause)
	}
	return Predicate{c}
}

func (p Predicate) And(o Predicate) Predicate { return And(p, o) }

func (p Predicate) OrderBy(order string) Predicate {
	p.order = order
	return p
}

func (p Predicate) Limit(n int) Predicate {
	p.limit = n
	return p
}

func ByOrg(oid string) Predicate { return Predicate{where("r.org_id = ?", oid)} }

func ByID(id string) Predicate { return Predicate{where("r.id = ?", id)} }

func ByIDs(ids ...string) Predicate {
	if len(ids) == 0 {
		return Predicate{none}
	}
	return Predicate{where(in("r.id", len(ids)), anys(ids)...)}
}

func ByHandle(h models.Handle) Predicate { return Predicate{where("r.handle = ?", string(h))} }

func ByHandles(hs ...models.Handle) Predicate {
	if len(hs) == 0 {
		return Predicate{none}
	}
	return Predicate{where(in("r.handle", len(hs)), handleStrings(hs)...)}
}

// NilID matches records that have no id at all.
func NilID() Predicate { return Predicate{where("(r.id IS NULL OR r.id = '')")} }

// PendingSync matches live records whose upload failed, is in progress, or
// that never got an id.
func PendingSync() Predicate {
	return Predicate{where(
		"r.is_archived = 0 AND (r.sync_state IN (?, ?) OR r.id IS NULL OR r.id = '')",
		string(models.SyncUploadFailure), string(models.SyncUploading),
	)}
}

func PendingEdit() Predicate { return Predicate{where("r.is_edited = 1 AND r.is_archived = 0")} }

func PendingArchivedDeletion() Predicate { return Predicate{where("r.is_archived = 1")} }

// Uploaded matches records the server has accepted.
func Uploaded() Predicate {
	return Predicate{where("r.sync_state = ?", string(models.SyncUploadSuccess))}
}

func NotArchived() Predicate { return Predicate{where("r.is_archived = 0")} }

func ByDocumentType(code string) Predicate {
	return Predicate{where("r.document_type = ?", code)}
}

func ByCase(h models.Handle) Predicate {
	return Predicate{where(
		"r.handle IN (SELECT rc.record_handle FROM record_cases rc WHERE rc.case_handle = ?)", string(h),
	)}
}

// LatestUpdatedForOrg picks the server-confirmed record of oid with the
// greatest update time. Rows carrying an unpushed local clock are skipped.
// Ties are broken by store order, which is not stable across runs.
func LatestUpdatedForOrg(oid string) Predicate {
	return And(ByOrg(oid), Uploaded(), Predicate{where("r.is_edited = 0 AND r.updated_at IS NOT NULL")}).
		OrderBy("r.updated_at DESC").
		Limit(1)
}

const tagSubquery = "SELECT rt.record_handle FROM record_tags rt JOIN tags t ON t.id = rt.tag_id WHERE "

func TagNameEquals(name string) Predicate {
	return Predicate{where("r.handle IN ("+tagSubquery+"t.name_key = ?)", models.TagKey(name))}
}

func tagKeys(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = models.TagKey(n)
	}
	return out
}

// TagsContainAny matches records carrying at least one of names.
func TagsContainAny(names ...string) Predicate {
	if len(names) == 0 {
		return Predicate{none}
	}
	return Predicate{where("r.handle IN ("+tagSubquery+in("t.name_key", len(names))+")", tagKeys(names)...)}
}

// TagsContainAll matches records carrying every one of names.
func TagsContainAll(names ...string) Predicate {
	keys := tagKeys(names)
	uniq := map[any]struct{}{}
	for _, k := range keys {
		uniq[k] = struct{}{}
	}
	if len(uniq) == 0 {
		return All()
	}
	cond := strings.Join([]string{
		"r.handle IN (", tagSubquery, in("t.name_key", len(keys)),
		" GROUP BY rt.record_handle HAVING COUNT(DISTINCT t.name_key) = ?)",
	}, "")
	return Predicate{where(cond, append(keys, len(uniq))...)}
}

func NoTags() Predicate {
	return Predicate{where("NOT EXISTS (SELECT 1 FROM record_tags rt WHERE rt.record_handle = r.handle)")}
}
