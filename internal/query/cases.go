package query

import "github.com/dmitrijs2005/medsync/internal/models"

// CasePredicate filters and orders cases.
type CasePredicate struct{ clause }

func AllCases() CasePredicate { return CasePredicate{} }

func AndCases(ps ...CasePredicate) CasePredicate {
	var c clause
	for _, p := range ps {
		c = c.and(p.clause)
	}
	return CasePredicate{c}
}

func (p CasePredicate) OrderBy(order string) CasePredicate {
	p.order = order
	return p
}

func (p CasePredicate) Limit(n int) CasePredicate {
	p.limit = n
	return p
}

func CasesByOrg(oid string) CasePredicate { return CasePredicate{where("c.org_id = ?", oid)} }

func CaseByID(id string) CasePredicate { return CasePredicate{where("c.id = ?", id)} }

func CasesByIDs(ids ...string) CasePredicate {
	if len(ids) == 0 {
		return CasePredicate{none}
	}
	return CasePredicate{where(in("c.id", len(ids)), anys(ids)...)}
}

func CaseByHandle(h models.Handle) CasePredicate {
	return CasePredicate{where("c.handle = ?", string(h))}
}

func ActiveCases() CasePredicate {
	return CasePredicate{where("c.status = ?", string(models.CaseActive))}
}

func CasesPendingCreate() CasePredicate {
	return CasePredicate{where("c.is_remote_created = 0 AND c.status = ?", string(models.CaseActive))}
}

func CasesPendingEdit() CasePredicate {
	return CasePredicate{where("c.is_edited = 1 AND c.is_remote_created = 1 AND c.status = ?", string(models.CaseActive))}
}

func CasesPendingDeletion() CasePredicate {
	return CasePredicate{where("c.status = ?", string(models.CaseDeleted))}
}

func LatestUpdatedCaseForOrg(oid string) CasePredicate {
	return AndCases(CasesByOrg(oid), CasePredicate{where("c.is_remote_created = 1 AND c.is_edited = 0 AND c.updated_at IS NOT NULL")}).
		OrderBy("c.updated_at DESC").
		Limit(1)
}
