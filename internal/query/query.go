// Package query builds declarative filters over the local store. Builders
// are pure: they only produce SQL fragments and bind arguments, and the
// repositories decide how to run them.
//
// Record predicates refer to the records table as "r", case predicates to
// the cases table as "c".
package query

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/medsync/internal/dbx"
	"github.com/dmitrijs2005/medsync/internal/models"
)

type clause struct {
	conds []string
	args  []any
	order string
	limit int
}

func (c clause) and(o clause) clause {
	out := clause{
		conds: append(append([]string{}, c.conds...), o.conds...),
		args:  append(append([]any{}, c.args...), o.args...),
		order: c.order,
		limit: c.limit,
	}
	if o.order != "" {
		out.order = o.order
	}
	if o.limit > 0 {
		out.limit = o.limit
	}
	return out
}

func where(cond string, args ...any) clause {
	return clause{conds: []string{cond}, args: args}
}

// Where renders the filter, "1 = 1" when there is none.
func (c clause) Where() (string, []any) {
	if len(c.conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(c.conds, " AND "), append([]any{}, c.args...)
}

// Tail renders ORDER BY and LIMIT, with a leading space when non-empty.
func (c clause) Tail() string {
	var b strings.Builder
	if c.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(c.order)
	}
	if c.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", c.limit)
	}
	return b.String()
}

func (c clause) String() string {
	w, args := c.Where()
	return fmt.Sprintf("%s%s %v", w, c.Tail(), args)
}

func in(col string, n int) string {
	return fmt.Sprintf("%s IN (%s)", col, dbx.Placeholders(n))
}

func anys[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func handleStrings(hs []models.Handle) []any {
	out := make([]any, len(hs))
	for i, h := range hs {
		out[i] = string(h)
	}
	return out
}

// none matches nothing; used for empty IN sets.
var none = where("0 = 1")
