package db

import (
	"fmt"
	"strings"
)

// SelectQuery builds a parameterised SELECT with composable WHERE and
// ORDER BY clauses. Clause fragments use "?" for arguments; they are
// rewritten to pgx positional placeholders ($1, $2, ...) in order.
type SelectQuery struct {
	from    string
	cols    string
	where   []string
	args    []interface{}
	orderBy []string
}

// NewSelectQuery creates a query over from (a table or join expression).
func NewSelectQuery(from, cols string) *SelectQuery {
	return &SelectQuery{from: from, cols: cols}
}

// Where appends a clause joined with AND. The number of "?" markers in
// clause must match len(args).
func (q *SelectQuery) Where(clause string, args ...interface{}) *SelectQuery {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' && n < len(args) {
			n++
			fmt.Fprintf(&b, "$%d", len(q.args)+n)
			continue
		}
		b.WriteRune(r)
	}
	q.where = append(q.where, b.String())
	q.args = append(q.args, args[:n]...)
	return q
}

// OrderBy appends ORDER BY terms, e.g. "p.last_name ASC".
func (q *SelectQuery) OrderBy(terms ...string) *SelectQuery {
	q.orderBy = append(q.orderBy, terms...)
	return q
}

// SQL returns the statement text.
func (q *SelectQuery) SQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", q.cols, q.from)
	if len(q.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.where, " AND "))
	}
	if len(q.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.orderBy, ", "))
	}
	return b.String()
}

// Args returns the arguments in placeholder order.
func (q *SelectQuery) Args() []interface{} {
	return q.args
}
