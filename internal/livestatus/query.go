// Package livestatus speaks the Check_MK LiveStatus protocol: GET queries
// rendered from a structured Query, responses in fixed16-header JSON form,
// and one-way external COMMAND writes.
package livestatus

import (
	"fmt"
	"strings"
)

// Query is a structured GET request. Filters apply in order; Or combines
// the last n filters with a logical OR, mirroring the wire syntax.
type Query struct {
	table   string
	columns []string
	lines   []string
}

func NewQuery(table string, columns ...string) Query {
	return Query{table: strings.TrimSpace(table), columns: columns}
}

func (q Query) Filter(column, operator, value string) Query {
	q.lines = append(q.lines, fmt.Sprintf("Filter: %s %s %s", column, operator, value))
	return q
}

func (q Query) Or(n int) Query {
	q.lines = append(q.lines, fmt.Sprintf("Or: %d", n))
	return q
}

func (q Query) Validate() error {
	if q.table == "" {
		return fmt.Errorf("missing query table")
	}
	if len(q.columns) == 0 {
		return fmt.Errorf("missing query columns")
	}
	for _, col := range q.columns {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("empty query column")
		}
	}
	return nil
}

// Render produces the complete request including the trailing blank line.
// The fixed16 response header lets the client read an exact byte count
// instead of waiting for EOF.
func (q Query) Render() (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s\n", q.table)
	fmt.Fprintf(&b, "Columns: %s\n", strings.Join(q.columns, " "))
	for _, line := range q.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("OutputFormat: json\n")
	b.WriteString("ResponseHeader: fixed16\n")
	b.WriteString("ColumnHeaders: off\n")
	b.WriteString("\n")
	return b.String(), nil
}
