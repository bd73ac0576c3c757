package sqlite

import (
	"fmt"
	"strings"
)

func joinAnd(where []string) string {
	return strings.Join(where, " AND ")
}

func joinComma(set []string) string {
	return strings.Join(set, ", ")
}

func limitOffset(limit, offset int) string {
	s := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}
