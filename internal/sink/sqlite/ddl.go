package sqlite

import (
	"fmt"
	"strings"

	"tabpipe/internal/dataset"
)

// colType maps a column kind to its SQLite storage type. Timestamps are
// stored as ISO-8601 text, which sorts and compares correctly.
func colType(k dataset.Kind) string {
	switch k {
	case dataset.KindNumeric:
		return "REAL"
	default:
		return "TEXT"
	}
}

func createTableSQL(table string, schema dataset.Schema, ifNotExists bool) string {
	defs := make([]string, len(schema))
	for i, col := range schema {
		defs[i] = fmt.Sprintf("%s %s", sqIdent(col.Name), colType(col.Kind))
	}
	guard := ""
	if ifNotExists {
		guard = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s)", guard, sqIdent(table), strings.Join(defs, ", "))
}

func sqIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func mapIdent(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = sqIdent(n)
	}
	return out
}
