package mysql

import (
	"fmt"
	"strings"

	"tabpipe/internal/dataset"
)

// colType maps a column kind to its MySQL storage type. DATETIME(6) keeps
// microsecond precision; values arrive already normalized to UTC.
func colType(k dataset.Kind) string {
	switch k {
	case dataset.KindNumeric:
		return "DOUBLE"
	case dataset.KindTimestamp:
		return "DATETIME(6)"
	default:
		return "TEXT"
	}
}

func createTableSQL(table string, schema dataset.Schema, ifNotExists bool) string {
	defs := make([]string, len(schema))
	for i, col := range schema {
		defs[i] = fmt.Sprintf("%s %s", myIdent(col.Name), colType(col.Kind))
	}
	guard := ""
	if ifNotExists {
		guard = "IF NOT EXISTS "
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s)", guard, myIdent(table), strings.Join(defs, ", "))
}

// myIdent backtick-quotes an identifier, doubling embedded backticks.
func myIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func mapIdent(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = myIdent(n)
	}
	return out
}
