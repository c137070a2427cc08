package postgres

import (
	"fmt"
	"strings"

	"tabpipe/internal/dataset"
)

// colType maps a column kind to its PostgreSQL storage type. Categorical
// columns land as plain text; the level set lives in the pipeline schema,
// not the database.
func colType(k dataset.Kind) string {
	switch k {
	case dataset.KindNumeric:
		return "DOUBLE PRECISION"
	case dataset.KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func createTableSQL(table string, schema dataset.Schema) string {
	defs := make([]string, len(schema))
	for i, col := range schema {
		defs[i] = fmt.Sprintf("%s %s", pgIdent(col.Name), colType(col.Kind))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgFQN(table), strings.Join(defs, ", "))
}

// pgIdent quotes a single identifier, doubling embedded quotes.
func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgFQN quotes each dotted segment separately so schema-qualified names
// survive quoting.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

func mapIdent(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = pgIdent(n)
	}
	return out
}
