package mssql

import (
	"fmt"
	"strings"

	"tabpipe/internal/dataset"
)

// colType maps a column kind to its SQL Server storage type. DATETIME2
// carries microsecond precision; values arrive already normalized to UTC.
func colType(k dataset.Kind) string {
	switch k {
	case dataset.KindNumeric:
		return "FLOAT"
	case dataset.KindTimestamp:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

// createTableSQL guards with OBJECT_ID because SQL Server has no
// CREATE TABLE IF NOT EXISTS.
func createTableSQL(table string, schema dataset.Schema) string {
	defs := make([]string, len(schema))
	for i, col := range schema {
		defs[i] = fmt.Sprintf("%s %s", msIdent(col.Name), colType(col.Kind))
	}
	fqn := msFQN(table)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s) END;",
		fqn, fqn, strings.Join(defs, ", "))
}

// msIdent brackets a single identifier, doubling embedded closing brackets.
func msIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}

func mapIdent(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = msIdent(n)
	}
	return out
}
