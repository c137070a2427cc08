// Package dataset defines the tabular data model shared by every stage of a
// pipeline run: declared column schemas, pooled rows, bounded chunks,
// row-selection predicates, and the error taxonomy used to classify failures.
//
// The model is deliberately small. A dataset is a named, persistent table
// whose columns carry one of four declared kinds; at run time it is only ever
// seen as a finite sequence of bounded chunks, so nothing here assumes the
// whole table fits in memory.
package dataset

import "fmt"

// Kind enumerates the value kinds a column may declare. Kinds are declared by
// the caller; they are never inferred from data.
type Kind uint8

const (
	// KindNumeric holds float64 cells. Integer-looking input parses to float64.
	KindNumeric Kind = iota + 1
	// KindCategorical holds string cells drawn from a declared, finite level set.
	KindCategorical
	// KindText holds free-form string cells.
	KindText
	// KindTimestamp holds time.Time cells, normalized to UTC.
	KindTimestamp
)

var kindNames = map[Kind]string{
	KindNumeric:     "numeric",
	KindCategorical: "categorical",
	KindText:        "text",
	KindTimestamp:   "timestamp",
}

// String returns the JSON/config spelling of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a config spelling ("numeric", "categorical", "text",
// "timestamp") to its Kind. Unknown spellings are an error, not a default.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if s == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if s, ok := kindNames[k]; ok {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("unknown column kind %d", uint8(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	kk, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = kk
	return nil
}
