// This file adds a lightweight linter for Pipeline values. It performs
// static checks over a decoded document and returns a list of issues (errors
// and warnings) that callers can surface in a CLI or tests before anything
// touches the data.
package config

import (
	"fmt"
	"strings"
	"time"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding worth surfacing that does not by
	// itself block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the document (e.g. "sink.dsn",
// "transforms[1].kind"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements error so an Issue can travel as one where convenient.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	sourceKinds = map[string]struct{}{"csv": {}, "jsonl": {}, "chunkfile": {}}
	sinkKinds   = map[string]struct{}{
		"csvfile": {}, "chunkfile": {},
		"sqlite": {}, "postgres": {}, "mssql": {}, "mysql": {},
	}
	dbSinkKinds  = map[string]struct{}{"sqlite": {}, "postgres": {}, "mssql": {}, "mysql": {}}
	columnKinds  = map[string]struct{}{"numeric": {}, "categorical": {}, "text": {}, "timestamp": {}}
	selectionOps = map[string]struct{}{"eq": {}, "ne": {}, "gt": {}, "ge": {}, "lt": {}, "le": {}, "in": {}}
)

// ValidatePipeline performs static validation of a Pipeline.
//
// It does not mutate the document and does not consult registries; unknown
// transform/aggregate kinds are warnings here and hard errors at build time.
// Callers decide whether warnings are fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "name",
			Message:  "name is empty; logs and metrics will label the run \"pipeline\"",
		})
	}

	issues = append(issues, validateSource(p.Source)...)
	cols := validateSchema(p.Schema, &issues)
	issues = append(issues, validateSelection(p.Selection, cols)...)
	issues = append(issues, validateSteps("transforms", p.Transforms)...)
	issues = append(issues, validateLookups(p.Lookups)...)
	issues = append(issues, validateModels(p.Models)...)
	issues = append(issues, validateOutputs(p)...)
	issues = append(issues, validateRuntime(p.Runtime)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
		return issues
	}
	if _, ok := sourceKinds[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q", s.Kind),
		})
	}
	if strings.TrimSpace(s.Location) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.location",
			Message:  "source requires a non-empty location (path or URL)",
		})
	}
	return issues
}

// validateSchema lints the declared columns and returns the set of declared
// names so later sections can cross-check references.
func validateSchema(d Declared, issues *[]Issue) map[string]string {
	cols := map[string]string{}

	if len(d.Columns) == 0 {
		*issues = append(*issues, Issue{
			Severity: SeverityError,
			Path:     "schema.columns",
			Message:  "schema must declare at least one column; kinds are never inferred from data",
		})
		return cols
	}
	for i, c := range d.Columns {
		path := fmt.Sprintf("schema.columns[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path + ".name", Message: "column name must not be empty"})
			continue
		}
		if _, dup := cols[c.Name]; dup {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path + ".name", Message: fmt.Sprintf("duplicate column %q", c.Name)})
			continue
		}
		cols[c.Name] = c.Kind
		if _, ok := columnKinds[c.Kind]; !ok {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path + ".kind", Message: fmt.Sprintf("unknown kind %q for column %q", c.Kind, c.Name)})
			continue
		}
		if c.Kind == "categorical" && len(c.Levels) == 0 {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path + ".levels", Message: fmt.Sprintf("categorical column %q declares no levels", c.Name)})
		}
		if c.Kind != "categorical" && len(c.Levels) > 0 {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path + ".levels", Message: fmt.Sprintf("levels declared on %s column %q", c.Kind, c.Name)})
		}
		if c.Kind != "timestamp" && c.Layout != "" {
			*issues = append(*issues, Issue{Severity: SeverityError, Path: path + ".layout", Message: fmt.Sprintf("layout declared on %s column %q", c.Kind, c.Name)})
		}
	}
	return cols
}

func validateSelection(sels []Selection, cols map[string]string) []Issue {
	var issues []Issue
	for i, s := range sels {
		path := fmt.Sprintf("selection[%d]", i)
		if _, ok := cols[s.Column]; !ok && len(cols) > 0 {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".column", Message: fmt.Sprintf("selection references undeclared column %q", s.Column)})
		}
		if _, ok := selectionOps[s.Op]; !ok {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".op", Message: fmt.Sprintf("unsupported op %q", s.Op)})
		}
		if s.Value == nil && s.Op != "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".value", Message: "selection value must not be null; null never matches any clause"})
		}
	}
	return issues
}

func validateSteps(section string, steps []Step) []Issue {
	var issues []Issue
	for i, s := range steps {
		if strings.TrimSpace(s.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("%s[%d].kind", section, i),
				Message:  "kind must not be empty",
			})
		}
	}
	return issues
}

func validateLookups(ls []Lookup) []Issue {
	var issues []Issue
	seen := map[string]struct{}{}
	for i, l := range ls {
		path := fmt.Sprintf("lookups[%d]", i)
		if strings.TrimSpace(l.Name) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".name", Message: "lookup name must not be empty"})
		} else if _, dup := seen[l.Name]; dup {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".name", Message: fmt.Sprintf("duplicate lookup %q", l.Name)})
		} else {
			seen[l.Name] = struct{}{}
		}
		if strings.TrimSpace(l.Path) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".path", Message: "lookup requires a path"})
		}
		if strings.TrimSpace(l.Key) == "" || strings.TrimSpace(l.Value) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: "lookup requires key and value column names"})
		}
		switch l.ValueKind {
		case "", "numeric", "text", "timestamp":
		case "categorical":
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".value_kind", Message: "lookup values cannot be categorical; use text"})
		default:
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".value_kind", Message: fmt.Sprintf("unknown kind %q", l.ValueKind)})
		}
	}
	return issues
}

func validateModels(ms []Model) []Issue {
	var issues []Issue
	seen := map[string]struct{}{}
	for i, m := range ms {
		path := fmt.Sprintf("models[%d]", i)
		if strings.TrimSpace(m.Name) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".name", Message: "model name must not be empty"})
		} else if _, dup := seen[m.Name]; dup {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".name", Message: fmt.Sprintf("duplicate model %q", m.Name)})
		} else {
			seen[m.Name] = struct{}{}
		}
		if strings.TrimSpace(m.Kind) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: path + ".kind", Message: "model kind must not be empty"})
		}
	}
	return issues
}

// validateOutputs checks the sink block and requires that a run produces
// something: a sink, aggregates, or both.
func validateOutputs(p Pipeline) []Issue {
	var issues []Issue

	hasSink := strings.TrimSpace(p.Sink.Kind) != ""
	if !hasSink && len(p.Aggregate) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink",
			Message:  "pipeline has neither a sink nor aggregates; it would read and discard",
		})
		return issues
	}
	issues = append(issues, validateSteps("aggregate", p.Aggregate)...)
	if !hasSink {
		return issues
	}

	s := p.Sink
	if _, ok := sinkKinds[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink.kind",
			Message:  fmt.Sprintf("unknown sink kind %q", s.Kind),
		})
		return issues
	}
	switch s.Mode {
	case "", "overwrite", "append":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink.mode",
			Message:  fmt.Sprintf("mode must be \"overwrite\" or \"append\", got %q", s.Mode),
		})
	}
	if _, db := dbSinkKinds[s.Kind]; db {
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: "sink.dsn", Message: "database sink requires a dsn"})
		}
		if strings.TrimSpace(s.Table) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: "sink.table", Message: "database sink requires a table"})
		}
	} else {
		if strings.TrimSpace(s.Location) == "" {
			issues = append(issues, Issue{Severity: SeverityError, Path: "sink.location", Message: "file sink requires a location"})
		}
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	if r.ChunkRows < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.chunk_rows", Message: "chunk_rows must not be negative"})
	}
	if r.Workers < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.workers", Message: "workers must not be negative"})
	}
	if r.BatchRows < 0 {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.batch_rows", Message: "batch_rows must not be negative"})
	}
	for path, v := range map[string]string{
		"runtime.timeout":        r.Timeout,
		"runtime.progress_every": r.ProgressEvery,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil {
			issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf("not a duration: %q", v)})
		} else if d < 0 {
			issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: "duration must not be negative"})
		}
	}
	return issues
}
