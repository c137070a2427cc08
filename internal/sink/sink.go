// Package sink defines how transformed chunks leave a run. A Writer opens a
// Session bound to one destination dataset; the session stages everything it
// is given and makes it visible only at Commit. A failed or aborted session
// leaves the destination exactly as it was, which is what lets the pipeline
// promise all-or-nothing output even when source and destination are the
// same file or table.
//
// Concrete sinks register themselves by kind at init time; importing
// tabpipe/internal/sink/all (blank import) wires every built-in sink into
// the factory.
package sink

import (
	"context"
	"fmt"
	"sync"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

// Mode selects what Commit does to pre-existing destination content.
type Mode int

const (
	// Overwrite replaces the destination atomically at Commit. This is the
	// default.
	Overwrite Mode = iota
	// Append extends the destination; staged rows become visible at Commit.
	Append
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	if m == Append {
		return "append"
	}
	return "overwrite"
}

// ParseMode maps a config spelling to a Mode. Empty means Overwrite.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "overwrite":
		return Overwrite, nil
	case "append":
		return Append, nil
	default:
		return 0, fmt.Errorf("sink: mode must be \"overwrite\" or \"append\", got %q", s)
	}
}

// Writer is a destination dataset. Begin opens one exclusive write session;
// destinations are single-writer, so two concurrent sessions against the
// same destination are a caller bug, not something Writer arbitrates.
type Writer interface {
	Begin(ctx context.Context, schema dataset.Schema, mode Mode) (Session, error)
}

// Session is one staged write. Write receives chunks in ascending index
// order (the pipeline serializes); nothing written is visible before Commit
// returns nil. Abort discards the stage; calling it after a successful
// Commit is a no-op, so callers can defer it unconditionally.
type Session interface {
	Write(ctx context.Context, chunk *dataset.Chunk) error
	Commit(ctx context.Context) error
	Abort() error
}

// Config carries destination settings from the pipeline document. File
// sinks use Location; database sinks use DSN and Table. Options is the
// kind-specific bag (delimiter, null_marker, auto_create, ...).
type Config struct {
	Location  string
	DSN       string
	Table     string
	BatchRows int
	Options   config.Options
}

// Factory constructs a Writer for one sink kind. Construction must not
// touch the destination; connections and staging happen at Begin, which has
// the run's context.
type Factory func(cfg Config) (Writer, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for a sink kind. It is
// called from the concrete sink packages' init functions.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New constructs a Writer of the given kind. Callers do not need to know
// which sink they are using beyond the kind string in their config.
func New(kind string, cfg Config) (Writer, error) {
	regMu.RLock()
	fn, ok := factories[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink: no sink registered for kind=%q", kind)
	}
	return fn(cfg)
}

// Kinds returns the registered kinds, for error messages and validation.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
