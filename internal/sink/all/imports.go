// Package all wires every built-in sink into the sink registry.
//
// It exists purely for side effects: a blank import runs the init function
// of each concrete sink, which registers its factory with the sink package.
// Importing it makes the following sink kinds available at runtime:
//
//   - "csvfile"   (tabpipe/internal/sink/csvfile)
//   - "chunkfile" (tabpipe/internal/chunkfile)
//   - "sqlite"    (tabpipe/internal/sink/sqlite)
//   - "postgres"  (tabpipe/internal/sink/postgres)
//   - "mssql"     (tabpipe/internal/sink/mssql)
//   - "mysql"     (tabpipe/internal/sink/mysql)
//
// Typical usage, in cmd/tabpipe or another wiring layer:
//
//	import (
//	    _ "tabpipe/internal/sink/all" // enable all built-in sinks
//
//	    "tabpipe/internal/sink"
//	)
//
//	w, err := sink.New(doc.Sink.Kind, sink.Config{ ... })
//
// A binary that needs only a subset of sinks can import the individual
// packages instead.
package all

import (
	_ "tabpipe/internal/chunkfile"
	_ "tabpipe/internal/sink/csvfile"
	_ "tabpipe/internal/sink/mssql"
	_ "tabpipe/internal/sink/mysql"
	_ "tabpipe/internal/sink/postgres"
	_ "tabpipe/internal/sink/sqlite"
)
