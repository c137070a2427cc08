package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tabpipe/internal/dataset"
)

// StageName derives a per-session staging table name from the target, so
// concurrent runs against different targets never collide. For a
// schema-qualified name the suffix lands on the last segment:
// "public.trips" becomes "public.trips_stage_1a2b3c4d".
func StageName(table string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	parts := strings.Split(table, ".")
	parts[len(parts)-1] += "_stage_" + id
	return strings.Join(parts, ".")
}

// FileStage is the shared mechanics of file-backed sessions: stage bytes
// to a temp file in the destination's directory, then publish at Commit.
// A complete stage publishes with one rename, which is what makes
// overwrite atomic and lets a run read and overwrite the same path. A
// stage extending an existing file publishes with a single append pass.
type FileStage struct {
	dest   string
	f      *os.File
	rename bool
	done   bool
}

// NewFileStage creates the temp file next to dest. rename says the stage
// will be a complete replacement; false means Commit appends it to dest.
func NewFileStage(dest string, rename bool) (*FileStage, error) {
	dir, base := filepath.Split(dest)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: stage in %s: %v", dataset.ErrWriteFailure, dir, err)
	}
	return &FileStage{dest: dest, f: f, rename: rename}, nil
}

// File exposes the staging file for the session to write through.
func (st *FileStage) File() *os.File { return st.f }

// Done reports whether the stage was already committed or aborted.
func (st *FileStage) Done() bool { return st.done }

// Commit syncs, closes and publishes the stage. The temp file is gone
// afterwards whether or not publishing succeeded.
func (st *FileStage) Commit() error {
	if st.done {
		return fmt.Errorf("%w: commit after commit or abort", dataset.ErrWriteFailure)
	}
	st.done = true
	name := st.f.Name()
	if err := st.f.Sync(); err != nil {
		st.f.Close()
		os.Remove(name)
		return fmt.Errorf("%w: sync stage: %v", dataset.ErrWriteFailure, err)
	}
	if err := st.f.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: close stage: %v", dataset.ErrWriteFailure, err)
	}
	if st.rename {
		if err := os.Rename(name, st.dest); err != nil {
			os.Remove(name)
			return fmt.Errorf("%w: rename to %s: %v", dataset.ErrWriteFailure, st.dest, err)
		}
		return nil
	}

	src, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("%w: reopen stage: %v", dataset.ErrWriteFailure, err)
	}
	defer src.Close()
	defer os.Remove(name)
	dst, err := os.OpenFile(st.dest, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s for append: %v", dataset.ErrWriteFailure, st.dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: append to %s: %v", dataset.ErrWriteFailure, st.dest, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("%w: sync %s: %v", dataset.ErrWriteFailure, st.dest, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", dataset.ErrWriteFailure, st.dest, err)
	}
	return nil
}

// Abort discards the stage. Calling it after Commit is a no-op.
func (st *FileStage) Abort() error {
	if st.done {
		return nil
	}
	st.done = true
	name := st.f.Name()
	st.f.Close()
	return os.Remove(name)
}
