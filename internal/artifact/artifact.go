// Package artifact stores export results as gzip compressed CSV files named
// after the export id.
package artifact

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/webitel/cdr-exporter/internal/errors"
)

const Ext = ".csv.gz"

type Store struct {
	fs  afero.Fs
	dir string
}

func NewStore(afs afero.Fs, dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact directory is required", errors.WithID("artifact.store.dir"))
	}
	if err := afs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Internal("create artifact directory", errors.WithCause(err), errors.WithID("artifact.store.mkdir"))
	}
	return &Store{fs: afs, dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func Name(exportID int64) string {
	return strconv.FormatInt(exportID, 10) + Ext
}

func (s *Store) Path(exportID int64) string {
	return filepath.Join(s.dir, Name(exportID))
}

// Create opens a writer whose output appears at Path only after Commit.
func (s *Store) Create(exportID int64) (*Writer, error) {
	f, err := afero.TempFile(s.fs, s.dir, fmt.Sprintf(".%d-*.tmp", exportID))
	if err != nil {
		return nil, errors.Internal("create artifact temp file", errors.WithCause(err), errors.WithID("artifact.create"))
	}
	return &Writer{
		store: s,
		id:    exportID,
		file:  f,
		gz:    gzip.NewWriter(f),
	}, nil
}

// Open returns the committed artifact of exportID.
func (s *Store) Open(exportID int64) (afero.File, error) {
	f, err := s.fs.Open(s.Path(exportID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.NotFound(fmt.Sprintf("artifact of export %d not found", exportID), errors.WithID("artifact.open"))
		}
		return nil, errors.Internal("open artifact", errors.WithCause(err), errors.WithID("artifact.open"))
	}
	return f, nil
}

func (s *Store) Exists(exportID int64) (bool, error) {
	return afero.Exists(s.fs, s.Path(exportID))
}

// Remove deletes the artifact of exportID. A missing file is not an error.
func (s *Store) Remove(exportID int64) error {
	err := s.fs.Remove(s.Path(exportID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Internal("remove artifact", errors.WithCause(err), errors.WithID("artifact.remove"))
	}
	return nil
}

// Stash moves the artifact of exportID out of Path so that a delete can be
// undone until Discard. A missing artifact gives an empty Stash.
func (s *Store) Stash(exportID int64) (*Stash, error) {
	st := &Stash{store: s, id: exportID}
	stashed := filepath.Join(s.dir, "."+Name(exportID)+".deleted")
	if err := s.fs.Rename(s.Path(exportID), stashed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return nil, errors.Internal("stash artifact", errors.WithCause(err), errors.WithID("artifact.stash"))
	}
	st.path = stashed
	return st, nil
}

// Stash holds an artifact moved aside by Store.Stash. Its methods are no-ops
// on a nil or empty Stash and after the first call.
type Stash struct {
	store *Store
	id    int64
	path  string
}

// Restore puts the artifact back at its path.
func (st *Stash) Restore() error {
	if st == nil || st.path == "" {
		return nil
	}
	if err := st.store.fs.Rename(st.path, st.store.Path(st.id)); err != nil {
		return errors.Internal("restore artifact", errors.WithCause(err), errors.WithID("artifact.restore"))
	}
	st.path = ""
	return nil
}

// Discard deletes the stashed artifact.
func (st *Stash) Discard() error {
	if st == nil || st.path == "" {
		return nil
	}
	err := st.store.fs.Remove(st.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Internal("discard artifact", errors.WithCause(err), errors.WithID("artifact.discard"))
	}
	st.path = ""
	return nil
}

// Writer compresses everything written to it into a temp file next to the
// final artifact.
type Writer struct {
	store *Store
	id    int64
	file  afero.File
	gz    *gzip.Writer
	done  bool
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.gz.Write(p)
}

// Commit flushes the stream and renames the temp file over the final path.
func (w *Writer) Commit() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.gz.Close(); err != nil {
		w.discard()
		return errors.Internal("flush artifact", errors.WithCause(err), errors.WithID("artifact.commit"))
	}
	if err := w.file.Sync(); err != nil {
		w.discard()
		return errors.Internal("sync artifact", errors.WithCause(err), errors.WithID("artifact.commit"))
	}
	if err := w.file.Close(); err != nil {
		_ = w.store.fs.Remove(w.file.Name())
		return errors.Internal("close artifact", errors.WithCause(err), errors.WithID("artifact.commit"))
	}
	if err := w.store.fs.Rename(w.file.Name(), w.store.Path(w.id)); err != nil {
		_ = w.store.fs.Remove(w.file.Name())
		return errors.Internal("rename artifact", errors.WithCause(err), errors.WithID("artifact.commit"))
	}
	return nil
}

// Abort drops the temp file. It is a no-op after Commit.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.gz.Close()
	return w.discard()
}

func (w *Writer) discard() error {
	_ = w.file.Close()
	if err := w.store.fs.Remove(w.file.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Internal("remove artifact temp file", errors.WithCause(err), errors.WithID("artifact.abort"))
	}
	return nil
}
