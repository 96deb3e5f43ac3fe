// Package storage is the filesystem artifact store. Artifacts live in
// namespaces under a root directory; writes go to a pending file in a shared
// temp area and become visible only when committed by rename.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/movieshorts/movieshorts/internal/apperr"
)

type Namespace string

const (
	Uploads   Namespace = "uploads"
	Cuts      Namespace = "cuts"
	Subtitles Namespace = "subtitles"
)

const (
	tmpDirName    = ".tmp"
	pendingPrefix = "pending-"
	maxNameLen    = 255
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether name is acceptable as an artifact identifier.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLen {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return namePattern.MatchString(name)
}

type Store struct {
	root string
}

// New creates the store rooted at root, creating the namespace and temp
// directories if needed.
func New(root string) (*Store, error) {
	for _, dir := range []string{string(Uploads), string(Cuts), string(Subtitles), tmpDirName} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

// TempDir is where pending files are created.
func (s *Store) TempDir() string {
	return filepath.Join(s.root, tmpDirName)
}

// Path returns the on-disk path of a committed artifact. It does not check
// that the artifact exists.
func (s *Store) Path(ns Namespace, name string) (string, error) {
	if !ValidName(name) {
		return "", apperr.NotFound("%s not found", name)
	}
	return filepath.Join(s.root, string(ns), name), nil
}

func (s *Store) Exists(ns Namespace, name string) bool {
	p, err := s.Path(ns, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Open opens a committed artifact for reading.
func (s *Store) Open(ns Namespace, name string) (*os.File, os.FileInfo, error) {
	p, err := s.Path(ns, name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, apperr.NotFound("%s not found", name)
		}
		return nil, nil, apperr.Storage(err, "failed to open %s", name)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, apperr.Storage(err, "failed to stat %s", name)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, apperr.NotFound("%s not found", name)
	}
	return f, info, nil
}

func (s *Store) ReadFile(ns Namespace, name string) ([]byte, error) {
	f, _, err := s.Open(ns, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperr.Storage(err, "failed to read %s", name)
	}
	return data, nil
}

// WriteFile stores data under name atomically, replacing any previous
// version.
func (s *Store) WriteFile(ns Namespace, name string, data []byte) error {
	p, err := s.NewPending(filepath.Ext(name))
	if err != nil {
		return err
	}
	defer p.Discard()

	if _, err := p.Write(data); err != nil {
		return apperr.Storage(err, "failed to write %s", name)
	}
	return p.commit(ns, name, true)
}

func (s *Store) Remove(ns Namespace, name string) error {
	p, err := s.Path(ns, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.Storage(err, "failed to remove %s", name)
	}
	return nil
}

// NewPending creates an empty pending file in the temp area. ext is kept as
// the file suffix so that tools choosing a container by extension work.
func (s *Store) NewPending(ext string) (*Pending, error) {
	f, err := os.CreateTemp(s.TempDir(), pendingPrefix+"*"+ext)
	if err != nil {
		return nil, apperr.Storage(err, "failed to create pending file")
	}
	return &Pending{store: s, file: f, path: f.Name()}, nil
}

// RemoveStale deletes pending files last modified before cutoff and returns
// their names.
func (s *Store) RemoveStale(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.TempDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read temp dir: %w", err)
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), pendingPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.TempDir(), e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, e.Name())
	}
	return removed, errors.Join(errs...)
}

// Pending is an uncommitted artifact. Exactly one of Commit or Discard takes
// effect; calling Discard after Commit is a no-op, so it is safe to defer.
type Pending struct {
	store *Store
	file  *os.File
	path  string
	done  bool
}

// Path is the pending file path, for external writers such as ffmpeg.
func (p *Pending) Path() string {
	return p.path
}

func (p *Pending) Write(b []byte) (int, error) {
	if p.file == nil {
		return 0, os.ErrClosed
	}
	return p.file.Write(b)
}

// Close releases the write handle without committing. External writers that
// open the path themselves should be started after Close.
func (p *Pending) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// Size returns the current size of the pending file.
func (p *Pending) Size() (int64, error) {
	info, err := os.Stat(p.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Commit moves the pending file to its final name. It refuses to replace an
// existing artifact.
func (p *Pending) Commit(ns Namespace, name string) error {
	return p.commit(ns, name, false)
}

func (p *Pending) commit(ns Namespace, name string, replace bool) error {
	if p.done {
		return fmt.Errorf("pending file already finalized")
	}
	final, err := p.store.Path(ns, name)
	if err != nil {
		return apperr.Invalid("invalid artifact name %q", name)
	}
	if err := p.Close(); err != nil {
		return apperr.Storage(err, "failed to flush %s", name)
	}
	if !replace {
		if _, err := os.Lstat(final); err == nil {
			return apperr.Storage(fs.ErrExist, "artifact %s already exists", name)
		}
	}
	if err := os.Rename(p.path, final); err != nil {
		return apperr.Storage(err, "failed to commit %s", name)
	}
	p.done = true
	return nil
}

// Discard removes the pending file unless it was committed.
func (p *Pending) Discard() {
	if p.done {
		return
	}
	p.Close()
	os.Remove(p.path)
	p.done = true
}
