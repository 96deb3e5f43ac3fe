package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/movieshorts/movieshorts/internal/apperr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"3f2a.mp4", true},
		{"cut-1700000000000-a1b2c3-3f2a.mp4", true},
		{"Movie_01.final.mkv", true},
		{"", false},
		{".hidden", false},
		{"-flag.mp4", false},
		{"a..b", false},
		{"../etc/passwd", false},
		{"dir/file.mp4", false},
		{`dir\file.mp4`, false},
		{"space name.mp4", false},
		{"ünicode.mp4", false},
		{strings.Repeat("a", 256), false},
	}
	for _, tt := range tests {
		if got := ValidName(tt.name); got != tt.want {
			t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPending_CommitMakesVisible(t *testing.T) {
	s := newTestStore(t)

	p, err := s.NewPending(".mp4")
	if err != nil {
		t.Fatalf("NewPending() error = %v", err)
	}
	defer p.Discard()

	if !strings.HasSuffix(p.Path(), ".mp4") {
		t.Errorf("pending path %q should keep the extension", p.Path())
	}
	if s.Exists(Uploads, "a.mp4") {
		t.Fatal("artifact visible before commit")
	}
	if _, err := p.Write([]byte("data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := p.Commit(Uploads, "a.mp4"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	data, err := s.ReadFile(Uploads, "a.mp4")
	if err != nil || string(data) != "data" {
		t.Fatalf("ReadFile() = %q, %v", data, err)
	}
	if _, err := os.Stat(p.Path()); !os.IsNotExist(err) {
		t.Error("pending file should be gone after commit")
	}

	// Discard after commit must not remove the artifact.
	p.Discard()
	if !s.Exists(Uploads, "a.mp4") {
		t.Error("Discard after Commit removed the artifact")
	}
}

func TestPending_DiscardLeavesNothing(t *testing.T) {
	s := newTestStore(t)

	p, err := s.NewPending(".mp4")
	if err != nil {
		t.Fatalf("NewPending() error = %v", err)
	}
	p.Write([]byte("partial"))
	p.Discard()

	entries, _ := os.ReadDir(s.TempDir())
	if len(entries) != 0 {
		t.Errorf("temp dir has %d entries after discard", len(entries))
	}
}

func TestPending_CommitRefusesOverwrite(t *testing.T) {
	s := newTestStore(t)
	if err := s.WriteFile(Cuts, "c.mp4", []byte("first")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p, _ := s.NewPending(".mp4")
	defer p.Discard()
	p.Write([]byte("second"))

	err := p.Commit(Cuts, "c.mp4")
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("Commit() error = %v, want storage failure", err)
	}
	data, _ := s.ReadFile(Cuts, "c.mp4")
	if string(data) != "first" {
		t.Errorf("existing artifact was replaced: %q", data)
	}
}

func TestWriteFile_Replaces(t *testing.T) {
	s := newTestStore(t)
	s.WriteFile(Subtitles, "a.srt", []byte("one"))
	if err := s.WriteFile(Subtitles, "a.srt", []byte("two")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	data, _ := s.ReadFile(Subtitles, "a.srt")
	if string(data) != "two" {
		t.Errorf("ReadFile() = %q, want two", data)
	}
}

func TestOpen_NotFound(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"missing.mp4", "../secret", ""} {
		_, _, err := s.Open(Uploads, name)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Open(%q) error = %v, want not found", name, err)
		}
	}
}

func TestRemoveStale(t *testing.T) {
	s := newTestStore(t)

	old, _ := s.NewPending(".mp4")
	old.Close()
	fresh, _ := s.NewPending(".mp4")
	fresh.Close()
	defer fresh.Discard()

	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old.Path(), past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	// unrelated files in the temp area are left alone
	other := filepath.Join(s.TempDir(), "keep.txt")
	os.WriteFile(other, nil, 0644)
	os.Chtimes(other, past, past)

	removed, err := s.RemoveStale(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RemoveStale() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != filepath.Base(old.Path()) {
		t.Errorf("removed = %v, want [%s]", removed, filepath.Base(old.Path()))
	}
	if _, err := os.Stat(fresh.Path()); err != nil {
		t.Error("fresh pending file was removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("non-pending file was removed")
	}
}
