package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewFileID(t *testing.T) {
	a := NewFileID("/home/u/a.txt", 1, 42)
	assert.Equal(t, a, NewFileID("/home/u/./a.txt", 1, 42), "paths are cleaned")
	assert.NotEqual(t, a, NewFileID("/home/u/a.txt", 1, 43), "a new inode is a new file")
	assert.NotEqual(t, a, NewFileID("/home/u/b.txt", 1, 42))
	assert.Equal(t, NewFileID("/x", 0, 0), NewFileID("/x", 7, 0), "without an inode only the path counts")
}

func TestNewFileRecord(t *testing.T) {
	now := time.Now()
	rec := NewFileRecord("/srv/Docs/Report.Final.PDF", 10, now, false, 1, 2)
	assert.Equal(t, "Report.Final.PDF", rec.Name)
	assert.Equal(t, "pdf", rec.Ext)
	assert.Equal(t, 3, rec.Depth())

	dir := NewFileRecord("/srv/archive.d", 0, now, true, 1, 3)
	assert.Empty(t, dir.Ext, "directories have no extension")
}

func TestExt(t *testing.T) {
	tests := map[string]string{
		"main.go":     "go",
		"archive.TAR": "tar",
		".bashrc":     "",
		"Makefile":    "",
		"trailing.":   "",
		"a.b.c":       "c",
	}
	for name, want := range tests {
		assert.Equal(t, want, Ext(name), name)
	}
}

func TestWithPathKeepsIdentity(t *testing.T) {
	rec := NewFileRecord("/a/notes.txt", 1, time.Now(), false, 1, 9)
	moved := rec.WithPath("/b/notes.md")
	assert.Equal(t, rec.ID, moved.ID)
	assert.Equal(t, "/b/notes.md", moved.Path)
	assert.Equal(t, "notes.md", moved.Name)
	assert.Equal(t, "md", moved.Ext)
	assert.True(t, rec.SameFile(moved))
}

func TestSameFileNeedsInode(t *testing.T) {
	a := NewFileRecord("/a", 0, time.Now(), false, 0, 0)
	b := NewFileRecord("/b", 0, time.Now(), false, 0, 0)
	assert.False(t, a.SameFile(b))
}

func TestChangeKindString(t *testing.T) {
	assert.Equal(t, "renamed_from", RenamedFrom.String())
	assert.Equal(t, "unknown", ChangeKind(99).String())
}
