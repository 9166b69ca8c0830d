package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileID identifies a FileRecord for its whole lifetime in the index.
type FileID string

// fileIDSpace namespaces the name-based UUIDs used as file identifiers.
var fileIDSpace = uuid.MustParse("6f1c2d3e-8a54-4b0e-9d6b-5b1f7c0e2a91")

// NewFileID derives a deterministic identifier from the path and, when the
// platform provides them, the device and inode numbers.
func NewFileID(path string, dev, inode uint64) FileID {
	key := filepath.Clean(path)
	if inode != 0 {
		key = fmt.Sprintf("%s\x00%d:%d", key, dev, inode)
	}
	return FileID(uuid.NewSHA1(fileIDSpace, []byte(key)).String())
}

// FileRecord is the metadata the index keeps for one file or directory.
type FileRecord struct {
	ID      FileID    `json:"id"`
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Ext     string    `json:"ext,omitempty"` // lower-cased, without the dot
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
	Dev     uint64    `json:"-"`
	Inode   uint64    `json:"-"`
}

// NewFileRecord builds a record for path and assigns its identifier.
func NewFileRecord(path string, size int64, modTime time.Time, isDir bool, dev, inode uint64) FileRecord {
	path = filepath.Clean(path)
	rec := FileRecord{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    size,
		ModTime: modTime,
		IsDir:   isDir,
		Dev:     dev,
		Inode:   inode,
	}
	if !isDir {
		rec.Ext = Ext(rec.Name)
	}
	rec.ID = NewFileID(path, dev, inode)
	return rec
}

// Ext returns the lower-cased extension of name without its separator.
// Dot files such as ".bashrc" have no extension.
func Ext(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// SameFile reports whether r and other describe the same underlying file.
// Records without inode information never match.
func (r FileRecord) SameFile(other FileRecord) bool {
	return r.Inode != 0 && r.Inode == other.Inode && r.Dev == other.Dev
}

// WithPath returns a copy of r moved to path, keeping its identity.
func (r FileRecord) WithPath(path string) FileRecord {
	path = filepath.Clean(path)
	r.Path = path
	r.Name = filepath.Base(path)
	r.Ext = ""
	if !r.IsDir {
		r.Ext = Ext(r.Name)
	}
	return r
}

// Depth is the number of path separators in the record's path.
func (r FileRecord) Depth() int {
	return strings.Count(filepath.ToSlash(r.Path), "/")
}
