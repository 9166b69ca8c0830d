package model

import "time"

// ChangeKind is the kind of a file-system change notification.
type ChangeKind int

const (
	Created ChangeKind = iota
	Modified
	Deleted
	RenamedFrom // Path is the old name; the new name is unknown.
	RenamedTo   // Path is the new name; the old name is unknown.
	Renamed     // OldPath -> Path, both known.
)

var changeKindNames = map[ChangeKind]string{
	Created:     "created",
	Modified:    "modified",
	Deleted:     "deleted",
	RenamedFrom: "renamed_from",
	RenamedTo:   "renamed_to",
	Renamed:     "renamed",
}

func (k ChangeKind) String() string {
	if s, ok := changeKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ChangeEvent is a single notification delivered by a watcher.
type ChangeEvent struct {
	Path    string
	OldPath string
	Kind    ChangeKind
	Time    time.Time
}
