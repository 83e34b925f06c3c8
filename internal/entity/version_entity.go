package entity

import (
	"time"

	"github.com/google/uuid"
)

// Section is the smallest independently lockable and committable unit of a document.
// Its Id is stable across versions.
type Section struct {
	Id       string
	Title    string
	Content  string
	Editable bool
}

// Version is an immutable, fully materialized snapshot of a document.
type Version struct {
	Id            uuid.UUID
	DocumentId    uuid.UUID
	VersionNumber int
	Sections      []Section
	AuthorId      uuid.UUID
	CreatedAt     time.Time
}

// Section returns the section with the given id, if present.
func (v *Version) Section(id string) (Section, bool) {
	for _, s := range v.Sections {
		if s.Id == id {
			return s, true
		}
	}
	return Section{}, false
}

// CloneSections returns a copy safe to mutate without touching the snapshot.
func (v *Version) CloneSections() []Section {
	out := make([]Section, len(v.Sections))
	copy(out, v.Sections)
	return out
}
