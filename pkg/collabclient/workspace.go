package collabclient

import (
	"time"

	"section-collab-be/pkg/events"

	"github.com/patrickmn/go-cache"
)

// Workspace is the local working copy of one document. It is not safe for
// concurrent use; the Editor's loop owns it.
type Workspace struct {
	sections      []Section
	versionNumber int
	// "just updated" flags; purely visual, they expire on their own
	highlights *cache.Cache
}

func NewWorkspace(highlightTTL time.Duration) *Workspace {
	return &Workspace{
		highlights: cache.New(highlightTTL, 0),
	}
}

// ApplyVersion reconciles v into the working copy. Versions not newer than the
// last one applied are ignored, which covers duplicates and reordering.
func (w *Workspace) ApplyVersion(v events.VersionCommitted, held map[string]bool) (applied bool, updated []string) {
	if v.VersionNumber <= w.versionNumber {
		return false, nil
	}

	inbound := make([]Section, len(v.Sections))
	for i, s := range v.Sections {
		inbound[i] = fromEvent(s)
	}

	w.sections, updated = Reconcile(w.sections, held, inbound)
	w.versionNumber = v.VersionNumber

	w.highlights.DeleteExpired()
	for _, id := range updated {
		w.highlights.SetDefault(id, struct{}{})
	}
	return true, updated
}

// SetContent updates a section's local content. It reports false for an unknown section.
func (w *Workspace) SetContent(sectionId, content string) bool {
	for i := range w.sections {
		if w.sections[i].Id == sectionId {
			w.sections[i].Content = content
			return true
		}
	}
	return false
}

func (w *Workspace) Section(sectionId string) (Section, bool) {
	for _, s := range w.sections {
		if s.Id == sectionId {
			return s, true
		}
	}
	return Section{}, false
}

// Sections returns a copy in display order.
func (w *Workspace) Sections() []Section {
	return append([]Section(nil), w.sections...)
}

func (w *Workspace) VersionNumber() int {
	return w.versionNumber
}

func (w *Workspace) JustUpdated(sectionId string) bool {
	_, ok := w.highlights.Get(sectionId)
	return ok
}
