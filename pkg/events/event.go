package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	KindVersionCommitted = "version-committed"
	KindLockChanged      = "lock-changed"
	KindSnapshot         = "snapshot"
)

// Event defines the contract for all collaboration events.
type Event interface {
	// EventType returns the kind of this event (e.g., "lock-changed").
	EventType() string

	// Document returns the document the event belongs to.
	Document() uuid.UUID

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Section is the wire form of a document section.
type Section struct {
	Id       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Editable bool   `json:"editable"`
}

// Holder is the wire form of a lease holder.
type Holder struct {
	UserId     uuid.UUID `json:"user_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type VersionCommitted struct {
	DocumentId    uuid.UUID `json:"document_id"`
	VersionNumber int       `json:"version_number"`
	AuthorId      uuid.UUID `json:"author_id"`
	Sections      []Section `json:"sections"`
	CommittedAt   time.Time `json:"committed_at"`
}

// LockChanged reports a lease transition. Holder is nil when the section became FREE.
type LockChanged struct {
	DocumentId uuid.UUID `json:"document_id"`
	SectionId  string    `json:"section_id"`
	Holder     *Holder   `json:"holder"`
}

// Snapshot is sent to a subscriber joining a session in progress.
type Snapshot struct {
	Version VersionCommitted `json:"version"`
	Locks   []LockChanged    `json:"locks"`
}

// Envelope is what travels on every channel: the in-process bus, NATS and WebSocket.
type Envelope struct {
	Id         string            `json:"id"`
	Kind       string            `json:"kind"`
	Origin     string            `json:"origin"`
	DocumentId uuid.UUID         `json:"document_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Version    *VersionCommitted `json:"version,omitempty"`
	Lock       *LockChanged      `json:"lock,omitempty"`
	Snapshot   *Snapshot         `json:"snapshot,omitempty"`
}

func (e Envelope) EventType() string    { return e.Kind }
func (e Envelope) Document() uuid.UUID  { return e.DocumentId }
func (e Envelope) Timestamp() time.Time { return e.OccurredAt }

func NewVersionCommitted(origin string, v VersionCommitted) Envelope {
	return Envelope{
		Id:         uuid.NewString(),
		Kind:       KindVersionCommitted,
		Origin:     origin,
		DocumentId: v.DocumentId,
		OccurredAt: v.CommittedAt,
		Version:    &v,
	}
}

func NewLockChanged(origin string, l LockChanged) Envelope {
	return Envelope{
		Id:         uuid.NewString(),
		Kind:       KindLockChanged,
		Origin:     origin,
		DocumentId: l.DocumentId,
		OccurredAt: time.Now(),
		Lock:       &l,
	}
}

func NewSnapshot(origin string, s Snapshot) Envelope {
	return Envelope{
		Id:         uuid.NewString(),
		Kind:       KindSnapshot,
		Origin:     origin,
		DocumentId: s.Version.DocumentId,
		OccurredAt: time.Now(),
		Snapshot:   &s,
	}
}

// Topic is the per-document, per-kind channel name used on the in-process bus.
func Topic(documentId uuid.UUID, kind string) string {
	switch kind {
	case KindVersionCommitted:
		return fmt.Sprintf("documents.%s.version", documentId)
	case KindLockChanged:
		return fmt.Sprintf("documents.%s.lock", documentId)
	}
	return fmt.Sprintf("documents.%s.%s", documentId, kind)
}

// Validate reports whether the envelope carries the payload its kind requires.
func (e Envelope) Validate() error {
	switch e.Kind {
	case KindVersionCommitted:
		if e.Version == nil {
			return fmt.Errorf("envelope %s: missing version payload", e.Id)
		}
	case KindLockChanged:
		if e.Lock == nil {
			return fmt.Errorf("envelope %s: missing lock payload", e.Id)
		}
	case KindSnapshot:
		if e.Snapshot == nil {
			return fmt.Errorf("envelope %s: missing snapshot payload", e.Id)
		}
	default:
		return fmt.Errorf("envelope %s: unknown kind %q", e.Id, e.Kind)
	}
	return nil
}
