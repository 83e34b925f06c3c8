package mapper

import (
	"section-collab-be/internal/entity"
	"section-collab-be/pkg/events"
)

func ToEventSections(sections []entity.Section) []events.Section {
	out := make([]events.Section, len(sections))
	for i, s := range sections {
		out[i] = events.Section{Id: s.Id, Title: s.Title, Content: s.Content, Editable: s.Editable}
	}
	return out
}

func ToVersionCommitted(v *entity.Version) events.VersionCommitted {
	return events.VersionCommitted{
		DocumentId:    v.DocumentId,
		VersionNumber: v.VersionNumber,
		AuthorId:      v.AuthorId,
		Sections:      ToEventSections(v.Sections),
		CommittedAt:   v.CreatedAt,
	}
}

// ToLockChanged builds the broadcast for key; a nil holder means the section is FREE.
func ToLockChanged(key entity.LockKey, holder *entity.Lock) events.LockChanged {
	lc := events.LockChanged{DocumentId: key.DocumentId, SectionId: key.SectionId}
	if holder != nil {
		lc.Holder = &events.Holder{
			UserId:     holder.OwnerId,
			AcquiredAt: holder.AcquiredAt,
			ExpiresAt:  holder.ExpiresAt,
		}
	}
	return lc
}
