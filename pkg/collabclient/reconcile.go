package collabclient

import "section-collab-be/pkg/events"

// Section is the client's working copy of one document section.
type Section struct {
	Id       string
	Title    string
	Content  string
	Editable bool
}

func fromEvent(s events.Section) Section {
	return Section{Id: s.Id, Title: s.Title, Content: s.Content, Editable: s.Editable}
}

// Reconcile merges an authoritative inbound snapshot into the local working copy.
//
// Sections in held are kept verbatim, wherever their content stands on the
// server. Every other section takes the inbound copy; updated lists those whose
// content changed. The order is the inbound order, except that a held section the
// inbound snapshot no longer has stays right after the section it followed locally.
func Reconcile(local []Section, held map[string]bool, inbound []Section) (merged []Section, updated []string) {
	localById := make(map[string]Section, len(local))
	for _, s := range local {
		localById[s.Id] = s
	}

	merged = make([]Section, 0, len(inbound)+len(held))
	present := make(map[string]bool, len(inbound))
	for _, in := range inbound {
		present[in.Id] = true
		mine, had := localById[in.Id]
		switch {
		case had && held[in.Id]:
			merged = append(merged, mine)
		case had && mine.Content != in.Content:
			merged = append(merged, in)
			updated = append(updated, in.Id)
		default:
			merged = append(merged, in)
		}
	}

	for i, s := range local {
		if present[s.Id] || !held[s.Id] {
			continue
		}
		merged = insertAfter(merged, precedingIn(local[:i], merged), s)
		present[s.Id] = true
	}
	return merged, updated
}

// precedingIn returns the id of the closest section before, in local order, that
// made it into merged, or "" when there is none.
func precedingIn(before []Section, merged []Section) string {
	for i := len(before) - 1; i >= 0; i-- {
		for _, m := range merged {
			if m.Id == before[i].Id {
				return m.Id
			}
		}
	}
	return ""
}

func insertAfter(sections []Section, afterId string, s Section) []Section {
	at := 0
	if afterId != "" {
		for i, m := range sections {
			if m.Id == afterId {
				at = i + 1
				break
			}
		}
	}
	sections = append(sections, Section{})
	copy(sections[at+1:], sections[at:])
	sections[at] = s
	return sections
}
