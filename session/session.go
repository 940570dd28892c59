// Package session owns the mutable draft-document state: one JSON file per
// session, a group-scoped alias index persisted beside them, and a manager
// that serialises read-modify-write operations per session id.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Fragment is one placed content block inside a session. The instance GUID
// is the handle for removal and relative-position insertion; it is unrelated
// to the fragment type id.
type Fragment struct {
	InstanceGUID string         `json:"fragment_instance_guid"`
	FragmentID   string         `json:"fragment_id"`
	Parameters   map[string]any `json:"parameters"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Session is the persisted draft document. There is no explicit state field:
// readiness for rendering is derived from Global being set at least once,
// which JSON keeps distinguishable from never-set (object vs null).
type Session struct {
	ID         string         `json:"session_id"`
	Group      string         `json:"group"`
	TemplateID string         `json:"template_id"`
	Alias      string         `json:"alias,omitempty"`
	Global     map[string]any `json:"global_parameters"`
	Fragments  []Fragment     `json:"fragments"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// GlobalSet reports whether global parameters were ever stored. An empty map
// counts: the author may legitimately have nothing to say globally.
func (s *Session) GlobalSet() bool { return s.Global != nil }

func (s *Session) fragmentIndex(guid string) int {
	for i := range s.Fragments {
		if s.Fragments[i].InstanceGUID == guid {
			return i
		}
	}
	return -1
}

// Position names where a fragment lands in the session order.
type Position struct {
	anchor string // start, end, before, after
	ref    string // instance guid for before/after
}

// ParsePosition parses the position grammar. An empty string means end.
func ParsePosition(raw string) (Position, error) {
	switch {
	case raw == "" || raw == "end":
		return Position{anchor: "end"}, nil
	case raw == "start":
		return Position{anchor: "start"}, nil
	case strings.HasPrefix(raw, "before:"):
		if ref := raw[len("before:"):]; ref != "" {
			return Position{anchor: "before", ref: ref}, nil
		}
	case strings.HasPrefix(raw, "after:"):
		if ref := raw[len("after:"):]; ref != "" {
			return Position{anchor: "after", ref: ref}, nil
		}
	}
	return Position{}, fmt.Errorf("position must be start, end, before:<guid> or after:<guid>, got %q", raw)
}

// insertIndex computes the slice index for pos. It reports false when the
// referenced instance GUID is not present.
func insertIndex(fragments []Fragment, pos Position) (int, bool) {
	switch pos.anchor {
	case "start":
		return 0, true
	case "end":
		return len(fragments), true
	}
	for i := range fragments {
		if fragments[i].InstanceGUID == pos.ref {
			if pos.anchor == "before" {
				return i, true
			}
			return i + 1, true
		}
	}
	return 0, false
}
