// Package alias maintains per-group bijections between human-friendly names
// and artefact identifiers. The same alias may denote different targets in
// different groups; within one group it is unique.
package alias

import (
	"regexp"
	"sync"

	"github.com/google/uuid"
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// Valid reports whether s is an acceptable alias.
func Valid(s string) bool { return pattern.MatchString(s) }

// Index is safe for concurrent use. The zero value is not usable; call New.
type Index struct {
	mu      sync.RWMutex
	byGroup map[string]map[string]string // group -> alias -> guid
	reverse map[string]map[string]string // group -> guid -> alias
}

func New() *Index {
	return &Index{
		byGroup: map[string]map[string]string{},
		reverse: map[string]map[string]string{},
	}
}

// Register binds alias to guid within group. It reports ErrInvalid for a
// malformed alias and ErrTaken when the alias already names another guid in
// that group. Re-registering the identical binding is a no-op.
func (ix *Index) Register(a, guid, group string) error {
	if !Valid(a) {
		return ErrInvalid
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	forward := ix.byGroup[group]
	if forward == nil {
		forward = map[string]string{}
		ix.byGroup[group] = forward
		ix.reverse[group] = map[string]string{}
	}
	if existing, ok := forward[a]; ok {
		if existing == guid {
			return nil
		}
		return ErrTaken
	}
	forward[a] = guid
	ix.reverse[group][guid] = a
	return nil
}

// Unregister removes alias from group. Unknown aliases are ignored.
func (ix *Index) Unregister(a, group string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	forward := ix.byGroup[group]
	if forward == nil {
		return
	}
	if guid, ok := forward[a]; ok {
		delete(forward, a)
		delete(ix.reverse[group], guid)
	}
}

// UnregisterGUID removes every alias bound to guid within group.
func (ix *Index) UnregisterGUID(guid, group string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if a, ok := ix.reverse[group][guid]; ok {
		delete(ix.byGroup[group], a)
		delete(ix.reverse[group], guid)
	}
}

// Resolve maps identifier to a guid within group. UUIDs pass through after a
// parse check, then identifier is tried as an alias. Every call site funnels
// through this so UUIDs and aliases stay interchangeable.
func (ix *Index) Resolve(identifier, group string) (string, bool) {
	if id, err := uuid.Parse(identifier); err == nil {
		return id.String(), true
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	guid, ok := ix.byGroup[group][identifier]
	return guid, ok
}

// AliasFor returns the alias bound to guid in group, if any.
func (ix *Index) AliasFor(guid, group string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	a, ok := ix.reverse[group][guid]
	return a, ok
}

// Snapshot returns a copy of the forward maps, for persistence.
func (ix *Index) Snapshot() map[string]map[string]string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]map[string]string, len(ix.byGroup))
	for group, forward := range ix.byGroup {
		m := make(map[string]string, len(forward))
		for a, guid := range forward {
			m[a] = guid
		}
		out[group] = m
	}
	return out
}

// Load replaces the index contents with a previously snapshotted state.
// Malformed entries are dropped.
func (ix *Index) Load(state map[string]map[string]string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byGroup = map[string]map[string]string{}
	ix.reverse = map[string]map[string]string{}
	for group, forward := range state {
		for a, guid := range forward {
			if !Valid(a) {
				continue
			}
			if ix.byGroup[group] == nil {
				ix.byGroup[group] = map[string]string{}
				ix.reverse[group] = map[string]string{}
			}
			ix.byGroup[group][a] = guid
			ix.reverse[group][guid] = a
		}
	}
}
