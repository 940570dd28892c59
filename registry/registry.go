// Package registry loads content assets (templates, fragments, styles) from
// group-rooted directories into immutable in-memory catalogues and validates
// parameter maps against the schemas the assets declare.
package registry

import (
	"cmp"
	"slices"
)

type key struct{ group, id string }

// catalog is an immutable (group, id) index with a stable listing order.
type catalog[T any] struct {
	items map[key]T
	order []key
}

func newCatalog[T any](items map[key]T) *catalog[T] {
	order := make([]key, 0, len(items))
	for k := range items {
		order = append(order, k)
	}
	slices.SortFunc(order, func(a, b key) int {
		if c := cmp.Compare(a.group, b.group); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return &catalog[T]{items: items, order: order}
}

func (c *catalog[T]) get(group, id string) (T, bool) {
	v, ok := c.items[key{group, id}]
	return v, ok
}

// list returns the assets of one group, or of all groups when group is
// empty, in (group, id) order.
func (c *catalog[T]) list(group string) []T {
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		if group == "" || k.group == group {
			out = append(out, c.items[k])
		}
	}
	return out
}

// TemplateRegistry indexes templates by (group, id).
type TemplateRegistry struct{ c *catalog[*Template] }

func (r *TemplateRegistry) Get(group, id string) (*Template, bool) { return r.c.get(group, id) }
func (r *TemplateRegistry) List(group string) []*Template          { return r.c.list(group) }

// FragmentRegistry indexes standalone fragments by (group, id).
type FragmentRegistry struct{ c *catalog[*Fragment] }

func (r *FragmentRegistry) Get(group, id string) (*Fragment, bool) { return r.c.get(group, id) }
func (r *FragmentRegistry) List(group string) []*Fragment          { return r.c.list(group) }

// StyleRegistry indexes styles by (group, id) and tracks per-group defaults.
type StyleRegistry struct {
	c        *catalog[*Style]
	defaults map[string]*Style
}

func (r *StyleRegistry) Get(group, id string) (*Style, bool) { return r.c.get(group, id) }
func (r *StyleRegistry) List(group string) []*Style          { return r.c.list(group) }

// Default returns the style marked default for group.
func (r *StyleRegistry) Default(group string) (*Style, bool) {
	s, ok := r.defaults[group]
	return s, ok
}

// Registries bundles the three immutable catalogues built by Load. Reads
// are lock-free; a reload builds a whole new value.
type Registries struct {
	Templates *TemplateRegistry
	Fragments *FragmentRegistry
	Styles    *StyleRegistry
}
