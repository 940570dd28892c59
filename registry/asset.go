package registry

import "html/template"

// Template is an immutable outer document shell plus the menu of fragment
// types it admits. Parsed once at load; safe for concurrent execution.
type Template struct {
	ID               string
	Group            string
	Name             string
	Description      string
	GlobalParameters []Param
	Fragments        []FragmentDef

	outer     *template.Template
	fragments map[string]*template.Template // fragment id -> inner source
}

// Outer returns the parsed outer source.
func (t *Template) Outer() *template.Template { return t.outer }

// FragmentDef returns the declared fragment type with the given id.
func (t *Template) FragmentDef(id string) (*FragmentDef, bool) {
	for i := range t.Fragments {
		if t.Fragments[i].ID == id {
			return &t.Fragments[i], true
		}
	}
	return nil, false
}

// FragmentSource returns the parsed inner source for a declared fragment.
func (t *Template) FragmentSource(id string) (*template.Template, bool) {
	tmpl, ok := t.fragments[id]
	return tmpl, ok
}

// Fragment is a standalone parameterised content block addressable by
// (group, id) outside any template.
type Fragment struct {
	ID          string
	Group       string
	Name        string
	Description string
	Parameters  []Param

	source *template.Template
}

// Source returns the parsed fragment source.
func (f *Fragment) Source() *template.Template { return f.source }

// Style is a named CSS payload. At most one style per group is the default.
type Style struct {
	ID          string
	Group       string
	Name        string
	Description string
	Default     bool
	CSS         string
}

// Summary is the listing shape shared by both transport surfaces.
type Summary struct {
	ID          string `json:"id"`
	Group       string `json:"group"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (t *Template) Summary() Summary {
	return Summary{ID: t.ID, Group: t.Group, Name: t.Name, Description: t.Description}
}

func (f *Fragment) Summary() Summary {
	return Summary{ID: f.ID, Group: f.Group, Name: f.Name, Description: f.Description}
}

func (s *Style) Summary() Summary {
	return Summary{ID: s.ID, Group: s.Group, Name: s.Name, Description: s.Description}
}
