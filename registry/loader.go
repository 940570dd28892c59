package registry

import (
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"path"

	"gopkg.in/yaml.v3"
)

// Filenames recognised inside an asset directory. Anything else in the
// directory is ignored.
const (
	schemaFileName   = "schema.yaml"
	templateFileName = "template.html"
	fragmentFileName = "fragment.html"
	styleFileName    = "style.css"
	fragmentsDirName = "fragments"
)

// Load scans <root>/{templates,fragments,styles}/<group>/<id>/ and builds
// immutable catalogues. Any malformed asset fails the whole load so a broken
// tree never half-starts; callers doing hot reloads keep the previous
// catalogues on error.
func Load(fsys fs.FS, funcs template.FuncMap, log *slog.Logger) (*Registries, error) {
	if log == nil {
		log = slog.Default()
	}

	templates := map[key]*Template{}
	if err := eachAsset(fsys, "templates", func(group, id, dir string) error {
		t, err := loadTemplate(fsys, dir, group, id, funcs)
		if err != nil {
			return err
		}
		templates[key{group, id}] = t
		return nil
	}); err != nil {
		return nil, err
	}

	fragments := map[key]*Fragment{}
	if err := eachAsset(fsys, "fragments", func(group, id, dir string) error {
		f, err := loadFragment(fsys, dir, group, id, funcs)
		if err != nil {
			return err
		}
		fragments[key{group, id}] = f
		return nil
	}); err != nil {
		return nil, err
	}

	styles := map[key]*Style{}
	defaults := map[string]*Style{}
	if err := eachAsset(fsys, "styles", func(group, id, dir string) error {
		s, err := loadStyle(fsys, dir, group, id)
		if err != nil {
			return err
		}
		if s.Default {
			if prev, ok := defaults[group]; ok {
				return fmt.Errorf("styles/%s: both %q and %q marked default", group, prev.ID, s.ID)
			}
			defaults[group] = s
		}
		styles[key{group, id}] = s
		return nil
	}); err != nil {
		return nil, err
	}

	log.Debug("assets loaded",
		slog.Int("templates", len(templates)),
		slog.Int("fragments", len(fragments)),
		slog.Int("styles", len(styles)))

	return &Registries{
		Templates: &TemplateRegistry{c: newCatalog(templates)},
		Fragments: &FragmentRegistry{c: newCatalog(fragments)},
		Styles:    &StyleRegistry{c: newCatalog(styles), defaults: defaults},
	}, nil
}

// eachAsset visits every <kind>/<group>/<id> directory. A missing kind
// directory is an empty catalogue, not an error.
func eachAsset(fsys fs.FS, kind string, visit func(group, id, dir string) error) error {
	groups, err := fs.ReadDir(fsys, kind)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("scanning %s: %w", kind, err)
	}
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		ids, err := fs.ReadDir(fsys, path.Join(kind, g.Name()))
		if err != nil {
			return fmt.Errorf("scanning %s/%s: %w", kind, g.Name(), err)
		}
		for _, id := range ids {
			if !id.IsDir() {
				continue
			}
			dir := path.Join(kind, g.Name(), id.Name())
			if err := visit(g.Name(), id.Name(), dir); err != nil {
				return err
			}
		}
	}
	return nil
}

func readSchema(fsys fs.FS, dir, group, id string) (*schemaFile, error) {
	raw, err := fs.ReadFile(fsys, path.Join(dir, schemaFileName))
	if err != nil {
		return nil, fmt.Errorf("%s: missing %s: %w", dir, schemaFileName, err)
	}
	var sf schemaFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("%s: parsing %s: %w", dir, schemaFileName, err)
	}
	if sf.ID != id {
		return nil, fmt.Errorf("%s: schema id %q does not match directory %q", dir, sf.ID, id)
	}
	if sf.Group != group {
		return nil, fmt.Errorf("%s: schema group %q does not match directory %q", dir, sf.Group, group)
	}
	return &sf, nil
}

func parseSource(fsys fs.FS, file, name string, funcs template.FuncMap) (*template.Template, error) {
	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("missing source %s: %w", file, err)
	}
	tmpl, err := template.New(name).Funcs(funcs).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file, err)
	}
	return tmpl, nil
}

func loadTemplate(fsys fs.FS, dir, group, id string, funcs template.FuncMap) (*Template, error) {
	sf, err := readSchema(fsys, dir, group, id)
	if err != nil {
		return nil, err
	}
	if err := checkParams(dir, sf.GlobalParameters); err != nil {
		return nil, err
	}
	outer, err := parseSource(fsys, path.Join(dir, templateFileName), group+"/"+id, funcs)
	if err != nil {
		return nil, err
	}
	inner := make(map[string]*template.Template, len(sf.Fragments))
	for _, fd := range sf.Fragments {
		if err := checkParams(dir+"#"+fd.ID, fd.Parameters); err != nil {
			return nil, err
		}
		src := path.Join(dir, fragmentsDirName, fd.ID+".html")
		tmpl, err := parseSource(fsys, src, group+"/"+id+"#"+fd.ID, funcs)
		if err != nil {
			return nil, err
		}
		inner[fd.ID] = tmpl
	}
	return &Template{
		ID:               id,
		Group:            group,
		Name:             sf.Name,
		Description:      sf.Description,
		GlobalParameters: sf.GlobalParameters,
		Fragments:        sf.Fragments,
		outer:            outer,
		fragments:        inner,
	}, nil
}

func loadFragment(fsys fs.FS, dir, group, id string, funcs template.FuncMap) (*Fragment, error) {
	sf, err := readSchema(fsys, dir, group, id)
	if err != nil {
		return nil, err
	}
	if err := checkParams(dir, sf.Parameters); err != nil {
		return nil, err
	}
	src, err := parseSource(fsys, path.Join(dir, fragmentFileName), group+"/"+id, funcs)
	if err != nil {
		return nil, err
	}
	return &Fragment{
		ID:          id,
		Group:       group,
		Name:        sf.Name,
		Description: sf.Description,
		Parameters:  sf.Parameters,
		source:      src,
	}, nil
}

func loadStyle(fsys fs.FS, dir, group, id string) (*Style, error) {
	sf, err := readSchema(fsys, dir, group, id)
	if err != nil {
		return nil, err
	}
	css, err := fs.ReadFile(fsys, path.Join(dir, styleFileName))
	if err != nil {
		return nil, fmt.Errorf("%s: missing %s: %w", dir, styleFileName, err)
	}
	return &Style{
		ID:          id,
		Group:       group,
		Name:        sf.Name,
		Description: sf.Description,
		Default:     sf.Default,
		CSS:         string(css),
	}, nil
}
