package tools

import (
	"context"
	"time"

	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/registry"
	"github.com/docfold/docfold/tabular"
)

func (d *Dispatcher) ping(ctx context.Context, args map[string]any) (*Reply, error) {
	return &Reply{Data: map[string]any{
		"message":     "pong",
		"group":       group(ctx),
		"server_time": time.Now().UTC().Format(time.RFC3339),
	}}, nil
}

func (d *Dispatcher) help(ctx context.Context, args map[string]any) (*Reply, error) {
	return &Reply{Data: map[string]any{
		"service": "docfold",
		"summary": "Compose documents from group-scoped templates and parameterised fragments, then render them to html, pdf, or markdown.",
		"workflow": []string{
			"create_document_session(template_id, alias?)",
			"set_global_parameters(session_id, parameters)",
			"add_fragment(session_id, fragment_id, parameters, position?)",
			"get_document(session_id, format, style_id?, proxy?)",
		},
		"tools": d.toolSummaries(),
	}}, nil
}

func (d *Dispatcher) toolSummaries() []map[string]any {
	out := make([]map[string]any, 0, len(d.order))
	for _, h := range d.Handlers() {
		out = append(out, map[string]any{
			"name":          h.Name,
			"description":   h.Description,
			"requires_auth": !h.Discovery,
		})
	}
	return out
}

func (d *Dispatcher) listHandlers(ctx context.Context, args map[string]any) (*Reply, error) {
	summaries := d.toolSummaries()
	return &Reply{Data: map[string]any{
		"tools": summaries,
		"count": len(summaries),
	}}, nil
}

func (d *Dispatcher) listTemplates(ctx context.Context, args map[string]any) (*Reply, error) {
	templates := d.regs.Templates.List(group(ctx))
	summaries := make([]registry.Summary, len(templates))
	for i, t := range templates {
		summaries[i] = t.Summary()
	}
	return &Reply{Data: map[string]any{
		"templates": summaries,
		"count":     len(summaries),
	}}, nil
}

func (d *Dispatcher) getTemplateDetails(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "template_id")
	if err != nil {
		return nil, err
	}
	t, ok := d.regs.Templates.Get(group(ctx), id)
	if !ok {
		return nil, fault.Newf(fault.TemplateNotFound, "no template %q", id)
	}
	return &Reply{Data: map[string]any{
		"id":                t.ID,
		"group":             t.Group,
		"name":              t.Name,
		"description":       t.Description,
		"global_parameters": t.GlobalParameters,
		"fragments":         t.Fragments,
	}}, nil
}

func (d *Dispatcher) listTemplateFragments(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "template_id")
	if err != nil {
		return nil, err
	}
	t, ok := d.regs.Templates.Get(group(ctx), id)
	if !ok {
		return nil, fault.Newf(fault.TemplateNotFound, "no template %q", id)
	}
	return &Reply{Data: map[string]any{
		"template_id": t.ID,
		"fragments":   t.Fragments,
		"count":       len(t.Fragments),
	}}, nil
}

func (d *Dispatcher) getFragmentDetails(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "fragment_id")
	if err != nil {
		return nil, err
	}
	f, ok := d.regs.Fragments.Get(group(ctx), id)
	if !ok {
		return nil, fault.Newf(fault.FragmentNotFound, "no fragment %q", id)
	}
	return &Reply{Data: map[string]any{
		"id":          f.ID,
		"group":       f.Group,
		"name":        f.Name,
		"description": f.Description,
		"parameters":  f.Parameters,
	}}, nil
}

func (d *Dispatcher) listStyles(ctx context.Context, args map[string]any) (*Reply, error) {
	styles := d.regs.Styles.List(group(ctx))
	rows := make([]map[string]any, len(styles))
	for i, s := range styles {
		rows[i] = map[string]any{
			"id":          s.ID,
			"group":       s.Group,
			"name":        s.Name,
			"description": s.Description,
			"default":     s.Default,
		}
	}
	return &Reply{Data: map[string]any{
		"styles": rows,
		"count":  len(rows),
	}}, nil
}

func (d *Dispatcher) listThemes(ctx context.Context, args map[string]any) (*Reply, error) {
	themes := tabular.ThemeNames()
	return &Reply{Data: map[string]any{
		"themes": themes,
		"count":  len(themes),
		"note":   "hex literals #RGB and #RRGGBB are also accepted wherever a color is expected",
	}}, nil
}
