package tools

import (
	"context"
	"errors"

	"github.com/docfold/docfold/alias"
	"github.com/docfold/docfold/blob"
	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/plot"
)

// renderGraph validates and renders a chart to PNG. The image rides as a
// binary content part next to the envelope; save=true (or a supplied alias)
// additionally persists it to plot storage.
func (d *Dispatcher) renderGraph(ctx context.Context, args map[string]any) (*Reply, error) {
	aliasName, err := optionalString(args, "alias")
	if err != nil {
		return nil, err
	}
	save, err := optionalBool(args, "save", false)
	if err != nil {
		return nil, err
	}
	save = save || aliasName != ""

	g, err := plot.ParseGraph(args)
	if err != nil {
		return nil, err
	}
	png, err := d.plotter.Render(g)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"graph_type": g.Type,
		"format":     "png",
		"width":      g.Width,
		"height":     g.Height,
		"size":       len(png),
	}
	if save {
		if !d.plots.Ready() {
			return nil, fault.New(fault.PlotStorageMissing, "plot image storage is not initialized")
		}
		guid, err := d.plots.SaveImage(png, "png", group(ctx), aliasName)
		if err != nil {
			if errors.Is(err, alias.ErrTaken) || errors.Is(err, alias.ErrInvalid) {
				return nil, fault.Wrap(err, fault.InvalidOperation, "alias "+aliasName+" cannot be registered")
			}
			return nil, err
		}
		data["image_guid"] = guid
		if aliasName != "" {
			data["alias"] = aliasName
		}
	}

	return &Reply{
		Data:    data,
		Message: "graph rendered",
		Image:   &Image{Data: png, MIME: "image/png"},
	}, nil
}

func (d *Dispatcher) getImage(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "image_id")
	if err != nil {
		return nil, err
	}
	if !d.plots.Ready() {
		return nil, fault.New(fault.PlotStorageMissing, "plot image storage is not initialized")
	}
	content, meta, err := d.plots.GetImage(id, group(ctx))
	if err != nil {
		return nil, imageFault(err, id)
	}
	data := map[string]any{
		"guid":         meta.GUID,
		"format":       meta.Format,
		"content_type": blob.ContentTypeFor(meta.Format),
		"size":         meta.Size,
		"created_at":   meta.CreatedAt,
	}
	if aliasName, ok := d.plots.AliasFor(meta.GUID, meta.Group); ok {
		data["alias"] = aliasName
	}
	return &Reply{
		Data:  data,
		Image: &Image{Data: content, MIME: blob.ContentTypeFor(meta.Format)},
	}, nil
}

func (d *Dispatcher) listImages(ctx context.Context, args map[string]any) (*Reply, error) {
	if !d.plots.Ready() {
		return nil, fault.New(fault.PlotStorageMissing, "plot image storage is not initialized")
	}
	metas := d.plots.ListImages(group(ctx))
	rows := make([]map[string]any, len(metas))
	for i, m := range metas {
		row := map[string]any{
			"guid":       m.GUID,
			"format":     m.Format,
			"size":       m.Size,
			"created_at": m.CreatedAt,
		}
		if aliasName, ok := d.plots.AliasFor(m.GUID, m.Group); ok {
			row["alias"] = aliasName
		}
		rows[i] = row
	}
	return &Reply{Data: map[string]any{
		"images": rows,
		"count":  len(rows),
	}}, nil
}
