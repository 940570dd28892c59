// Package plot renders chart images from dynamic graph parameter bags.
// Parameter-shape problems and data-rule violations carry different error
// codes so callers can tell a malformed request from bad series data.
package plot

import (
	"fmt"

	"github.com/docfold/docfold/fault"
)

// Graph types accepted by ParseGraph.
const (
	TypeLine    = "line"
	TypeBar     = "bar"
	TypePie     = "pie"
	TypeScatter = "scatter"
)

const (
	defaultWidth  = 800
	defaultHeight = 500
	minDimension  = 100
	maxDimension  = 4000
)

// Series is one line or scatter trace. X is optional; an empty X means the
// points are plotted at their index positions.
type Series struct {
	Name string
	X    []float64
	Y    []float64
}

// Graph is a validated render request. Line and scatter graphs carry Series;
// bar and pie graphs carry Labels/Values.
type Graph struct {
	Type   string
	Title  string
	XLabel string
	YLabel string
	Width  int
	Height int
	Series []Series
	Labels []string
	Values []float64
}

// ParseGraph decodes and validates a graph parameter bag. Shape problems
// (wrong types, unknown graph type, out-of-range dimensions) fail with
// INVALID_GRAPH_PARAMS; violations of the data rules (mismatched lengths,
// too few points, non-positive pie totals) fail with GRAPH_VALIDATION_ERROR.
func ParseGraph(args map[string]any) (*Graph, error) {
	g := &Graph{Width: defaultWidth, Height: defaultHeight}

	var ok bool
	g.Type, ok = args["graph_type"].(string)
	if !ok || g.Type == "" {
		return nil, fault.New(fault.InvalidGraphParams, "graph_type is required")
	}
	switch g.Type {
	case TypeLine, TypeBar, TypePie, TypeScatter:
	default:
		return nil, fault.Newf(fault.InvalidGraphParams, "unknown graph_type %q", g.Type)
	}

	g.Title, _ = args["title"].(string)
	g.XLabel, _ = args["x_label"].(string)
	g.YLabel, _ = args["y_label"].(string)

	for _, dim := range []struct {
		key string
		dst *int
	}{{"width", &g.Width}, {"height", &g.Height}} {
		v, present := args[dim.key]
		if !present {
			continue
		}
		f, ok := asNumber(v)
		if !ok || f != float64(int(f)) {
			return nil, fault.Newf(fault.InvalidGraphParams, "%s must be an integer", dim.key)
		}
		if f < minDimension || f > maxDimension {
			return nil, fault.Newf(fault.InvalidGraphParams, "%s must be between %d and %d", dim.key, minDimension, maxDimension)
		}
		*dim.dst = int(f)
	}

	switch g.Type {
	case TypeLine, TypeScatter:
		if err := parseSeries(g, args); err != nil {
			return nil, err
		}
	case TypeBar, TypePie:
		if err := parseLabelled(g, args); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func parseSeries(g *Graph, args map[string]any) error {
	raw, present := args["series"]
	if !present {
		return fault.Newf(fault.InvalidGraphParams, "%s graphs require series", g.Type)
	}
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return fault.New(fault.InvalidGraphParams, "series must be a non-empty list")
	}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return fault.Newf(fault.InvalidGraphParams, "series[%d] must be an object", i)
		}
		s := Series{}
		s.Name, _ = m["name"].(string)
		if s.Name == "" {
			s.Name = fmt.Sprintf("series %d", i+1)
		}
		ys, err := numberList(m["y"], fmt.Sprintf("series[%d].y", i))
		if err != nil {
			return err
		}
		s.Y = ys
		if rawX, present := m["x"]; present {
			xs, err := numberList(rawX, fmt.Sprintf("series[%d].x", i))
			if err != nil {
				return err
			}
			s.X = xs
		}
		if len(s.Y) < 2 {
			return fault.Newf(fault.GraphValidation, "series[%d] needs at least two points", i)
		}
		if s.X != nil && len(s.X) != len(s.Y) {
			return fault.Newf(fault.GraphValidation, "series[%d] has %d x values for %d y values", i, len(s.X), len(s.Y))
		}
		g.Series = append(g.Series, s)
	}
	return nil
}

func parseLabelled(g *Graph, args map[string]any) error {
	values, err := numberList(args["values"], "values")
	if err != nil {
		return err
	}
	g.Values = values

	if rawLabels, present := args["labels"]; present {
		items, ok := rawLabels.([]any)
		if !ok {
			return fault.New(fault.InvalidGraphParams, "labels must be a list of strings")
		}
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return fault.Newf(fault.InvalidGraphParams, "labels[%d] must be a string", i)
			}
			g.Labels = append(g.Labels, s)
		}
	}

	if len(g.Values) == 0 {
		return fault.New(fault.GraphValidation, "values must not be empty")
	}
	if g.Labels != nil && len(g.Labels) != len(g.Values) {
		return fault.Newf(fault.GraphValidation, "%d labels for %d values", len(g.Labels), len(g.Values))
	}
	if g.Type == TypePie {
		var total float64
		for i, v := range g.Values {
			if v < 0 {
				return fault.Newf(fault.GraphValidation, "values[%d] is negative; pie slices must be non-negative", i)
			}
			total += v
		}
		if total <= 0 {
			return fault.New(fault.GraphValidation, "pie values must sum to a positive total")
		}
	}
	return nil
}

func numberList(v any, field string) ([]float64, error) {
	if v == nil {
		return nil, fault.Newf(fault.InvalidGraphParams, "%s is required", field)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fault.Newf(fault.InvalidGraphParams, "%s must be a list of numbers", field)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := asNumber(item)
		if !ok {
			return nil, fault.Newf(fault.InvalidGraphParams, "%s[%d] is not a number", field, i)
		}
		out[i] = f
	}
	return out, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
