package plot

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/docfold/docfold/fault"
)

// Renderer draws graphs to PNG. The chart backend is not reentrant, so the
// process owns a single Renderer and Render serialises callers; the returned
// bytes are copied out before the lock is released.
type Renderer struct {
	mu sync.Mutex
}

func NewRenderer() *Renderer { return &Renderer{} }

// Render draws a parsed graph. Backend failures come back as RENDER_ERROR
// with the backend's message in details.
func (r *Renderer) Render(g *Graph) (out []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fault.Newf(fault.RenderError, "graph rendering failed").
				WithDetail("panic", fmt.Sprint(rec))
		}
	}()

	buf := &bytes.Buffer{}
	switch g.Type {
	case TypeLine, TypeScatter:
		err = r.renderXY(g, buf)
	case TypeBar:
		err = r.renderBar(g, buf)
	case TypePie:
		err = r.renderPie(g, buf)
	default:
		return nil, fault.Newf(fault.InvalidGraphParams, "unknown graph_type %q", g.Type)
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.RenderError, "graph rendering failed").
			WithDetail("backend_error", err.Error())
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (r *Renderer) renderXY(g *Graph, buf *bytes.Buffer) error {
	series := make([]chart.Series, len(g.Series))
	for i, s := range g.Series {
		xs := s.X
		if xs == nil {
			xs = make([]float64, len(s.Y))
			for j := range xs {
				xs[j] = float64(j)
			}
		}
		cs := chart.ContinuousSeries{Name: s.Name, XValues: xs, YValues: s.Y}
		if g.Type == TypeScatter {
			cs.Style = chart.Style{StrokeWidth: chart.Disabled, DotWidth: 5}
		}
		series[i] = cs
	}
	graph := chart.Chart{
		Title:  g.Title,
		Width:  g.Width,
		Height: g.Height,
		XAxis:  chart.XAxis{Name: g.XLabel},
		YAxis:  chart.YAxis{Name: g.YLabel},
		Series: series,
	}
	return graph.Render(chart.PNG, buf)
}

func (r *Renderer) renderBar(g *Graph, buf *bytes.Buffer) error {
	bars := make([]chart.Value, len(g.Values))
	for i, v := range g.Values {
		label := ""
		if i < len(g.Labels) {
			label = g.Labels[i]
		}
		bars[i] = chart.Value{Value: v, Label: label}
	}
	graph := chart.BarChart{
		Title:  g.Title,
		Width:  g.Width,
		Height: g.Height,
		Bars:   bars,
	}
	return graph.Render(chart.PNG, buf)
}

func (r *Renderer) renderPie(g *Graph, buf *bytes.Buffer) error {
	values := make([]chart.Value, len(g.Values))
	for i, v := range g.Values {
		label := ""
		if i < len(g.Labels) {
			label = g.Labels[i]
		}
		values[i] = chart.Value{Value: v, Label: label}
	}
	graph := chart.PieChart{
		Title:  g.Title,
		Width:  g.Width,
		Height: g.Height,
		Values: values,
	}
	return graph.Render(chart.PNG, buf)
}
