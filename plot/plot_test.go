package plot

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/fault"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func lineArgs() map[string]any {
	return map[string]any{
		"graph_type": "line",
		"title":      "Revenue",
		"x_label":    "Quarter",
		"y_label":    "EUR",
		"series": []any{
			map[string]any{
				"name": "2026",
				"x":    []any{1.0, 2.0, 3.0, 4.0},
				"y":    []any{10.0, 12.5, 11.0, 14.0},
			},
		},
	}
}

func TestParseGraphShapes(t *testing.T) {
	g, err := ParseGraph(lineArgs())
	require.NoError(t, err)
	assert.Equal(t, TypeLine, g.Type)
	assert.Equal(t, defaultWidth, g.Width)
	require.Len(t, g.Series, 1)
	assert.Equal(t, "2026", g.Series[0].Name)

	for name, mutate := range map[string]func(map[string]any){
		"missing type":     func(a map[string]any) { delete(a, "graph_type") },
		"unknown type":     func(a map[string]any) { a["graph_type"] = "sankey" },
		"missing series":   func(a map[string]any) { delete(a, "series") },
		"series not list":  func(a map[string]any) { a["series"] = "nope" },
		"width not number": func(a map[string]any) { a["width"] = "800" },
		"width too small":  func(a map[string]any) { a["width"] = 10.0 },
		"y not numbers": func(a map[string]any) {
			a["series"] = []any{map[string]any{"y": []any{"a", "b"}}}
		},
	} {
		args := lineArgs()
		mutate(args)
		_, err := ParseGraph(args)
		assert.True(t, fault.IsCode(err, fault.InvalidGraphParams), "case %s: %v", name, err)
	}
}

func TestParseGraphDataRules(t *testing.T) {
	args := lineArgs()
	args["series"] = []any{map[string]any{"y": []any{1.0}}}
	_, err := ParseGraph(args)
	assert.True(t, fault.IsCode(err, fault.GraphValidation), "single point")

	args = lineArgs()
	args["series"] = []any{map[string]any{"x": []any{1.0, 2.0, 3.0}, "y": []any{1.0, 2.0}}}
	_, err = ParseGraph(args)
	assert.True(t, fault.IsCode(err, fault.GraphValidation), "length mismatch")

	_, err = ParseGraph(map[string]any{
		"graph_type": "pie",
		"labels":     []any{"a", "b"},
		"values":     []any{1.0, -2.0},
	})
	assert.True(t, fault.IsCode(err, fault.GraphValidation), "negative slice")

	_, err = ParseGraph(map[string]any{
		"graph_type": "bar",
		"labels":     []any{"a", "b", "c"},
		"values":     []any{1.0, 2.0},
	})
	assert.True(t, fault.IsCode(err, fault.GraphValidation), "label/value mismatch")
}

func TestRenderEachType(t *testing.T) {
	r := NewRenderer()

	cases := []map[string]any{
		lineArgs(),
		{
			"graph_type": "scatter",
			"series": []any{
				map[string]any{"y": []any{3.0, 1.0, 4.0, 1.0, 5.0}},
			},
		},
		{
			"graph_type": "bar",
			"title":      "Headcount",
			"labels":     []any{"eng", "sales", "ops"},
			"values":     []any{42.0, 17.0, 8.0},
		},
		{
			"graph_type": "pie",
			"labels":     []any{"a", "b"},
			"values":     []any{60.0, 40.0},
		},
	}
	for _, args := range cases {
		g, err := ParseGraph(args)
		require.NoError(t, err, args["graph_type"])
		png, err := r.Render(g)
		require.NoError(t, err, args["graph_type"])
		assert.True(t, bytes.HasPrefix(png, pngMagic), "%s renders a png", args["graph_type"])
	}
}

func TestRenderIsSafeUnderConcurrency(t *testing.T) {
	r := NewRenderer()
	g, err := ParseGraph(lineArgs())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			png, err := r.Render(g)
			if err == nil {
				results[i] = png
			}
		}()
	}
	wg.Wait()
	for i, png := range results {
		require.NotNil(t, png, "render %d", i)
		assert.True(t, bytes.HasPrefix(png, pngMagic))
	}
}

func TestRenderBackendFailureIsRenderError(t *testing.T) {
	r := NewRenderer()
	// identical x values give the backend a zero-width range it cannot draw
	g := &Graph{
		Type:   TypeLine,
		Width:  defaultWidth,
		Height: defaultHeight,
		Series: []Series{{Name: "flat", X: []float64{1, 1}, Y: []float64{2, 2}}},
	}
	_, err := r.Render(g)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.RenderError))
}
