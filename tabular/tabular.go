// Package tabular implements the table fragment pipeline: cross-field
// validation of caller-supplied table options, deterministic stable sorting
// over heterogeneous cells, and locale-aware number formatting.
package tabular

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/docfold/docfold/fault"
)

// Highlight is a resolved row or column highlight.
type Highlight struct {
	Color string  `json:"color"`
	Alpha float64 `json:"alpha"`
}

// Table is the normalised form of the table options callers attach to
// table-bearing fragments. Column references are resolved to 0-based
// indices; highlight and width keys are range-checked.
type Table struct {
	Rows             [][]any           `json:"rows"`
	HasHeader        bool              `json:"has_header"`
	ColumnAlignments []string          `json:"column_alignments,omitempty"`
	NumberFormat     map[int]string    `json:"number_format,omitempty"`
	HighlightRows    map[int]Highlight `json:"highlight_rows,omitempty"`
	HighlightColumns map[int]Highlight `json:"highlight_columns,omitempty"`
	ColumnWidths     map[int]string    `json:"column_widths,omitempty"`
	SortBy           []SortSpec        `json:"sort_by,omitempty"`
	Width            string            `json:"width,omitempty"`
	BorderStyle      string            `json:"border_style,omitempty"`
	Locale           string            `json:"locale,omitempty"`
}

// Columns returns the column count.
func (t *Table) Columns() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0])
}

// DataRows returns the number of rows excluding a header.
func (t *Table) DataRows() int {
	n := len(t.Rows)
	if t.HasHeader && n > 0 {
		n--
	}
	return n
}

// Header returns the header cells as strings, or nil without a header.
func (t *Table) Header() []string {
	if !t.HasHeader || len(t.Rows) == 0 {
		return nil
	}
	h := make([]string, len(t.Rows[0]))
	for i, c := range t.Rows[0] {
		h[i] = fmt.Sprint(c)
	}
	return h
}

// Apply returns the rows after sorting and number formatting, leaving the
// normalised table untouched.
func (t *Table) Apply() ([][]any, *fault.Error) {
	rows := SortRows(t.Rows, t.SortBy, t.HasHeader)
	return ApplyFormats(rows, t.NumberFormat, t.HasHeader, t.Locale)
}

// ValidateTable checks a raw table object without keeping the result.
func ValidateTable(raw map[string]any) *fault.Error {
	_, err := Normalize(raw)
	return err
}

var borderStyles = []string{"full", "horizontal", "minimal", "none"}

var alignments = []string{"left", "center", "right"}

// Normalize parses and validates a raw table object. Every violation carries
// a typed taxonomy code so both surfaces report table problems uniformly.
func Normalize(raw map[string]any) (*Table, *fault.Error) {
	t := &Table{}

	rowsVal, ok := raw["rows"]
	if !ok {
		return nil, fault.New(fault.InvalidTableData, "table requires rows")
	}
	rows, err := toRows(rowsVal)
	if err != nil {
		return nil, err
	}
	t.Rows = rows
	t.HasHeader, _ = raw["has_header"].(bool)

	ncols := len(rows[0])
	if ncols == 0 {
		return nil, fault.New(fault.InvalidTableData, "rows must have at least one column")
	}
	for i, row := range rows {
		if len(row) != ncols {
			return nil, fault.Newf(fault.InconsistentColumns,
				"row %d has %d columns, expected %d", i, len(row), ncols)
		}
	}

	header := t.Header()

	if v, ok := raw["column_alignments"]; ok {
		list, ok := v.([]any)
		if !ok {
			return nil, fault.New(fault.InvalidAlignment, "column_alignments must be a list")
		}
		if len(list) != ncols {
			return nil, fault.Newf(fault.InvalidAlignment,
				"column_alignments has %d entries, expected %d", len(list), ncols)
		}
		t.ColumnAlignments = make([]string, ncols)
		for i, a := range list {
			s, _ := a.(string)
			if !slices.Contains(alignments, s) {
				return nil, fault.Newf(fault.InvalidAlignment,
					"column_alignments[%d] must be left, center or right, got %q", i, s)
			}
			t.ColumnAlignments[i] = s
		}
	}

	if v, ok := raw["number_format"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fault.New(fault.InvalidNumberFormat, "number_format must be an object")
		}
		t.NumberFormat = map[int]string{}
		for k, fv := range m {
			idx, ok := columnKey(k, header, t.HasHeader, ncols)
			if !ok {
				return nil, fault.Newf(fault.InvalidNumberFormat, "number_format key %q is not a column", k)
			}
			spec, _ := fv.(string)
			if _, ferr := parseFormat(spec); ferr != nil {
				return nil, ferr
			}
			t.NumberFormat[idx] = spec
		}
	}

	if v, ok := raw["highlight_rows"]; ok {
		hl, err := parseHighlights(v, func(k string) (int, bool) {
			return rowKey(k, t.DataRows())
		}, "highlight_rows")
		if err != nil {
			return nil, err
		}
		t.HighlightRows = hl
	}

	if v, ok := raw["highlight_columns"]; ok {
		hl, err := parseHighlights(v, func(k string) (int, bool) {
			return columnKey(k, header, t.HasHeader, ncols)
		}, "highlight_columns")
		if err != nil {
			return nil, err
		}
		t.HighlightColumns = hl
	}

	if v, ok := raw["column_widths"]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fault.New(fault.InvalidColumnWidth, "column_widths must be an object")
		}
		t.ColumnWidths = map[int]string{}
		sum := 0.0
		for k, wv := range m {
			idx, ok := columnKey(k, header, t.HasHeader, ncols)
			if !ok {
				return nil, fault.Newf(fault.InvalidColumnWidth, "column_widths key %q is not a column", k)
			}
			s, _ := wv.(string)
			pct, ok := parsePercent(s)
			if !ok || pct <= 0 {
				return nil, fault.Newf(fault.InvalidColumnWidth,
					"column_widths[%q] must be a positive percentage string, got %q", k, s)
			}
			sum += pct
			t.ColumnWidths[idx] = s
		}
		if sum > 100 {
			return nil, fault.Newf(fault.InvalidColumnWidth,
				"column_widths sum to %v%%, must not exceed 100", sum)
		}
	}

	if v, ok := raw["sort_by"]; ok {
		specs, err := NormalizeSortSpecs(v, header, t.HasHeader, ncols)
		if err != nil {
			return nil, err
		}
		t.SortBy = specs
	}

	if v, ok := raw["width"]; ok {
		s, _ := v.(string)
		if s != "auto" && s != "full" {
			pct, ok := parsePercent(s)
			if !ok || pct < 1 || pct > 100 {
				return nil, fault.Newf(fault.InvalidWidth,
					"width must be auto, full or a 1-100 percentage, got %q", s)
			}
		}
		t.Width = s
	}

	if v, ok := raw["border_style"]; ok {
		s, _ := v.(string)
		if !slices.Contains(borderStyles, s) {
			return nil, fault.Newf(fault.InvalidBorderStyle,
				"border_style must be one of full, horizontal, minimal, none; got %q", s)
		}
		t.BorderStyle = s
	}

	if v, ok := raw["locale"]; ok {
		s, _ := v.(string)
		if !ValidLocale(s) {
			return nil, fault.Newf(fault.InvalidTableData, "invalid locale %q", s)
		}
		t.Locale = s
	}

	return t, nil
}

func toRows(v any) ([][]any, *fault.Error) {
	list, ok := v.([]any)
	if !ok {
		// already-normalised input keeps its shape
		if rows, ok := v.([][]any); ok {
			list = make([]any, len(rows))
			for i, r := range rows {
				list[i] = r
			}
		} else {
			return nil, fault.New(fault.InvalidTableData, "rows must be a list of lists")
		}
	}
	if len(list) == 0 {
		return nil, fault.New(fault.InvalidTableData, "rows must be non-empty")
	}
	rows := make([][]any, len(list))
	for i, rv := range list {
		switch row := rv.(type) {
		case []any:
			rows[i] = row
		default:
			return nil, fault.Newf(fault.InvalidTableData, "row %d is not a list", i)
		}
	}
	return rows, nil
}

// columnKey resolves a string-typed map key to a column index: a base-10
// integer, or a header name when the table has a header.
func columnKey(k string, header []string, hasHeader bool, ncols int) (int, bool) {
	if idx, err := strconv.Atoi(k); err == nil {
		return idx, idx >= 0 && idx < ncols
	}
	if hasHeader {
		for i, h := range header {
			if h == k {
				return i, true
			}
		}
	}
	return 0, false
}

func rowKey(k string, nrows int) (int, bool) {
	idx, err := strconv.Atoi(k)
	if err != nil {
		return 0, false
	}
	return idx, idx >= 0 && idx < nrows
}

func parseHighlights(v any, resolve func(string) (int, bool), field string) (map[int]Highlight, *fault.Error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fault.Newf(fault.InvalidHighlight, "%s must be an object", field)
	}
	out := map[int]Highlight{}
	for k, hv := range m {
		idx, ok := resolve(k)
		if !ok {
			return nil, fault.Newf(fault.InvalidHighlight, "%s key %q is out of range", field, k)
		}
		h := Highlight{Alpha: 1}
		switch val := hv.(type) {
		case string:
			h.Color = val
		case map[string]any:
			if c, ok := val["color"]; ok {
				h.Color, _ = c.(string)
			}
			if a, ok := val["alpha"]; ok {
				f, isNum := asNumber(a)
				if !isNum || f < 0 || f > 1 || math.IsNaN(f) {
					return nil, fault.Newf(fault.InvalidHighlight,
						"%s[%q] alpha must be between 0 and 1", field, k)
				}
				h.Alpha = f
			}
		default:
			return nil, fault.Newf(fault.InvalidHighlight,
				"%s[%q] must be a color or a {color, alpha} object", field, k)
		}
		if h.Color == "" {
			return nil, fault.Newf(fault.InvalidHighlight, "%s[%q] requires a color", field, k)
		}
		if !ValidColor(h.Color) {
			return nil, fault.Newf(fault.InvalidColor,
				"%s[%q] color %q is not a theme name or hex literal", field, k, h.Color)
		}
		out[idx] = h
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

func parsePercent(s string) (float64, bool) {
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
