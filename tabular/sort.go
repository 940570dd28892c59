package tabular

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/docfold/docfold/fault"
)

// SortSpec is one resolved sort instruction: a 0-based column index and a
// direction.
type SortSpec struct {
	Index int  `json:"index"`
	Desc  bool `json:"desc"`
}

// sortKey is the comparable form of one cell. Numeric cells (kind 0) order
// before string cells (kind 1); missing cells become the empty string
// ascending and +Inf descending, which parks them between the two blocks in
// either direction.
type sortKey struct {
	kind byte
	num  float64
	str  string
}

func (a sortKey) less(b sortKey) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.kind == 0 {
		return a.num < b.num
	}
	return a.str < b.str
}

// numericCell reports the numeric value of a cell. Strings count as numeric
// when they parse after stripping thousands separators.
func numericCell(cell any) (float64, bool) {
	switch v := cell.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// negateRunes maps every rune to its complement so that byte-wise comparison
// of the result is reverse-lexicographic per character. This is not the same
// as reversing an ascending sort when one key is a prefix of another; the
// behaviour is deliberate.
func negateRunes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(0x10FFFF - r)
	}
	return b.String()
}

func cellKey(cell any, desc bool) sortKey {
	if cell == nil {
		if desc {
			return sortKey{kind: 0, num: math.Inf(1)}
		}
		return sortKey{kind: 1, str: ""}
	}
	if n, ok := numericCell(cell); ok {
		if desc {
			return sortKey{kind: 0, num: -n}
		}
		return sortKey{kind: 0, num: n}
	}
	s := strings.ToLower(fmt.Sprint(cell))
	if desc {
		return sortKey{kind: 1, str: negateRunes(s)}
	}
	return sortKey{kind: 1, str: s}
}

// SortRows stable-sorts the data rows by the given specs, lexicographically
// in declared order. When hasHeader is set the first row stays in place and
// only the remainder is sorted. The input is not mutated.
func SortRows(rows [][]any, specs []SortSpec, hasHeader bool) [][]any {
	out := make([][]any, len(rows))
	copy(out, rows)
	if len(specs) == 0 {
		return out
	}

	body := out
	if hasHeader && len(out) > 0 {
		body = out[1:]
	}

	keys := make([][]sortKey, len(body))
	for i, row := range body {
		ks := make([]sortKey, len(specs))
		for j, spec := range specs {
			var cell any
			if spec.Index < len(row) {
				cell = row[spec.Index]
			}
			ks[j] = cellKey(cell, spec.Desc)
		}
		keys[i] = ks
	}

	idx := make([]int, len(body))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		for j := range ka {
			if ka[j].less(kb[j]) {
				return true
			}
			if kb[j].less(ka[j]) {
				return false
			}
		}
		return false
	})

	sorted := make([][]any, len(body))
	for i, j := range idx {
		sorted[i] = body[j]
	}
	copy(body, sorted)
	return out
}

// NormalizeSortSpecs resolves the accepted sort_by shapes (column name,
// 0-based index, {column, order} object, or a list of those) into SortSpecs.
// String references require a header row.
func NormalizeSortSpecs(raw any, header []string, hasHeader bool, ncols int) ([]SortSpec, *fault.Error) {
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	default:
		list = []any{raw}
	}

	specs := make([]SortSpec, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string, float64, float32, int, int32, int64, uint64:
			idx, err := resolveSortColumn(v, header, hasHeader, ncols)
			if err != nil {
				return nil, err
			}
			specs = append(specs, SortSpec{Index: idx})
		case map[string]any:
			col, ok := v["column"]
			if !ok {
				return nil, fault.New(fault.InvalidSort, "sort_by object requires a column")
			}
			idx, err := resolveSortColumn(col, header, hasHeader, ncols)
			if err != nil {
				return nil, err
			}
			spec := SortSpec{Index: idx}
			if o, ok := v["order"]; ok {
				order, _ := o.(string)
				switch order {
				case "asc", "":
				case "desc":
					spec.Desc = true
				default:
					return nil, fault.Newf(fault.InvalidSort, "sort_by order must be asc or desc, got %q", order)
				}
			}
			specs = append(specs, spec)
		default:
			return nil, fault.Newf(fault.InvalidSort, "unsupported sort_by entry of type %T", item)
		}
	}
	return specs, nil
}

func resolveSortColumn(v any, header []string, hasHeader bool, ncols int) (int, *fault.Error) {
	if name, ok := v.(string); ok {
		if !hasHeader {
			return 0, fault.New(fault.InvalidSort, "column names in sort_by require has_header")
		}
		for i, h := range header {
			if h == name {
				return i, nil
			}
		}
		return 0, fault.Newf(fault.InvalidSort, "unknown sort_by column %q", name)
	}
	n, ok := numericCell(v)
	if !ok || n != math.Trunc(n) {
		return 0, fault.Newf(fault.InvalidSort, "sort_by column must be a name or 0-based index, got %v", v)
	}
	idx := int(n)
	if idx < 0 || idx >= ncols {
		return 0, fault.Newf(fault.InvalidSort, "sort_by index %d out of range for %d columns", idx, ncols)
	}
	return idx, nil
}
