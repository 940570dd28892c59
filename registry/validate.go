package registry

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/docfold/docfold/tabular"
)

// Issue is one parameter validation failure. The field name keeps issues
// actionable when several parameters fail at once.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string { return i.Field + ": " + i.Message }

// ValidateParameters checks values against decl: required presence, no
// unexpected keys, shallow type checks, and format sub-rules where declared.
// Defaults are not applied here; the rendering engine applies them later.
func ValidateParameters(decl []Param, values map[string]any) []Issue {
	var issues []Issue

	declared := map[string]*Param{}
	for i := range decl {
		declared[decl[i].Name] = &decl[i]
	}

	unexpected := make([]string, 0)
	for k := range values {
		if _, ok := declared[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	slices.Sort(unexpected)
	for _, k := range unexpected {
		issues = append(issues, Issue{Field: k, Message: "unexpected parameter"})
	}

	for _, p := range decl {
		v, present := values[p.Name]
		if !present {
			if p.Required {
				issues = append(issues, Issue{Field: p.Name, Message: "required parameter missing"})
			}
			continue
		}
		if !typeOK(p.Type, v) {
			issues = append(issues, Issue{
				Field:   p.Name,
				Message: fmt.Sprintf("expected %s, got %s", p.Type, typeName(v)),
			})
			continue
		}
		if p.Format != "" {
			if msg := checkFormat(p.Format, v); msg != "" {
				issues = append(issues, Issue{Field: p.Name, Message: msg})
			}
		}
	}
	return issues
}

// IssueStrings flattens issues for envelopes that carry plain strings.
func IssueStrings(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}

// typeOK performs the shallow type check. Integers tolerate the float64
// shape JSON decoding produces as long as the value is integral.
func typeOK(declared string, v any) bool {
	switch declared {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		f, ok := asFloat(v)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case "number":
		_, ok := asFloat(v)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, uint64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// checkFormat applies one named sub-rule; it returns an empty string when
// the value passes.
func checkFormat(format string, v any) string {
	switch format {
	case "currency_code":
		s, ok := v.(string)
		if !ok || !currencyCodeRe.MatchString(s) {
			return "expected a three-letter ISO-4217 currency code"
		}
	case "percentage":
		f, ok := asFloat(v)
		if !ok || f < 0 || f > 1 {
			return "expected a fraction between 0 and 1"
		}
	case "color":
		s, ok := v.(string)
		if !ok || !tabular.ValidColor(s) {
			return "expected a theme color name or #RGB/#RRGGBB hex literal"
		}
	case "url":
		s, ok := v.(string)
		if !ok {
			return "expected an absolute http(s) url"
		}
		u, err := url.Parse(s)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return "expected an absolute http(s) url"
		}
	case "date":
		s, ok := v.(string)
		if !ok {
			return "expected an ISO-8601 date (YYYY-MM-DD)"
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "expected an ISO-8601 date (YYYY-MM-DD)"
		}
	case "data_uri":
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "data:") {
			return "expected a data: uri; use add_image_fragment or add_plot_fragment to embed images"
		}
	case "table":
		m, ok := v.(map[string]any)
		if !ok {
			return "expected a table object"
		}
		if err := tabular.ValidateTable(m); err != nil {
			return err.Message
		}
	}
	return ""
}
