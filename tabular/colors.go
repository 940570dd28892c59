package tabular

import (
	"regexp"
	"slices"
)

// themeNames is the reserved palette accepted wherever a color is expected.
// The semantic names mirror the common CSS framework vocabulary so callers
// can say "danger" instead of shipping hex codes.
var themeNames = []string{
	"default", "primary", "secondary", "success", "danger",
	"warning", "info", "light", "dark", "muted", "white", "black",
}

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// ValidColor reports whether s is a reserved theme name or a #RGB/#RRGGBB
// hex literal.
func ValidColor(s string) bool {
	return slices.Contains(themeNames, s) || hexColorRe.MatchString(s)
}

// ThemeNames returns the reserved theme color names in a stable order.
func ThemeNames() []string {
	return slices.Clone(themeNames)
}
