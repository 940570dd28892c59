package render

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
)

// MarkdownConverter is the default MarkdownEngine, backed by the
// html-to-markdown library with its GitHub Flavored Markdown plugin so
// tables survive the round trip.
type MarkdownConverter struct {
	conv *md.Converter
}

func NewMarkdownConverter() *MarkdownConverter {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return &MarkdownConverter{conv: conv}
}

func (m *MarkdownConverter) FromHTML(html string) (string, error) {
	return m.conv.ConvertString(html)
}

// applyTableAlignments rewrites GFM table separator rows to carry the
// alignment markers the tables declared. The converter emits tables in
// document order, matching the order alignments were collected during
// composition; tables beyond the collected set keep their default markers.
func applyTableAlignments(text string, alignments [][]string) string {
	if len(alignments) == 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	next := 0
	for i, line := range lines {
		if next >= len(alignments) {
			break
		}
		if !isSeparatorRow(line) {
			continue
		}
		align := alignments[next]
		next++
		if len(align) == 0 {
			continue
		}
		lines[i] = rewriteSeparatorRow(line, align)
	}
	return strings.Join(lines, "\n")
}

// isSeparatorRow reports whether line is a GFM table separator. Requiring a
// pipe keeps thematic breaks (---) from matching.
func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.Contains(trimmed, "|") || !strings.Contains(trimmed, "-") {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '|', ':', '-', ' ', '\t':
		default:
			return false
		}
	}
	return true
}

func rewriteSeparatorRow(line string, align []string) string {
	trimmed := strings.TrimSpace(line)
	leading := strings.HasPrefix(trimmed, "|")
	trailing := strings.HasSuffix(trimmed, "|")
	inner := strings.TrimPrefix(trimmed, "|")
	inner = strings.TrimSuffix(inner, "|")

	cells := strings.Split(inner, "|")
	markers := make([]string, len(cells))
	for i := range cells {
		marker := "---"
		if i < len(align) {
			switch align[i] {
			case "left":
				marker = ":---"
			case "right":
				marker = "---:"
			case "center":
				marker = ":---:"
			}
		}
		markers[i] = marker
	}

	row := strings.Join(markers, " | ")
	if leading {
		row = "| " + row
	}
	if trailing {
		row = row + " |"
	}
	return row
}
