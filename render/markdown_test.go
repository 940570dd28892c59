package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownConverterKeepsTables(t *testing.T) {
	conv := NewMarkdownConverter()
	out, err := conv.FromHTML(`<h1>Report</h1><table><thead><tr><th>Region</th><th>Revenue</th></tr></thead><tbody><tr><td>EMEA</td><td>1200</td></tr></tbody></table>`)
	require.NoError(t, err)
	assert.Contains(t, out, "# Report")
	assert.Contains(t, out, "| Region | Revenue |")
	assert.Contains(t, out, "| EMEA | 1200 |")
	assert.True(t, strings.Contains(out, "---"))
}

func TestIsSeparatorRow(t *testing.T) {
	yes := []string{
		"| --- | --- |",
		"|---|---|",
		"--- | ---",
		"| :--- | ---: |",
	}
	for _, line := range yes {
		assert.True(t, isSeparatorRow(line), line)
	}

	no := []string{
		"---",          // thematic break, no pipe
		"| a | b |",    // header row
		"| --- | x |",  // stray cell text
		"",
		"plain text",
	}
	for _, line := range no {
		assert.False(t, isSeparatorRow(line), line)
	}
}

func TestApplyTableAlignments(t *testing.T) {
	doc := strings.Join([]string{
		"# Title",
		"",
		"---",
		"",
		"| Region | Revenue |",
		"| --- | --- |",
		"| EMEA | 1200 |",
		"",
		"| A | B |",
		"| --- | --- |",
		"| 1 | 2 |",
	}, "\n")

	out := applyTableAlignments(doc, [][]string{{"left", "right"}})
	assert.Contains(t, out, "| :--- | ---: |")
	// thematic break stays put and the second table keeps default markers
	assert.Contains(t, out, "\n---\n")
	assert.Equal(t, 1, strings.Count(out, ":---"))

	out = applyTableAlignments(doc, [][]string{{"center", "center"}, {"right", "left"}})
	assert.Contains(t, out, "| :---: | :---: |")
	assert.Contains(t, out, "| ---: | :--- |")
}

func TestApplyTableAlignmentsSkipsEmptyEntries(t *testing.T) {
	doc := "| a | b |\n| --- | --- |\n| 1 | 2 |"
	assert.Equal(t, doc, applyTableAlignments(doc, nil))
	assert.Equal(t, doc, applyTableAlignments(doc, [][]string{nil}))

	// fewer alignment sets than tables leaves the tail untouched
	two := doc + "\n\n" + doc
	out := applyTableAlignments(two, [][]string{{"right", "right"}})
	assert.Equal(t, 1, strings.Count(out, "| ---: | ---: |"))
	assert.Contains(t, out, "| --- | --- |")
}
