package render

import (
	"html/template"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncsMergesSprigAndDocumentHelpers(t *testing.T) {
	funcs := Funcs()
	for _, name := range []string{"upper", "trim", "markdown", "sanitizeHtml", "humanize", "trustHtml", "idx", "try"} {
		assert.Contains(t, funcs, name)
	}

	tpl := template.Must(template.New("x").Funcs(Funcs()).Parse(`{{upper "ok"}}|{{markdown "**b**"}}`))
	var sb strings.Builder
	require.NoError(t, tpl.Execute(&sb, nil))
	assert.Contains(t, sb.String(), "OK")
	assert.Contains(t, sb.String(), "<strong>b</strong>")
}

func TestSanitizeHtml(t *testing.T) {
	out, err := FuncSanitizeHtml("strict", `<a href="/x">link</a><script>evil()</script>`)
	require.NoError(t, err)
	assert.Contains(t, string(out), "link")
	assert.NotContains(t, string(out), "<a")
	assert.NotContains(t, string(out), "script")

	out, err = FuncSanitizeHtml("ugc", `<a href="https://example.com">link</a>`)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<a")

	_, err = FuncSanitizeHtml("nope", "x")
	assert.Error(t, err)
}

func TestMarkdownFunc(t *testing.T) {
	out, err := FuncMarkdown("# Overview\n\nsome **bold** text")
	require.NoError(t, err)
	assert.Contains(t, string(out), `id="overview"`)
	assert.Contains(t, string(out), "<strong>bold</strong>")

	// gfm tables are on by default
	out, err = FuncMarkdown("| a | b |\n| --- | --- |\n| 1 | 2 |")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<table>")

	// raw html needs the unsafe config
	out, err = FuncMarkdown("text\n\n<div>x</div>")
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<div>")

	out, err = FuncMarkdown("text\n\n<div>x</div>", "unsafe")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<div>x</div>")

	_, err = FuncMarkdown("x", "nope")
	assert.Error(t, err)
	_, err = FuncMarkdown("x", "default", "extra")
	assert.Error(t, err)
}

func TestHumanizeFunc(t *testing.T) {
	out, err := FuncHumanize("size", "2048000")
	require.NoError(t, err)
	assert.Equal(t, "2.0 MB", out)

	out, err = FuncHumanize("time", "Fri, 05 May 2022 15:04:05 +0200")
	require.NoError(t, err)
	assert.Contains(t, out, "ago")

	out, err = FuncHumanize("time:2006-01-02", "2020-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "ago")

	_, err = FuncHumanize("size", "not-a-number")
	assert.Error(t, err)
	_, err = FuncHumanize("weight", "10")
	assert.Error(t, err)
}

func TestIdxFunc(t *testing.T) {
	assert.Equal(t, "b", FuncIdx(1, []string{"a", "b", "c"}))
}

func TestTryFunc(t *testing.T) {
	res, err := FuncTry(strconv.Atoi, "42")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, 42, res.Value)

	res, err = FuncTry(strconv.Atoi, "nope")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Error(t, res.Error)

	res, err = FuncTry(time.Now(), "MarshalJSON")
	require.NoError(t, err)
	assert.True(t, res.OK())

	_, err = FuncTry(nil)
	assert.Error(t, err)
	_, err = FuncTry("not-a-func")
	assert.Error(t, err)
}

func TestAddPolicyAndConfigRejectDuplicates(t *testing.T) {
	AddBlueMondayPolicy("test-extra", bluemonday.StrictPolicy())
	assert.Panics(t, func() { AddBlueMondayPolicy("test-extra", bluemonday.StrictPolicy()) })
	assert.Panics(t, func() { AddMarkdownConfig("default", markdownConfigs["default"]) })
}
