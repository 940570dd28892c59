package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/registry"
)

func TestHelpListsWorkflowAndTools(t *testing.T) {
	d := newTestDispatcher(t)
	data := callOK(t, d, "help", nil)
	assert.Equal(t, "docfold", data["service"])

	workflow := data["workflow"].([]string)
	require.Len(t, workflow, 4)
	assert.Contains(t, workflow[0], "create_document_session")
	assert.Contains(t, workflow[3], "get_document")

	assert.Len(t, data["tools"], toolCount)
}

func TestListHandlersMarksAuth(t *testing.T) {
	d := newTestDispatcher(t)
	data := callOK(t, d, "list_handlers", nil)
	assert.Equal(t, toolCount, data["count"])

	byName := map[string]bool{}
	for _, row := range data["tools"].([]map[string]any) {
		byName[row["name"].(string)] = row["requires_auth"].(bool)
	}
	assert.False(t, byName["ping"])
	assert.False(t, byName["list_templates"])
	assert.True(t, byName["create_document_session"])
	assert.True(t, byName["render_graph"])
}

func TestListTemplatesScopedToGroup(t *testing.T) {
	d := newTestDispatcher(t)

	data := callOK(t, d, "list_templates", fin(nil))
	assert.Equal(t, 1, data["count"])
	summaries := data["templates"].([]registry.Summary)
	require.Len(t, summaries, 1)
	assert.Equal(t, "news_email", summaries[0].ID)

	// neither the public group nor another authenticated group sees it
	data = callOK(t, d, "list_templates", nil)
	assert.Equal(t, 0, data["count"])
	data = callOK(t, d, "list_templates", ops(nil))
	assert.Equal(t, 0, data["count"])
}

func TestGetTemplateDetails(t *testing.T) {
	d := newTestDispatcher(t)

	data := callOK(t, d, "get_template_details", fin(map[string]any{"template_id": "news_email"}))
	assert.Equal(t, "news_email", data["id"])
	assert.Equal(t, "News Email", data["name"])
	params := data["global_parameters"].([]registry.Param)
	require.Len(t, params, 1)
	assert.Equal(t, "title", params[0].Name)
	assert.True(t, params[0].Required)
	assert.Len(t, data["fragments"], 2)

	env := callErr(t, d, "get_template_details", fin(map[string]any{"template_id": "nope"}))
	assert.Equal(t, fault.TemplateNotFound, env.Code)

	env = callErr(t, d, "get_template_details", fin(nil))
	assert.Equal(t, fault.InvalidArguments, env.Code)
}

func TestListTemplateFragments(t *testing.T) {
	d := newTestDispatcher(t)
	data := callOK(t, d, "list_template_fragments", fin(map[string]any{"template_id": "news_email"}))
	assert.Equal(t, "news_email", data["template_id"])
	assert.Equal(t, 2, data["count"])

	frags := data["fragments"].([]registry.FragmentDef)
	ids := []string{frags[0].ID, frags[1].ID}
	assert.ElementsMatch(t, []string{"news", "photo"}, ids)
}

func TestGetFragmentDetails(t *testing.T) {
	d := newTestDispatcher(t)

	data := callOK(t, d, "get_fragment_details", fin(map[string]any{"fragment_id": "pull_quote"}))
	assert.Equal(t, "Pull Quote", data["name"])
	params := data["parameters"].([]registry.Param)
	require.Len(t, params, 1)
	assert.Equal(t, "quote", params[0].Name)

	env := callErr(t, d, "get_fragment_details", fin(map[string]any{"fragment_id": "nope"}))
	assert.Equal(t, fault.FragmentNotFound, env.Code)
}

func TestListStyles(t *testing.T) {
	d := newTestDispatcher(t)
	data := callOK(t, d, "list_styles", fin(nil))
	assert.Equal(t, 1, data["count"])

	rows := data["styles"].([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "bizdark", rows[0]["id"])
	assert.Equal(t, true, rows[0]["default"])
}

func TestListThemes(t *testing.T) {
	d := newTestDispatcher(t)
	data := callOK(t, d, "list_themes", nil)

	themes := data["themes"].([]string)
	assert.Equal(t, len(themes), data["count"])
	assert.Contains(t, themes, "primary")
	assert.Contains(t, themes, "danger")
	assert.Contains(t, data["note"], "#RGB")
}
