package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/session"
)

func createNewsSession(t *testing.T, d *Dispatcher, alias string) string {
	t.Helper()
	args := map[string]any{"template_id": "news_email"}
	if alias != "" {
		args["alias"] = alias
	}
	data := callOK(t, d, "create_document_session", fin(args))
	return data["session_id"].(string)
}

func addStory(t *testing.T, d *Dispatcher, id, summary string) string {
	t.Helper()
	data := callOK(t, d, "add_fragment", fin(map[string]any{
		"session_id":  id,
		"fragment_id": "news",
		"parameters":  map[string]any{"story_summary": summary},
	}))
	return data["fragment_instance_guid"].(string)
}

func TestCreateSessionTool(t *testing.T) {
	d := newTestDispatcher(t)

	res := d.Dispatch(context.Background(), "create_document_session",
		fin(map[string]any{"template_id": "news_email", "alias": "weekly"}))
	require.False(t, res.IsError, "%+v", res.Envelope)
	assert.Equal(t, "session created", res.Envelope.Message)

	data := res.Envelope.Data.(map[string]any)
	require.NoError(t, uuid.Validate(data["session_id"].(string)))
	assert.Equal(t, "news_email", data["template_id"])
	assert.Equal(t, "finance", data["group"])
	assert.Equal(t, "weekly", data["alias"])
	assert.Equal(t, false, data["global_parameters_set"])
	assert.Equal(t, 0, data["fragment_count"])

	env := callErr(t, d, "create_document_session", fin(map[string]any{"template_id": "nope"}))
	assert.Equal(t, fault.TemplateNotFound, env.Code)

	env = callErr(t, d, "create_document_session",
		fin(map[string]any{"template_id": "news_email", "alias": "weekly"}))
	assert.Equal(t, fault.InvalidOperation, env.Code)
	assert.Contains(t, env.Message, "weekly")
}

func TestSessionStatusLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")

	data := callOK(t, d, "get_session_status", fin(map[string]any{"session_id": id}))
	assert.Equal(t, false, data["ready_for_render"])
	assert.Equal(t, "global parameters have not been set", data["reason"])

	data = callOK(t, d, "set_global_parameters", fin(map[string]any{
		"session_id": id,
		"parameters": map[string]any{"title": "Weekly Brief"},
	}))
	assert.Equal(t, true, data["global_parameters_set"])

	data = callOK(t, d, "get_session_status", fin(map[string]any{"session_id": id}))
	assert.Equal(t, true, data["ready_for_render"])
	assert.NotContains(t, data, "reason")

	data = callOK(t, d, "list_active_sessions", fin(nil))
	assert.Equal(t, 1, data["count"])
	data = callOK(t, d, "list_active_sessions", ops(nil))
	assert.Equal(t, 0, data["count"])

	res := d.Dispatch(context.Background(), "abort_document_session", fin(map[string]any{"session_id": id}))
	require.False(t, res.IsError)
	assert.Equal(t, "session aborted", res.Envelope.Message)
	assert.Equal(t, true, res.Envelope.Data.(map[string]any)["aborted"])

	env := callErr(t, d, "get_session_status", fin(map[string]any{"session_id": id}))
	assert.Equal(t, fault.SessionNotFound, env.Code)
}

func TestSessionHiddenAcrossGroups(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")

	// the foreign-group answer is indistinguishable from the absent answer
	foreign := callErr(t, d, "get_session_status", ops(map[string]any{"session_id": id}))
	assert.Equal(t, fault.SessionNotFound, foreign.Code)
	assert.Equal(t, fmt.Sprintf("no session %q", id), foreign.Message)

	absent := callErr(t, d, "get_session_status", fin(map[string]any{"session_id": uuid.NewString()}))
	assert.Equal(t, foreign.Code, absent.Code)
	assert.Equal(t, foreign.Recovery, absent.Recovery)

	env := callErr(t, d, "abort_document_session", ops(map[string]any{"session_id": id}))
	assert.Equal(t, fault.SessionNotFound, env.Code)

	// the session is still there for its owner
	callOK(t, d, "get_session_status", fin(map[string]any{"session_id": id}))
}

func TestSetGlobalParametersValidation(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")

	env := callErr(t, d, "set_global_parameters", fin(map[string]any{
		"session_id": id,
		"parameters": map[string]any{"subtitle": "x"},
	}))
	assert.Equal(t, fault.InvalidArguments, env.Code)
	errs := env.Details["validation_errors"].([]string)
	assert.Contains(t, errs, "title: required parameter missing")
	assert.Contains(t, errs, "subtitle: unexpected parameter")
}

func TestValidateParametersTool(t *testing.T) {
	d := newTestDispatcher(t)

	data := callOK(t, d, "validate_parameters", fin(map[string]any{
		"template_id": "news_email",
		"parameters":  map[string]any{"title": "ok"},
	}))
	assert.Equal(t, true, data["valid"])
	assert.Empty(t, data["errors"])

	data = callOK(t, d, "validate_parameters", fin(map[string]any{
		"template_id": "news_email",
		"parameters":  map[string]any{"bogus": 1},
	}))
	assert.Equal(t, false, data["valid"])
	errs := data["errors"].([]string)
	assert.Contains(t, errs, "title: required parameter missing")
	assert.Contains(t, errs, "bogus: unexpected parameter")

	// fragment schemas check the same way
	data = callOK(t, d, "validate_parameters", fin(map[string]any{
		"template_id": "news_email",
		"fragment_id": "news",
		"parameters":  map[string]any{},
	}))
	assert.Equal(t, false, data["valid"])
	assert.Contains(t, data["errors"].([]string), "story_summary: required parameter missing")

	env := callErr(t, d, "validate_parameters", fin(map[string]any{
		"template_id": "news_email",
		"fragment_id": "nope",
	}))
	assert.Equal(t, fault.FragmentNotFound, env.Code)
}

func TestAddAndListFragments(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")

	res := d.Dispatch(context.Background(), "add_fragment", fin(map[string]any{
		"session_id":  id,
		"fragment_id": "news",
		"parameters":  map[string]any{"story_summary": "first"},
	}))
	require.False(t, res.IsError, "%+v", res.Envelope)
	assert.Equal(t, "fragment added", res.Envelope.Message)
	data := res.Envelope.Data.(map[string]any)
	first := data["fragment_instance_guid"].(string)
	require.NoError(t, uuid.Validate(first))
	assert.Equal(t, "news", data["fragment_id"])
	assert.Equal(t, 1, data["fragment_count"])

	second := addStory(t, d, id, "second")

	data = callOK(t, d, "add_fragment", fin(map[string]any{
		"session_id":  id,
		"fragment_id": "news",
		"parameters":  map[string]any{"story_summary": "lead"},
		"position":    "start",
	}))
	lead := data["fragment_instance_guid"].(string)
	assert.Equal(t, 3, data["fragment_count"])

	data = callOK(t, d, "list_session_fragments", fin(map[string]any{"session_id": id}))
	assert.Equal(t, 3, data["count"])
	infos := data["fragments"].([]session.FragmentInfo)
	require.Len(t, infos, 3)
	assert.Equal(t, []string{lead, first, second},
		[]string{infos[0].InstanceGUID, infos[1].InstanceGUID, infos[2].InstanceGUID})
	assert.Equal(t, "News Story", infos[0].Name)
}

func TestAddFragmentRejections(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")

	env := callErr(t, d, "add_fragment", fin(map[string]any{
		"session_id": id, "fragment_id": "sidebar",
	}))
	assert.Equal(t, fault.FragmentNotFound, env.Code)

	env = callErr(t, d, "add_fragment", fin(map[string]any{
		"session_id": id, "fragment_id": "news",
		"parameters": map[string]any{"story_summary": 7},
	}))
	assert.Equal(t, fault.InvalidArguments, env.Code)
	assert.Contains(t, env.Details["validation_errors"].([]string)[0], "story_summary")

	env = callErr(t, d, "add_fragment", fin(map[string]any{
		"session_id": id, "fragment_id": "news",
		"parameters": map[string]any{"story_summary": "x"},
		"position":   "third",
	}))
	assert.Equal(t, fault.InvalidArguments, env.Code)

	env = callErr(t, d, "add_fragment", fin(map[string]any{
		"session_id": id, "fragment_id": "news",
		"parameters": map[string]any{"story_summary": "x"},
		"position":   "after:" + uuid.NewString(),
	}))
	assert.Equal(t, fault.InvalidOperation, env.Code)
}

func TestRemoveFragment(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")
	guid := addStory(t, d, id, "only")

	res := d.Dispatch(context.Background(), "remove_fragment", fin(map[string]any{
		"session_id":             id,
		"fragment_instance_guid": guid,
	}))
	require.False(t, res.IsError)
	assert.Equal(t, "fragment removed", res.Envelope.Message)
	data := res.Envelope.Data.(map[string]any)
	assert.Equal(t, true, data["removed"])
	assert.Equal(t, 0, data["fragment_count"])

	env := callErr(t, d, "remove_fragment", fin(map[string]any{
		"session_id":             id,
		"fragment_instance_guid": guid,
	}))
	assert.Equal(t, fault.FragmentNotFound, env.Code)
}

func TestGetDocumentHTML(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")
	callOK(t, d, "set_global_parameters", fin(map[string]any{
		"session_id": id,
		"parameters": map[string]any{"title": "Weekly Brief"},
	}))
	addStory(t, d, id, "Rates held steady.")

	data := callOK(t, d, "get_document", fin(map[string]any{"session_id": id}))
	assert.Equal(t, "html", data["format"])
	assert.Equal(t, "text/html; charset=utf-8", data["content_type"])
	content := data["content"].(string)
	assert.Contains(t, content, "<h1>Weekly Brief</h1>")
	assert.Contains(t, content, "Rates held steady.")
	assert.Contains(t, content, "background:#111")
	assert.NotContains(t, data, "encoding")
}

func TestGetDocumentPDFBase64(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")
	callOK(t, d, "set_global_parameters", fin(map[string]any{
		"session_id": id,
		"parameters": map[string]any{"title": "Weekly Brief"},
	}))

	data := callOK(t, d, "get_document", fin(map[string]any{"session_id": id, "format": "pdf"}))
	assert.Equal(t, "pdf", data["format"])
	assert.Equal(t, "application/pdf", data["content_type"])
	assert.Equal(t, "base64", data["encoding"])

	raw, err := base64.StdEncoding.DecodeString(data["content"].(string))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "%PDF-"))
}

func TestGetDocumentProxy(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")
	callOK(t, d, "set_global_parameters", fin(map[string]any{
		"session_id": id,
		"parameters": map[string]any{"title": "Weekly Brief"},
	}))

	res := d.Dispatch(context.Background(), "get_document",
		fin(map[string]any{"session_id": id, "proxy": true}))
	require.False(t, res.IsError, "%+v", res.Envelope)
	assert.Equal(t, "document stored for proxy retrieval", res.Envelope.Message)

	data := res.Envelope.Data.(map[string]any)
	guid := data["proxy_guid"].(string)
	require.NoError(t, uuid.Validate(guid))
	assert.Equal(t, "https://docs.example.com/proxy/"+guid, data["download_url"])
	assert.NotContains(t, data, "content")
}

func TestGetDocumentNotReady(t *testing.T) {
	d := newTestDispatcher(t)
	id := createNewsSession(t, d, "")

	env := callErr(t, d, "get_document", fin(map[string]any{"session_id": id}))
	assert.Equal(t, fault.SessionNotReady, env.Code)
	assert.Contains(t, env.Recovery, "set_global_parameters")

	callOK(t, d, "set_global_parameters", fin(map[string]any{
		"session_id": id, "parameters": map[string]any{"title": "x"},
	}))
	env = callErr(t, d, "get_document", fin(map[string]any{"session_id": id, "format": "docx"}))
	assert.Equal(t, fault.InvalidArguments, env.Code)
	assert.Equal(t, []string{"html", "pdf", "markdown"}, env.Details["supported_formats"])
}
