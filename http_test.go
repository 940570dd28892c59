package docfold

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docfold/docfold/auth"
	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/tools"
)

func newTestServer(t *testing.T) (*httptest.Server, *Instance) {
	t.Helper()
	instance, _ := newTestInstance(t)
	srv := httptest.NewServer(instance)
	t.Cleanup(srv.Close)
	return srv, instance
}

func httpGet(t *testing.T, srv *httptest.Server, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func httpPost(t *testing.T, srv *httptest.Server, path, bearer string, payload any) *http.Response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) tools.Envelope {
	t.Helper()
	defer resp.Body.Close()
	var env tools.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func envData(t *testing.T, env tools.Envelope) map[string]any {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	require.True(t, ok, "envelope data is %T", env.Data)
	return data
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return raw
}

// newsSession creates a finance session with one story so render calls have
// something to compose. The template's only global is optional, so the
// session is ready as soon as it exists.
func newsSession(t *testing.T, instance *Instance, alias string) string {
	t.Helper()
	d := instance.Dispatcher()
	args := map[string]any{"auth_token": "fin-token", "template_id": "news_email"}
	if alias != "" {
		args["alias"] = alias
	}
	res := d.Dispatch(context.Background(), "create_document_session", args)
	require.False(t, res.IsError, "create_document_session: %+v", res.Envelope)
	id, _ := res.Envelope.Data.(map[string]any)["session_id"].(string)
	require.NotEmpty(t, id)

	res = d.Dispatch(context.Background(), "add_fragment", map[string]any{
		"auth_token":  "fin-token",
		"session_id":  id,
		"fragment_id": "news",
		"parameters": map[string]any{
			"story_summary": "Markets rallied on upbeat earnings.",
			"author":        "FT",
			"date":          "2026-08-24",
			"source":        "https://ft.example.com/rally",
			"impact_rating": "high",
		},
	})
	require.False(t, res.IsError, "add_fragment: %+v", res.Envelope)
	return id
}

func TestPingRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := httpGet(t, srv, "/ping", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.Equal(t, "success", env.Status)
	data := envData(t, env)
	assert.Equal(t, "pong", data["message"])
	assert.Equal(t, auth.PublicGroup, data["group"])
}

func TestDiscoveryRoutesAreGroupScoped(t *testing.T) {
	srv, _ := newTestServer(t)

	// anonymous callers browse the public catalogue, which is empty here
	env := decodeEnvelope(t, httpGet(t, srv, "/templates", ""))
	require.Equal(t, "success", env.Status)
	assert.EqualValues(t, 0, envData(t, env)["count"])

	env = decodeEnvelope(t, httpGet(t, srv, "/templates", "fin-token"))
	data := envData(t, env)
	assert.EqualValues(t, 1, data["count"])
	rows, ok := data["templates"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "news_email", rows[0].(map[string]any)["id"])

	env = decodeEnvelope(t, httpGet(t, srv, "/templates/news_email", "fin-token"))
	data = envData(t, env)
	assert.Equal(t, "news_email", data["id"])
	assert.Equal(t, "finance", data["group"])

	env = decodeEnvelope(t, httpGet(t, srv, "/templates/news_email/fragments", "fin-token"))
	assert.EqualValues(t, 1, envData(t, env)["count"])

	env = decodeEnvelope(t, httpGet(t, srv, "/fragments/pull_quote", "fin-token"))
	assert.Equal(t, "pull_quote", envData(t, env)["id"])

	env = decodeEnvelope(t, httpGet(t, srv, "/styles", "fin-token"))
	assert.EqualValues(t, 1, envData(t, env)["count"])

	// other groups' assets read as absent, not forbidden
	resp := httpGet(t, srv, "/templates/news_email", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.TemplateNotFound, env.Code)

	// a present but invalid credential fails even on discovery routes
	resp = httpGet(t, srv, "/templates", "bogus")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.AuthFailed, env.Code)
}

func TestRenderRouteStreamsDocument(t *testing.T) {
	srv, instance := newTestServer(t)
	id := newsSession(t, instance, "")

	resp := httpPost(t, srv, "/render/"+id, "fin-token", map[string]any{"format": "html"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	page := string(readAll(t, resp))
	assert.Contains(t, page, "Market Notes") // optional global fills from its default
	assert.Contains(t, page, "Markets rallied on upbeat earnings.")
	assert.Contains(t, page, "FT")
	assert.Contains(t, page, "high")
	assert.Contains(t, page, "background:#111") // default style is inlined
}

func TestRenderRouteAcceptsAlias(t *testing.T) {
	srv, instance := newTestServer(t)
	newsSession(t, instance, "weekly-brief")

	resp := httpPost(t, srv, "/render/weekly-brief", "fin-token", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(readAll(t, resp)), "Markets rallied")
}

func TestRenderRouteAuth(t *testing.T) {
	srv, instance := newTestServer(t)
	id := newsSession(t, instance, "")

	// rendering never falls back to the public group
	resp := httpPost(t, srv, "/render/"+id, "", map[string]any{"format": "html"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, fault.AuthRequired, env.Code)

	// a token in the payload works like a bearer header
	resp = httpPost(t, srv, "/render/"+id, "", map[string]any{"format": "html", "auth_token": "fin-token"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// other groups cannot see the session at all
	resp = httpPost(t, srv, "/render/"+id, "ops-token", map[string]any{"format": "html"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.SessionNotFound, env.Code)
}

func TestRenderRouteRejectsBadRequests(t *testing.T) {
	srv, instance := newTestServer(t)
	id := newsSession(t, instance, "")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/render/"+id, strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer fin-token")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, fault.InvalidArguments, env.Code)
	assert.Contains(t, env.Message, "not valid json")

	resp = httpPost(t, srv, "/render/"+id, "fin-token", map[string]any{"format": "docx"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.InvalidArguments, env.Code)
	assert.Contains(t, env.Details, "supported_formats")
}

func TestProxyRoundTrip(t *testing.T) {
	srv, instance := newTestServer(t)
	id := newsSession(t, instance, "")

	resp := httpPost(t, srv, "/render/"+id, "fin-token", map[string]any{"format": "html"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	direct := readAll(t, resp)

	resp = httpPost(t, srv, "/render/"+id, "fin-token", map[string]any{"format": "html", "proxy": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.Equal(t, "success", env.Status)
	data := envData(t, env)
	guid, _ := data["proxy_guid"].(string)
	require.NotEmpty(t, guid)
	assert.Equal(t, "https://docs.example.com/proxy/"+guid, data["download_url"])
	assert.Contains(t, env.Message, "stored")

	// the owning group downloads the exact stored bytes
	resp = httpGet(t, srv, "/proxy/"+guid, "fin-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, direct, readAll(t, resp))

	// other groups are told whose artefact it is, anonymous callers are challenged
	resp = httpGet(t, srv, "/proxy/"+guid, "ops-token")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.AccessDenied, env.Code)
	assert.Equal(t, "finance", env.Details["owning_group"])
	assert.Equal(t, "ops", env.Details["calling_group"])

	resp = httpGet(t, srv, "/proxy/"+guid, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = httpGet(t, srv, "/proxy/"+uuid.NewString(), "fin-token")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.ImageNotFound, env.Code)
	assert.Contains(t, env.Recovery, "proxy_guid")
}

func TestLegacyTokenHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/templates", nil)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", "finance:fin-token")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.EqualValues(t, 1, envData(t, env)["count"])

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/templates", nil)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", "finance:wrong")
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, fault.AuthFailed, env.Code)
}

func TestMCPRouteMounted(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := httpPost(t, srv, "/mcp", "", nil)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusNotFound, resp.StatusCode)
}
