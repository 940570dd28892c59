package docfold

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docfold/docfold/auth"
	"github.com/docfold/docfold/blob"
	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/render"
	"github.com/docfold/docfold/tools"
)

// Render request bodies are tiny command objects; anything bigger is abuse.
const maxRenderBody = 1 << 20

// addRoutes registers the HTTP surface on the instance router. Discovery
// endpoints run the same dispatcher pipeline as the tool-call surface, so
// both speak the same envelope and honour the same credentials.
func (instance *Instance) addRoutes(stats *InstanceStats) {
	mux := instance.router

	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return tools.NewMCPServer(instance.dispatcher, Version)
	}, nil))

	mux.HandleFunc("GET /ping", instance.toolGET("ping", nil))
	mux.HandleFunc("GET /templates", instance.toolGET("list_templates", nil))
	mux.HandleFunc("GET /templates/{id}", instance.toolGET("get_template_details", pathArg("template_id", "id")))
	mux.HandleFunc("GET /templates/{id}/fragments", instance.toolGET("list_template_fragments", pathArg("template_id", "id")))
	mux.HandleFunc("GET /fragments/{id}", instance.toolGET("get_fragment_details", pathArg("fragment_id", "id")))
	mux.HandleFunc("GET /styles", instance.toolGET("list_styles", nil))

	mux.HandleFunc("POST /render/{session}", instance.handleRender)
	mux.HandleFunc("GET /proxy/{guid}", instance.handleProxy)

	stats.Routes += 9
}

// credentialContext lifts the request's credential headers into the context
// for the gate: `Authorization: Bearer <token>` and the legacy
// `X-Auth-Token: <group>:<token>` form, whose group half is only a hint.
func credentialContext(ctx context.Context, r *http.Request) context.Context {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			ctx = auth.WithBearer(ctx, strings.TrimSpace(token))
		}
	}
	if h := r.Header.Get("X-Auth-Token"); h != "" {
		if group, token, ok := strings.Cut(h, ":"); ok {
			ctx = auth.WithGroupHint(ctx, group)
			ctx = auth.WithLegacyToken(ctx, token)
		} else {
			ctx = auth.WithLegacyToken(ctx, h)
		}
	}
	return ctx
}

// toolGET adapts a discovery tool to a GET endpoint.
func (instance *Instance) toolGET(tool string, args func(*http.Request) map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a map[string]any
		if args != nil {
			a = args(r)
		}
		res := instance.dispatcher.Dispatch(r.Context(), tool, a)
		writeEnvelope(w, r, res.Envelope)
	}
}

func pathArg(arg, pathKey string) func(*http.Request) map[string]any {
	return func(r *http.Request) map[string]any {
		return map[string]any{arg: r.PathValue(pathKey)}
	}
}

// writeEnvelope serialises the uniform envelope, mapping taxonomy codes to
// HTTP statuses on failure.
func writeEnvelope(w http.ResponseWriter, r *http.Request, env tools.Envelope) {
	status := http.StatusOK
	if env.Status == "error" {
		status = fault.HTTPStatus(env.Code)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		GetLogger(r.Context()).Warn("failed to write response envelope", slog.Any("error", err))
	}
}

func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	writeEnvelope(w, r, tools.Failure(err))
}

// handleRender renders a session to the requested format. Proxy requests
// answer with the storage envelope; direct requests stream the document.
func (instance *Instance) handleRender(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{}
	if r.Body != nil {
		defer r.Body.Close()
		err := json.NewDecoder(io.LimitReader(r.Body, maxRenderBody)).Decode(&payload)
		if err != nil && !errors.Is(err, io.EOF) {
			writeFault(w, r, fault.Wrap(err, fault.InvalidArguments, "request body is not valid json"))
			return
		}
	}

	group, err := instance.gate.Resolve(r.Context(), payload, false)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	sess, err := instance.sessions.Get(r.PathValue("session"), group)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	req := render.Request{
		Session: sess,
		Format:  stringField(payload, "format"),
		StyleID: stringField(payload, "style_id"),
		Proxy:   boolField(payload, "proxy"),
	}
	res, ferr := instance.engine.Render(r.Context(), req)
	if ferr != nil {
		writeFault(w, r, ferr)
		return
	}

	if req.Proxy {
		data := map[string]any{
			"proxy_guid": res.ProxyGUID,
			"format":     res.Format,
		}
		if res.DownloadURL != "" {
			data["download_url"] = res.DownloadURL
		}
		writeEnvelope(w, r, tools.SuccessMsg(data, "document stored for proxy retrieval"))
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Content)))
	w.Write(res.Content)
}

// handleProxy streams a stored artefact. The owning group comes from the
// stored metadata, never from the URL; this is the one endpoint that
// discloses a group mismatch instead of reporting absence, so operators can
// diagnose misrouted download links.
func (instance *Instance) handleProxy(w http.ResponseWriter, r *http.Request) {
	group, err := instance.gate.Resolve(r.Context(), nil, false)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	guid := r.PathValue("guid")
	meta, err := instance.blobs.Stat(guid, "")
	if errors.Is(err, blob.ErrNotFound) {
		writeFault(w, r, fault.Newf(fault.ImageNotFound, "no stored artefact %q", guid).
			WithRecovery("check the proxy_guid returned by the render call"))
		return
	}
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if meta.Group != group {
		writeFault(w, r, fault.Newf(fault.AccessDenied, "artefact %q belongs to group %q", guid, meta.Group).
			WithDetail("owning_group", meta.Group).
			WithDetail("calling_group", group))
		return
	}

	data, meta, err := instance.blobs.Get(guid, group)
	if err != nil {
		writeFault(w, r, err)
		return
	}

	contentType := meta.Extra.ContentType
	if contentType == "" {
		contentType = blob.ContentTypeFor(meta.Format)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func boolField(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}
