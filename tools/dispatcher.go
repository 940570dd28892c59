// Package tools implements the closed tool-call surface: one dispatcher
// carrying every tool the service exposes, shared by the MCP transport and
// exercised by the HTTP discovery endpoints. Each call resolves credentials,
// injects the acting group, runs the handler, and wraps the outcome in the
// uniform envelope.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/docfold/docfold/auth"
	"github.com/docfold/docfold/blob"
	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/plot"
	"github.com/docfold/docfold/registry"
	"github.com/docfold/docfold/render"
	"github.com/docfold/docfold/session"
)

// Deps carries the collaborators a dispatcher needs. Registries, Sessions,
// and Gate are required; the rest degrade their tools when absent.
type Deps struct {
	Registries *registry.Registries
	Sessions   *session.Manager
	Engine     *render.Engine
	Plots      *blob.PlotStore
	Plotter    *plot.Renderer
	Gate       *auth.Gate
	Images     *ImageFetcher
	Log        *slog.Logger
}

// Handler is one registered tool. Discovery tools run without credentials
// when the deployment allows public access.
type Handler struct {
	Name        string
	Description string
	Discovery   bool

	run func(ctx context.Context, args map[string]any) (*Reply, error)
}

// Reply is a handler's successful outcome before enveloping.
type Reply struct {
	Data    any
	Message string
	Image   *Image
}

// Image is an optional binary content part attached to a reply.
type Image struct {
	Data []byte
	MIME string
}

// Result is the transport-agnostic outcome of one dispatch. Failures ride
// inside the envelope with IsError set; Dispatch never returns a Go error.
type Result struct {
	Envelope Envelope
	Image    *Image
	IsError  bool
}

// Dispatcher owns the tool table and the uniform call pipeline.
type Dispatcher struct {
	regs     *registry.Registries
	sessions *session.Manager
	engine   *render.Engine
	plots    *blob.PlotStore
	plotter  *plot.Renderer
	gate     *auth.Gate
	images   *ImageFetcher
	log      *slog.Logger

	handlers map[string]Handler
	order    []string
}

func NewDispatcher(deps Deps) *Dispatcher {
	d := &Dispatcher{
		regs:     deps.Registries,
		sessions: deps.Sessions,
		engine:   deps.Engine,
		plots:    deps.Plots,
		plotter:  deps.Plotter,
		gate:     deps.Gate,
		images:   deps.Images,
		log:      deps.Log,
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	d.register()
	return d
}

// Handlers returns the registered tools in registration order.
func (d *Dispatcher) Handlers() []Handler {
	out := make([]Handler, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.handlers[name])
	}
	return out
}

// Dispatch runs one tool call end to end. The acting group is resolved from
// the call's credentials, written into the request context, and stamped over
// any caller-supplied group argument.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	h, ok := d.handlers[name]
	if !ok {
		return failed(fault.Newf(fault.UnknownTool, "unknown tool %q", name))
	}
	if args == nil {
		args = map[string]any{}
	}

	group, err := d.gate.Resolve(ctx, args, h.Discovery)
	if err != nil {
		return failed(err)
	}
	ctx = auth.WithGroup(ctx, group)
	args["group"] = group

	reply, err := d.run(ctx, h, args)
	if err != nil {
		fe := fault.From(err)
		if fe.Code == fault.Unexpected {
			d.log.Error("tool failed",
				slog.String("tool", name),
				slog.String("group", group),
				slog.Any("error", err))
		}
		return failed(fe)
	}
	return Result{
		Envelope: Envelope{Status: "success", Data: reply.Data, Message: reply.Message},
		Image:    reply.Image,
	}
}

// run invokes the handler with panic containment. The stack is logged and
// never serialised into the response.
func (d *Dispatcher) run(ctx context.Context, h Handler, args map[string]any) (reply *Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool panicked",
				slog.String("tool", h.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			reply = nil
			err = fault.New(fault.Unexpected, "an unexpected error occurred").
				WithDetail("type", fmt.Sprintf("%T", r))
		}
	}()
	return h.run(ctx, args)
}

func failed(err error) Result {
	return Result{Envelope: Failure(err), IsError: true}
}

// group returns the acting group the dispatch pipeline stored in ctx.
func group(ctx context.Context) string {
	g, _ := auth.Group(ctx)
	return g
}

func (d *Dispatcher) register() {
	d.handlers = map[string]Handler{}
	for _, h := range []Handler{
		// discovery (token-optional)
		{Name: "ping", Discovery: true, run: d.ping,
			Description: "Health check; returns pong and the server time."},
		{Name: "help", Discovery: true, run: d.help,
			Description: "Describes the document composition workflow and lists every tool."},
		{Name: "list_templates", Discovery: true, run: d.listTemplates,
			Description: "Lists the document templates available to the calling group."},
		{Name: "get_template_details", Discovery: true, run: d.getTemplateDetails,
			Description: "Returns a template's global parameter schema and declared fragment types."},
		{Name: "list_template_fragments", Discovery: true, run: d.listTemplateFragments,
			Description: "Lists the fragment types a template declares."},
		{Name: "get_fragment_details", Discovery: true, run: d.getFragmentDetails,
			Description: "Returns a standalone fragment's parameter schema."},
		{Name: "list_styles", Discovery: true, run: d.listStyles,
			Description: "Lists the styles available to the calling group, marking the default."},
		{Name: "list_themes", Discovery: true, run: d.listThemes,
			Description: "Lists the reserved theme color names accepted by table highlights."},
		{Name: "list_handlers", Discovery: true, run: d.listHandlers,
			Description: "Lists every registered tool with its description."},

		// session lifecycle
		{Name: "create_document_session", run: d.createSession,
			Description: "Creates a document session from a template, optionally registering an alias."},
		{Name: "get_session_status", run: d.getSessionStatus,
			Description: "Returns a session's parameters state, fragment count, and render readiness."},
		{Name: "list_active_sessions", run: d.listActiveSessions,
			Description: "Lists the calling group's active sessions."},
		{Name: "abort_document_session", run: d.abortSession,
			Description: "Deletes a session and releases its alias."},

		// authoring
		{Name: "validate_parameters", run: d.validateParameters,
			Description: "Validates a parameter map against a template's global or fragment schema without storing anything."},
		{Name: "set_global_parameters", run: d.setGlobalParameters,
			Description: "Sets a session's global parameters in one step, replacing any previous value."},
		{Name: "add_fragment", run: d.addFragment,
			Description: "Appends or inserts a content fragment into a session."},
		{Name: "add_image_fragment", run: d.addImageFragment,
			Description: "Validates and downloads a remote image, then adds a fragment carrying it as a data URI."},
		{Name: "add_plot_fragment", run: d.addPlotFragment,
			Description: "Adds a fragment embedding a stored plot image as a data URI."},
		{Name: "remove_fragment", run: d.removeFragment,
			Description: "Removes a fragment instance from a session by its instance guid."},
		{Name: "list_session_fragments", run: d.listSessionFragments,
			Description: "Lists a session's fragments in render order."},

		// rendering
		{Name: "get_document", run: d.getDocument,
			Description: "Renders the session to html, pdf, or markdown, optionally storing the result for proxy download."},

		// plots
		{Name: "render_graph", run: d.renderGraph,
			Description: "Renders a line, bar, pie, or scatter chart to PNG, optionally saving it to image storage."},
		{Name: "get_image", run: d.getImage,
			Description: "Fetches a stored plot image by guid or alias."},
		{Name: "list_images", run: d.listImages,
			Description: "Lists the calling group's stored plot images."},
	} {
		d.handlers[h.Name] = h
		d.order = append(d.order, h.Name)
	}
}
