package docfold

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/docfold/docfold/auth"
	"github.com/docfold/docfold/blob"
	"github.com/docfold/docfold/plot"
	"github.com/docfold/docfold/registry"
	"github.com/docfold/docfold/render"
	"github.com/docfold/docfold/session"
	"github.com/docfold/docfold/tools"
)

// Instance is a configured, immutable docfold request handler: loaded asset
// registries, open stores, the tool dispatcher, and the HTTP router.
//
// The only way to create a valid Instance is the [Config.Instance] method.
// An Instance is never mutated after it is built; to pick up changed assets
// or config, build a new Instance and swap them. [Server] automates the
// swap.
type Instance struct {
	config Config
	id     int64

	regs       *registry.Registries
	blobs      *blob.Store
	plots      *blob.PlotStore
	sessions   *session.Manager
	engine     *render.Engine
	gate       *auth.Gate
	dispatcher *tools.Dispatcher

	router *http.ServeMux
	images map[string]*fileInfo
}

// InstanceStats reports what an instance loaded, for logs and tests.
type InstanceStats struct {
	Templates           int
	Fragments           int
	Styles              int
	Tools               int
	Routes              int
	StockImages         int
	StockImageEncodings int
}

// Instance creates a new *Instance from the given config.
func (config Config) Instance(opts ...Option) (*Instance, *InstanceStats, error) {
	start := time.Now()

	if _, err := config.Defaults().Options(opts...); err != nil {
		return nil, nil, err
	}

	instance := &Instance{
		config: config,
		id:     nextInstanceIdentity.Add(1),
	}
	stats := &InstanceStats{}

	instance.config.Logger = instance.config.Logger.With(slog.Int64("instance", instance.id))
	log := instance.config.Logger
	log.Info("initializing")

	if instance.config.DocsFS == nil {
		instance.config.DocsFS = os.DirFS(instance.config.DocsDir)
	}

	funcs := template.FuncMap{}
	maps.Copy(funcs, render.Funcs())
	for _, extra := range instance.config.FuncMaps {
		maps.Copy(funcs, extra)
	}

	regs, err := registry.Load(instance.config.DocsFS, funcs, log.WithGroup("registry"))
	if err != nil {
		return nil, nil, fmt.Errorf("loading asset registries: %w", err)
	}
	instance.regs = regs

	if instance.config.DataFS == nil {
		instance.config.DataFS = afero.NewBasePathFs(afero.NewOsFs(), instance.config.DataDir)
	}
	for _, dir := range []string{"sessions", "storage"} {
		if err := instance.config.DataFS.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("preparing data dir %s: %w", dir, err)
		}
	}

	sessionStore, err := session.OpenStore(afero.NewBasePathFs(instance.config.DataFS, "sessions"), log.WithGroup("sessions"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}
	instance.sessions = session.NewManager(sessionStore, regs, log.WithGroup("sessions"))

	blobs, err := blob.Open(afero.NewBasePathFs(instance.config.DataFS, "storage"), log.WithGroup("storage"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening artefact store: %w", err)
	}
	blobs.SetLockStaleAge(time.Duration(instance.config.LockStaleAge) * time.Second)
	instance.blobs = blobs
	instance.plots = blob.NewPlotStore(blobs)

	verifier, err := instance.config.verifier()
	if err != nil {
		return nil, nil, err
	}
	instance.gate = auth.NewGate(verifier, instance.config.AllowPublic, log.WithGroup("auth"))

	pdf := instance.config.PDF
	if pdf == nil {
		pdf = render.NewPDFConverter()
	}
	markdown := instance.config.Markdown
	if markdown == nil {
		markdown = render.NewMarkdownConverter()
	}
	instance.engine = render.NewEngine(render.Config{
		Registries:    regs,
		Blobs:         blobs,
		PDF:           pdf,
		Markdown:      markdown,
		Minify:        instance.config.Minify,
		PublicBaseURL: instance.config.PublicBaseURL,
		Logger:        log.WithGroup("render"),
	})

	instance.dispatcher = tools.NewDispatcher(tools.Deps{
		Registries: regs,
		Sessions:   instance.sessions,
		Engine:     instance.engine,
		Plots:      instance.plots,
		Plotter:    plot.NewRenderer(),
		Gate:       instance.gate,
		Images: tools.NewImageFetcher(instance.config.HTTPClient,
			time.Duration(instance.config.ImageTimeout)*time.Second,
			int64(instance.config.MaxImageMB)*1024*1024,
			log.WithGroup("images")),
		Log: log.WithGroup("tools"),
	})

	instance.router = http.NewServeMux()
	instance.addRoutes(stats)
	if err := instance.addStockImages(stats); err != nil {
		return nil, nil, err
	}

	if instance.config.MaxStorageMB > 0 && instance.config.HousekeepInterval > 0 {
		go instance.housekeep(time.Duration(instance.config.HousekeepInterval) * time.Second)
	}

	stats.Templates = len(regs.Templates.List(""))
	stats.Fragments = len(regs.Fragments.List(""))
	stats.Styles = len(regs.Styles.List(""))
	stats.Tools = len(instance.dispatcher.Handlers())

	log.Info("instance loaded",
		slog.Duration("load_time", time.Since(start)),
		slog.Group("stats",
			slog.Int("templates", stats.Templates),
			slog.Int("fragments", stats.Fragments),
			slog.Int("styles", stats.Styles),
			slog.Int("tools", stats.Tools),
			slog.Int("routes", stats.Routes),
			slog.Int("stockImages", stats.StockImages),
			slog.Int("stockImageAlternateEncodings", stats.StockImageEncodings),
		))

	return instance, stats, nil
}

// Counter to assign a unique id to each instance created by calling
// Config.Instance(). This is intended to help distinguish logs from multiple
// instances in a single process.
var nextInstanceIdentity atomic.Int64

// Id returns the id of this instance, unique in the current process. The id
// is attached to all logs generated by the instance with the attribute name
// `instance`.
func (instance *Instance) Id() int64 {
	return instance.id
}

// Dispatcher exposes the tool table for transports hosted outside the HTTP
// router, such as the stdio MCP server.
func (instance *Instance) Dispatcher() *tools.Dispatcher {
	return instance.dispatcher
}

var levelDebug2 slog.Level = slog.LevelDebug + 2

func (instance *Instance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-instance.config.Ctx.Done():
		instance.config.Logger.Error("received request after docfold instance cancelled", slog.String("method", r.Method), slog.String("path", r.URL.Path))
		http.Error(w, "server stopped", http.StatusInternalServerError)
		return
	default:
	}

	ctx := r.Context()
	rid := GetRequestId(ctx)
	if rid == "" {
		rid = uuid.NewString()
		ctx = context.WithValue(ctx, requestIdKey, rid)
	}

	log := instance.config.Logger.With(slog.Group("serve",
		slog.String("requestid", rid),
	))
	log.LogAttrs(r.Context(), slog.LevelDebug, "serving request",
		slog.String("user-agent", r.Header.Get("User-Agent")),
		slog.String("method", r.Method),
		slog.String("requestPath", r.URL.Path),
	)
	ctx = context.WithValue(ctx, loggerKey, log)
	ctx = credentialContext(ctx, r)

	r = r.WithContext(ctx)
	metrics := httpsnoop.CaptureMetrics(instance.router, w, r)

	log.LogAttrs(r.Context(), levelDebug2, "request served",
		slog.Group("response",
			slog.Duration("duration", metrics.Duration),
			slog.Int("statusCode", metrics.Code),
			slog.Int64("bytes", metrics.Written),
		))
}
