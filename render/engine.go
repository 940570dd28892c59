// Package render composes a document session's template, fragments, and
// style into one HTML document and transcodes it to the requested format.
// PDF and Markdown conversion are delegated to external collaborators behind
// small interfaces so deployments can swap or disable them.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"maps"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/docfold/docfold/blob"
	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/registry"
	"github.com/docfold/docfold/session"
	"github.com/docfold/docfold/tabular"
)

// Output formats accepted by Render.
const (
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatMarkdown = "markdown"
)

// Formats lists the accepted output formats in documentation order.
func Formats() []string { return []string{FormatHTML, FormatPDF, FormatMarkdown} }

// PDFEngine transcodes a rendered HTML document to PDF.
type PDFEngine interface {
	FromHTML(ctx context.Context, html []byte) ([]byte, error)
}

// MarkdownEngine transcodes a rendered HTML document to Markdown.
type MarkdownEngine interface {
	FromHTML(html string) (string, error)
}

// Config assembles an Engine. Registries is required; every other
// collaborator degrades the matching feature when absent.
type Config struct {
	Registries    *registry.Registries
	Blobs         *blob.Store
	PDF           PDFEngine
	Markdown      MarkdownEngine
	Minify        bool
	PublicBaseURL string
	Logger        *slog.Logger
}

// Engine renders document sessions. Safe for concurrent use.
type Engine struct {
	regs     *registry.Registries
	blobs    *blob.Store
	pdf      PDFEngine
	markdown MarkdownEngine
	minifier *minify.M
	baseURL  string
	log      *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		regs:     cfg.Registries,
		blobs:    cfg.Blobs,
		pdf:      cfg.PDF,
		markdown: cfg.Markdown,
		baseURL:  strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		log:      cfg.Logger,
	}
	if e.log == nil {
		e.log = slog.New(slog.DiscardHandler)
	}
	if cfg.Minify {
		m := minify.New()
		m.Add("text/css", &css.Minifier{})
		m.Add("image/svg+xml", &svg.Minifier{})
		m.Add("text/html", &html.Minifier{})
		m.AddRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), &js.Minifier{})
		e.minifier = m
	}
	return e
}

// Request names one rendering of a session.
type Request struct {
	Session *session.Session
	Format  string
	StyleID string
	Proxy   bool
}

// Result carries the rendered document. ProxyGUID and DownloadURL are set
// only when the request asked for proxy storage.
type Result struct {
	Content     []byte
	ContentType string
	Format      string
	ProxyGUID   string
	DownloadURL string
}

// fragmentDot is the data a fragment source executes against.
type fragmentDot struct {
	Params map[string]any
	Global map[string]any
}

// outerDot is the data the outer document shell executes against. Fragment
// HTML is pre-rendered and ordered as stored in the session.
type outerDot struct {
	Global    map[string]any
	Fragments []template.HTML
	CSS       template.CSS
}

// Render composes the session into the requested format. The session must
// have its global parameters set; fragments are optional.
func (e *Engine) Render(ctx context.Context, req Request) (*Result, *fault.Error) {
	sess := req.Session
	if !sess.GlobalSet() {
		return nil, fault.New(fault.SessionNotReady, "global parameters have not been set").
			WithRecovery("call set_global_parameters, then render again")
	}

	format := req.Format
	if format == "" {
		format = FormatHTML
	}
	switch format {
	case FormatHTML, FormatPDF, FormatMarkdown:
	default:
		return nil, fault.Newf(fault.InvalidArguments, "unsupported format %q", req.Format).
			WithDetail("supported_formats", Formats())
	}

	page, alignments, ferr := e.renderHTML(sess, req.StyleID)
	if ferr != nil {
		return nil, ferr
	}

	res := &Result{Format: format, ContentType: blob.ContentTypeFor(format)}
	switch format {
	case FormatHTML:
		res.Content = page

	case FormatPDF:
		if e.pdf == nil {
			return nil, fault.New(fault.RenderFailed, "no pdf transcoder is configured").
				WithRecovery("render as html or markdown instead")
		}
		out, err := e.pdf.FromHTML(ctx, page)
		if err != nil {
			return nil, fault.Wrap(err, fault.RenderFailed, "pdf transcoding failed").
				WithDetail("transcoder_error", err.Error())
		}
		res.Content = out

	case FormatMarkdown:
		if e.markdown == nil {
			return nil, fault.New(fault.RenderFailed, "no markdown transcoder is configured").
				WithRecovery("render as html or pdf instead")
		}
		text, err := e.markdown.FromHTML(string(page))
		if err != nil {
			return nil, fault.Wrap(err, fault.RenderFailed, "markdown transcoding failed").
				WithDetail("transcoder_error", err.Error())
		}
		res.Content = []byte(applyTableAlignments(text, alignments))
	}

	if req.Proxy {
		if e.blobs == nil {
			return nil, fault.New(fault.RenderFailed, "no document store is configured").
				WithRecovery("render without proxy=true")
		}
		guid, err := e.blobs.Save(res.Content, format, sess.Group, blob.Extra{
			ArtefactType: blob.ArtefactDocument,
			ContentType:  res.ContentType,
		})
		if err != nil {
			return nil, fault.Wrap(err, fault.RenderFailed, "failed to store rendered document").
				WithDetail("store_error", err.Error())
		}
		res.ProxyGUID = guid
		if e.baseURL != "" {
			res.DownloadURL = e.baseURL + "/proxy/" + guid
		}
	}

	e.log.Debug("rendered document",
		slog.String("session_id", sess.ID),
		slog.String("format", format),
		slog.Bool("proxy", req.Proxy),
		slog.Int("bytes", len(res.Content)))
	return res, nil
}

// renderHTML runs the four composition steps: resolve style, render each
// fragment in stored order, then render the outer shell around them. The
// returned alignments carry each table's column alignments in document order
// for the markdown transcoder.
func (e *Engine) renderHTML(sess *session.Session, styleID string) ([]byte, [][]string, *fault.Error) {
	tpl, ok := e.regs.Templates.Get(sess.Group, sess.TemplateID)
	if !ok {
		return nil, nil, fault.Newf(fault.TemplateNotFound, "template %q is no longer available", sess.TemplateID).
			WithRecovery("the template was removed after this session was created; start a new session")
	}

	style, ferr := e.resolveStyle(sess.Group, styleID)
	if ferr != nil {
		return nil, nil, ferr
	}

	var alignments [][]string
	globals, alignments, ferr := processParams(tpl.GlobalParameters, sess.Global, alignments)
	if ferr != nil {
		return nil, nil, ferr
	}

	fragments := make([]template.HTML, 0, len(sess.Fragments))
	for _, f := range sess.Fragments {
		def, okDef := tpl.FragmentDef(f.FragmentID)
		src, okSrc := tpl.FragmentSource(f.FragmentID)
		if !okDef || !okSrc {
			return nil, nil, fault.Newf(fault.RenderFailed, "fragment type %q is no longer declared by template %q", f.FragmentID, tpl.ID).
				WithDetail("fragment_instance_guid", f.InstanceGUID)
		}
		var params map[string]any
		params, alignments, ferr = processParams(def.Parameters, f.Parameters, alignments)
		if ferr != nil {
			return nil, nil, ferr
		}
		body, err := execTemplate(src, fragmentDot{Params: params, Global: globals})
		if err != nil {
			return nil, nil, fault.Wrap(err, fault.RenderFailed, fmt.Sprintf("fragment %q failed to render", f.FragmentID)).
				WithDetail("fragment_instance_guid", f.InstanceGUID).
				WithDetail("render_error", err.Error())
		}
		fragments = append(fragments, template.HTML(body))
	}

	page, err := execTemplate(tpl.Outer(), outerDot{
		Global:    globals,
		Fragments: fragments,
		CSS:       template.CSS(style.CSS),
	})
	if err != nil {
		return nil, nil, fault.Wrap(err, fault.RenderFailed, "document failed to render").
			WithDetail("render_error", err.Error())
	}

	if e.minifier != nil {
		minified, err := e.minifier.String("text/html", page)
		if err != nil {
			e.log.Warn("html minification failed, serving unminified output", slog.Any("error", err))
		} else {
			page = minified
		}
	}
	return []byte(page), alignments, nil
}

func (e *Engine) resolveStyle(group, styleID string) (*registry.Style, *fault.Error) {
	if styleID != "" {
		style, ok := e.regs.Styles.Get(group, styleID)
		if !ok {
			return nil, fault.Newf(fault.RenderFailed, "style %q not found for group %q", styleID, group).
				WithRecovery("call list_styles for the styles available to this group")
		}
		return style, nil
	}
	style, ok := e.regs.Styles.Default(group)
	if !ok {
		return nil, fault.Newf(fault.RenderFailed, "group %q has no default style", group).
			WithRecovery("pass style_id explicitly; call list_styles for the styles available to this group")
	}
	return style, nil
}

// processParams copies the stored values, fills declared defaults for absent
// keys, and replaces each table-format value with its sorted and formatted
// form so sources range over final rows. Table values were validated when
// stored, so normalization failures here indicate schema drift and surface
// with their table fault codes.
func processParams(decl []registry.Param, values map[string]any, alignments [][]string) (map[string]any, [][]string, *fault.Error) {
	out := make(map[string]any, len(values)+len(decl))
	maps.Copy(out, values)
	for _, p := range decl {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
		// Embedded images are stored as data: uris, which the template
		// engine's url filter would otherwise strip from src attributes.
		if p.Format == "data_uri" {
			if s, ok := out[p.Name].(string); ok {
				out[p.Name] = template.URL(s)
			}
			continue
		}
		if p.Format != "table" {
			continue
		}
		raw, ok := out[p.Name].(map[string]any)
		if !ok {
			continue
		}
		tbl, ferr := tabular.Normalize(raw)
		if ferr != nil {
			return nil, nil, ferr
		}
		rows, ferr := tbl.Apply()
		if ferr != nil {
			return nil, nil, ferr
		}
		processed := *tbl
		processed.Rows = rows
		out[p.Name] = &processed
		alignments = append(alignments, tbl.ColumnAlignments)
	}
	return out, alignments, nil
}

func execTemplate(t *template.Template, dot any) (string, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := t.Execute(buf, dot); err != nil {
		return "", err
	}
	return buf.String(), nil
}
