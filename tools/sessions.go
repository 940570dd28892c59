package tools

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/docfold/docfold/blob"
	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/registry"
	"github.com/docfold/docfold/render"
	"github.com/docfold/docfold/session"
)

func sessionStatus(s *session.Session) map[string]any {
	data := map[string]any{
		"session_id":            s.ID,
		"template_id":           s.TemplateID,
		"group":                 s.Group,
		"global_parameters_set": s.GlobalSet(),
		"fragment_count":        len(s.Fragments),
		"created_at":            s.CreatedAt,
		"updated_at":            s.UpdatedAt,
	}
	if s.Alias != "" {
		data["alias"] = s.Alias
	}
	return data
}

func (d *Dispatcher) createSession(ctx context.Context, args map[string]any) (*Reply, error) {
	templateID, err := requiredString(args, "template_id")
	if err != nil {
		return nil, err
	}
	aliasName, err := optionalString(args, "alias")
	if err != nil {
		return nil, err
	}
	s, err := d.sessions.Create(group(ctx), templateID, aliasName)
	if err != nil {
		return nil, err
	}
	return &Reply{Data: sessionStatus(s), Message: "session created"}, nil
}

func (d *Dispatcher) getSessionStatus(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	s, err := d.sessions.Get(id, group(ctx))
	if err != nil {
		return nil, err
	}
	data := sessionStatus(s)
	ready, reason, err := d.sessions.ValidateForRender(id, group(ctx))
	if err != nil {
		return nil, err
	}
	data["ready_for_render"] = ready
	if reason != "" {
		data["reason"] = reason
	}
	return &Reply{Data: data}, nil
}

func (d *Dispatcher) listActiveSessions(ctx context.Context, args map[string]any) (*Reply, error) {
	sessions, err := d.sessions.ListActive(group(ctx))
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(sessions))
	for i, s := range sessions {
		rows[i] = sessionStatus(s)
	}
	return &Reply{Data: map[string]any{
		"sessions": rows,
		"count":    len(rows),
	}}, nil
}

func (d *Dispatcher) abortSession(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	if err := d.sessions.Abort(id, group(ctx)); err != nil {
		return nil, err
	}
	return &Reply{
		Data:    map[string]any{"session_id": id, "aborted": true},
		Message: "session aborted",
	}, nil
}

// validateParameters checks a parameter map against a schema without storing
// anything. Validation issues are data, not an error: the call succeeds and
// reports them.
func (d *Dispatcher) validateParameters(ctx context.Context, args map[string]any) (*Reply, error) {
	templateID, err := requiredString(args, "template_id")
	if err != nil {
		return nil, err
	}
	fragmentID, err := optionalString(args, "fragment_id")
	if err != nil {
		return nil, err
	}
	params, err := optionalMap(args, "parameters")
	if err != nil {
		return nil, err
	}

	t, ok := d.regs.Templates.Get(group(ctx), templateID)
	if !ok {
		return nil, fault.Newf(fault.TemplateNotFound, "no template %q", templateID)
	}
	decl := t.GlobalParameters
	if fragmentID != "" {
		def, ok := t.FragmentDef(fragmentID)
		if !ok {
			return nil, fault.Newf(fault.FragmentNotFound, "template %q declares no fragment %q", templateID, fragmentID)
		}
		decl = def.Parameters
	}

	issues := registry.ValidateParameters(decl, params)
	return &Reply{Data: map[string]any{
		"valid":  len(issues) == 0,
		"errors": registry.IssueStrings(issues),
	}}, nil
}

func (d *Dispatcher) setGlobalParameters(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	params, err := optionalMap(args, "parameters")
	if err != nil {
		return nil, err
	}
	s, err := d.sessions.SetGlobal(id, group(ctx), params)
	if err != nil {
		return nil, err
	}
	return &Reply{Data: sessionStatus(s), Message: "global parameters set"}, nil
}

// fragmentArgs is the argument set shared by the three add_*_fragment tools.
type fragmentArgs struct {
	sessionID  string
	fragmentID string
	params     map[string]any
	position   string
}

func decodeFragmentArgs(args map[string]any) (*fragmentArgs, error) {
	sessionID, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	fragmentID, err := requiredString(args, "fragment_id")
	if err != nil {
		return nil, err
	}
	params, err := optionalMap(args, "parameters")
	if err != nil {
		return nil, err
	}
	position, err := optionalString(args, "position")
	if err != nil {
		return nil, err
	}
	return &fragmentArgs{sessionID: sessionID, fragmentID: fragmentID, params: params, position: position}, nil
}

func (d *Dispatcher) insertFragment(ctx context.Context, fa *fragmentArgs) (*Reply, error) {
	s, frag, err := d.sessions.AddFragment(fa.sessionID, group(ctx), fa.fragmentID, fa.params, fa.position)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Data: map[string]any{
			"fragment_instance_guid": frag.InstanceGUID,
			"fragment_id":            frag.FragmentID,
			"fragment_count":         len(s.Fragments),
		},
		Message: "fragment added",
	}, nil
}

func (d *Dispatcher) addFragment(ctx context.Context, args map[string]any) (*Reply, error) {
	fa, err := decodeFragmentArgs(args)
	if err != nil {
		return nil, err
	}
	return d.insertFragment(ctx, fa)
}

// addImageFragment validates and downloads a remote image, embeds it as a
// data URI in the named fragment parameter, then inserts the fragment.
func (d *Dispatcher) addImageFragment(ctx context.Context, args map[string]any) (*Reply, error) {
	fa, err := decodeFragmentArgs(args)
	if err != nil {
		return nil, err
	}
	imageURL, err := requiredString(args, "image_url")
	if err != nil {
		return nil, err
	}
	requireHTTPS, err := optionalBool(args, "require_https", true)
	if err != nil {
		return nil, err
	}
	paramName, err := optionalString(args, "image_parameter")
	if err != nil {
		return nil, err
	}
	if paramName == "" {
		paramName = "image"
	}

	fetched, ferr := d.images.Fetch(ctx, imageURL, requireHTTPS)
	if ferr != nil {
		return nil, ferr
	}
	fa.params[paramName] = fetched.DataURI()

	reply, err := d.insertFragment(ctx, fa)
	if err != nil {
		return nil, err
	}
	data := reply.Data.(map[string]any)
	data["image_content_type"] = fetched.ContentType
	data["image_size"] = len(fetched.Data)
	reply.Message = "fragment added with downloaded image"
	return reply, nil
}

// addPlotFragment embeds a stored plot image as a data URI in the named
// fragment parameter, then inserts the fragment.
func (d *Dispatcher) addPlotFragment(ctx context.Context, args map[string]any) (*Reply, error) {
	fa, err := decodeFragmentArgs(args)
	if err != nil {
		return nil, err
	}
	imageID, err := requiredString(args, "image_id")
	if err != nil {
		return nil, err
	}
	paramName, err := optionalString(args, "image_parameter")
	if err != nil {
		return nil, err
	}
	if paramName == "" {
		paramName = "image"
	}
	if !d.plots.Ready() {
		return nil, fault.New(fault.PlotStorageMissing, "plot image storage is not initialized")
	}

	uri, err := d.plots.DataURI(imageID, group(ctx))
	if err != nil {
		return nil, imageFault(err, imageID)
	}
	fa.params[paramName] = uri

	reply, err := d.insertFragment(ctx, fa)
	if err != nil {
		return nil, err
	}
	data := reply.Data.(map[string]any)
	data["image_id"] = imageID
	reply.Message = "fragment added with stored plot image"
	return reply, nil
}

func (d *Dispatcher) removeFragment(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	instanceGUID, err := requiredString(args, "fragment_instance_guid")
	if err != nil {
		return nil, err
	}
	s, err := d.sessions.RemoveFragment(id, group(ctx), instanceGUID)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Data: map[string]any{
			"fragment_instance_guid": instanceGUID,
			"removed":                true,
			"fragment_count":         len(s.Fragments),
		},
		Message: "fragment removed",
	}, nil
}

func (d *Dispatcher) listSessionFragments(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	infos, err := d.sessions.ListFragments(id, group(ctx))
	if err != nil {
		return nil, err
	}
	return &Reply{Data: map[string]any{
		"fragments": infos,
		"count":     len(infos),
	}}, nil
}

// getDocument renders the session. PDF bytes ride base64-encoded so the
// envelope stays text-safe; proxy mode returns the stored document's guid
// and download location instead of content.
func (d *Dispatcher) getDocument(ctx context.Context, args map[string]any) (*Reply, error) {
	id, err := requiredString(args, "session_id")
	if err != nil {
		return nil, err
	}
	format, err := optionalString(args, "format")
	if err != nil {
		return nil, err
	}
	styleID, err := optionalString(args, "style_id")
	if err != nil {
		return nil, err
	}
	proxy, err := optionalBool(args, "proxy", false)
	if err != nil {
		return nil, err
	}

	s, err := d.sessions.Get(id, group(ctx))
	if err != nil {
		return nil, err
	}
	res, ferr := d.engine.Render(ctx, render.Request{
		Session: s,
		Format:  format,
		StyleID: styleID,
		Proxy:   proxy,
	})
	if ferr != nil {
		return nil, ferr
	}

	if proxy {
		data := map[string]any{
			"proxy_guid": res.ProxyGUID,
			"format":     res.Format,
		}
		if res.DownloadURL != "" {
			data["download_url"] = res.DownloadURL
		}
		return &Reply{Data: data, Message: "document stored for proxy retrieval"}, nil
	}

	data := map[string]any{
		"format":       res.Format,
		"content_type": res.ContentType,
	}
	if res.Format == render.FormatPDF {
		data["content"] = base64.StdEncoding.EncodeToString(res.Content)
		data["encoding"] = "base64"
	} else {
		data["content"] = string(res.Content)
	}
	return &Reply{Data: data}, nil
}

// imageFault hides whether a stored image is absent or owned by another
// group; both present as IMAGE_NOT_FOUND.
func imageFault(err error, id string) error {
	if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrPermissionDenied) {
		return fault.Newf(fault.ImageNotFound, "no stored image %q", id)
	}
	return err
}
