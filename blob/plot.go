package blob

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// PlotStore is the plot-image view over a Store: it writes artefacts tagged
// as plot images and refuses to read anything else, so a document GUID can
// never leak through an image tool.
type PlotStore struct {
	store *Store
}

// NewPlotStore wraps store. A nil store is allowed and makes every method
// fail, modelling a deployment without plot storage.
func NewPlotStore(store *Store) *PlotStore {
	return &PlotStore{store: store}
}

// Ready reports whether plot storage is available.
func (p *PlotStore) Ready() bool { return p != nil && p.store != nil }

// SaveImage stores rendered plot bytes for group. A non-empty aliasName is
// claimed atomically with the save; a taken or malformed alias fails the
// whole operation.
func (p *PlotStore) SaveImage(data []byte, format, group, aliasName string) (string, error) {
	if !p.Ready() {
		return "", errors.New("blob: plot storage not initialized")
	}
	extra := Extra{
		ArtefactType: ArtefactPlotImage,
		ContentType:  ContentTypeFor(format),
	}
	if aliasName != "" {
		extra.Aliases = []string{aliasName}
	}
	return p.store.Save(data, format, group, extra)
}

// GetImage returns the bytes and metadata of a stored plot image. Artefacts
// of any other type read as absent.
func (p *PlotStore) GetImage(id, group string) ([]byte, Meta, error) {
	if !p.Ready() {
		return nil, Meta{}, ErrNotFound
	}
	data, meta, err := p.store.Get(id, group)
	if err != nil {
		return nil, Meta{}, err
	}
	if meta.Extra.ArtefactType != ArtefactPlotImage {
		return nil, Meta{}, ErrNotFound
	}
	return data, meta, nil
}

// ListImages returns the plot images of group, oldest first.
func (p *PlotStore) ListImages(group string) []Meta {
	if !p.Ready() {
		return nil
	}
	var out []Meta
	for _, m := range p.store.Metas(group) {
		if m.Extra.ArtefactType == ArtefactPlotImage {
			out = append(out, m)
		}
	}
	return out
}

// DeleteImage removes a stored plot image.
func (p *PlotStore) DeleteImage(id, group string) (bool, error) {
	if !p.Ready() {
		return false, nil
	}
	if _, _, err := p.GetImage(id, group); errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return p.store.Delete(id, group)
}

// DataURI returns the image as a data URI suitable for embedding straight
// into a fragment parameter.
func (p *PlotStore) DataURI(id, group string) (string, error) {
	data, meta, err := p.GetImage(id, group)
	if err != nil {
		return "", err
	}
	ct := meta.Extra.ContentType
	if ct == "" {
		ct = ContentTypeFor(meta.Format)
	}
	return fmt.Sprintf("data:%s;base64,%s", ct, base64.StdEncoding.EncodeToString(data)), nil
}

// AliasFor reports the alias registered for a stored image.
func (p *PlotStore) AliasFor(guid, group string) (string, bool) {
	if !p.Ready() {
		return "", false
	}
	return p.store.AliasFor(guid, group)
}
