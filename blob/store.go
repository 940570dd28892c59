// Package blob implements content-addressed artefact storage: one data file
// per artefact plus a single JSON metadata catalogue that is the source of
// truth for group, format and age. Every artefact is stamped with the group
// that wrote it; reads and deletes refuse a caller whose group differs.
package blob

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/docfold/docfold/alias"
)

const (
	catalogueFile = "metadata.json"
	lockFile      = ".lock"
)

// Artefact types recorded in Extra. The plot store filters on these.
const (
	ArtefactDocument  = "document"
	ArtefactPlotImage = "plot_image"
)

var (
	// ErrNotFound means the identifier resolves to no stored artefact.
	ErrNotFound = errors.New("blob: not found")
	// ErrPermissionDenied means the artefact exists but belongs to another
	// group. Callers decide whether to disclose the difference.
	ErrPermissionDenied = errors.New("blob: permission denied")
	// ErrLocked means another housekeeper holds the store lock.
	ErrLocked = errors.New("blob: store locked by another prune run")
)

// Extra is the open part of an artefact's metadata.
type Extra struct {
	ArtefactType string   `json:"artefact_type,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	ContentType  string   `json:"content_type,omitempty"`
}

// Meta describes one stored artefact. The catalogue entry, not the data
// file, is authoritative for every field here.
type Meta struct {
	GUID      string    `json:"guid"`
	Format    string    `json:"format"`
	Group     string    `json:"group"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Extra     Extra     `json:"extra,omitempty"`
}

// Filename returns the data file name for this artefact.
func (m Meta) Filename() string { return m.GUID + "." + extensionFor(m.Format) }

func extensionFor(format string) string {
	switch format {
	case "markdown":
		return "md"
	case "jpeg":
		return "jpg"
	case "svg+xml":
		return "svg"
	}
	return format
}

// ContentTypeFor maps a stored format to the content type used to serve it.
func ContentTypeFor(format string) string {
	switch format {
	case "html":
		return "text/html; charset=utf-8"
	case "markdown", "md":
		return "text/markdown; charset=utf-8"
	case "pdf":
		return "application/pdf"
	case "png":
		return "image/png"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "svg", "svg+xml":
		return "image/svg+xml"
	}
	return "application/octet-stream"
}

type catalogue struct {
	Blobs map[string]Meta `json:"blobs"`
}

// Store is safe for concurrent use. The mutex covers only the in-memory
// catalogue and its persistence; data file writes happen outside it.
type Store struct {
	fs           afero.Fs
	log          *slog.Logger
	lockStaleAge time.Duration
	now          func() time.Time

	mu      sync.Mutex
	metas   map[string]Meta
	aliases *alias.Index
}

// Open loads the catalogue from fsys, which is rooted at the storage
// directory. A missing catalogue is an empty store.
func Open(fsys afero.Fs, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		fs:           fsys,
		log:          log,
		lockStaleAge: 10 * time.Minute,
		now:          time.Now,
		metas:        map[string]Meta{},
		aliases:      alias.New(),
	}
	raw, err := afero.ReadFile(fsys, catalogueFile)
	if err != nil {
		if isNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("blob: reading %s: %w", catalogueFile, err)
	}
	var cat catalogue
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("blob: parsing %s: %w", catalogueFile, err)
	}
	if cat.Blobs != nil {
		s.metas = cat.Blobs
	}
	for guid, meta := range s.metas {
		for _, a := range meta.Extra.Aliases {
			if err := s.aliases.Register(a, guid, meta.Group); err != nil {
				log.Warn("dropping unusable blob alias",
					slog.String("alias", a), slog.String("guid", guid), slog.Any("error", err))
			}
		}
	}
	return s, nil
}

// SetLockStaleAge overrides the age after which a leftover prune lock is
// considered stale and reclaimed.
func (s *Store) SetLockStaleAge(d time.Duration) { s.lockStaleAge = d }

func isNotExist(err error) bool {
	return err != nil && (errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err))
}

// Save writes data under a fresh GUID, records its metadata and persists the
// catalogue. Aliases in extra are claimed before any write so a taken alias
// fails the save without leaving state behind.
func (s *Store) Save(data []byte, format, group string, extra Extra) (string, error) {
	guid := uuid.NewString()
	meta := Meta{
		GUID:      guid,
		Format:    format,
		Group:     group,
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
		Extra:     extra,
	}

	var claimed []string
	release := func() {
		for _, a := range claimed {
			s.aliases.Unregister(a, group)
		}
	}
	for _, a := range extra.Aliases {
		if err := s.aliases.Register(a, guid, group); err != nil {
			release()
			return "", err
		}
		claimed = append(claimed, a)
	}

	if err := afero.WriteFile(s.fs, meta.Filename(), data, 0o644); err != nil {
		release()
		return "", fmt.Errorf("blob: writing %s: %w", meta.Filename(), err)
	}

	s.mu.Lock()
	s.metas[guid] = meta
	err := s.persistLocked()
	if err != nil {
		delete(s.metas, guid)
	}
	s.mu.Unlock()
	if err != nil {
		// the stray data file is reaped by the next purge
		release()
		return "", err
	}
	return guid, nil
}

// persistLocked writes the catalogue through a temp file and rename so a
// crash never leaves a half-written catalogue. Callers hold s.mu.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(catalogue{Blobs: s.metas}, "", "  ")
	if err != nil {
		return fmt.Errorf("blob: encoding catalogue: %w", err)
	}
	tmp := catalogueFile + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("blob: opening %s: %w", tmp, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("blob: writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("blob: syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("blob: closing %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, catalogueFile); err != nil {
		return fmt.Errorf("blob: replacing %s: %w", catalogueFile, err)
	}
	return nil
}

// Resolve maps a GUID or a group-scoped alias to a GUID.
func (s *Store) Resolve(id, group string) (string, bool) {
	return s.aliases.Resolve(id, group)
}

// AliasFor returns the alias registered for guid in group, if any.
func (s *Store) AliasFor(guid, group string) (string, bool) {
	return s.aliases.AliasFor(guid, group)
}

// Stat returns the metadata for id without reading the data file. When group
// is non-empty a stored artefact of another group yields ErrPermissionDenied.
func (s *Store) Stat(id, group string) (Meta, error) {
	guid, ok := s.Resolve(id, group)
	if !ok {
		return Meta{}, ErrNotFound
	}
	s.mu.Lock()
	meta, ok := s.metas[guid]
	s.mu.Unlock()
	if !ok {
		return Meta{}, ErrNotFound
	}
	if group != "" && meta.Group != group {
		return Meta{}, ErrPermissionDenied
	}
	return meta, nil
}

// Get returns the stored bytes and metadata for id. A catalogue entry whose
// data file has gone missing reads as absent; the next purge drops it.
func (s *Store) Get(id, group string) ([]byte, Meta, error) {
	meta, err := s.Stat(id, group)
	if err != nil {
		return nil, Meta{}, err
	}
	data, err := afero.ReadFile(s.fs, meta.Filename())
	if err != nil {
		if isNotExist(err) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("blob: reading %s: %w", meta.Filename(), err)
	}
	return data, meta, nil
}

// Delete removes an artefact and its aliases. It reports false when nothing
// was stored under id.
func (s *Store) Delete(id, group string) (bool, error) {
	meta, err := s.Stat(id, group)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.metas, meta.GUID)
	perr := s.persistLocked()
	s.mu.Unlock()
	if perr != nil {
		return false, perr
	}
	s.aliases.UnregisterGUID(meta.GUID, meta.Group)
	if err := s.fs.Remove(meta.Filename()); err != nil && !isNotExist(err) {
		s.log.Warn("blob data file not removed", slog.String("guid", meta.GUID), slog.Any("error", err))
	}
	return true, nil
}

// List returns the GUIDs of one group, or of all groups when group is empty,
// oldest first.
func (s *Store) List(group string) []string {
	metas := s.Metas(group)
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.GUID
	}
	return out
}

// Metas returns catalogue entries filtered by group, oldest first. Ties
// break on GUID so the order is stable across calls.
func (s *Store) Metas(group string) []Meta {
	s.mu.Lock()
	out := make([]Meta, 0, len(s.metas))
	for _, m := range s.metas {
		if group == "" || m.Group == group {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Meta) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.GUID, b.GUID)
	})
	return out
}

// TotalSize sums the stored sizes of group, or of everything when group is
// empty.
func (s *Store) TotalSize(group string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, m := range s.metas {
		if group == "" || m.Group == group {
			total += m.Size
		}
	}
	return total
}

// Purge deletes artefacts older than ageDays within the group filter;
// ageDays 0 deletes everything the filter matches. The same pass drops
// catalogue entries whose data file is gone and data files the catalogue
// does not know, restoring the file/catalogue consistency invariant.
func (s *Store) Purge(ageDays int, group string) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -ageDays)

	s.mu.Lock()
	var victims []Meta
	for _, m := range s.metas {
		if group != "" && m.Group != group {
			continue
		}
		if m.CreatedAt.Before(cutoff) {
			victims = append(victims, m)
			continue
		}
		if _, err := s.fs.Stat(m.Filename()); isNotExist(err) {
			victims = append(victims, m) // orphaned metadata
		}
	}
	for _, m := range victims {
		delete(s.metas, m.GUID)
	}
	var perr error
	if len(victims) > 0 {
		perr = s.persistLocked()
	}
	s.mu.Unlock()
	if perr != nil {
		return 0, perr
	}

	removed := len(victims)
	for _, m := range victims {
		s.aliases.UnregisterGUID(m.GUID, m.Group)
		if err := s.fs.Remove(m.Filename()); err != nil && !isNotExist(err) {
			s.log.Warn("purge: data file not removed", slog.String("guid", m.GUID), slog.Any("error", err))
		}
	}

	strays, err := s.removeStrayFiles()
	if err != nil {
		return removed, err
	}
	removed += strays
	if removed > 0 {
		s.log.Debug("purge complete", slog.Int("removed", removed), slog.String("group", group))
	}
	return removed, nil
}

// removeStrayFiles deletes data files that have no catalogue entry. Strays
// belong to no group, so every purge reaps them.
func (s *Store) removeStrayFiles() (int, error) {
	infos, err := afero.ReadDir(s.fs, ".")
	if err != nil {
		return 0, fmt.Errorf("blob: scanning storage dir: %w", err)
	}
	s.mu.Lock()
	known := make(map[string]bool, len(s.metas))
	for _, m := range s.metas {
		known[m.Filename()] = true
	}
	s.mu.Unlock()

	removed := 0
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || name == catalogueFile || name == lockFile || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if known[name] {
			continue
		}
		ext := strings.LastIndexByte(name, '.')
		if ext <= 0 {
			continue
		}
		if _, err := uuid.Parse(name[:ext]); err != nil {
			continue // not ours
		}
		if err := s.fs.Remove(name); err != nil && !isNotExist(err) {
			s.log.Warn("purge: stray file not removed", slog.String("file", name), slog.Any("error", err))
			continue
		}
		removed++
	}
	return removed, nil
}

// PruneSize deletes artefacts oldest-first until the group's (or, with an
// empty group, the whole store's) total size is at most maxMB. Concurrent
// runs are serialised by a lock file that goes stale after the configured
// age, so a crashed housekeeper cannot wedge the store.
func (s *Store) PruneSize(maxMB int, group string) (int, error) {
	release, err := s.acquireLock()
	if err != nil {
		return 0, err
	}
	defer release()

	budget := int64(maxMB) * 1024 * 1024
	total := s.TotalSize(group)
	if total <= budget {
		return 0, nil
	}

	removed := 0
	for _, m := range s.Metas(group) { // oldest first
		if total <= budget {
			break
		}
		ok, err := s.Delete(m.GUID, "")
		if err != nil {
			return removed, err
		}
		if ok {
			total -= m.Size
			removed++
		}
	}
	s.log.Info("size prune complete",
		slog.Int("removed", removed),
		slog.Int64("remaining_bytes", total),
		slog.String("group", group))
	return removed, nil
}

// acquireLock takes the store lock file, reclaiming it when its mtime is
// older than the stale age.
func (s *Store) acquireLock() (func(), error) {
	if info, err := s.fs.Stat(lockFile); err == nil {
		if s.now().Sub(info.ModTime()) < s.lockStaleAge {
			return nil, ErrLocked
		}
		s.log.Warn("reclaiming stale prune lock", slog.Time("mtime", info.ModTime()))
		if err := s.fs.Remove(lockFile); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("blob: removing stale lock: %w", err)
		}
	}
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	if err := afero.WriteFile(s.fs, lockFile, []byte(stamp), 0o644); err != nil {
		return nil, fmt.Errorf("blob: writing lock: %w", err)
	}
	return func() {
		if err := s.fs.Remove(lockFile); err != nil && !isNotExist(err) {
			s.log.Warn("prune lock not released", slog.Any("error", err))
		}
	}, nil
}
