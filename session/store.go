package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/docfold/docfold/alias"
)

const aliasFile = "aliases.json"

// Store persists sessions as one JSON file per session id, rooted at the
// sessions directory. Every write replaces the whole file through a temp
// file and rename, so readers never observe a torn session.
type Store struct {
	fs  afero.Fs
	log *slog.Logger

	mu      sync.Mutex // serialises alias snapshot writes
	aliases *alias.Index
}

// OpenStore loads the alias index from fsys. A missing index file is an
// empty index.
func OpenStore(fsys afero.Fs, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	st := &Store{fs: fsys, log: log, aliases: alias.New()}
	raw, err := afero.ReadFile(fsys, aliasFile)
	if err != nil {
		if isNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("session: reading %s: %w", aliasFile, err)
	}
	var state map[string]map[string]string
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("session: parsing %s: %w", aliasFile, err)
	}
	st.aliases.Load(state)
	return st, nil
}

func isNotExist(err error) bool {
	return err != nil && (errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err))
}

// Aliases exposes the session alias index.
func (st *Store) Aliases() *alias.Index { return st.aliases }

// Load reads one session. A missing file returns (nil, nil); malformed JSON
// is an error, never silently treated as absent.
func (st *Store) Load(id string) (*Session, error) {
	raw, err := afero.ReadFile(st.fs, id+".json")
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: reading %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session: parsing %s: %w", id, err)
	}
	return &s, nil
}

// Save replaces the session file atomically.
func (st *Store) Save(s *Session) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", s.ID, err)
	}
	return st.replaceFile(s.ID+".json", raw)
}

// Delete removes the session file. Deleting an absent session is a no-op.
func (st *Store) Delete(id string) error {
	if err := st.fs.Remove(id + ".json"); err != nil && !isNotExist(err) {
		return fmt.Errorf("session: deleting %s: %w", id, err)
	}
	return nil
}

// List returns the ids of all persisted sessions.
func (st *Store) List() ([]string, error) {
	infos, err := afero.ReadDir(st.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("session: scanning sessions dir: %w", err)
	}
	var out []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || name == aliasFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

// PersistAliases writes the alias index snapshot beside the session files.
func (st *Store) PersistAliases() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	raw, err := json.MarshalIndent(st.aliases.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", aliasFile, err)
	}
	return st.replaceFile(aliasFile, raw)
}

func (st *Store) replaceFile(name string, raw []byte) error {
	tmp := name + ".tmp"
	f, err := st.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("session: opening %s: %w", tmp, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("session: writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("session: syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("session: closing %s: %w", tmp, err)
	}
	if err := st.fs.Rename(tmp, name); err != nil {
		return fmt.Errorf("session: replacing %s: %w", name, err)
	}
	return nil
}
