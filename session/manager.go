package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/registry"
)

// Manager runs the session state machine over a Store. Operations on one
// session id are serialised by a per-id mutex, so every mutation is a clean
// read-modify-write; concurrent writers to the same session are
// last-writer-wins by design, as sessions have a single logical author.
//
// An absent session and a session owned by another group fail with the same
// SESSION_NOT_FOUND, so callers cannot probe for existence across groups.
type Manager struct {
	store *Store
	regs  *registry.Registries
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store *Store, regs *registry.Registries, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: store,
		regs:  regs,
		log:   log,
		now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

// lock acquires the per-session mutex and returns its release func.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func notFound(identifier string) *fault.Error {
	return fault.Newf(fault.SessionNotFound, "no session %q", identifier)
}

func requiresGlobals(decl []registry.Param) bool {
	for _, p := range decl {
		if p.Required {
			return true
		}
	}
	return false
}

// Resolve maps a session id or alias to the canonical session id without
// loading the session.
func (m *Manager) Resolve(identifier, group string) (string, bool) {
	return m.store.Aliases().Resolve(identifier, group)
}

// load resolves and reads a session, enforcing the group rule.
func (m *Manager) load(identifier, group string) (*Session, error) {
	id, ok := m.Resolve(identifier, group)
	if !ok {
		return nil, notFound(identifier)
	}
	s, err := m.store.Load(id)
	if err != nil {
		return nil, fault.Wrap(err, fault.Unexpected, "session could not be read")
	}
	if s == nil || s.Group != group {
		return nil, notFound(identifier)
	}
	return s, nil
}

// lockAndLoad is load under the canonical session id's mutex, so mutations
// are serialised even when one caller uses the alias and another the UUID.
func (m *Manager) lockAndLoad(identifier, group string) (*Session, func(), error) {
	id, ok := m.Resolve(identifier, group)
	if !ok {
		return nil, nil, notFound(identifier)
	}
	release := m.lock(id)
	s, err := m.store.Load(id)
	if err != nil {
		release()
		return nil, nil, fault.Wrap(err, fault.Unexpected, "session could not be read")
	}
	if s == nil || s.Group != group {
		release()
		return nil, nil, notFound(identifier)
	}
	return s, release, nil
}

// Create starts a session for group on the named template. The alias, when
// given, is claimed atomically with the session: a taken alias fails the
// create and leaves nothing behind.
//
// A template that requires no global values starts the session ready to
// render; set_global_parameters stays available for the optional ones.
func (m *Manager) Create(group, templateID, aliasName string) (*Session, error) {
	tmpl, ok := m.regs.Templates.Get(group, templateID)
	if !ok {
		return nil, fault.Newf(fault.TemplateNotFound, "no template %q in group %q", templateID, group)
	}
	now := m.now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		Group:      group,
		TemplateID: templateID,
		Alias:      aliasName,
		Fragments:  []Fragment{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if !requiresGlobals(tmpl.GlobalParameters) {
		s.Global = map[string]any{}
	}
	if aliasName != "" {
		if err := m.store.Aliases().Register(aliasName, s.ID, group); err != nil {
			return nil, fault.Wrap(err, fault.InvalidOperation, "alias "+aliasName+" cannot be registered")
		}
	}
	if err := m.store.Save(s); err != nil {
		if aliasName != "" {
			m.store.Aliases().Unregister(aliasName, group)
		}
		return nil, fault.Wrap(err, fault.Unexpected, "session could not be persisted")
	}
	if aliasName != "" {
		if err := m.store.PersistAliases(); err != nil {
			m.log.Error("session alias index not persisted", slog.Any("error", err))
		}
	}
	m.log.Info("session created",
		slog.String("session", s.ID),
		slog.String("template", templateID),
		slog.String("group", group))
	return s, nil
}

// Get returns a session snapshot for status reporting or rendering.
func (m *Manager) Get(identifier, group string) (*Session, error) {
	return m.load(identifier, group)
}

// ListActive returns the sessions belonging to group. Files that fail to
// parse are skipped with a warning rather than failing the whole listing.
func (m *Manager) ListActive(group string) ([]*Session, error) {
	ids, err := m.store.List()
	if err != nil {
		return nil, fault.Wrap(err, fault.Unexpected, "sessions could not be listed")
	}
	var out []*Session
	for _, id := range ids {
		s, err := m.store.Load(id)
		if err != nil {
			m.log.Warn("skipping unreadable session", slog.String("session", id), slog.Any("error", err))
			continue
		}
		if s != nil && s.Group == group {
			out = append(out, s)
		}
	}
	return out, nil
}

// SetGlobal validates values against the template's global schema and stores
// the whole map, replacing any previous value. Two identical calls are
// equivalent to one.
func (m *Manager) SetGlobal(identifier, group string, values map[string]any) (*Session, error) {
	s, release, err := m.lockAndLoad(identifier, group)
	if err != nil {
		return nil, err
	}
	defer release()
	tmpl, ok := m.regs.Templates.Get(s.Group, s.TemplateID)
	if !ok {
		return nil, fault.Newf(fault.TemplateNotFound, "no template %q in group %q", s.TemplateID, s.Group)
	}
	if values == nil {
		values = map[string]any{}
	}
	if issues := registry.ValidateParameters(tmpl.GlobalParameters, values); len(issues) > 0 {
		return nil, fault.New(fault.InvalidArguments, "global parameters failed validation").
			WithDetail("validation_errors", registry.IssueStrings(issues))
	}
	s.Global = values
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Save(s); err != nil {
		return nil, fault.Wrap(err, fault.Unexpected, "session could not be persisted")
	}
	return s, nil
}

// AddFragment validates parameters against the template's declaration of
// fragmentID, mints an instance GUID and inserts at the requested position.
func (m *Manager) AddFragment(identifier, group, fragmentID string, params map[string]any, position string) (*Session, *Fragment, error) {
	pos, err := ParsePosition(position)
	if err != nil {
		return nil, nil, fault.Wrap(err, fault.InvalidArguments, err.Error())
	}

	s, release, err := m.lockAndLoad(identifier, group)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	tmpl, ok := m.regs.Templates.Get(s.Group, s.TemplateID)
	if !ok {
		return nil, nil, fault.Newf(fault.TemplateNotFound, "no template %q in group %q", s.TemplateID, s.Group)
	}
	def, ok := tmpl.FragmentDef(fragmentID)
	if !ok {
		return nil, nil, fault.Newf(fault.FragmentNotFound, "template %q declares no fragment %q", s.TemplateID, fragmentID)
	}
	if params == nil {
		params = map[string]any{}
	}
	if issues := registry.ValidateParameters(def.Parameters, params); len(issues) > 0 {
		return nil, nil, fault.Newf(fault.InvalidArguments, "parameters for fragment %q failed validation", fragmentID).
			WithDetail("validation_errors", registry.IssueStrings(issues))
	}

	idx, ok := insertIndex(s.Fragments, pos)
	if !ok {
		return nil, nil, fault.Newf(fault.InvalidOperation, "position references unknown fragment instance %q", pos.ref)
	}
	frag := Fragment{
		InstanceGUID: uuid.NewString(),
		FragmentID:   fragmentID,
		Parameters:   params,
		CreatedAt:    m.now().UTC(),
	}
	s.Fragments = append(s.Fragments, Fragment{})
	copy(s.Fragments[idx+1:], s.Fragments[idx:])
	s.Fragments[idx] = frag
	s.UpdatedAt = frag.CreatedAt

	if err := m.store.Save(s); err != nil {
		return nil, nil, fault.Wrap(err, fault.Unexpected, "session could not be persisted")
	}
	return s, &frag, nil
}

// RemoveFragment deletes the fragment instance with the given GUID.
func (m *Manager) RemoveFragment(identifier, group, instanceGUID string) (*Session, error) {
	s, release, err := m.lockAndLoad(identifier, group)
	if err != nil {
		return nil, err
	}
	defer release()
	idx := s.fragmentIndex(instanceGUID)
	if idx < 0 {
		return nil, fault.Newf(fault.FragmentNotFound, "no fragment instance %q in session", instanceGUID)
	}
	s.Fragments = append(s.Fragments[:idx], s.Fragments[idx+1:]...)
	s.UpdatedAt = m.now().UTC()
	if err := m.store.Save(s); err != nil {
		return nil, fault.Wrap(err, fault.Unexpected, "session could not be persisted")
	}
	return s, nil
}

// FragmentInfo is one row of ListFragments, with the human name joined from
// the template's declaration.
type FragmentInfo struct {
	InstanceGUID string    `json:"fragment_instance_guid"`
	FragmentID   string    `json:"fragment_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListFragments returns the session's fragments in stored order.
func (m *Manager) ListFragments(identifier, group string) ([]FragmentInfo, error) {
	s, err := m.load(identifier, group)
	if err != nil {
		return nil, err
	}
	tmpl, _ := m.regs.Templates.Get(s.Group, s.TemplateID)
	out := make([]FragmentInfo, len(s.Fragments))
	for i, f := range s.Fragments {
		name := f.FragmentID
		if tmpl != nil {
			if def, ok := tmpl.FragmentDef(f.FragmentID); ok && def.Name != "" {
				name = def.Name
			}
		}
		out[i] = FragmentInfo{
			InstanceGUID: f.InstanceGUID,
			FragmentID:   f.FragmentID,
			Name:         name,
			CreatedAt:    f.CreatedAt,
		}
	}
	return out, nil
}

// Abort deletes the persisted session and its alias entries.
func (m *Manager) Abort(identifier, group string) error {
	s, release, err := m.lockAndLoad(identifier, group)
	if err != nil {
		return err
	}
	defer release()
	if err := m.store.Delete(s.ID); err != nil {
		return fault.Wrap(err, fault.Unexpected, "session could not be deleted")
	}
	m.store.Aliases().UnregisterGUID(s.ID, s.Group)
	if err := m.store.PersistAliases(); err != nil {
		m.log.Error("session alias index not persisted", slog.Any("error", err))
	}
	m.mu.Lock()
	delete(m.locks, s.ID)
	m.mu.Unlock()
	m.log.Info("session aborted", slog.String("session", s.ID), slog.String("group", s.Group))
	return nil
}

// ValidateForRender reports whether the session can be rendered and, when it
// cannot, the human-readable reason.
func (m *Manager) ValidateForRender(identifier, group string) (bool, string, error) {
	s, err := m.load(identifier, group)
	if err != nil {
		return false, "", err
	}
	if !s.GlobalSet() {
		return false, "global parameters have not been set", nil
	}
	return true, "", nil
}
