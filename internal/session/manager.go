// Package session provides session management for the memory service.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/anthropics/memory-go/internal/core"
	"github.com/anthropics/memory-go/internal/storage"
	"github.com/anthropics/memory-go/pkg/types"
)

// Manager handles session lifecycle and metadata (keywords, identifiers,
// files touched, title) layered on top of the hierarchy's SESSION nodes.
type Manager struct {
	store    *storage.Store
	hm       *core.HierarchyManager
	sessions map[string]*types.Session // In-memory cache, keyed by session key
	mu       sync.RWMutex
}

// NewManager creates a new session manager.
func NewManager(store *storage.Store, hm *core.HierarchyManager) (*Manager, error) {
	m := &Manager{
		store:    store,
		hm:       hm,
		sessions: make(map[string]*types.Session),
	}

	if err := m.loadSessions(); err != nil {
		return nil, err
	}

	return m, nil
}

// loadSessions loads all session metadata documents from storage into the cache.
func (m *Manager) loadSessions() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.store.ListSessionDocs(func(data []byte) error {
		var s types.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil // skip corrupted entries
		}
		m.sessions[s.ID] = &s
		return nil
	})
}

func (m *Manager) saveLocked(s *types.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return types.WrapError("session.saveLocked", types.ErrInvalidArg, err)
	}
	return m.store.SaveSessionDoc(s.ID, data)
}

// GetOrCreate retrieves an existing session or creates a new one, with a
// fresh SESSION node (and, the first time agentID is seen, a new AGENT
// node above it).
func (m *Manager) GetOrCreate(sessionID, agentID string) (*types.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, exists := m.sessions[sessionID]; exists {
		s.LastActiveAt = time.Now()
		s.SequenceNum = m.store.NextSequence()
		if err := m.saveLocked(s); err != nil {
			return nil, false, err
		}
		return s, false, nil
	}

	rootNodeID, existed, err := m.hm.CreateSession(agentID, sessionID)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	s := &types.Session{
		ID:           sessionID,
		AgentID:      agentID,
		RootNodeID:   rootNodeID,
		CreatedAt:    now,
		LastActiveAt: now,
		SequenceNum:  m.store.NextSequence(),
		Keywords:     make([]string, 0),
		Identifiers:  make([]string, 0),
		FilesTouched: make([]string, 0),
	}

	if err := m.saveLocked(s); err != nil {
		return nil, false, err
	}

	m.sessions[sessionID] = s
	return s, !existed, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*types.Session, error) {
	m.mu.RLock()
	s, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if exists {
		return s, nil
	}

	data, err := m.store.GetSessionDoc(sessionID)
	if err != nil {
		return nil, err
	}
	var loaded types.Session
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, types.WrapError("session.Get", types.ErrStorageCorrupt, err)
	}

	m.mu.Lock()
	m.sessions[sessionID] = &loaded
	m.mu.Unlock()

	return &loaded, nil
}

// Update updates a session's metadata.
func (m *Manager) Update(s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.LastActiveAt = time.Now()
	s.SequenceNum = m.store.NextSequence()

	if err := m.saveLocked(s); err != nil {
		return err
	}

	m.sessions[s.ID] = s
	return nil
}

// Delete soft-deletes a session's root node and drops it from the cache.
// The session metadata document itself is retained for audit purposes.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	s, exists := m.sessions[sessionID]
	m.mu.Unlock()
	if !exists {
		return types.ErrNotFound
	}

	if err := m.hm.DeleteNode(s.RootNodeID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// List returns all sessions.
func (m *Manager) List() []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	return sessions
}

// ListByAgent returns all sessions for a specific agent.
func (m *Manager) ListByAgent(agentID string) []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*types.Session
	for _, s := range m.sessions {
		if s.AgentID == agentID {
			sessions = append(sessions, s)
		}
	}

	return sessions
}

// AddKeywords adds keywords to a session (deduplicating), capped at MaxKeywords.
func (m *Manager) AddKeywords(sessionID string, keywords []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}

	existing := make(map[string]struct{}, len(s.Keywords))
	for _, k := range s.Keywords {
		existing[k] = struct{}{}
	}

	for _, k := range keywords {
		if _, found := existing[k]; !found {
			if len(s.Keywords) < types.MaxKeywords {
				s.Keywords = append(s.Keywords, k)
				existing[k] = struct{}{}
			}
		}
	}

	return m.saveLocked(s)
}

// AddIdentifiers adds identifiers to a session, capped at MaxIdentifiers.
func (m *Manager) AddIdentifiers(sessionID string, identifiers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}

	existing := make(map[string]struct{}, len(s.Identifiers))
	for _, id := range s.Identifiers {
		existing[id] = struct{}{}
	}

	for _, id := range identifiers {
		if _, found := existing[id]; !found {
			if len(s.Identifiers) < types.MaxIdentifiers {
				s.Identifiers = append(s.Identifiers, id)
				existing[id] = struct{}{}
			}
		}
	}

	return m.saveLocked(s)
}

// AddFilesTouched adds file paths to a session, capped at MaxFilesTouched.
func (m *Manager) AddFilesTouched(sessionID string, files []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}

	existing := make(map[string]struct{}, len(s.FilesTouched))
	for _, f := range s.FilesTouched {
		existing[f] = struct{}{}
	}

	for _, f := range files {
		if _, found := existing[f]; !found {
			if len(s.FilesTouched) < types.MaxFilesTouched {
				s.FilesTouched = append(s.FilesTouched, f)
				existing[f] = struct{}{}
			}
		}
	}

	return m.saveLocked(s)
}

// SetTitle sets the session title.
func (m *Manager) SetTitle(sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}

	s.Title = title
	return m.saveLocked(s)
}

// Touch updates the last active timestamp.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}

	s.LastActiveAt = time.Now()
	s.SequenceNum = m.store.NextSequence()
	return m.saveLocked(s)
}

// Count returns the total number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns session statistics.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make(map[string]int)
	for _, s := range m.sessions {
		agents[s.AgentID]++
	}

	return map[string]interface{}{
		"total_sessions": len(m.sessions),
		"agents":         len(agents),
	}
}
