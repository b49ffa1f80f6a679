package peerauth

import "sync"

// SessionManager owns every PeerSession for a Peer, indexed by three keys:
// the local SessionNonce, the PeerNonce, and the PeerIdentityKey. It is a
// single owning arena with auxiliary indices, rather than three
// separately-owning maps.
type SessionManager struct {
	mu sync.RWMutex

	// arena owns every session, keyed by its stable handle (its
	// SessionNonce at creation time; handles never change even if the
	// session's own SessionNonce field would, because it never does).
	arena map[string]*PeerSession

	bySessionNonce map[string]string // SessionNonce -> handle
	byPeerNonce    map[string]string // PeerNonce -> handle
	byPeerIdentity map[string]string // PeerIdentityKey -> handle (most recent)
}

// NewSessionManager returns an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		arena:          make(map[string]*PeerSession),
		bySessionNonce: make(map[string]string),
		byPeerNonce:    make(map[string]string),
		byPeerIdentity: make(map[string]string),
	}
}

// AddSession inserts s, indexing it by SessionNonce and, when present, by
// PeerNonce and PeerIdentityKey.
func (m *SessionManager) AddSession(s *PeerSession) {
	if s == nil || s.SessionNonce == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := s.SessionNonce
	m.arena[handle] = s
	m.reindexLocked(handle, s)
}

// reindexLocked refreshes every index entry for handle to match s's
// current field values. Caller must hold m.mu.
func (m *SessionManager) reindexLocked(handle string, s *PeerSession) {
	m.bySessionNonce[s.SessionNonce] = handle
	if s.PeerNonce != "" {
		m.byPeerNonce[s.PeerNonce] = handle
	}
	if s.PeerIdentityKey != "" {
		m.byPeerIdentity[s.PeerIdentityKey] = handle
	}
}

// GetSession looks up a session by SessionNonce, PeerNonce, or
// PeerIdentityKey, trying each index in turn. It returns the live session
// pointer (owned by the manager) and whether one was found. Callers that
// need a stable snapshot should call Clone.
func (m *SessionManager) GetSession(key string) (*PeerSession, bool) {
	if key == "" {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(key)
}

func (m *SessionManager) getLocked(key string) (*PeerSession, bool) {
	if handle, ok := m.bySessionNonce[key]; ok {
		if s, ok := m.arena[handle]; ok {
			return s, true
		}
	}
	if handle, ok := m.byPeerNonce[key]; ok {
		if s, ok := m.arena[handle]; ok {
			return s, true
		}
	}
	if handle, ok := m.byPeerIdentity[key]; ok {
		if s, ok := m.arena[handle]; ok {
			return s, true
		}
	}
	return nil, false
}

// UpdateSession replaces the stored session sharing s's SessionNonce
// handle and re-indexes on any changed keys. It is a no-op if no session
// with that handle exists.
func (m *SessionManager) UpdateSession(s *PeerSession) {
	if s == nil || s.SessionNonce == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := s.SessionNonce
	if _, exists := m.arena[handle]; !exists {
		return
	}
	m.arena[handle] = s
	for k, h := range m.byPeerNonce {
		if h == handle && k != s.PeerNonce {
			delete(m.byPeerNonce, k)
		}
	}
	for k, h := range m.byPeerIdentity {
		if h == handle && k != s.PeerIdentityKey {
			delete(m.byPeerIdentity, k)
		}
	}
	m.reindexLocked(handle, s)
}

// RemoveSession deletes the session reachable by key via any index. It
// tolerates a missing session.
func (m *SessionManager) RemoveSession(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.getLocked(key)
	if !ok {
		return
	}
	handle := s.SessionNonce
	delete(m.arena, handle)
	delete(m.bySessionNonce, s.SessionNonce)
	if m.byPeerNonce[s.PeerNonce] == handle {
		delete(m.byPeerNonce, s.PeerNonce)
	}
	if m.byPeerIdentity[s.PeerIdentityKey] == handle {
		delete(m.byPeerIdentity, s.PeerIdentityKey)
	}
}

// Count returns the number of sessions currently tracked.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.arena)
}
