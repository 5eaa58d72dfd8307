// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/werewolfserver/network"
)

// Session is one websocket client. It is bound to a guild and a user once
// the client sends a bind packet.
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	lastActive time.Time
	guildID    int64
	userID     int64
	bound      bool
	mutex      sync.RWMutex
}

// NewSession 创建会话; an empty id gets a random uuid.
func NewSession(id string, conn network.Connection) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

func (s *Session) Bind(guildID, userID int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.guildID, s.userID, s.bound = guildID, userID, true
}

// Identity returns the bound guild and user; ok is false before Bind.
func (s *Session) Identity() (guildID, userID int64, ok bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.guildID, s.userID, s.bound
}

func (s *Session) Send(msgID uint16, data []byte) error {
	s.Touch()
	return s.Conn.Send(msgID, data)
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

func (m *Manager) All() []*Session {
	return m.filter(func(*Session) bool { return true })
}

func (m *Manager) GetByUserID(userID int64) []*Session {
	return m.filter(func(s *Session) bool {
		_, user, ok := s.Identity()
		return ok && user == userID
	})
}

// GetByGuild returns every session bound to the guild.
func (m *Manager) GetByGuild(guildID int64) []*Session {
	return m.filter(func(s *Session) bool {
		guild, _, ok := s.Identity()
		return ok && guild == guildID
	})
}

func (m *Manager) filter(keep func(*Session) bool) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if keep(session) {
			result = append(result, session)
		}
	}
	return result
}
