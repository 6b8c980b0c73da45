// session/session.go
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/bncserver/network"
)

// Session 一个 WebSocket 连接及其发送队列
type Session struct {
	ID        string
	Token     string
	RoomID    int64
	Conn      network.Connection
	CreatedAt time.Time

	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	lastActive atomic.Int64
}

// NewSession creates a session whose send queue holds queueSize frames.
func NewSession(id, token string, roomID int64, conn network.Connection, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 1
	}
	now := time.Now()
	s := &Session{
		ID:        id,
		Token:     token,
		RoomID:    roomID,
		Conn:      conn,
		CreatedAt: now,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	s.Touch()
	return s
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) GetToken() string {
	return s.Token
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Enqueue queues data for the write pump without blocking. It reports false
// when the queue is full or the session is closed.
func (s *Session) Enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.Conn.Close()
	})
	return err
}

// CloseWith sends a close frame with code before closing.
func (s *Session) CloseWith(code int, reason string) error {
	_ = s.Conn.WriteClose(code, reason)
	return s.Close()
}

// WritePump drains the send queue into the connection and pings every
// pingPeriod. Any write failure closes the session.
func (s *Session) WritePump(pingPeriod time.Duration) {
	var tick <-chan time.Time
	if pingPeriod > 0 {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer s.Close()

	for {
		select {
		case data := <-s.send:
			if err := s.Conn.WriteMessage(data); err != nil {
				return
			}
		case <-tick:
			if err := s.Conn.WritePing(); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
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

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Idle counts sessions with no inbound message since cutoff.
func (m *Manager) Idle(cutoff time.Time) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n := 0
	for _, session := range m.sessions {
		if session.LastActive().Before(cutoff) {
			n++
		}
	}
	return n
}

// CloseAll closes every session with code, used at shutdown.
func (m *Manager) CloseAll(code int, reason string) {
	m.mutex.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mutex.RUnlock()

	for _, s := range sessions {
		s.CloseWith(code, reason)
	}
}
