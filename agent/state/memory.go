package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	mu      sync.Mutex
	session *Session
}

// MemoryStore keeps sessions in process memory. Each session has its own
// mutex, so different sessions never contend.
type MemoryStore struct {
	sessions *xsync.MapOf[string, *memoryEntry]
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: xsync.NewMapOf[string, *memoryEntry](),
		now:      time.Now,
	}
}

func (m *MemoryStore) InitSession(_ context.Context, sessionID string, channel Channel) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSession
	}
	m.sessions.LoadOrCompute(sessionID, func() *memoryEntry {
		return &memoryEntry{session: NewSession(sessionID, channel, m.now())}
	})
	return nil
}

func (m *MemoryStore) History(_ context.Context, sessionID string) ([]Turn, error) {
	var out []Turn
	err := m.with(sessionID, func(s *Session) error {
		out = s.HistorySnapshot()
		return nil
	})
	return out, err
}

func (m *MemoryStore) AppendTurns(_ context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	return m.with(sessionID, func(s *Session) error {
		return s.Append(m.now(), turns...)
	})
}

func (m *MemoryStore) Attribute(_ context.Context, sessionID, key string) (string, error) {
	var out string
	err := m.with(sessionID, func(s *Session) error {
		out = s.Attribute(key)
		return nil
	})
	return out, err
}

func (m *MemoryStore) SetAttribute(_ context.Context, sessionID, key, value string) error {
	return m.with(sessionID, func(s *Session) error {
		s.SetAttribute(key, value, m.now())
		return nil
	})
}

// Session returns a deep-enough copy of the stored session for inspection.
func (m *MemoryStore) Session(sessionID string) (*Session, bool) {
	var out *Session
	err := m.with(sessionID, func(s *Session) error {
		cp := *s
		cp.History = s.HistorySnapshot()
		cp.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			cp.Attributes[k] = v
		}
		out = &cp
		return nil
	})
	return out, err == nil
}

func (m *MemoryStore) with(sessionID string, fn func(*Session) error) error {
	entry, ok := m.sessions.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.session)
}
