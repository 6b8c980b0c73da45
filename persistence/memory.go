// persistence/memory.go
package persistence

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/wfunc/bncserver/game"
)

// Memory keeps rooms in process memory. Used for development and tests.
type Memory struct {
	rooms      map[int64]*RoomRecord
	chat       map[int64][]ChatRecord
	nextID     int64
	nextChatID int64
	mutex      sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		rooms:      make(map[int64]*RoomRecord),
		chat:       make(map[int64][]ChatRecord),
		nextID:     1,
		nextChatID: 1,
	}
}

func (m *Memory) CreateRoom(ctx context.Context, name string, cfg game.Config) (*RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	id := m.nextID
	m.nextID++
	if name == "" {
		name = defaultRoomName(id)
	}
	now := time.Now().UTC()
	rec := &RoomRecord{ID: id, Name: name, Config: cfg, CreatedAt: now, UpdatedAt: now}
	m.rooms[id] = rec
	return cloneRecord(rec), nil
}

func (m *Memory) ListRooms(ctx context.Context) ([]RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]RoomRecord, 0, len(m.rooms))
	for _, rec := range m.rooms {
		out = append(out, *cloneRecord(rec))
	}
	slices.SortFunc(out, func(a, b RoomRecord) int {
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (m *Memory) Load(ctx context.Context, roomID int64) (*RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	rec, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Save(ctx context.Context, roomID int64, cfg game.Config, state []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	rec, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	rec.Config = cfg
	rec.State = slices.Clone(state)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) AppendChat(ctx context.Context, roomID int64, player, message string, at time.Time) (*ChatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, ErrRoomNotFound
	}
	rec := ChatRecord{ID: m.nextChatID, RoomID: roomID, Player: player, Message: message, CreatedAt: at.UTC()}
	m.nextChatID++
	m.chat[roomID] = append(m.chat[roomID], rec)
	return &rec, nil
}

func (m *Memory) RecentChat(ctx context.Context, roomID int64, limit int) ([]ChatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	lines := m.chat[roomID]
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return slices.Clone(lines), nil
}

// Delete removes a room and its chat. Only the owner of the catalog calls this.
func (m *Memory) Delete(roomID int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.rooms, roomID)
	delete(m.chat, roomID)
}

func (m *Memory) Close() error {
	return nil
}

func cloneRecord(rec *RoomRecord) *RoomRecord {
	c := *rec
	c.State = slices.Clone(rec.State)
	return &c
}
