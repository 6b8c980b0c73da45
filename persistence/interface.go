// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfunc/bncserver/game"
)

// RoomRecord 持久化的房间：配置加上不透明的游戏状态 JSON
type RoomRecord struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Config    game.Config `json:"config"`
	State     []byte      `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ChatRecord 一条聊天记录
type ChatRecord struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	Player    string    `json:"player"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

// Store is the collaborator the room registry loads from and saves to.
// An empty State means the room has never been initialized.
type Store interface {
	Load(ctx context.Context, roomID int64) (*RoomRecord, error)
	Save(ctx context.Context, roomID int64, cfg game.Config, state []byte) error
}

// Catalog creates and lists rooms. The game core never calls it.
type Catalog interface {
	CreateRoom(ctx context.Context, name string, cfg game.Config) (*RoomRecord, error)
	ListRooms(ctx context.Context) ([]RoomRecord, error)
}

// ChatLog keeps the chat lines of each room. AppendChat fails with
// ErrRoomNotFound for unknown rooms. RecentChat returns the last limit
// lines of a room, oldest first.
type ChatLog interface {
	AppendChat(ctx context.Context, roomID int64, player, message string, at time.Time) (*ChatRecord, error)
	RecentChat(ctx context.Context, roomID int64, limit int) ([]ChatRecord, error)
}

// Database 数据库接口
type Database interface {
	Store
	Catalog
	ChatLog
	Close() error
}

// 错误定义
var (
	ErrRoomNotFound = game.Wrap(game.KindState, errors.New("room not found"))
)

// defaultRoomName mirrors the "room_<id>" naming used when a room is created without a name.
func defaultRoomName(id int64) string {
	return fmt.Sprintf("room_%d", id)
}
