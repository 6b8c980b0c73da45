// models/models.go
package models

import (
	"time"

	"github.com/wfunc/bncserver/game"
)

// RoomInfo 房间的公开描述，密码不在其中
type RoomInfo struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	GameType     string    `json:"game_type"`
	CodeLength   int       `json:"code_length"`
	NumOfColors  int       `json:"num_of_colors"`
	NumOfGuesses int       `json:"num_of_guesses"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateRoomRequest is the body of POST /api/rooms. GameType accepts the
// name or the legacy integer code.
type CreateRoomRequest struct {
	Name         string         `json:"name"`
	GameType     *game.GameType `json:"game_type"`
	CodeLength   *int           `json:"code_length"`
	NumOfColors  *int           `json:"num_of_colors"`
	NumOfGuesses *int           `json:"num_of_guesses"`
	SecretCode   string         `json:"secret_code"`
}

// Config resolves the request against defaults.
func (r CreateRoomRequest) Config(defaults game.Config) game.Config {
	cfg := defaults
	cfg.Secret = r.SecretCode
	if r.GameType != nil {
		cfg.GameType = *r.GameType
	}
	if r.CodeLength != nil {
		cfg.CodeLength = *r.CodeLength
	}
	if r.NumOfColors != nil {
		cfg.NumColors = *r.NumOfColors
	}
	if r.NumOfGuesses != nil {
		cfg.MaxGuesses = *r.NumOfGuesses
	}
	return cfg
}

// ServerStats 运行时统计
type ServerStats struct {
	TrackedRooms int `json:"tracked_rooms"`
	BusyRooms    int `json:"busy_rooms"`
	Connections  int `json:"connections"`
	Sessions     int `json:"sessions"`
	// IdleSessions have sent nothing for longer than the pong wait.
	IdleSessions int `json:"idle_sessions"`
}
