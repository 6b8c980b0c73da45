// models/gorm_models.go
package models

import (
	"time"
)

// GormRoom 房间模型：配置列加上游戏状态 JSON
type GormRoom struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"size:128;not null;default:''"`
	SecretCode   string `gorm:"size:36;not null;default:''"`
	CodeLength   int    `gorm:"not null;default:4"`
	NumOfColors  int    `gorm:"not null;default:6"`
	NumOfGuesses int    `gorm:"not null;default:10"`
	GameType     int    `gorm:"not null;default:0"`
	GameState    string `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (GormRoom) TableName() string {
	return "rooms"
}

// GormMessage 房间内的聊天记录
type GormMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	RoomID    int64     `gorm:"not null;index:idx_messages_room_id"`
	Player    string    `gorm:"size:64;not null"`
	Content   string    `gorm:"size:512;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (GormMessage) TableName() string {
	return "messages"
}
