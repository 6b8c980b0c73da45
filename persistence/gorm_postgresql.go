// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/bncserver/game"
	"github.com/wfunc/bncserver/models"
)

// GormStore 使用GORM的房间存储，支持 PostgreSQL 与 SQLite
type GormStore struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
	return openGorm(postgres.Open(dsn))
}

// NewGormSQLite opens (or creates) a SQLite database at path. ":memory:" is
// accepted for tests.
func NewGormSQLite(path string) (*GormStore, error) {
	store, err := openGorm(sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection keeps :memory: databases shared
	sqlDB, err := store.db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return store, nil
}

func openGorm(dialector gorm.Dialector) (*GormStore, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GormRoom{}, &models.GormMessage{}); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

// CreateRoom 创建房间
func (p *GormStore) CreateRoom(ctx context.Context, name string, cfg game.Config) (*RoomRecord, error) {
	room := models.GormRoom{
		Name:         name,
		SecretCode:   cfg.Secret,
		CodeLength:   cfg.CodeLength,
		NumOfColors:  cfg.NumColors,
		NumOfGuesses: cfg.MaxGuesses,
		GameType:     int(cfg.GameType),
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		if room.Name != "" {
			return nil
		}
		room.Name = defaultRoomName(room.ID)
		return tx.Model(&room).Update("name", room.Name).Error
	})
	if err != nil {
		return nil, err
	}
	return recordFromModel(&room), nil
}

// ListRooms 按创建顺序倒序列出房间
func (p *GormStore) ListRooms(ctx context.Context) ([]RoomRecord, error) {
	var rooms []models.GormRoom
	if err := p.db.WithContext(ctx).Order("id desc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	out := make([]RoomRecord, 0, len(rooms))
	for i := range rooms {
		out = append(out, *recordFromModel(&rooms[i]))
	}
	return out, nil
}

// Load 加载房间状态
func (p *GormStore) Load(ctx context.Context, roomID int64) (*RoomRecord, error) {
	var room models.GormRoom
	if err := p.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return recordFromModel(&room), nil
}

// Save 保存房间状态
func (p *GormStore) Save(ctx context.Context, roomID int64, cfg game.Config, state []byte) error {
	result := p.db.WithContext(ctx).Model(&models.GormRoom{}).Where("id = ?", roomID).Updates(map[string]interface{}{
		"secret_code":    cfg.Secret,
		"code_length":    cfg.CodeLength,
		"num_of_colors":  cfg.NumColors,
		"num_of_guesses": cfg.MaxGuesses,
		"game_type":      int(cfg.GameType),
		"game_state":     string(state),
		"updated_at":     time.Now().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// AppendChat 保存一条聊天记录
func (p *GormStore) AppendChat(ctx context.Context, roomID int64, player, message string, at time.Time) (*ChatRecord, error) {
	msg := models.GormMessage{RoomID: roomID, Player: player, Content: message, CreatedAt: at.UTC()}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.GormRoom{}).Where("id = ?", roomID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrRoomNotFound
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return nil, err
	}
	return chatFromModel(&msg), nil
}

// RecentChat 最近的聊天记录，按时间正序
func (p *GormStore) RecentChat(ctx context.Context, roomID int64, limit int) ([]ChatRecord, error) {
	var msgs []models.GormMessage
	q := p.db.WithContext(ctx).Where("room_id = ?", roomID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	out := make([]ChatRecord, len(msgs))
	for i := range msgs {
		out[len(msgs)-1-i] = *chatFromModel(&msgs[i])
	}
	return out, nil
}

// Close 关闭数据库连接
func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func recordFromModel(room *models.GormRoom) *RoomRecord {
	rec := &RoomRecord{
		ID:   room.ID,
		Name: room.Name,
		Config: game.Config{
			CodeLength: room.CodeLength,
			NumColors:  room.NumOfColors,
			MaxGuesses: room.NumOfGuesses,
			Secret:     room.SecretCode,
			GameType:   game.GameType(room.GameType),
		},
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
	if room.GameState != "" {
		rec.State = []byte(room.GameState)
	}
	return rec
}

func chatFromModel(msg *models.GormMessage) *ChatRecord {
	return &ChatRecord{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Player:    msg.Player,
		Message:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}
