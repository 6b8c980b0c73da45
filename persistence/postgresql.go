// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/wfunc/bncserver/game"
)

// PostgreSQL 数据库实现
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(ctx, db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(128) NOT NULL DEFAULT '',
            secret_code VARCHAR(36) NOT NULL DEFAULT '',
            code_length INTEGER NOT NULL DEFAULT 4,
            num_of_colors INTEGER NOT NULL DEFAULT 6,
            num_of_guesses INTEGER NOT NULL DEFAULT 10,
            game_type INTEGER NOT NULL DEFAULT 0,
            game_state TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            player VARCHAR(64) NOT NULL,
            content VARCHAR(512) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_rooms_created_at ON rooms(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id)`)
	return err
}

const roomColumns = `id, name, secret_code, code_length, num_of_colors, num_of_guesses, game_type, game_state, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner) (*RoomRecord, error) {
	var (
		rec      RoomRecord
		gameType int
		state    string
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Config.Secret, &rec.Config.CodeLength,
		&rec.Config.NumColors, &rec.Config.MaxGuesses, &gameType, &state,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Config.GameType = game.GameType(gameType)
	if state != "" {
		rec.State = []byte(state)
	}
	return &rec, nil
}

// CreateRoom 创建房间，未命名时使用 room_<id>
func (p *PostgreSQL) CreateRoom(ctx context.Context, name string, cfg game.Config) (*RoomRecord, error) {
	query := `
        INSERT INTO rooms (name, secret_code, code_length, num_of_colors, num_of_guesses, game_type)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + roomColumns

	rec, err := scanRoom(p.db.QueryRowContext(ctx, query, name, cfg.Secret,
		cfg.CodeLength, cfg.NumColors, cfg.MaxGuesses, int(cfg.GameType)))
	if err != nil {
		return nil, err
	}
	if rec.Name == "" {
		rec.Name = defaultRoomName(rec.ID)
		if _, err := p.db.ExecContext(ctx, `UPDATE rooms SET name = $2 WHERE id = $1`, rec.ID, rec.Name); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ListRooms 列出所有房间
func (p *PostgreSQL) ListRooms(ctx context.Context) ([]RoomRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomRecord
	for rows.Next() {
		rec, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Load 加载房间状态
func (p *PostgreSQL) Load(ctx context.Context, roomID int64) (*RoomRecord, error) {
	rec, err := scanRoom(p.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Save 保存房间状态
func (p *PostgreSQL) Save(ctx context.Context, roomID int64, cfg game.Config, state []byte) error {
	query := `
        UPDATE rooms
        SET secret_code = $2, code_length = $3, num_of_colors = $4, num_of_guesses = $5,
            game_type = $6, game_state = $7, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1
    `
	res, err := p.db.ExecContext(ctx, query, roomID, cfg.Secret, cfg.CodeLength,
		cfg.NumColors, cfg.MaxGuesses, int(cfg.GameType), string(state))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// AppendChat 保存一条聊天记录，房间不存在时不插入
func (p *PostgreSQL) AppendChat(ctx context.Context, roomID int64, player, message string, at time.Time) (*ChatRecord, error) {
	query := `
        INSERT INTO messages (room_id, player, content, created_at)
        SELECT $1, $2, $3, $4
        WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $1)
        RETURNING id, created_at
    `
	rec := &ChatRecord{RoomID: roomID, Player: player, Message: message}
	err := p.db.QueryRowContext(ctx, query, roomID, player, message, at.UTC()).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return rec, nil
}

// RecentChat 最近的聊天记录，按时间正序
func (p *PostgreSQL) RecentChat(ctx context.Context, roomID int64, limit int) ([]ChatRecord, error) {
	query := `
        SELECT id, room_id, player, content, created_at FROM (
            SELECT id, room_id, player, content, created_at FROM messages
            WHERE room_id = $1 ORDER BY id DESC LIMIT $2
        ) recent ORDER BY id
    `
	// LIMIT NULL 表示不限制
	var n interface{}
	if limit > 0 {
		n = limit
	}
	rows, err := p.db.QueryContext(ctx, query, roomID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var rec ChatRecord
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.Player, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
