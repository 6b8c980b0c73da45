// persistence/redis.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/bncserver/game"
)

const (
	redisRoomSeq   = "bnc:room:seq"
	redisRoomIndex = "bnc:rooms"
	redisChatSeq   = "bnc:chat:seq"

	// redisChatKeep is how many chat lines each room list retains.
	redisChatKeep = 1000
)

func redisRoomKey(id int64) string {
	return fmt.Sprintf("bnc:room:%d", id)
}

func redisChatKey(id int64) string {
	return fmt.Sprintf("bnc:room:%d:chat", id)
}

// saveScript only updates rooms that already exist, so Save never resurrects
// a room deleted by the catalog owner.
var saveScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'config', ARGV[1], 'state', ARGV[2], 'updated_at', ARGV[3])
	return 1
`)

// chatScript appends to the chat list of an existing room and trims it.
var chatScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	redis.call('RPUSH', KEYS[2], ARGV[1])
	redis.call('LTRIM', KEYS[2], -tonumber(ARGV[2]), -1)
	return 1
`)

// RedisStore 使用 Redis hash 存储房间
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) CreateRoom(ctx context.Context, name string, cfg game.Config) (*RoomRecord, error) {
	id, err := r.client.Incr(ctx, redisRoomSeq).Result()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = defaultRoomName(id)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, redisRoomKey(id),
		"name", name,
		"config", cfgJSON,
		"state", "",
		"created_at", stamp,
		"updated_at", stamp,
	)
	pipe.ZAdd(ctx, redisRoomIndex, redis.Z{Score: float64(id), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &RoomRecord{ID: id, Name: name, Config: cfg, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *RedisStore) ListRooms(ctx context.Context) ([]RoomRecord, error) {
	ids, err := r.client.ZRevRange(ctx, redisRoomIndex, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("room index entry %q: %w", raw, err)
		}
		cmds[i] = pipe.HGetAll(ctx, redisRoomKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]RoomRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		id, _ := strconv.ParseInt(ids[i], 10, 64)
		rec, err := recordFromHash(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (r *RedisStore) Load(ctx context.Context, roomID int64) (*RoomRecord, error) {
	fields, err := r.client.HGetAll(ctx, redisRoomKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrRoomNotFound
	}
	return recordFromHash(roomID, fields)
}

func (r *RedisStore) Save(ctx context.Context, roomID int64, cfg game.Config, state []byte) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	n, err := saveScript.Run(ctx, r.client, []string{redisRoomKey(roomID)},
		cfgJSON, state, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *RedisStore) AppendChat(ctx context.Context, roomID int64, player, message string, at time.Time) (*ChatRecord, error) {
	id, err := r.client.Incr(ctx, redisChatSeq).Result()
	if err != nil {
		return nil, err
	}
	rec := &ChatRecord{ID: id, RoomID: roomID, Player: player, Message: message, CreatedAt: at.UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	n, err := chatScript.Run(ctx, r.client, []string{redisRoomKey(roomID), redisChatKey(roomID)},
		data, redisChatKeep).Int()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrRoomNotFound
	}
	return rec, nil
}

func (r *RedisStore) RecentChat(ctx context.Context, roomID int64, limit int) ([]ChatRecord, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	lines, err := r.client.LRange(ctx, redisChatKey(roomID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ChatRecord, 0, len(lines))
	for _, line := range lines {
		var rec ChatRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("room %d chat: %w", roomID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func recordFromHash(id int64, fields map[string]string) (*RoomRecord, error) {
	rec := &RoomRecord{ID: id, Name: fields["name"]}
	if err := json.Unmarshal([]byte(fields["config"]), &rec.Config); err != nil {
		return nil, fmt.Errorf("room %d config: %w", id, err)
	}
	if s := fields["state"]; s != "" {
		rec.State = []byte(s)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return rec, nil
}
