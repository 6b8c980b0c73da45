package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/bncserver/game"
)

// exerciseDatabase runs the behaviour every backend must share.
func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	ctx := context.Background()

	cfg := game.Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, Secret: "1234", GameType: game.MultiplayerSharedBoard}
	named, err := db.CreateRoom(ctx, "lobby", cfg)
	require.NoError(t, err)
	assert.Equal(t, "lobby", named.Name)
	assert.Empty(t, named.State)

	unnamed, err := db.CreateRoom(ctx, "", game.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, defaultRoomName(unnamed.ID), unnamed.Name)
	assert.Greater(t, unnamed.ID, named.ID)

	rooms, err := db.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, unnamed.ID, rooms[0].ID, "newest first")

	loaded, err := db.Load(ctx, named.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded.Config)
	assert.Empty(t, loaded.State)

	cfg.Secret = "5500"
	require.NoError(t, db.Save(ctx, named.ID, cfg, []byte(`{"guesses":[]}`)))
	loaded, err = db.Load(ctx, named.ID)
	require.NoError(t, err)
	assert.Equal(t, "5500", loaded.Config.Secret)
	assert.JSONEq(t, `{"guesses":[]}`, string(loaded.State))

	_, err = db.Load(ctx, 9999)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.ErrorIs(t, db.Save(ctx, 9999, cfg, nil), ErrRoomNotFound)
	assert.Equal(t, game.KindState, game.KindOf(ErrRoomNotFound))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first, err := db.AppendChat(ctx, named.ID, "alice123", "hello", at)
	require.NoError(t, err)
	assert.Equal(t, named.ID, first.RoomID)
	second, err := db.AppendChat(ctx, named.ID, "bob45678", "good luck", at.Add(time.Second))
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	_, err = db.AppendChat(ctx, 9999, "alice123", "anyone?", at)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	lines, err := db.RecentChat(ctx, named.ID, 10)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0].Message, "oldest first")
	assert.Equal(t, "bob45678", lines[1].Player)
	assert.Equal(t, "good luck", lines[1].Message)

	lines, err = db.RecentChat(ctx, named.ID, 1)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, second.ID, lines[0].ID, "limit keeps the newest")

	lines, err = db.RecentChat(ctx, unnamed.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestMemory(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemory_IsolatesCallers(t *testing.T) {
	db := NewMemory()
	ctx := context.Background()
	rec, err := db.CreateRoom(ctx, "", game.DefaultConfig())
	require.NoError(t, err)

	state := []byte(`{"a":1}`)
	require.NoError(t, db.Save(ctx, rec.ID, rec.Config, state))
	state[0] = 'x'

	loaded, err := db.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(loaded.State))

	_, err = db.AppendChat(ctx, rec.ID, "alice123", "hi", time.Now())
	require.NoError(t, err)

	db.Delete(rec.ID)
	_, err = db.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	lines, err := db.RecentChat(ctx, rec.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, lines, "chat goes with the room")
}

func TestMemory_CanceledContext(t *testing.T) {
	db := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := db.Load(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGormSQLite(t *testing.T) {
	db, err := NewGormSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
