package game

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same symbol.
type fixedSource struct{ v int }

func (f fixedSource) IntN(n int) int { return f.v % n }

var testTime = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newTestState(t *testing.T, secret string) *State {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = secret
	cfg.GameType = MultiplayerSharedBoard
	require.NoError(t, cfg.Validate())
	return NewState(cfg)
}

func TestState_EndToEnd(t *testing.T) {
	s := newTestState(t, "1234")
	_, err := s.AddPlayer("alice123")
	require.NoError(t, err)

	snap, err := s.SubmitGuess("alice123", "1243", testTime)
	require.NoError(t, err)
	require.Len(t, snap.Guesses, 1)
	assert.Equal(t, 2, snap.Guesses[0].Bulls)
	assert.Equal(t, 2, snap.Guesses[0].Cows)
	assert.Equal(t, "alice123", snap.Guesses[0].Player)
	assert.False(t, snap.GameOver)
	assert.Nil(t, snap.SecretCode)
	assert.True(t, snap.GameStarted)

	snap, err = s.SubmitGuess("alice123", "1234", testTime)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Guesses[1].Bulls)
	assert.Equal(t, 0, snap.Guesses[1].Cows)
	assert.True(t, snap.GameWon)
	assert.True(t, snap.GameOver)
	require.NotNil(t, snap.SecretCode)
	assert.Equal(t, "1234", *snap.SecretCode)
	assert.Equal(t, 8, snap.RemainingGuesses)
	assert.Equal(t, PhaseOver, s.Phase())
}

func TestState_GuessAfterGameOver(t *testing.T) {
	s := newTestState(t, "1234")
	_, err := s.SubmitGuess("p", "1234", testTime)
	require.NoError(t, err)
	rev := s.Revision()

	snap, err := s.SubmitGuess("p", "1111", testTime)
	assert.ErrorIs(t, err, ErrGameAlreadyOver)
	assert.Equal(t, KindState, KindOf(err))
	assert.Len(t, snap.Guesses, 1)
	assert.Equal(t, 1, snap.CurrentRow)
	assert.Equal(t, rev, s.Revision())
}

func TestState_LossAfterMaxGuesses(t *testing.T) {
	s := newTestState(t, "1234")
	for i := 0; i < DefaultMaxGuesses; i++ {
		snap, err := s.SubmitGuess("p", "5555", testTime)
		require.NoError(t, err)
		assert.Equal(t, i+1, snap.CurrentRow)
		assert.Equal(t, DefaultMaxGuesses-i-1, snap.RemainingGuesses)
	}

	snap := s.Snapshot()
	assert.True(t, snap.GameOver)
	assert.False(t, snap.GameWon)
	require.NotNil(t, snap.SecretCode)
	assert.Equal(t, "1234", *snap.SecretCode)
	assert.Equal(t, 0, snap.RemainingGuesses)

	_, err := s.SubmitGuess("p", "1234", testTime)
	assert.ErrorIs(t, err, ErrGameAlreadyOver)
	assert.Equal(t, 0, s.RemainingGuesses())
}

func TestState_WinOnLastRow(t *testing.T) {
	s := newTestState(t, "1234")
	for i := 0; i < DefaultMaxGuesses-1; i++ {
		_, err := s.SubmitGuess("p", "0000", testTime)
		require.NoError(t, err)
	}
	snap, err := s.SubmitGuess("p", "1234", testTime)
	require.NoError(t, err)
	assert.True(t, snap.GameWon)
	assert.True(t, snap.GameOver)
}

func TestState_InvalidGuesses(t *testing.T) {
	s := newTestState(t, "1234")

	_, err := s.SubmitGuess("p", "123", testTime)
	assert.ErrorIs(t, err, ErrInvalidGuessLength)

	_, err = s.SubmitGuess("p", "12345", testTime)
	assert.ErrorIs(t, err, ErrInvalidGuessLength)

	_, err = s.SubmitGuess("p", "1239", testTime)
	assert.ErrorIs(t, err, ErrInvalidGuessShape)
	assert.Equal(t, KindValidation, KindOf(err))

	assert.Equal(t, 0, s.CurrentRow())
	assert.False(t, s.GameStarted())
	assert.Equal(t, uint64(0), s.Revision())
}

func TestState_FirstGuessStartsGame(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState(cfg, WithSource(fixedSource{v: 2}))
	assert.Equal(t, PhaseInitialized, s.Phase())

	snap, err := s.SubmitGuess("p", "2222", testTime)
	require.NoError(t, err)
	assert.True(t, snap.GameStarted)
	assert.True(t, snap.GameWon)
	assert.Equal(t, "2222", s.Config().Secret)
}

func TestState_StartGame(t *testing.T) {
	s := NewState(DefaultConfig(), WithSource(fixedSource{v: 5}))
	snap, err := s.StartGame()
	require.NoError(t, err)
	assert.True(t, snap.GameStarted)
	assert.Nil(t, snap.SecretCode)
	assert.Equal(t, "5555", s.Config().Secret)
	assert.Equal(t, PhaseInProgress, s.Phase())

	rev := s.Revision()
	_, err = s.StartGame()
	require.NoError(t, err)
	assert.Equal(t, rev, s.Revision(), "starting twice is a no-op")
}

func TestState_Reset(t *testing.T) {
	s := newTestState(t, "1234")
	_, _ = s.AddPlayer("alice123")
	_, _ = s.AddPlayer("bob45678")
	_, err := s.SubmitGuess("alice123", "1234", testTime)
	require.NoError(t, err)

	snap := s.Reset(false)
	assert.Empty(t, snap.Guesses)
	assert.Equal(t, 0, snap.CurrentRow)
	assert.False(t, snap.GameOver)
	assert.False(t, snap.GameWon)
	assert.False(t, snap.GameStarted)
	assert.Nil(t, snap.SecretCode)
	assert.Equal(t, DefaultMaxGuesses, snap.RemainingGuesses)
	assert.Equal(t, []string{"alice123", "bob45678"}, snap.Players)
	assert.Equal(t, "1234", s.Config().Secret, "secret kept without an explicit regenerate")
	assert.Equal(t, PhaseInitialized, s.Phase())

	s = NewState(Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, Secret: "1234"}, WithSource(fixedSource{v: 0}))
	s.Reset(true)
	assert.Equal(t, "0000", s.Config().Secret)
}

func TestState_Players(t *testing.T) {
	s := newTestState(t, "1234")

	_, err := s.AddPlayer("alice123")
	require.NoError(t, err)
	rev := s.Revision()
	_, err = s.AddPlayer("alice123")
	require.NoError(t, err)
	assert.Equal(t, rev, s.Revision())
	assert.Equal(t, []string{"alice123"}, s.Players())
	assert.True(t, s.HasPlayer("alice123"))
	assert.False(t, s.HasPlayer("nobody00"))

	s.RemovePlayer("nobody00")
	assert.Equal(t, rev, s.Revision())

	s.RemovePlayer("alice123")
	assert.Empty(t, s.Players())
	assert.False(t, s.HasPlayer("alice123"))

	// guesses never touch the roster
	_, err = s.SubmitGuess("ghost000", "1111", testTime)
	require.NoError(t, err)
	assert.Empty(t, s.Players())
}

func TestState_Capacity(t *testing.T) {
	single := NewState(Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, GameType: SinglePlayer}, WithCapacity(8))
	_, err := single.AddPlayer("one")
	require.NoError(t, err)
	_, err = single.AddPlayer("two")
	assert.ErrorIs(t, err, ErrRoomFull)
	_, err = single.AddPlayer("one")
	assert.NoError(t, err, "rejoining is not a capacity violation")

	multi := NewState(Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, GameType: MultiplayerSharedBoard}, WithCapacity(2))
	for _, p := range []string{"a", "b"} {
		_, err := multi.AddPlayer(p)
		require.NoError(t, err)
	}
	_, err = multi.AddPlayer("c")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestState_SnapshotRoundTrip(t *testing.T) {
	s := newTestState(t, "1234")
	_, _ = s.AddPlayer("alice123")
	_, err := s.SubmitGuess("alice123", "1243", testTime)
	require.NoError(t, err)

	blob, err := s.MarshalSnapshot()
	require.NoError(t, err)
	assert.NotContains(t, string(blob), `"1234"`)

	restored, err := FromSnapshot(blob, s.Config())
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	assert.Equal(t, PhaseInProgress, restored.Phase())

	_, err = s.SubmitGuess("alice123", "1234", testTime)
	require.NoError(t, err)
	blob, err = s.MarshalSnapshot()
	require.NoError(t, err)
	restored, err = FromSnapshot(blob, s.Config())
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())
	require.NotNil(t, restored.Snapshot().SecretCode)
}

func TestFromSnapshot_IgnoresPersistedSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = "1234"
	blob := []byte(`{"guesses":[],"currentRow":7,"gameOver":false,"gameWon":false,"remainingGuesses":99,"secretCode":"1234","players":["a","a","b"]}`)

	s, err := FromSnapshot(blob, cfg)
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Nil(t, snap.SecretCode)
	assert.Equal(t, 0, snap.CurrentRow)
	assert.Equal(t, DefaultMaxGuesses, snap.RemainingGuesses)
	assert.Equal(t, []string{"a", "b"}, snap.Players)

	_, err = FromSnapshot([]byte("{"), cfg)
	assert.Error(t, err)
}

func TestSnapshot_JSONShape(t *testing.T) {
	s := newTestState(t, "1234")
	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"guesses", "currentRow", "gameOver", "gameWon", "remainingGuesses", "secretCode", "players", "gameStarted"} {
		assert.Contains(t, raw, key)
	}
	assert.Nil(t, raw["secretCode"])
	assert.Equal(t, "multiplayer_shared_board", raw["gameType"])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		cfg Config
		ok  bool
	}{
		{DefaultConfig(), true},
		{Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, Secret: "1234"}, true},
		{Config{CodeLength: 0, NumColors: 6, MaxGuesses: 10}, false},
		{Config{CodeLength: 4, NumColors: 0, MaxGuesses: 10}, false},
		{Config{CodeLength: 4, NumColors: 37, MaxGuesses: 10}, false},
		{Config{CodeLength: 4, NumColors: 6, MaxGuesses: 0}, false},
		{Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, Secret: "123"}, false},
		{Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, Secret: "1239"}, false},
		{Config{CodeLength: 4, NumColors: 6, MaxGuesses: 10, GameType: GameType(7)}, false},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestGameType_JSON(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"game_type":"multiplayer_separate_boards"}`), &cfg))
	assert.Equal(t, MultiplayerSeparateBoards, cfg.GameType)

	require.NoError(t, json.Unmarshal([]byte(`{"game_type":1}`), &cfg))
	assert.Equal(t, MultiplayerSharedBoard, cfg.GameType)

	assert.Error(t, json.Unmarshal([]byte(`{"game_type":"chess"}`), &cfg))
}

func TestRandomSecret(t *testing.T) {
	for i := 0; i < 100; i++ {
		secret := RandomSecret(5, 3, nil)
		assert.Len(t, secret, 5)
		_, err := ParseCode(secret, 3)
		assert.NoError(t, err)
	}
}
