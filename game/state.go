// game/state.go
package game

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// GuessRecord 一次猜测的历史记录，追加后不再修改
type GuessRecord struct {
	Guess     string    `json:"guess"`
	Bulls     int       `json:"bulls"`
	Cows      int       `json:"cows"`
	Player    string    `json:"player"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the client-safe projection of a State. It is also the blob
// handed to persistence.
type Snapshot struct {
	Guesses          []GuessRecord `json:"guesses"`
	CurrentRow       int           `json:"currentRow"`
	GameOver         bool          `json:"gameOver"`
	GameWon          bool          `json:"gameWon"`
	RemainingGuesses int           `json:"remainingGuesses"`
	SecretCode       *string       `json:"secretCode"`
	Players          []string      `json:"players"`
	GameStarted      bool          `json:"gameStarted"`
	GameType         GameType      `json:"gameType"`
	CodeLength       int           `json:"codeLength"`
	NumColors        int           `json:"numColors"`
	MaxGuesses       int           `json:"maxGuesses"`
}

// State is one room's authoritative game. It is not safe for concurrent use;
// the room registry serializes access.
type State struct {
	cfg      Config
	guesses  []GuessRecord
	over     bool
	won      bool
	started  bool
	players  []string
	capacity int
	src      SymbolSource
	revision uint64
}

// Option configures a State at construction.
type Option func(*State)

// WithSource sets the generator used for secret codes.
func WithSource(src SymbolSource) Option {
	return func(s *State) {
		if src != nil {
			s.src = src
		}
	}
}

// WithCapacity bounds the roster of multiplayer rooms. Zero means unbounded.
// Single player rooms always hold one player.
func WithCapacity(n int) Option {
	return func(s *State) {
		s.capacity = n
	}
}

// NewState initializes a fresh game for cfg.
func NewState(cfg Config, opts ...Option) *State {
	s := &State{
		cfg:     cfg,
		guesses: []GuessRecord{},
		players: []string{},
		src:     DefaultSource,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromSnapshot rebuilds a State from a persisted blob. The secret always comes
// from cfg; any secret present in data is ignored. Derived counters are
// recomputed rather than trusted.
func FromSnapshot(data []byte, cfg Config, opts ...Option) (*State, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}

	s := NewState(cfg, opts...)
	if snap.Guesses != nil {
		s.guesses = snap.Guesses
	}
	for _, p := range snap.Players {
		if p != "" && !s.HasPlayer(p) {
			s.players = append(s.players, p)
		}
	}
	s.started = snap.GameStarted || len(s.guesses) > 0
	s.won = snap.GameWon
	s.over = snap.GameOver || s.won || len(s.guesses) >= cfg.MaxGuesses
	return s, nil
}

// Config returns the room's config, secret included. Never send it to clients.
func (s *State) Config() Config {
	return s.cfg
}

// Revision increases on every mutation.
func (s *State) Revision() uint64 {
	return s.revision
}

func (s *State) touch() {
	s.revision++
}

// Phase reports where the game is in its lifecycle.
func (s *State) Phase() Phase {
	switch {
	case s.over:
		return PhaseOver
	case s.started:
		return PhaseInProgress
	default:
		return PhaseInitialized
	}
}

func (s *State) CurrentRow() int {
	return len(s.guesses)
}

func (s *State) RemainingGuesses() int {
	return max(0, s.cfg.MaxGuesses-len(s.guesses))
}

func (s *State) GameOver() bool { return s.over }

func (s *State) GameWon() bool { return s.won }

func (s *State) GameStarted() bool { return s.started }

// Players returns a copy of the roster.
func (s *State) Players() []string {
	return slices.Clone(s.players)
}

func (s *State) HasPlayer(token string) bool {
	return slices.Contains(s.players, token)
}

// Capacity is the maximum roster size, zero when unbounded.
func (s *State) Capacity() int {
	if !s.cfg.GameType.Multiplayer() {
		return 1
	}
	return s.capacity
}

// Snapshot projects the state for clients. The secret is included only once
// the game is over.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Guesses:          slices.Clone(s.guesses),
		CurrentRow:       len(s.guesses),
		GameOver:         s.over,
		GameWon:          s.won,
		RemainingGuesses: s.RemainingGuesses(),
		Players:          slices.Clone(s.players),
		GameStarted:      s.started,
		GameType:         s.cfg.GameType,
		CodeLength:       s.cfg.CodeLength,
		NumColors:        s.cfg.NumColors,
		MaxGuesses:       s.cfg.MaxGuesses,
	}
	if snap.Guesses == nil {
		snap.Guesses = []GuessRecord{}
	}
	if snap.Players == nil {
		snap.Players = []string{}
	}
	if s.over && s.cfg.Secret != "" {
		secret := s.cfg.Secret
		snap.SecretCode = &secret
	}
	return snap
}

// MarshalSnapshot encodes Snapshot() for persistence.
func (s *State) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// StartGame draws a secret when none is set and marks the game started.
func (s *State) StartGame() (Snapshot, error) {
	if s.started {
		return s.Snapshot(), nil
	}
	if err := checkTransition(s.Phase(), PhaseInProgress); err != nil {
		return s.Snapshot(), err
	}
	s.start()
	return s.Snapshot(), nil
}

func (s *State) start() {
	if s.cfg.Secret == "" {
		s.cfg.Secret = RandomSecret(s.cfg.CodeLength, s.cfg.NumColors, s.src)
	}
	s.started = true
	s.touch()
}

// SubmitGuess scores guess for player and appends it to the history. The
// first guess of an unstarted game starts it.
func (s *State) SubmitGuess(player, guess string, at time.Time) (Snapshot, error) {
	if s.over {
		return s.Snapshot(), ErrGameAlreadyOver
	}
	if len(guess) != s.cfg.CodeLength {
		return s.Snapshot(), fmt.Errorf("guess must be %d characters: %w", s.cfg.CodeLength, ErrInvalidGuessLength)
	}
	values, err := ParseCode(guess, s.cfg.NumColors)
	if err != nil {
		return s.Snapshot(), err
	}
	if !s.started {
		s.start()
	}
	secret, err := ParseCode(s.cfg.Secret, s.cfg.NumColors)
	if err != nil {
		return s.Snapshot(), Errorf(KindState, "room secret is corrupt: %v", err)
	}
	bulls, cows, err := Compare(values, secret)
	if err != nil {
		return s.Snapshot(), err
	}

	s.guesses = append(s.guesses, GuessRecord{
		Guess:     FormatCode(values),
		Bulls:     bulls,
		Cows:      cows,
		Player:    player,
		Timestamp: at.UTC(),
	})

	next := PhaseInProgress
	if bulls == s.cfg.CodeLength {
		s.won = true
		next = PhaseOver
	} else if len(s.guesses) >= s.cfg.MaxGuesses {
		next = PhaseOver
	}
	if err := checkTransition(PhaseInProgress, next); err != nil {
		return s.Snapshot(), err
	}
	s.over = next == PhaseOver
	s.touch()
	return s.Snapshot(), nil
}

// Reset clears history, counters and flags but keeps the roster. The secret
// is kept unless regenerate is set or it is empty; either way a fresh one is
// drawn immediately.
func (s *State) Reset(regenerate bool) Snapshot {
	s.guesses = []GuessRecord{}
	s.over = false
	s.won = false
	s.started = false
	if regenerate || s.cfg.Secret == "" {
		s.cfg.Secret = RandomSecret(s.cfg.CodeLength, s.cfg.NumColors, s.src)
	}
	s.touch()
	return s.Snapshot()
}

// AddPlayer puts token on the roster. Adding a present token is a no-op.
func (s *State) AddPlayer(token string) (Snapshot, error) {
	if token == "" || s.HasPlayer(token) {
		return s.Snapshot(), nil
	}
	if c := s.Capacity(); c > 0 && len(s.players) >= c {
		return s.Snapshot(), ErrRoomFull
	}
	s.players = append(s.players, token)
	s.touch()
	return s.Snapshot(), nil
}

// RemovePlayer drops token from the roster. Removing an absent token is a no-op.
func (s *State) RemovePlayer(token string) Snapshot {
	i := slices.Index(s.players, token)
	if i < 0 {
		return s.Snapshot()
	}
	s.players = slices.Delete(s.players, i, i+1)
	s.touch()
	return s.Snapshot()
}
