// game/config.go
package game

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
)

const (
	DefaultCodeLength = 4
	DefaultNumColors  = 6
	DefaultMaxGuesses = 10
)

// GameType 房间玩法
type GameType int

const (
	SinglePlayer GameType = iota
	MultiplayerSharedBoard
	MultiplayerSeparateBoards
)

var gameTypeNames = map[GameType]string{
	SinglePlayer:              "single_player",
	MultiplayerSharedBoard:    "multiplayer_shared_board",
	MultiplayerSeparateBoards: "multiplayer_separate_boards",
}

func (t GameType) String() string {
	if name, ok := gameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("game_type(%d)", int(t))
}

func (t GameType) Valid() bool {
	_, ok := gameTypeNames[t]
	return ok
}

// ParseGameType accepts the wire name of a game type.
func ParseGameType(name string) (GameType, error) {
	for t, n := range gameTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown game type %q: %w", name, ErrInvalidConfig)
}

func (t GameType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("marshal %v: %w", t, ErrInvalidConfig)
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts both the name and the legacy integer code (0, 1, 2).
func (t *GameType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseGameType(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("game type must be a string or integer: %w", ErrInvalidConfig)
	}
	if !GameType(code).Valid() {
		return fmt.Errorf("unknown game type %d: %w", code, ErrInvalidConfig)
	}
	*t = GameType(code)
	return nil
}

// Multiplayer reports whether more than one player may join.
func (t GameType) Multiplayer() bool {
	return t != SinglePlayer
}

// Config 每个房间的游戏参数，重置前不可变
type Config struct {
	CodeLength int      `json:"code_length"`
	NumColors  int      `json:"num_colors"`
	MaxGuesses int      `json:"max_guesses"`
	Secret     string   `json:"secret_code,omitempty"`
	GameType   GameType `json:"game_type"`
}

// DefaultConfig returns a 4-symbol, 6-color, 10-guess single player config without a secret.
func DefaultConfig() Config {
	return Config{
		CodeLength: DefaultCodeLength,
		NumColors:  DefaultNumColors,
		MaxGuesses: DefaultMaxGuesses,
		GameType:   SinglePlayer,
	}
}

// Validate checks ranges and, when set, the secret.
func (c Config) Validate() error {
	switch {
	case c.CodeLength < 1:
		return fmt.Errorf("code_length must be positive, got %d: %w", c.CodeLength, ErrInvalidConfig)
	case c.NumColors < 1 || c.NumColors > MaxColors:
		return fmt.Errorf("num_colors must be in [1,%d], got %d: %w", MaxColors, c.NumColors, ErrInvalidConfig)
	case c.MaxGuesses < 1:
		return fmt.Errorf("max_guesses must be positive, got %d: %w", c.MaxGuesses, ErrInvalidConfig)
	case !c.GameType.Valid():
		return fmt.Errorf("%v: %w", c.GameType, ErrInvalidConfig)
	}
	if c.Secret == "" {
		return nil
	}
	if len(c.Secret) != c.CodeLength {
		return fmt.Errorf("secret has %d symbols, code_length is %d: %w", len(c.Secret), c.CodeLength, ErrInvalidConfig)
	}
	if _, err := ParseCode(c.Secret, c.NumColors); err != nil {
		return fmt.Errorf("secret: %v: %w", err, ErrInvalidConfig)
	}
	return nil
}

// SymbolSource draws symbol values for secret generation.
type SymbolSource interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from math/rand/v2's goroutine-safe global generator.
var DefaultSource SymbolSource = globalSource{}

// RandomSecret draws codeLength independent symbols from [0, numColors).
// Symbols may repeat.
func RandomSecret(codeLength, numColors int, src SymbolSource) string {
	if src == nil {
		src = DefaultSource
	}
	values := make([]int, codeLength)
	for i := range values {
		values[i] = src.IntN(numColors)
	}
	return FormatCode(values)
}
