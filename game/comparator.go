// game/comparator.go
package game

import (
	"fmt"
	"strings"
)

// MaxColors is the number of distinct symbols a code string can carry (0-9a-z).
const MaxColors = 36

const symbols = "0123456789abcdefghijklmnopqrstuvwxyz"

// Compare 计算猜测与密码之间的 bulls/cows
func Compare(guess, secret []int) (bulls, cows int, err error) {
	if len(guess) == 0 || len(guess) != len(secret) {
		return 0, 0, fmt.Errorf("guess has %d symbols, secret has %d: %w", len(guess), len(secret), ErrInvalidGuessShape)
	}

	var guessLeft, secretLeft [MaxColors]int
	for i := range secret {
		g, s := guess[i], secret[i]
		if g < 0 || g >= MaxColors || s < 0 || s >= MaxColors {
			return 0, 0, fmt.Errorf("symbol out of range at position %d: %w", i, ErrInvalidGuessShape)
		}
		if g == s {
			bulls++
			continue
		}
		guessLeft[g]++
		secretLeft[s]++
	}

	for v := range guessLeft {
		cows += min(guessLeft[v], secretLeft[v])
	}
	return bulls, cows, nil
}

// ParseCode maps a code string to symbol values, each in [0, numColors).
func ParseCode(code string, numColors int) ([]int, error) {
	if numColors < 1 || numColors > MaxColors {
		return nil, fmt.Errorf("num_colors %d: %w", numColors, ErrInvalidConfig)
	}
	code = strings.ToLower(code)
	values := make([]int, len(code))
	for i := 0; i < len(code); i++ {
		v := strings.IndexByte(symbols, code[i])
		if v < 0 || v >= numColors {
			return nil, fmt.Errorf("symbol %q at position %d is not in [0,%d): %w", code[i], i, numColors, ErrInvalidGuessShape)
		}
		values[i] = v
	}
	return values, nil
}

// FormatCode is the inverse of ParseCode.
func FormatCode(values []int) string {
	var b strings.Builder
	b.Grow(len(values))
	for _, v := range values {
		b.WriteByte(symbols[v])
	}
	return b.String()
}
