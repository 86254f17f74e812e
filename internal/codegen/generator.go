// Package codegen produces the random code strings that fill a book's
// code pool.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// DefaultLength is used when a book does not fix its own code length.
const DefaultLength = 8

// attemptsPerCode bounds collision retries: generating N codes may try
// at most N*attemptsPerCode candidates before giving up.
const attemptsPerCode = 10

// ErrAlphabetExhausted is returned when the requested count cannot be
// produced without collision within the attempt budget.
var ErrAlphabetExhausted = errors.New("codegen: attempt budget exhausted before enough distinct codes")

// Generator produces distinct random codes over a fixed alphabet.
type Generator struct {
	charset string
}

// New creates a Generator drawing from charset. charset must not be empty.
func New(charset string) (*Generator, error) {
	if charset == "" {
		return nil, errors.New("codegen: empty charset")
	}
	return &Generator{charset: charset}, nil
}

// Generate returns count distinct codes of the given length, none of
// which appear in existing. Candidates colliding with existing codes or
// with each other are retried within the attempt budget.
func (g *Generator) Generate(count, length int, existing map[string]struct{}) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("codegen: count must be positive, got %d", count)
	}
	if length < 1 {
		return nil, fmt.Errorf("codegen: length must be positive, got %d", length)
	}

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	budget := count * attemptsPerCode

	for attempt := 0; len(codes) < count && attempt < budget; attempt++ {
		code, err := g.one(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		if _, dup := existing[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if len(codes) < count {
		return nil, fmt.Errorf("%w: requested %d, produced %d", ErrAlphabetExhausted, count, len(codes))
	}
	return codes, nil
}

func (g *Generator) one(length int) (string, error) {
	max := big.NewInt(int64(len(g.charset)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("codegen: read random: %w", err)
		}
		buf[i] = g.charset[n.Int64()]
	}
	return string(buf), nil
}
