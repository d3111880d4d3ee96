// Package shortcode allocates link short codes using generate-check-retry
// with a bounded attempt count. Hitting the bound surfaces as a distinct
// error rather than a silent loop.
package shortcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Generator produces random codes over a configured alphabet.
type Generator struct {
	alphabet    string
	length      int
	maxAttempts int
}

// New validates the configuration and constructs a Generator.
func New(alphabet string, length, maxAttempts int) (*Generator, error) {
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("short code alphabet must have at least 2 characters")
	}
	if length < 1 {
		return nil, fmt.Errorf("short code length must be at least 1")
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("short code max attempts must be at least 1")
	}
	return &Generator{alphabet: alphabet, length: length, maxAttempts: maxAttempts}, nil
}

// Generate returns one random code. Uses crypto/rand so codes are not
// guessable from earlier codes.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, g.length)
	max := big.NewInt(int64(len(g.alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate short code: %w", err)
		}
		buf[i] = g.alphabet[n.Int64()]
	}
	return string(buf), nil
}

// MaxAttempts exposes the retry bound for the allocation loop.
func (g *Generator) MaxAttempts() int {
	return g.maxAttempts
}
