// Package gamecode generates the short codes players type to join a round.
package gamecode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand/v2"
	"strings"
)

// Alphabet leaves out 0, O, 1 and I so codes survive being read aloud.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of characters in a code.
const Length = 6

// RandSource lets tests and seeded servers control code generation.
// *math/rand/v2.Rand satisfies it.
type RandSource interface {
	IntN(n int) int
}

// Generator produces round codes.
type Generator struct {
	randSource RandSource
}

// NewGenerator returns a generator drawing from randSource, or from
// crypto/rand when randSource is nil.
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// Generate returns a new code.
func (g *Generator) Generate() string {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		b.WriteByte(Alphabet[g.intN(len(Alphabet))])
	}
	return b.String()
}

func (g *Generator) intN(n int) int {
	if g.randSource != nil {
		return g.randSource.IntN(n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("gamecode: failed to read random bytes: " + err.Error())
	}
	return int(v.Int64())
}

// NewSeededSource returns a deterministic source for reproducible runs.
func NewSeededSource(seed int64) *mrand.Rand {
	u := uint64(seed)
	return mrand.New(mrand.NewPCG(splitmix(u), splitmix(u+0x9e3779b97f4a7c15)))
}

func splitmix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Normalize upper-cases and trims user input.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks that code is a well-formed, already normalised code.
func Validate(code string) error {
	if len(code) != Length {
		return fmt.Errorf("round code must be exactly %d characters, got %d", Length, len(code))
	}
	for i, char := range code {
		if !strings.ContainsRune(Alphabet, char) {
			return fmt.Errorf("invalid character %c at position %d", char, i)
		}
	}
	return nil
}
