package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Generator produces plaintext one-time codes.
type Generator interface {
	Generate() (string, error)
}

// Hasher turns codes into stored digests and compares them back.
type Hasher interface {
	Hash(code string) (string, error)
	Compare(hash, code string) bool
}

// NumericGenerator draws each digit uniformly from crypto/rand.
type NumericGenerator struct {
	Length int
}

func NewNumericGenerator(length int) NumericGenerator {
	return NumericGenerator{Length: length}
}

func (g NumericGenerator) Generate() (string, error) {
	if g.Length <= 0 {
		return "", fmt.Errorf("invalid code length %d", g.Length)
	}
	var b strings.Builder
	b.Grow(g.Length)
	ten := big.NewInt(10)
	for i := 0; i < g.Length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("failed to generate code digit: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// BcryptHasher stores codes as bcrypt digests. bcrypt's comparison runs in
// constant time with respect to the supplied code.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

func (h BcryptHasher) Hash(code string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(code), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(digest), nil
}

func (h BcryptHasher) Compare(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
