package coupon

import (
	"crypto/rand"
	"fmt"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 12
	// Largest multiple of len(codeAlphabet) below 256; bytes above it are
	// discarded so every symbol is equally likely.
	codeByteLimit = 252
)

// CodeGenerator returns a fresh code starting with prefix.
type CodeGenerator func(prefix string) (string, error)

// RandomCode appends 12 random [A-Z0-9] symbols to prefix.
func RandomCode(prefix string) (string, error) {
	out := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength*2)

	for len(out) < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= codeByteLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == codeLength {
				break
			}
		}
	}
	return prefix + string(out), nil
}
