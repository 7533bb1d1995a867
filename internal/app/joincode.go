package app

import (
	"crypto/rand"
	"math/big"
)

const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// JoinCodeLength is the number of characters in a join code.
	JoinCodeLength = 6
	// MaxJoinCodeAttempts bounds the collision retry loop when allocating a join code.
	MaxJoinCodeAttempts = 10
)

// GenerateJoinCode draws a random uppercase alphanumeric join code.
func GenerateJoinCode() string {
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	code := make([]byte, JoinCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code)
}

// ValidJoinCode reports whether code has the join code shape.
func ValidJoinCode(code string) bool {
	if len(code) != JoinCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
