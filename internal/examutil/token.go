// Package examutil holds the entry-token and seeded-shuffle helpers shared
// by the session controller and the HTTP services.
package examutil

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// TokenAlphabet excludes characters that are easy to misread (0/O, 1/I).
const TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultTokenLength is the length of generated entry tokens.
const DefaultTokenLength = 8

var (
	ErrTokenEmpty   = errors.New("token is empty")
	ErrTokenInvalid = errors.New("token does not match")
	ErrNotStarted   = errors.New("schedule has not started")
	ErrEnded        = errors.New("schedule has ended")
)

// NormalizeToken trims and uppercases a token.
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}

// ValidateToken checks an entry token against a schedule at now. Checks
// run in order: empty, mismatch, before start, after end.
func ValidateToken(token string, schedule *model.TestSchedule, now time.Time) error {
	t := NormalizeToken(token)
	if t == "" {
		return ErrTokenEmpty
	}
	if t != NormalizeToken(schedule.Token) {
		return ErrTokenInvalid
	}
	if now.Before(schedule.StartTime) {
		return ErrNotStarted
	}
	if now.After(schedule.EndTime) {
		return ErrEnded
	}
	return nil
}

// GenerateToken returns a random token of length n over TokenAlphabet.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenLength
	}
	max := big.NewInt(int64(len(TokenAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(TokenAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
