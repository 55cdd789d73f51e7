package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	ResetTokenBytes = 32 // 64 hex chars
	ResetTokenTTL   = 10 * time.Minute
)

// ResetToken is a freshly generated password reset secret. Plain goes to the
// user once; only Hash and ExpiresAt are stored.
type ResetToken struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

func GenerateResetToken(now time.Time) (ResetToken, error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return ResetToken{}, fmt.Errorf("generate reset token: %w", err)
	}

	plain := hex.EncodeToString(buf)

	return ResetToken{
		Plain:     plain,
		Hash:      HashResetToken(plain),
		ExpiresAt: now.UTC().Add(ResetTokenTTL),
	}, nil
}

// HashResetToken is a fast sha256 digest. Reset secrets are random, single use
// and short lived, so a slow password hash is not needed.
func HashResetToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// MatchResetToken reports whether presented hashes to storedHash and the token
// has not yet expired.
func MatchResetToken(presented, storedHash string, expiresAt, now time.Time) bool {
	if presented == "" || storedHash == "" {
		return false
	}

	computed := HashResetToken(presented)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) != 1 {
		return false
	}

	return now.Before(expiresAt)
}
