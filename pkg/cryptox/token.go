package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

// GenerateToken creates a cryptographically secure random token of the
// specified byte length, base64url encoded without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// Only fingerprints are persisted, so a leaked table cannot be replayed.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// backupAlphabet is Crockford base32 without the ambiguous I, L, O and U.
const backupAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateBackupCode returns a human friendly one-time code shaped XXXXX-XXXXX
// (50 bits of entropy).
func GenerateBackupCode() (string, error) {
	const groups, groupLen = 2, 5

	var sb strings.Builder
	limit := big.NewInt(int64(len(backupAlphabet)))
	for g := range groups {
		if g > 0 {
			sb.WriteByte('-')
		}
		for range groupLen {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", fmt.Errorf("cryptox: generate backup code: %w", err)
			}
			sb.WriteByte(backupAlphabet[n.Int64()])
		}
	}
	return sb.String(), nil
}

// NormalizeBackupCode uppercases a user supplied backup code, strips spaces
// and restores the dash so fingerprints match what was issued.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.Join(strings.Fields(code), ""))
	code = strings.ReplaceAll(code, "-", "")
	if len(code) == 10 {
		return code[:5] + "-" + code[5:]
	}
	return code
}
