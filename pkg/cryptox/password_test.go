package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHasher_Hash(t *testing.T) {
	h := NewPasswordHasher("pepper")

	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "password123"},
		{"complex password", "Str0ngPass!"},
		{"long password", strings.Repeat("a", 100)},
		{"unicode password", "пароль🔒密码"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			require.NoError(t, err)

			parts := strings.Split(hash, "$")
			require.Len(t, parts, 6)
			require.Equal(t, "argon2id", parts[1])
			require.Equal(t, "v=19", parts[2])
			require.Equal(t, "m=19456,t=2,p=1", parts[3])

			require.NoError(t, h.Verify(tt.password, hash))
		})
	}
}

func TestPasswordHasher_UniqueSalts(t *testing.T) {
	h := NewPasswordHasher("pepper")

	a, err := h.Hash("samepassword")
	require.NoError(t, err)
	b, err := h.Hash("samepassword")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NoError(t, h.Verify("samepassword", a))
	require.NoError(t, h.Verify("samepassword", b))
}

func TestPasswordHasher_Mismatch(t *testing.T) {
	h := NewPasswordHasher("pepper")
	hash, err := h.Hash("correct-password")
	require.NoError(t, err)

	for _, wrong := range []string{"wrong-password", "Correct-Password", "correct-password ", ""} {
		require.ErrorIs(t, h.Verify(wrong, hash), ErrPasswordMismatch, wrong)
	}
}

func TestPasswordHasher_PepperMatters(t *testing.T) {
	hash, err := NewPasswordHasher("one").Hash("secret")
	require.NoError(t, err)

	require.ErrorIs(t, NewPasswordHasher("two").Verify("secret", hash), ErrPasswordMismatch)
}

func TestPasswordHasher_InvalidHash(t *testing.T) {
	h := NewPasswordHasher("pepper")

	tests := []struct {
		name string
		hash string
	}{
		{"empty hash", ""},
		{"wrong algorithm", "$bcrypt$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
		{"missing parts", "$argon2id$v=19$m=19456"},
		{"malformed parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"invalid base64 salt", "$argon2id$v=19$m=19456,t=2,p=1$!!!$aGFzaA"},
		{"invalid base64 hash", "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$!!!"},
		{"wrong version", "$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, h.Verify("test", tt.hash), ErrInvalidHash)
		})
	}
}
