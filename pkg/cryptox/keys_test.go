package cryptox

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeys(t *testing.T) {
	t.Run("Ed25519", func(t *testing.T) {
		b, err := GenerateEd25519Key()
		require.NoError(t, err)

		block, _ := pem.Decode(b)
		require.NotNil(t, block)
		require.Equal(t, "PRIVATE KEY", block.Type)

		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		require.NoError(t, err)
		require.IsType(t, ed25519.PrivateKey{}, key)
	})

	t.Run("ES256", func(t *testing.T) {
		b, err := GenerateES256Key()
		require.NoError(t, err)

		block, _ := pem.Decode(b)
		require.NotNil(t, block)

		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		require.NoError(t, err)
		ec, ok := key.(*ecdsa.PrivateKey)
		require.True(t, ok)
		require.Equal(t, "P-256", ec.Curve.Params().Name)
	})
}
