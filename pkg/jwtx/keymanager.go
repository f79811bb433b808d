package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aussiebroadwan/shutter/pkg/cryptox"
)

// Supported JWT signing algorithms
const (
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// KeyManager owns the signing keys of an instance and the matching verifier.
type KeyManager struct {
	Verifier  Verifier
	KeySet    *KeySet
	algorithm string

	mu      sync.RWMutex
	signers []Signer
}

// KeyManagerOptions configures the KeyManager.
type KeyManagerOptions struct {
	// Algorithm is "EdDSA" (default) or "ES256".
	Algorithm string

	// Issuer is stamped into and required on every token.
	Issuer string

	// Audience values that will be validated. Empty means no check.
	Audience []string

	// NumKeys defaults to 2, capped at 10.
	NumKeys int
}

// NewEphemeralKeyManager creates a KeyManager whose keys only exist in
// memory. Tokens signed by a previous process fail verification after a
// restart and clients fall back to logging in again.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: Issuer is required")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmEdDSA
	}

	n := opts.NumKeys
	switch {
	case n <= 0:
		n = 2
	case n > 10:
		n = 10
	}

	km := &KeyManager{
		KeySet:    NewKeySet(),
		algorithm: opts.Algorithm,
	}

	for i := range n {
		kid, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate key ID: %w", err)
		}

		signer, err := generateSigner(opts.Algorithm, "shutter-"+kid)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate signer %d: %w", i+1, err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}

	km.Verifier = NewVerifier(opts.Algorithm, km.KeySet, opts.Issuer, opts.Audience)
	return km, nil
}

func generateSigner(algorithm, kid string) (Signer, error) {
	switch algorithm {
	case AlgorithmES256:
		pemBytes, err := cryptox.GenerateES256Key()
		if err != nil {
			return nil, err
		}
		return NewSignerES256(kid, pemBytes)

	case AlgorithmEdDSA:
		pemBytes, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, err
		}
		return NewSignerEdDSA(kid, pemBytes)

	default:
		return nil, fmt.Errorf("unsupported algorithm %q (supported: EdDSA, ES256)", algorithm)
	}
}

// Algorithm returns the signing algorithm being used.
func (km *KeyManager) Algorithm() string {
	return km.algorithm
}

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.KeySet.IsReady()
}

// GetSigner returns a randomly selected active signer.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	}
	return km.signers[rand.IntN(len(km.signers))]
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// AddSigner publishes the signer's key and makes it eligible for signing.
func (km *KeyManager) AddSigner(signer Signer) error {
	if signer == nil {
		return fmt.Errorf("jwtx: signer cannot be nil")
	}
	if signer.Alg() != km.algorithm {
		return fmt.Errorf("jwtx: signer algorithm %s does not match %s", signer.Alg(), km.algorithm)
	}

	km.mu.Lock()
	defer km.mu.Unlock()

	if err := km.KeySet.AddSigner(signer); err != nil {
		return fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}
	km.signers = append(km.signers, signer)
	return nil
}
