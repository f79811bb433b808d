package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed      = errors.New("jwtx: malformed token")
	ErrUnknownKID     = errors.New("jwtx: unknown kid")
	ErrInvalidSig     = errors.New("jwtx: invalid signature")
	ErrWrongTokenType = errors.New("jwtx: wrong token type")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// Verifier validates a JWT and gives you back the claims if it's legit.
// Verification is purely computational; no I/O is performed.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeySetVerifier checks signatures against a KeySet for a single algorithm.
type KeySetVerifier struct {
	Keys     *KeySet
	Alg      string
	Issuer   string
	Audience []string
	Leeway   time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewVerifier returns a verifier for tokens signed with alg.
func NewVerifier(alg string, keys *KeySet, issuer string, audience []string) *KeySetVerifier {
	return &KeySetVerifier{Keys: keys, Alg: alg, Issuer: issuer, Audience: audience}
}

// Verify parses the token, checks the signature and then the registered
// claims. Signature failures map to ErrInvalidSig and exp failures to
// ErrExpired, so callers never need to know about the jwt package.
func (v *KeySetVerifier) Verify(raw string) (Claims, error) {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	// exp/nbf are checked below against our own clock
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.Alg}),
		jwt.WithoutClaimsValidation(),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(raw, &claims, v.keyFunc)
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	if err := claims.ValidateIssuer(v.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.Audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(now(), v.Leeway); err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidClaim
	}

	return claims, nil
}

func (v *KeySetVerifier) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrUnknownKID
	}

	pub, err := v.Keys.Get(kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}

	switch pub.(type) {
	case ed25519.PublicKey:
		if v.Alg != AlgorithmEdDSA {
			return nil, ErrInvalidSig
		}
	case *ecdsa.PublicKey:
		if v.Alg != AlgorithmES256 {
			return nil, ErrInvalidSig
		}
	default:
		return nil, ErrInvalidSig
	}
	return pub, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrInvalidSig):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
