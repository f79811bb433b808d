package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
	jwk    JWK
}

func (s *keySigner) Alg() string    { return s.method.Alg() }
func (s *keySigner) KID() string    { return s.kid }
func (s *keySigner) PublicJWK() JWK { return s.jwk }

// Sign serialises the claims into a compact JWS with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// NewSignerEdDSA creates an EdDSA signer from a PKCS8 PEM Ed25519 key.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	priv, err := parsePKCS8(pemKey)
	if err != nil {
		return nil, err
	}
	key, ok := priv.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not an Ed25519 private key")
	}

	alg := jwt.SigningMethodEdDSA.Alg()
	return &keySigner{
		kid:    kid,
		method: jwt.SigningMethodEdDSA,
		key:    key,
		jwk:    NewEd25519JWK(kid, alg, key.Public().(ed25519.PublicKey)),
	}, nil
}

// NewSignerES256 creates an ES256 signer from a PKCS8 PEM P-256 key.
func NewSignerES256(kid string, pemKey []byte) (Signer, error) {
	priv, err := parsePKCS8(pemKey)
	if err != nil {
		return nil, err
	}
	key, ok := priv.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("jwtx: not an ECDSA private key")
	}
	if key.Curve.Params().Name != "P-256" {
		return nil, fmt.Errorf("jwtx: expected P-256 curve, got %s", key.Curve.Params().Name)
	}

	alg := jwt.SigningMethodES256.Alg()
	return &keySigner{
		kid:    kid,
		method: jwt.SigningMethodES256,
		key:    key,
		jwk:    NewES256JWK(kid, alg, &key.PublicKey),
	}, nil
}

func parsePKCS8(pemKey []byte) (any, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM key")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("jwtx: expected PRIVATE KEY, got %q", block.Type)
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
	}
	return priv, nil
}
