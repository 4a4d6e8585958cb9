// Package signer produces and verifies detached signatures over report text.
package signer

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/config"
)

// Algorithm tags every signature this package produces
const Algorithm = "RSA-SHA256"

var (
	ErrKeyMismatch = errors.New("public key does not match private key")
	ErrNoKey       = errors.New("signing key not loaded")
)

// SigningContext holds the process-wide keypair. It is loaded once at
// startup and is read-only afterwards.
type SigningContext struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	keyID   string
}

// LoadSigningContext reads both PEM files named in cfg. Any failure is
// meant to stop the process before it serves requests.
func LoadSigningContext(cfg config.SigningConfig) (*SigningContext, error) {
	privPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParseSigningContext(privPEM, pubPEM, cfg.KeyID)
}

// ParseSigningContext builds a context from PEM bytes. The private key may
// be PKCS#1 or PKCS#8; the public key PKIX or PKCS#1.
func ParseSigningContext(privPEM, pubPEM []byte, keyID string) (*SigningContext, error) {
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return NewSigningContext(priv, pub, keyID)
}

// NewSigningContext pairs an already parsed keypair
func NewSigningContext(priv *rsa.PrivateKey, pub *rsa.PublicKey, keyID string) (*SigningContext, error) {
	if priv == nil || pub == nil {
		return nil, ErrNoKey
	}
	if !priv.PublicKey.Equal(pub) {
		return nil, ErrKeyMismatch
	}
	return &SigningContext{private: priv, public: pub, keyID: keyID}, nil
}

// KeyID is the declared identity of the public key
func (c *SigningContext) KeyID() string {
	return c.keyID
}

// Signer signs and verifies report content. Safe for concurrent use.
type Signer struct {
	keys   *SigningContext
	method *jwt.SigningMethodRSA
}

// New creates a Signer bound to keys
func New(keys *SigningContext) *Signer {
	return &Signer{keys: keys, method: jwt.SigningMethodRS256}
}

// Sign returns a base64 signature over content. Identical content always
// yields a signature Verify accepts.
func (s *Signer) Sign(content string) (domain.Signature, error) {
	if s.keys == nil {
		return domain.Signature{}, ErrNoKey
	}
	raw, err := s.method.Sign(content, s.keys.private)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("sign content: %w", err)
	}
	return domain.Signature{
		Algorithm: Algorithm,
		Value:     base64.StdEncoding.EncodeToString(raw),
		KeyID:     s.keys.keyID,
	}, nil
}

// Verify reports whether sig was produced over exactly content
func (s *Signer) Verify(content string, sig domain.Signature) bool {
	if s.keys == nil {
		return false
	}
	if sig.Algorithm != "" && sig.Algorithm != Algorithm {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		return false
	}
	return s.method.Verify(content, raw, s.keys.public) == nil
}

// KeyID is the identity attached to new signatures
func (s *Signer) KeyID() string {
	if s.keys == nil {
		return ""
	}
	return s.keys.keyID
}
