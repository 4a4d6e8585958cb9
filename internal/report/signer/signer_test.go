package signer_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/signer"
	"github.com/stpericial/stpericial-backend/pkg/config"
	"github.com/stpericial/stpericial-backend/pkg/testutil"
)

func newSigner(t *testing.T) *signer.Signer {
	t.Helper()
	privPEM, pubPEM := testutil.RSAKeyPEM(t)
	keys, err := signer.ParseSigningContext(privPEM, pubPEM, "test-key")
	require.NoError(t, err)
	return signer.New(keys)
}

func TestSigner_RoundTrip(t *testing.T) {
	s := newSigner(t)

	texts := []string{
		"",
		"Descrição: laudo\nObservações: Nenhuma",
		"acentuação: ção, ã, é, ü",
		domain.CanonicalText([]domain.Field{{Key: "id", Value: "r1"}, {Key: "description", Value: "multi\nline"}}),
	}

	for _, text := range texts {
		sig, err := s.Sign(text)
		require.NoError(t, err)
		assert.Equal(t, signer.Algorithm, sig.Algorithm)
		assert.Equal(t, "test-key", sig.KeyID)
		assert.True(t, s.Verify(text, sig), "signature must verify for %q", text)
	}
}

func TestSigner_Deterministic(t *testing.T) {
	s := newSigner(t)

	a, err := s.Sign("mesmo conteúdo")
	require.NoError(t, err)
	b, err := s.Sign("mesmo conteúdo")
	require.NoError(t, err)

	assert.Equal(t, a.Value, b.Value)
}

func TestSigner_BoundToExactContent(t *testing.T) {
	s := newSigner(t)

	sig, err := s.Sign("title: Laudo\ndescription: original")
	require.NoError(t, err)

	tampered := []string{
		"title: Laudo\ndescription: original ",
		"title: Laudo\ndescription: Original",
		"description: original\ntitle: Laudo",
		"title: Laudo\r\ndescription: original",
	}
	for _, text := range tampered {
		assert.False(t, s.Verify(text, sig), "signature must not verify for %q", text)
	}
}

func TestSigner_RejectsMalformedSignature(t *testing.T) {
	s := newSigner(t)
	sig, err := s.Sign("conteúdo")
	require.NoError(t, err)

	assert.False(t, s.Verify("conteúdo", domain.Signature{Value: "not base64!"}))
	assert.False(t, s.Verify("conteúdo", domain.Signature{Algorithm: "ECDSA-SHA256", Value: sig.Value}))
	assert.True(t, s.Verify("conteúdo", domain.Signature{Value: sig.Value}))
}

func TestLoadSigningContext(t *testing.T) {
	privPath, pubPath := testutil.WriteRSAKeyFiles(t)

	keys, err := signer.LoadSigningContext(config.SigningConfig{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		KeyID:          "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, "k1", keys.KeyID())
}

func TestLoadSigningContext_Failures(t *testing.T) {
	privPath, pubPath := testutil.WriteRSAKeyFiles(t)

	t.Run("missing private key", func(t *testing.T) {
		_, err := signer.LoadSigningContext(config.SigningConfig{PrivateKeyPath: "/nonexistent/private.pem", PublicKeyPath: pubPath})
		assert.Error(t, err)
	})

	t.Run("missing public key", func(t *testing.T) {
		_, err := signer.LoadSigningContext(config.SigningConfig{PrivateKeyPath: privPath, PublicKeyPath: "/nonexistent/public.pem"})
		assert.Error(t, err)
	})

	t.Run("malformed PEM", func(t *testing.T) {
		_, pubPEM := testutil.RSAKeyPEM(t)
		_, err := signer.ParseSigningContext([]byte("garbage"), pubPEM, "")
		assert.Error(t, err)
	})

	t.Run("mismatched pair", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(other)})
		_, pubPEM := testutil.RSAKeyPEM(t)

		_, err = signer.ParseSigningContext(privPEM, pubPEM, "")
		assert.ErrorIs(t, err, signer.ErrKeyMismatch)
	})
}

func TestSigner_NilContext(t *testing.T) {
	s := signer.New(nil)
	_, err := s.Sign("x")
	assert.ErrorIs(t, err, signer.ErrNoKey)
	assert.False(t, s.Verify("x", domain.Signature{}))
}
