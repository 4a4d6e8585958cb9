package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	keyErr  error
)

// RSAKey returns a 2048-bit key shared by every test in the process
func RSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		t.Fatalf("failed to generate RSA key: %v", keyErr)
	}
	return testKey
}

// RSAKeyPEM encodes RSAKey as a PKCS#8 private key and a PKIX public key
func RSAKeyPEM(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	key := RSAKey(t)

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}

	privPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM
}

// WriteRSAKeyFiles writes the shared keypair into a temp dir and returns the paths
func WriteRSAKeyFiles(t *testing.T) (privPath, pubPath string) {
	t.Helper()
	privPEM, pubPEM := RSAKeyPEM(t)
	dir := t.TempDir()

	privPath = filepath.Join(dir, "private.pem")
	pubPath = filepath.Join(dir, "public.pem")
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		t.Fatalf("failed to write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		t.Fatalf("failed to write public key: %v", err)
	}
	return privPath, pubPath
}

// FixedTime is the clock used by deterministic fixtures
var FixedTime = time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC)

// CaseFixture returns a case that lists the given evidence and victim ids
func CaseFixture(id string, evidenceIDs, victimIDs []string) *domain.CaseSummary {
	opened := FixedTime.Add(-72 * time.Hour)
	return &domain.CaseSummary{
		ID:            id,
		Title:         "Incêndio no galpão " + id,
		Description:   "Incêndio de origem desconhecida em galpão industrial.",
		Status:        "em andamento",
		Type:          "incendio",
		ProcessNumber: "0001234-56.2025.8.17.0001",
		OpenedAt:      &opened,
		EvidenceIDs:   evidenceIDs,
		VictimIDs:     victimIDs,
	}
}

// EvidenceFixture returns a text evidence item belonging to caseID
func EvidenceFixture(id, caseID string) domain.EvidenceItem {
	collected := FixedTime.Add(-48 * time.Hour)
	collector := "u-collector"
	return domain.EvidenceItem{
		ID:          id,
		CaseID:      caseID,
		Type:        domain.EvidenceText,
		Text:        "Vestígios de acelerante próximos à porta " + id,
		CollectedAt: &collected,
		CollectedBy: &collector,
	}
}

// VictimFixture returns an identified adult victim
func VictimFixture(id string) domain.VictimRecord {
	age := 34
	return domain.VictimRecord{
		ID:             id,
		Name:           "Maria da Silva",
		Sex:            "feminino",
		Age:            &age,
		Ethnicity:      "parda",
		Identification: "RG-" + id,
		Identified:     true,
		Observations:   "Queimaduras de segundo grau.",
	}
}

// ExpertReportFixture returns a draft expert report for evidenceID
func ExpertReportFixture(evidenceID string) *domain.ExpertReport {
	return &domain.ExpertReport{
		ID:          uuid.NewString(),
		Title:       "Laudo da evidência " + evidenceID,
		Description: "Análise pericial confirmou a presença de acelerante.",
		EmittedAt:   FixedTime,
		ExpertID:    "u-expert",
		EvidenceID:  evidenceID,
		Status:      domain.StatusDraft,
		Origin:      domain.OriginAuthored,
		CreatedAt:   FixedTime,
		UpdatedAt:   FixedTime,
	}
}

// RequesterFixture returns an authenticated expert
func RequesterFixture() domain.Requester {
	return domain.Requester{
		ID:    "u-expert",
		Name:  "Dra. Ana Souza",
		Email: "ana.souza@stpericial.local",
		Role:  domain.RoleExpert,
	}
}
