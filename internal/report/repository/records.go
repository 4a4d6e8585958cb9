package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/database"
	"github.com/stpericial/stpericial-backend/pkg/errors"
)

// CaseRepository reads case snapshots
type CaseRepository struct {
	db *database.DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// GetByID returns the case with its evidence ids resolved
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*domain.CaseSummary, error) {
	query := `
		SELECT c.id, c.title, c.description, c.status, c.type, c.process_number, c.opened_at,
		       ARRAY(SELECT e.id FROM evidence e WHERE e.case_id = c.id ORDER BY e.id) AS evidence_ids,
		       c.victim_ids
		FROM cases c
		WHERE c.id = $1
	`

	var c domain.CaseSummary
	err := r.db.GetContext(ctx, &c, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("case")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// EvidenceRepository reads evidence items
type EvidenceRepository struct {
	db *database.DB
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *database.DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

const evidenceColumns = `id, case_id, type, text, collected_at, collected_by, file_url`

// ListByCase returns every evidence item of a case ordered by id
func (r *EvidenceRepository) ListByCase(ctx context.Context, caseID string) ([]domain.EvidenceItem, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE case_id = $1 ORDER BY id`

	items := []domain.EvidenceItem{}
	if err := r.db.SelectContext(ctx, &items, query, caseID); err != nil {
		return nil, err
	}
	return items, nil
}

// ListByIDs returns the evidence items with the given ids ordered by id
func (r *EvidenceRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.EvidenceItem, error) {
	items := []domain.EvidenceItem{}
	if len(ids) == 0 {
		return items, nil
	}

	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE id = ANY($1) ORDER BY id`
	if err := r.db.SelectContext(ctx, &items, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	return items, nil
}

// GetByID returns a single evidence item
func (r *EvidenceRepository) GetByID(ctx context.Context, id string) (*domain.EvidenceItem, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence WHERE id = $1`

	var e domain.EvidenceItem
	err := r.db.GetContext(ctx, &e, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("evidence")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// VictimRepository reads victim records
type VictimRepository struct {
	db *database.DB
}

// NewVictimRepository creates a new victim repository
func NewVictimRepository(db *database.DB) *VictimRepository {
	return &VictimRepository{db: db}
}

// ListByIDs returns the victims with the given ids ordered by id. Unknown
// ids are ignored.
func (r *VictimRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.VictimRecord, error) {
	victims := []domain.VictimRecord{}
	if len(ids) == 0 {
		return victims, nil
	}

	query := `
		SELECT id, name, sex, age, ethnicity, identification, identified, observations
		FROM victims
		WHERE id = ANY($1)
		ORDER BY id
	`
	if err := r.db.SelectContext(ctx, &victims, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	return victims, nil
}

// UserRepository resolves display names for report attribution
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns a user
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.GetContext(ctx, &u, `SELECT id, name, email, role FROM users WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
