package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/database"
	"github.com/stpericial/stpericial-backend/pkg/errors"
)

// GeneralReportRepository handles general report persistence
type GeneralReportRepository struct {
	db *database.DB
}

// NewGeneralReportRepository creates a new general report repository
func NewGeneralReportRepository(db *database.DB) *GeneralReportRepository {
	return &GeneralReportRepository{db: db}
}

const generalReportColumns = `
	id, title, description, observations, user_id, case_ids, evidence_ids, expert_report_ids,
	victim_ids, status, signature, signed_at, key_id, created_at, updated_at`

// Create inserts a draft general report. created_at is truncated to whole
// seconds so the stored value matches the signed one.
func (r *GeneralReportRepository) Create(ctx context.Context, report *domain.GeneralReport) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.Status == "" {
		report.Status = domain.StatusDraft
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	report.CreatedAt = report.CreatedAt.UTC().Truncate(time.Second)

	query := `
		INSERT INTO general_reports (
			id, title, description, observations, user_id, case_ids, evidence_ids,
			expert_report_ids, victim_ids, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		report.ID,
		report.Title,
		report.Description,
		report.Observations,
		report.UserID,
		report.CaseIDs,
		report.EvidenceIDs,
		report.ExpertReportIDs,
		report.VictimIDs,
		report.Status,
		report.CreatedAt,
	).Scan(&report.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID returns a general report
func (r *GeneralReportRepository) GetByID(ctx context.Context, id string) (*domain.GeneralReport, error) {
	query := `SELECT ` + generalReportColumns + ` FROM general_reports WHERE id = $1`

	var report domain.GeneralReport
	err := r.db.GetContext(ctx, &report, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("general_report")
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Finalize stores the signature and moves a draft to finalized. It
// returns ErrNotDraft when the report left the draft state already.
func (r *GeneralReportRepository) Finalize(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error {
	query := `
		UPDATE general_reports
		SET status = 'finalized', signature = $2, key_id = $3, signed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`

	result, err := r.db.ExecContext(ctx, query, id, sig.Value, sig.KeyID, signedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return expectOneRow(result, ErrNotDraft)
}

// MarkSent records a successful delivery of a signed report
func (r *GeneralReportRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE general_reports
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1 AND status IN ('finalized', 'sent')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, errors.BadRequest("report must be finalized before it is sent"))
}
