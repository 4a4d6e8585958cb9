package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/database"
	"github.com/stpericial/stpericial-backend/pkg/errors"
)

// ExpertReportRepository handles expert report persistence
type ExpertReportRepository struct {
	db *database.DB
}

// NewExpertReportRepository creates a new expert report repository
func NewExpertReportRepository(db *database.DB) *ExpertReportRepository {
	return &ExpertReportRepository{db: db}
}

const expertReportColumns = `
	id, title, description, emitted_at, expert_id, evidence_id, status, origin,
	signature, signed_at, key_id, created_at, updated_at`

// Create inserts a draft expert report. emitted_at is truncated to whole
// seconds so the stored value matches the signed one.
func (r *ExpertReportRepository) Create(ctx context.Context, report *domain.ExpertReport) error {
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.Status == "" {
		report.Status = domain.StatusDraft
	}
	if report.Origin == "" {
		report.Origin = domain.OriginAuthored
	}
	if report.EmittedAt.IsZero() {
		report.EmittedAt = time.Now()
	}
	report.EmittedAt = report.EmittedAt.UTC().Truncate(time.Second)

	query := `
		INSERT INTO expert_reports (id, title, description, emitted_at, expert_id, evidence_id, status, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		report.ID,
		report.Title,
		report.Description,
		report.EmittedAt,
		report.ExpertID,
		report.EvidenceID,
		report.Status,
		report.Origin,
	).Scan(&report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	}
	return nil
}

// GetByID returns an expert report
func (r *ExpertReportRepository) GetByID(ctx context.Context, id string) (*domain.ExpertReport, error) {
	query := `SELECT ` + expertReportColumns + ` FROM expert_reports WHERE id = $1`

	var report domain.ExpertReport
	err := r.db.GetContext(ctx, &report, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("expert_report")
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListByEvidenceIDs returns the reports attached to any of the given
// evidence items in a single query
func (r *ExpertReportRepository) ListByEvidenceIDs(ctx context.Context, evidenceIDs []string) ([]domain.ExpertReport, error) {
	reports := []domain.ExpertReport{}
	if len(evidenceIDs) == 0 {
		return reports, nil
	}

	query := `SELECT ` + expertReportColumns + ` FROM expert_reports WHERE evidence_id = ANY($1) ORDER BY evidence_id`
	if err := r.db.SelectContext(ctx, &reports, query, pq.Array(evidenceIDs)); err != nil {
		return nil, err
	}
	return reports, nil
}

// ListByIDs returns the reports with the given ids ordered by evidence id
func (r *ExpertReportRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.ExpertReport, error) {
	reports := []domain.ExpertReport{}
	if len(ids) == 0 {
		return reports, nil
	}

	query := `SELECT ` + expertReportColumns + ` FROM expert_reports WHERE id = ANY($1) ORDER BY evidence_id`
	if err := r.db.SelectContext(ctx, &reports, query, pq.Array(ids)); err != nil {
		return nil, err
	}
	return reports, nil
}

// Finalize stores the signature and moves a draft to finalized. It
// returns ErrNotDraft when the report left the draft state already.
func (r *ExpertReportRepository) Finalize(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error {
	query := `
		UPDATE expert_reports
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
func (r *ExpertReportRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE expert_reports
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1 AND status IN ('finalized', 'sent')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, errors.BadRequest("report must be finalized before it is sent"))
}

func expectOneRow(result sql.Result, notMatched error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notMatched
	}
	return nil
}
