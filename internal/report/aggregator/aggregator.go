package aggregator

import (
	"context"
	"fmt"
	"strings"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/errors"
)

// CaseReader loads case snapshots
type CaseReader interface {
	GetByID(ctx context.Context, id string) (*domain.CaseSummary, error)
}

// EvidenceReader loads evidence by case
type EvidenceReader interface {
	ListByCase(ctx context.Context, caseID string) ([]domain.EvidenceItem, error)
}

// VictimReader loads victims by id
type VictimReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]domain.VictimRecord, error)
}

// ExpertReportReader loads expert reports for a set of evidence items
type ExpertReportReader interface {
	ListByEvidenceIDs(ctx context.Context, evidenceIDs []string) ([]domain.ExpertReport, error)
}

// Aggregator joins a case with its evidence, victims and prior reports
type Aggregator struct {
	cases    CaseReader
	evidence EvidenceReader
	victims  VictimReader
	reports  ExpertReportReader
}

// New creates an Aggregator
func New(cases CaseReader, evidence EvidenceReader, victims VictimReader, reports ExpertReportReader) *Aggregator {
	return &Aggregator{
		cases:    cases,
		evidence: evidence,
		victims:  victims,
		reports:  reports,
	}
}

// Assemble loads everything recorded about caseID. It fails with a
// validation error for a blank id, NotFound for an unknown case and
// InsufficientData when there is nothing to report on.
func (a *Aggregator) Assemble(ctx context.Context, caseID string) (*domain.Assembly, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.Validation(map[string]string{"case_id": "required"})
	}

	c, err := a.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	evidence, err := a.evidence.ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}

	victims, err := a.victims.ListByIDs(ctx, c.VictimIDs)
	if err != nil {
		return nil, fmt.Errorf("load victims: %w", err)
	}

	evidenceIDs := make([]string, len(evidence))
	for i, e := range evidence {
		evidenceIDs[i] = e.ID
	}
	prior, err := a.reports.ListByEvidenceIDs(ctx, evidenceIDs)
	if err != nil {
		return nil, fmt.Errorf("load expert reports: %w", err)
	}

	byEvidence := make(map[string]*domain.ExpertReport, len(prior))
	for i := range prior {
		byEvidence[prior[i].EvidenceID] = &prior[i]
	}

	assembly := &domain.Assembly{
		Case:              c,
		Evidence:          evidence,
		Victims:           victims,
		PriorReports:      prior,
		ReportsByEvidence: byEvidence,
	}
	if assembly.IsEmpty() {
		return nil, errors.InsufficientData(caseID)
	}
	return assembly, nil
}
