package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/generator"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
)

const (
	generalTitlePrefix   = "Relatório Geral - Caso: "
	expertTitlePrefix    = "Laudo Pericial - Evidência: "
	generatedObservation = "Relatório gerado automaticamente pela IA."
)

// Description bounds of an expert report
const (
	MinDescriptionChars = 10
	MaxDescriptionChars = MaxExpertChars
)

// GeneratedItem pairs a drafted expert report with its evidence
type GeneratedItem struct {
	ReportID   string `json:"report_id"`
	EvidenceID string `json:"evidence_id"`
}

// FailedItem names an evidence item whose draft could not be produced
type FailedItem struct {
	EvidenceID string `json:"evidence_id"`
	Reason     string `json:"reason"`
}

// BatchResult is the outcome of drafting one expert report per evidence
// item. Skipped lists evidence that already had a report.
type BatchResult struct {
	CaseID    string          `json:"case_id"`
	Generated []GeneratedItem `json:"generated"`
	Failed    []FailedItem    `json:"failed"`
	Skipped   []string        `json:"skipped"`
}

// CreateExpertReportInput is an expert report written by hand
type CreateExpertReportInput struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"required,min=10,max=1000"`
	EvidenceID  string `json:"evidence_id" validate:"required"`
}

// GenerateGeneralReport drafts and stores a general report for a case.
// Any drafting failure aborts the run.
func (p *Pipeline) GenerateGeneralReport(ctx context.Context, caseID string, requester domain.Requester) (*domain.GeneralReport, error) {
	var report *domain.GeneralReport
	err := p.run(ctx, domain.KindGeneral, "generate", caseLockKey(domain.KindGeneral, caseID), func(ctx context.Context) error {
		log := p.logger.WithCase(caseID).WithUserID(requester.ID)

		asm, err := p.assemble(ctx, domain.KindGeneral, caseID)
		if err != nil {
			return err
		}

		text, err := p.draft(ctx, domain.KindGeneral, generator.PromptContext{
			Requester:    requester,
			Case:         asm.Case,
			Evidence:     asm.Evidence,
			Victims:      asm.Victims,
			PriorReports: asm.PriorReports,
			MaxChars:     p.opts.MaxChars,
		})
		if err != nil {
			log.Error().Err(err).Str("stage", StageDraft).Msg("General report draft failed")
			return err
		}

		r := &domain.GeneralReport{
			Title:           generalTitlePrefix + asm.Case.Title,
			Description:     text,
			Observations:    generatedObservation,
			UserID:          requester.ID,
			CaseIDs:         []string{caseID},
			EvidenceIDs:     evidenceIDs(asm.Evidence),
			ExpertReportIDs: reportIDs(asm.PriorReports),
			VictimIDs:       victimIDs(asm.Victims),
			Status:          domain.StatusDraft,
			CreatedAt:       p.now(),
		}
		err = p.stage(ctx, domain.KindGeneral, StagePersist, func(ctx context.Context) error {
			return p.deps.GeneralReports.Create(ctx, r)
		})
		if err != nil {
			return err
		}

		report = r
		p.deps.Events.GeneralReportGenerated(ctx, r, caseID)
		log.Info().Str("report_id", r.ID).Msg("General report drafted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GenerateExpertReports drafts one expert report for every evidence item of
// the case that has none yet. Items fail independently; the call only
// fails when every attempted item failed.
func (p *Pipeline) GenerateExpertReports(ctx context.Context, caseID string, requester domain.Requester) (*BatchResult, error) {
	result := &BatchResult{
		CaseID:    caseID,
		Generated: []GeneratedItem{},
		Failed:    []FailedItem{},
		Skipped:   []string{},
	}

	err := p.run(ctx, domain.KindExpert, "generate_batch", caseLockKey(domain.KindExpert, caseID), func(ctx context.Context) error {
		log := p.logger.WithCase(caseID).WithUserID(requester.ID)

		asm, err := p.assemble(ctx, domain.KindExpert, caseID)
		if err != nil {
			return err
		}

		for _, e := range asm.Evidence {
			if _, ok := asm.ReportsByEvidence[e.ID]; ok {
				result.Skipped = append(result.Skipped, e.ID)
			}
		}
		pending := asm.EvidenceWithoutReport()

		var mu sync.Mutex
		g := new(errgroup.Group)
		g.SetLimit(p.opts.BatchConcurrency)
		for _, item := range pending {
			item := item
			g.Go(func() error {
				id, err := p.draftExpert(ctx, asm, item, requester)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Str("evidence_id", item.ID).Msg("Expert report draft failed, skipping evidence")
					result.Failed = append(result.Failed, FailedItem{EvidenceID: item.ID, Reason: reason(err)})
					return nil
				}
				result.Generated = append(result.Generated, GeneratedItem{ReportID: id, EvidenceID: item.ID})
				return nil
			})
		}
		_ = g.Wait()

		sort.Slice(result.Generated, func(i, j int) bool { return result.Generated[i].EvidenceID < result.Generated[j].EvidenceID })
		sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].EvidenceID < result.Failed[j].EvidenceID })

		p.deps.Metrics.AddBatchItems("generated", len(result.Generated))
		p.deps.Metrics.AddBatchItems("failed", len(result.Failed))
		p.deps.Metrics.AddBatchItems("skipped", len(result.Skipped))

		if len(result.Generated) == 0 && len(result.Failed) > 0 {
			return apperrors.ServiceError("errors.generation_failed",
				fmt.Errorf("all %d expert report drafts failed", len(result.Failed)))
		}

		ids := make([]string, 0, len(result.Generated))
		for _, item := range result.Generated {
			ids = append(ids, item.ReportID)
		}
		p.deps.Events.ExpertBatchGenerated(ctx, caseID, requester.ID, ids, len(result.Failed), len(result.Skipped))

		log.Info().
			Int("generated", len(result.Generated)).
			Int("failed", len(result.Failed)).
			Int("skipped", len(result.Skipped)).
			Msg("Expert report batch finished")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// draftExpert drafts and stores the report of a single evidence item. A
// failed draft leaves nothing behind.
func (p *Pipeline) draftExpert(ctx context.Context, asm *domain.Assembly, item domain.EvidenceItem, requester domain.Requester) (string, error) {
	text, err := p.draft(ctx, domain.KindExpert, generator.PromptContext{
		Requester:    requester,
		Case:         asm.Case,
		Evidence:     asm.Evidence,
		Victims:      asm.Victims,
		PriorReports: asm.PriorReports,
		Focus:        &item,
		MaxChars:     p.expertMaxChars(),
	})
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(text) < MinDescriptionChars {
		return "", apperrors.ServiceError("errors.generation_failed",
			fmt.Errorf("draft for evidence %s is too short", item.ID))
	}

	r := &domain.ExpertReport{
		Title:       expertTitlePrefix + item.ID,
		Description: text,
		EmittedAt:   p.now(),
		ExpertID:    requester.ID,
		EvidenceID:  item.ID,
		Status:      domain.StatusDraft,
		Origin:      domain.OriginDrafted,
	}
	err = p.stage(ctx, domain.KindExpert, StagePersist, func(ctx context.Context) error {
		return p.deps.ExpertReports.Create(ctx, r)
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// CreateExpertReport stores an expert report written by the requester
func (p *Pipeline) CreateExpertReport(ctx context.Context, in CreateExpertReportInput, requester domain.Requester) (*domain.ExpertReport, error) {
	if details := validateExpertInput(in); len(details) > 0 {
		return nil, apperrors.Validation(details)
	}

	var report *domain.ExpertReport
	err := p.run(ctx, domain.KindExpert, "create", lockKey(domain.KindExpert, "evidence:"+in.EvidenceID), func(ctx context.Context) error {
		if _, err := p.deps.Evidence.GetByID(ctx, in.EvidenceID); err != nil {
			return err
		}

		r := &domain.ExpertReport{
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			EmittedAt:   p.now(),
			ExpertID:    requester.ID,
			EvidenceID:  in.EvidenceID,
			Status:      domain.StatusDraft,
			Origin:      domain.OriginAuthored,
		}
		err := p.stage(ctx, domain.KindExpert, StagePersist, func(ctx context.Context) error {
			return p.deps.ExpertReports.Create(ctx, r)
		})
		if err != nil {
			return err
		}

		report = r
		p.deps.Events.ExpertReportCreated(ctx, r)
		p.logger.WithReport(string(domain.KindExpert), r.ID).Info().
			Str("evidence_id", r.EvidenceID).
			Msg("Expert report created")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func validateExpertInput(in CreateExpertReportInput) map[string]string {
	details := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		details["title"] = "required"
	}
	if strings.TrimSpace(in.EvidenceID) == "" {
		details["evidence_id"] = "required"
	}
	n := utf8.RuneCountInString(strings.TrimSpace(in.Description))
	switch {
	case n == 0:
		details["description"] = "required"
	case n < MinDescriptionChars:
		details["description"] = fmt.Sprintf("min=%d", MinDescriptionChars)
	case utf8.RuneCountInString(in.Description) > MaxDescriptionChars:
		details["description"] = fmt.Sprintf("max=%d", MaxDescriptionChars)
	}
	return details
}

func (p *Pipeline) assemble(ctx context.Context, kind domain.Kind, caseID string) (*domain.Assembly, error) {
	var asm *domain.Assembly
	err := p.stage(ctx, kind, StageAggregate, func(ctx context.Context) error {
		a, err := p.deps.Aggregator.Assemble(ctx, caseID)
		asm = a
		return err
	})
	return asm, err
}

// draft calls the generator and rejects unusable output. Failures are
// always ServiceErrors.
func (p *Pipeline) draft(ctx context.Context, kind domain.Kind, pc generator.PromptContext) (string, error) {
	var text string
	err := p.stage(ctx, kind, StageDraft, func(ctx context.Context) error {
		raw, err := p.deps.Generator.Draft(ctx, pc)
		if err != nil {
			var appErr *apperrors.AppError
			if apperrors.As(err, &appErr) {
				return err
			}
			return apperrors.ServiceError("errors.generation_failed", err)
		}
		text, err = generator.Finish(raw, pc.MaxChars)
		return err
	})
	return text, err
}

// reason is the failure description reported per batch item. It never
// carries upstream details.
func reason(err error) string {
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

func evidenceIDs(items []domain.EvidenceItem) []string {
	ids := make([]string, 0, len(items))
	for _, e := range items {
		ids = append(ids, e.ID)
	}
	return ids
}

func victimIDs(victims []domain.VictimRecord) []string {
	ids := make([]string, 0, len(victims))
	for _, v := range victims {
		ids = append(ids, v.ID)
	}
	return ids
}

func reportIDs(reports []domain.ExpertReport) []string {
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return ids
}
