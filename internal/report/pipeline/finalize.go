package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/renderer"
	"github.com/stpericial/stpericial-backend/internal/report/repository"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
)

// ErrSignatureMismatch means a stored signature no longer matches the
// record it was produced for
var ErrSignatureMismatch = errors.New("stored signature does not verify")

const signatureAlgorithm = "RSA-SHA256"

// document is a signed report ready to be written out. pdf is set when the
// document was rendered while finalizing a draft.
type document struct {
	kind  domain.Kind
	id    string
	title string
	view  *renderer.View
	pdf   []byte
}

// Verification is the result of checking a report's stored signature
type Verification struct {
	Kind     domain.Kind         `json:"kind"`
	ReportID string              `json:"report_id"`
	Status   domain.ReportStatus `json:"status"`
	Signed   bool                `json:"signed"`
	Valid    bool                `json:"valid"`
	KeyID    string              `json:"key_id,omitempty"`
	SignedAt *time.Time          `json:"signed_at,omitempty"`
	Content  string              `json:"content"`
}

// prepare loads a report and makes sure it is signed. A draft is signed,
// rendered and only then marked finalized; a signed report has its stored
// signature checked against the record.
func (p *Pipeline) prepare(ctx context.Context, kind domain.Kind, id string) (*document, error) {
	doc, err := p.prepareOnce(ctx, kind, id)
	if errors.Is(err, repository.ErrNotDraft) {
		// finalized by a concurrent run since it was loaded
		p.logger.WithReport(string(kind), id).Warn().Msg("Report finalized concurrently, reloading")
		return p.prepareOnce(ctx, kind, id)
	}
	return doc, err
}

func (p *Pipeline) prepareOnce(ctx context.Context, kind domain.Kind, id string) (*document, error) {
	switch kind {
	case domain.KindGeneral:
		r, err := p.deps.GeneralReports.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		view, err := p.generalView(ctx, r)
		if err != nil {
			return nil, err
		}
		doc := &document{kind: kind, id: r.ID, title: r.Title, view: view}
		err = p.seal(ctx, doc, domain.GeneralCanonicalText(r), r.Status, r.Signature, r.KeyID, r.SignedAt, p.deps.GeneralReports.Finalize)
		return doc, err
	case domain.KindExpert:
		r, err := p.deps.ExpertReports.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		view, err := p.expertView(ctx, r)
		if err != nil {
			return nil, err
		}
		doc := &document{kind: kind, id: r.ID, title: r.Title, view: view}
		err = p.seal(ctx, doc, domain.ExpertCanonicalText(r), r.Status, r.Signature, r.KeyID, r.SignedAt, p.deps.ExpertReports.Finalize)
		return doc, err
	default:
		return nil, apperrors.BadRequest("unknown report kind " + string(kind))
	}
}

type finalizeFunc func(ctx context.Context, id string, sig domain.Signature, signedAt time.Time) error

func (p *Pipeline) seal(ctx context.Context, doc *document, content string, status domain.ReportStatus, value, keyID *string, signedAt *time.Time, finalize finalizeFunc) error {
	log := p.logger.WithReport(string(doc.kind), doc.id)

	if status.IsSigned() {
		sig, ok := storedSignature(value, keyID)
		if !ok || !p.deps.Signer.Verify(content, sig) {
			log.Error().Str("stage", StageSign).Msg("Stored signature does not match report")
			return apperrors.SigningFailure(ErrSignatureMismatch)
		}
		sig.Algorithm = signatureAlgorithm
		doc.view.Signature = &sig
		doc.view.SignedAt = signedAt
		return nil
	}

	var sig domain.Signature
	err := p.stage(ctx, doc.kind, StageSign, func(ctx context.Context) error {
		s, err := p.deps.Signer.Sign(content)
		if err != nil {
			return apperrors.SigningFailure(err)
		}
		sig = s
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("stage", StageSign).Msg("Signing failed")
		return err
	}

	at := p.now()
	doc.view.Signature = &sig
	doc.view.SignedAt = &at

	pdf, err := p.renderBytes(ctx, doc)
	if err != nil {
		return err
	}

	err = p.stage(ctx, doc.kind, StagePersist, func(ctx context.Context) error {
		return finalize(ctx, doc.id, sig, at)
	})
	if err != nil {
		return err
	}

	doc.pdf = pdf
	p.deps.Events.ReportFinalized(ctx, doc.kind, doc.id, sig, at)
	log.Info().Str("key_id", sig.KeyID).Msg("Report finalized")
	return nil
}

func (p *Pipeline) renderBytes(ctx context.Context, doc *document) ([]byte, error) {
	var pdf []byte
	err := p.stage(ctx, doc.kind, StageRender, func(ctx context.Context) error {
		b, err := p.deps.Renderer.RenderBytes(ctx, doc.view)
		if err != nil {
			return apperrors.RenderFailure(err)
		}
		pdf = b
		return nil
	})
	if err != nil {
		p.logger.WithReport(string(doc.kind), doc.id).Error().Err(err).Str("stage", StageRender).Msg("Rendering failed")
		return nil, err
	}
	p.deps.Metrics.ObserveDocument(string(doc.kind), len(pdf))
	return pdf, nil
}

func (p *Pipeline) generalView(ctx context.Context, r *domain.GeneralReport) (*renderer.View, error) {
	victims, err := p.deps.Victims.ListByIDs(ctx, r.VictimIDs)
	if err != nil {
		return nil, err
	}
	evidence, err := p.deps.Evidence.ListByIDs(ctx, r.EvidenceIDs)
	if err != nil {
		return nil, err
	}
	prior, err := p.deps.ExpertReports.ListByIDs(ctx, r.ExpertReportIDs)
	if err != nil {
		return nil, err
	}
	name, err := p.userName(ctx, r.UserID)
	if err != nil {
		return nil, err
	}

	v := renderer.GeneralView(r, victims, evidence, prior, name)
	v.Locale = i18n.GetLocaleFromContext(ctx)
	return v, nil
}

func (p *Pipeline) expertView(ctx context.Context, r *domain.ExpertReport) (*renderer.View, error) {
	evidence, err := p.deps.Evidence.GetByID(ctx, r.EvidenceID)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	name, err := p.userName(ctx, r.ExpertID)
	if err != nil {
		return nil, err
	}

	v := renderer.ExpertView(r, evidence, name)
	v.Locale = i18n.GetLocaleFromContext(ctx)
	return v, nil
}

// userName resolves a display name. Unknown users render by id only.
func (p *Pipeline) userName(ctx context.Context, id string) (string, error) {
	if p.deps.Users == nil || id == "" {
		return "", nil
	}
	u, err := p.deps.Users.GetByID(ctx, id)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// VerifyGeneralReport checks a general report's stored signature
func (p *Pipeline) VerifyGeneralReport(ctx context.Context, id string) (*Verification, error) {
	r, err := p.deps.GeneralReports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.verify(ctx, domain.KindGeneral, r.ID, r.Status, domain.GeneralCanonicalText(r), r.Signature, r.KeyID, r.SignedAt), nil
}

// VerifyExpertReport checks an expert report's stored signature
func (p *Pipeline) VerifyExpertReport(ctx context.Context, id string) (*Verification, error) {
	r, err := p.deps.ExpertReports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.verify(ctx, domain.KindExpert, r.ID, r.Status, domain.ExpertCanonicalText(r), r.Signature, r.KeyID, r.SignedAt), nil
}

func (p *Pipeline) verify(ctx context.Context, kind domain.Kind, id string, status domain.ReportStatus, content string, value, keyID *string, signedAt *time.Time) *Verification {
	_, span := p.tracer.Start(ctx, "report.verify")
	defer span.End()

	v := &Verification{
		Kind:     kind,
		ReportID: id,
		Status:   status,
		SignedAt: signedAt,
		Content:  content,
	}
	sig, ok := storedSignature(value, keyID)
	if !ok {
		return v
	}
	v.Signed = true
	v.KeyID = sig.KeyID
	v.Valid = p.deps.Signer.Verify(content, sig)
	if !v.Valid {
		p.logger.WithReport(string(kind), id).Warn().Msg("Signature verification failed")
	}
	return v
}
