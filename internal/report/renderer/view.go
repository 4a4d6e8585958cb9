package renderer

import (
	"time"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
)

// Section names, in the order they are drawn
const (
	SectionLogo         = "logo"
	SectionTitle        = "title"
	SectionMetadata     = "metadata"
	SectionDescription  = "description"
	SectionVictims      = "victims"
	SectionEvidence     = "evidence"
	SectionPriorReports = "prior_reports"
	SectionObservations = "observations"
	SectionGeneratedAt  = "generated_at"
	SectionSignature    = "signature"
)

// View is everything the renderer needs for one document. It carries no
// behavior; the pipeline builds it from persisted records.
type View struct {
	Kind     domain.Kind
	ReportID string
	// Locale overrides the renderer's configured document language
	Locale string

	// Fields are the signed fields in signing order. The metadata block
	// shows them verbatim except the narrative ones.
	Fields       []domain.Field
	Description  string
	Observations *string

	// Display names resolved for reference fields
	ResponsibleName string

	Victims      []domain.VictimRecord
	Evidence     []domain.EvidenceItem
	PriorReports []domain.ExpertReport

	Signature   *domain.Signature
	SignedAt    *time.Time
	GeneratedAt time.Time
}

// GeneralView builds the view of a general report and its referenced records
func GeneralView(r *domain.GeneralReport, victims []domain.VictimRecord, evidence []domain.EvidenceItem, prior []domain.ExpertReport, responsibleName string) *View {
	obs := r.Observations
	return &View{
		Kind:            domain.KindGeneral,
		ReportID:        r.ID,
		Fields:          domain.GeneralFields(r),
		Description:     r.Description,
		Observations:    &obs,
		ResponsibleName: responsibleName,
		Victims:         victims,
		Evidence:        evidence,
		PriorReports:    prior,
		Signature:       signatureOf(r.Signature, r.KeyID),
		SignedAt:        r.SignedAt,
	}
}

// ExpertView builds the view of an expert report. evidence may be nil when
// the referenced item no longer exists.
func ExpertView(r *domain.ExpertReport, evidence *domain.EvidenceItem, expertName string) *View {
	v := &View{
		Kind:            domain.KindExpert,
		ReportID:        r.ID,
		Fields:          domain.ExpertFields(r),
		Description:     r.Description,
		ResponsibleName: expertName,
		Signature:       signatureOf(r.Signature, r.KeyID),
		SignedAt:        r.SignedAt,
	}
	if evidence != nil {
		v.Evidence = []domain.EvidenceItem{*evidence}
	}
	return v
}

func signatureOf(value, keyID *string) *domain.Signature {
	if value == nil || *value == "" {
		return nil
	}
	sig := &domain.Signature{Algorithm: "RSA-SHA256", Value: *value}
	if keyID != nil {
		sig.KeyID = *keyID
	}
	return sig
}

// Sections lists the sections drawn for v, in order. Repeated sub-sections
// appear only when they have entries.
func Sections(v *View) []string {
	out := []string{SectionLogo, SectionTitle, SectionMetadata, SectionDescription}
	if len(v.Victims) > 0 {
		out = append(out, SectionVictims)
	}
	if len(v.Evidence) > 0 {
		out = append(out, SectionEvidence)
	}
	if len(v.PriorReports) > 0 {
		out = append(out, SectionPriorReports)
	}
	if v.Observations != nil {
		out = append(out, SectionObservations)
	}
	return append(out, SectionGeneratedAt, SectionSignature)
}
