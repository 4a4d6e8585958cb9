package domain

import (
	"time"

	"github.com/lib/pq"
)

// ReportStatus is the lifecycle state shared by general and expert reports
type ReportStatus string

const (
	StatusDraft     ReportStatus = "draft"
	StatusFinalized ReportStatus = "finalized"
	StatusSent      ReportStatus = "sent"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Reports only move forward: draft -> finalized -> sent.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusFinalized
	case StatusFinalized:
		return next == StatusSent
	default:
		return false
	}
}

// IsSigned reports whether a report in this state must carry a signature
func (s ReportStatus) IsSigned() bool {
	return s == StatusFinalized || s == StatusSent
}

// EvidenceType classifies an evidence item
type EvidenceType string

const (
	EvidenceImage    EvidenceType = "image"
	EvidenceVideo    EvidenceType = "video"
	EvidenceDocument EvidenceType = "document"
	EvidenceText     EvidenceType = "text"
)

// Origin records who wrote a report's narrative
type Origin string

const (
	OriginDrafted  Origin = "drafted"
	OriginAuthored Origin = "authored"
)

// Role values issued by the auth service
const (
	RoleAdmin     = "admin"
	RoleExpert    = "perito"
	RoleAssistant = "assistente"
)

// CaseSummary is a read-only snapshot of a case used for assembly
type CaseSummary struct {
	ID            string         `json:"id" db:"id"`
	Title         string         `json:"title" db:"title"`
	Description   string         `json:"description" db:"description"`
	Status        string         `json:"status" db:"status"`
	Type          string         `json:"type" db:"type"`
	ProcessNumber string         `json:"process_number" db:"process_number"`
	OpenedAt      *time.Time     `json:"opened_at,omitempty" db:"opened_at"`
	EvidenceIDs   pq.StringArray `json:"evidence_ids" db:"evidence_ids"`
	VictimIDs     pq.StringArray `json:"victim_ids" db:"victim_ids"`
}

// EvidenceItem is one piece of evidence collected for a case
type EvidenceItem struct {
	ID          string       `json:"id" db:"id"`
	CaseID      string       `json:"case_id" db:"case_id"`
	Type        EvidenceType `json:"type" db:"type"`
	Text        string       `json:"text" db:"text"`
	CollectedAt *time.Time   `json:"collected_at,omitempty" db:"collected_at"`
	CollectedBy *string      `json:"collected_by,omitempty" db:"collected_by"`
	FileURL     *string      `json:"file_url,omitempty" db:"file_url"`
}

// VictimRecord describes a victim linked to a case
type VictimRecord struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	Sex            string `json:"sex" db:"sex"`
	Age            *int   `json:"age,omitempty" db:"age"`
	Ethnicity      string `json:"ethnicity" db:"ethnicity"`
	Identification string `json:"identification" db:"identification"`
	Identified     bool   `json:"identified" db:"identified"`
	Observations   string `json:"observations" db:"observations"`
}

// User is the subset of an account needed to attribute reports
type User struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
	Role  string `json:"role" db:"role"`
}

// Requester is the authenticated user that triggered a pipeline run
type Requester struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// ExpertReport attests to exactly one evidence item
type ExpertReport struct {
	ID          string       `json:"id" db:"id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description" db:"description"`
	EmittedAt   time.Time    `json:"emitted_at" db:"emitted_at"`
	ExpertID    string       `json:"expert_id" db:"expert_id"`
	EvidenceID  string       `json:"evidence_id" db:"evidence_id"`
	Status      ReportStatus `json:"status" db:"status"`
	Origin      Origin       `json:"origin" db:"origin"`
	Signature   *string      `json:"signature,omitempty" db:"signature"`
	SignedAt    *time.Time   `json:"signed_at,omitempty" db:"signed_at"`
	KeyID       *string      `json:"key_id,omitempty" db:"key_id"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// GeneralReport summarizes an entire case. It is the root aggregate the
// pipeline operates on.
type GeneralReport struct {
	ID              string         `json:"id" db:"id"`
	Title           string         `json:"title" db:"title"`
	Description     string         `json:"description" db:"description"`
	Observations    string         `json:"observations" db:"observations"`
	UserID          string         `json:"user_id" db:"user_id"`
	CaseIDs         pq.StringArray `json:"case_ids" db:"case_ids"`
	EvidenceIDs     pq.StringArray `json:"evidence_ids" db:"evidence_ids"`
	ExpertReportIDs pq.StringArray `json:"expert_report_ids" db:"expert_report_ids"`
	VictimIDs       pq.StringArray `json:"victim_ids" db:"victim_ids"`
	Status          ReportStatus   `json:"status" db:"status"`
	Signature       *string        `json:"signature,omitempty" db:"signature"`
	SignedAt        *time.Time     `json:"signed_at,omitempty" db:"signed_at"`
	KeyID           *string        `json:"key_id,omitempty" db:"key_id"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Assembly is the in-memory join of a case with everything reported about it
type Assembly struct {
	Case              *CaseSummary
	Evidence          []EvidenceItem
	Victims           []VictimRecord
	PriorReports      []ExpertReport
	ReportsByEvidence map[string]*ExpertReport
}

// IsEmpty reports whether there is nothing to build a report from
func (a *Assembly) IsEmpty() bool {
	return len(a.Evidence) == 0 && len(a.Victims) == 0 && len(a.PriorReports) == 0
}

// EvidenceWithoutReport lists evidence items no expert report covers yet
func (a *Assembly) EvidenceWithoutReport() []EvidenceItem {
	var out []EvidenceItem
	for _, e := range a.Evidence {
		if _, ok := a.ReportsByEvidence[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}
