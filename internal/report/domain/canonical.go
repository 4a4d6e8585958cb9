package domain

import (
	"strings"
	"time"
)

// CanonicalVersion prefixes every signed text. Changing the field set or
// its order requires a new version; old signatures keep verifying only
// against the recipe they were produced with.
const CanonicalVersion = "stpericial/signed-content/v1"

const emptyValue = "-"

var lineEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

// Field is one line of the signed text
type Field struct {
	Key   string
	Value string
}

// Signature is a detached signature over a report's canonical text
type Signature struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
	KeyID     string `json:"key_id"`
}

// SignedArtifact pairs the exact text that was signed with its signature
type SignedArtifact struct {
	Kind      Kind      `json:"kind"`
	ReportID  string    `json:"report_id"`
	Content   string    `json:"content"`
	Signature Signature `json:"signature"`
}

// FormatTime renders a timestamp the way it appears in signed text
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return emptyValue
	}
	return t.UTC().Format(time.RFC3339)
}

func signedTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FormatTime(t)
}

// GeneralFields returns the signed fields of a general report in order.
// The narrative comes last so that line breaks inside it cannot be
// confused with field boundaries.
func GeneralFields(r *GeneralReport) []Field {
	return []Field{
		{"kind", string(KindGeneral)},
		{"id", r.ID},
		{"title", r.Title},
		{"created_at", signedTime(r.CreatedAt)},
		{"responsible", r.UserID},
		{"observations", r.Observations},
		{"description", r.Description},
	}
}

// ExpertFields returns the signed fields of an expert report in order
func ExpertFields(r *ExpertReport) []Field {
	return []Field{
		{"kind", string(KindExpert)},
		{"id", r.ID},
		{"title", r.Title},
		{"emitted_at", signedTime(r.EmittedAt)},
		{"responsible", r.ExpertID},
		{"evidence", r.EvidenceID},
		{"description", r.Description},
	}
}

// CanonicalText joins fields into the exact byte sequence that is signed.
// Values are taken verbatim except that every line but the last escapes
// backslashes and line breaks. Empty values become "-"; a value that
// starts with "-" gets a leading backslash, as does a last value that
// starts with one, so a bare "-" always means empty.
func CanonicalText(fields []Field) string {
	var b strings.Builder
	b.WriteString(CanonicalVersion)
	for i, f := range fields {
		v := f.Value
		last := i == len(fields)-1
		if v == "" {
			v = emptyValue
		} else {
			if !last {
				v = lineEscaper.Replace(v)
			}
			if v[0] == '-' || (last && v[0] == '\\') {
				v = `\` + v
			}
		}
		b.WriteByte('\n')
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

// GeneralCanonicalText is CanonicalText(GeneralFields(r))
func GeneralCanonicalText(r *GeneralReport) string {
	return CanonicalText(GeneralFields(r))
}

// ExpertCanonicalText is CanonicalText(ExpertFields(r))
func ExpertCanonicalText(r *ExpertReport) string {
	return CanonicalText(ExpertFields(r))
}
