package domain

// Kind identifies which document a pipeline run produces
type Kind string

const (
	KindGeneral Kind = "general_report"
	KindExpert  Kind = "expert_report"
)

// Valid reports whether k is a known document kind
func (k Kind) Valid() bool {
	return k == KindGeneral || k == KindExpert
}

// FilePrefix is the stem used for attachment and inline file names
func (k Kind) FilePrefix() string {
	if k == KindExpert {
		return "laudo"
	}
	return "relatorio_geral"
}

// Filename returns "<prefix>_<id>.pdf"
func (k Kind) Filename(id string) string {
	return k.FilePrefix() + "_" + id + ".pdf"
}

// LabelKey is the message key holding the document's display name
func (k Kind) LabelKey() string {
	return "document." + string(k)
}
