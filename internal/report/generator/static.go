package generator

import (
	"context"
	"fmt"
	"strings"
)

// Static drafts a fixed summary from the facts without calling any model.
// It is meant for local development.
type Static struct{}

// NewStatic creates a Static generator
func NewStatic() *Static {
	return &Static{}
}

// Draft summarizes the counts in pc
func (Static) Draft(ctx context.Context, pc PromptContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	if pc.Focus != nil {
		fmt.Fprintf(&b, "Laudo referente à evidência %s do tipo %s. %s",
			pc.Focus.ID, orNotInformed(string(pc.Focus.Type)), orNotInformed(pc.Focus.Text))
	} else {
		title := notInformed
		if pc.Case != nil {
			title = orNotInformed(pc.Case.Title)
		}
		fmt.Fprintf(&b, "Relatório do caso %s com %d evidência(s), %d vítima(s) e %d laudo(s) registrados.",
			title, len(pc.Evidence), len(pc.Victims), len(pc.PriorReports))
	}
	return Finish(b.String(), pc.MaxChars)
}
