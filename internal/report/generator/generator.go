package generator

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/config"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

// Prompt bounds
const (
	MaxItems     = 50
	MaxFieldRune = 500
)

// Provider names accepted in generator.provider
const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"
)

// Generator drafts narrative report text from assembled case facts
type Generator interface {
	Draft(ctx context.Context, pc PromptContext) (string, error)
}

// PromptContext is the material a draft is written from. Focus selects a
// single evidence item when drafting an expert report.
type PromptContext struct {
	Requester    domain.Requester
	Case         *domain.CaseSummary
	Evidence     []domain.EvidenceItem
	Victims      []domain.VictimRecord
	PriorReports []domain.ExpertReport
	Focus        *domain.EvidenceItem
	MaxChars     int
}

// New builds the generator selected by cfg.Provider
func New(cfg config.GeneratorConfig, log *logger.Logger) (Generator, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg, log), nil
	case ProviderStatic:
		return NewStatic(), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

// Finish validates raw model output and fits it into maxChars
func Finish(raw string, maxChars int) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", apperrors.ServiceError("errors.generation_failed", fmt.Errorf("generator returned empty text"))
	}
	return Clip(text, maxChars), nil
}

// Clip shortens s to at most max runes, cutting at the last word boundary
// when there is one. max <= 0 disables clipping.
func Clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	all := []rune(s)
	runes := all[:max]
	cut := len(runes)
	if unicode.IsSpace(all[max]) {
		return strings.TrimRightFunc(string(runes), unicode.IsSpace)
	}
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
	})
}

const systemPrompt = "Você é um assistente especializado em gerar relatórios investigativos baseados em dados técnicos de casos forenses."

const notInformed = "Não informado"

// BuildPrompt renders pc into the user instruction sent to the model
func BuildPrompt(pc PromptContext) string {
	var b strings.Builder

	if pc.Focus != nil {
		b.WriteString("Gere um Laudo Pericial para a evidência abaixo com base nestas informações:\n")
	} else {
		b.WriteString("Gere um Relatório Geral com base nestas informações:\n")
	}

	fmt.Fprintf(&b, "- Usuário: %s\n", orNotInformed(pc.Requester.Name))
	if pc.Case != nil {
		fmt.Fprintf(&b, "- Caso: %s\n", orNotInformed(pc.Case.Title))
		fmt.Fprintf(&b, "- Descrição: %s\n", orNotInformed(pc.Case.Description))
		if pc.Case.Type != "" {
			fmt.Fprintf(&b, "- Tipo do caso: %s\n", bound(pc.Case.Type))
		}
	}

	if pc.Focus != nil {
		b.WriteString("- Evidência analisada:\n")
		writeEvidence(&b, *pc.Focus)
	}

	b.WriteString("- Evidências:\n")
	for _, e := range head(pc.Evidence) {
		writeEvidence(&b, e)
	}

	b.WriteString("- Laudos:\n")
	for _, r := range head(pc.PriorReports) {
		fmt.Fprintf(&b, "  - Evidência: %s, Descrição: %s\n", r.EvidenceID, orNotInformed(r.Description))
	}

	b.WriteString("- Vítimas:\n")
	for _, v := range head(pc.Victims) {
		age := notInformed
		if v.Age != nil {
			age = fmt.Sprintf("%d", *v.Age)
		}
		identified := "Não"
		if v.Identified {
			identified = "Sim"
		}
		fmt.Fprintf(&b, "  - Nome: %s, Idade: %s, Gênero: %s, Etnia: %s, Identificação: %s, Observações: %s, Identificado: %s\n",
			orNotInformed(v.Name), age, orNotInformed(v.Sex), orNotInformed(v.Ethnicity),
			orNotInformed(v.Identification), orNotInformed(v.Observations), identified)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Com base nas informações acima, gere um texto técnico, claro e conclusivo com até %d caracteres, sem usar formatação ou marcações especiais. Use linguagem formal e descritiva.", pc.MaxChars)

	return b.String()
}

func writeEvidence(b *strings.Builder, e domain.EvidenceItem) {
	fmt.Fprintf(b, "  - Tipo: %s, Descrição: %s\n", orNotInformed(string(e.Type)), orNotInformed(e.Text))
}

func head[T any](items []T) []T {
	if len(items) > MaxItems {
		return items[:MaxItems]
	}
	return items
}

func bound(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > MaxFieldRune {
		return string([]rune(s)[:MaxFieldRune]) + "…"
	}
	return s
}

func orNotInformed(s string) string {
	s = bound(s)
	if s == "" {
		return notInformed
	}
	return s
}
