package renderer

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/config"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
)

//go:embed assets/logo.png
var defaultLogo []byte

// ErrUnsigned is returned when asked to render a document without a signature
var ErrUnsigned = errors.New("renderer: document has no signature")

const (
	fontUTF8      = "docfont"
	fontCore      = "Helvetica"
	signatureFont = "Courier"
	signatureLine = 64
	logoName      = "logo"
)

// Renderer lays out report documents as PDF
type Renderer struct {
	cfg      config.RenderConfig
	logo     []byte
	logoType string
	clock    func() time.Time
}

// New creates a renderer. A configured logo path replaces the embedded logo.
func New(cfg config.RenderConfig) (*Renderer, error) {
	r := &Renderer{
		cfg:      cfg,
		logo:     defaultLogo,
		logoType: "PNG",
		clock:    time.Now,
	}

	if cfg.LogoPath != "" {
		data, err := os.ReadFile(cfg.LogoPath)
		if err != nil {
			return nil, fmt.Errorf("read logo: %w", err)
		}
		r.logo = data
		r.logoType = imageType(cfg.LogoPath)
	}
	if cfg.FontPath != "" {
		if _, err := os.Stat(cfg.FontPath); err != nil {
			return nil, fmt.Errorf("font: %w", err)
		}
	}
	if !i18n.IsSupported(r.cfg.Locale) {
		r.cfg.Locale = i18n.DefaultLocale
	}

	return r, nil
}

// WithClock replaces the time source used for "generated at" stamps
func (r *Renderer) WithClock(clock func() time.Time) *Renderer {
	r.clock = clock
	return r
}

// Render writes the PDF for v into w. Nothing is written unless the whole
// document was laid out without error.
func (r *Renderer) Render(ctx context.Context, v *View, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v == nil || v.Signature == nil || v.Signature.Value == "" {
		return ErrUnsigned
	}

	pdf, err := r.build(v)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return pdf.Output(w)
}

// RenderBytes renders v fully into memory
func (r *Renderer) RenderBytes(ctx context.Context, v *View) ([]byte, error) {
	return Collect(ctx, func(w io.Writer) error {
		return r.Render(ctx, v, w)
	})
}

type page struct {
	pdf    *fpdf.Fpdf
	family string
	tr     func(string) string
	loc    *i18n.Localizer
}

func (r *Renderer) build(v *View) (*fpdf.Fpdf, error) {
	locale := r.cfg.Locale
	if v.Locale != "" && i18n.IsSupported(v.Locale) {
		locale = v.Locale
	}
	loc := i18n.NewLocalizer(locale)

	generatedAt := v.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = r.clock()
	}
	generatedAt = generatedAt.UTC()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetCompression(r.cfg.Compress)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetCreator("stpericial", true)

	p := &page{pdf: pdf, family: fontCore, loc: loc}
	if r.cfg.FontPath != "" {
		pdf.AddUTF8Font(fontUTF8, "", r.cfg.FontPath)
		pdf.AddUTF8Font(fontUTF8, "B", r.cfg.FontPath)
		p.family = fontUTF8
		p.tr = func(s string) string { return s }
	} else {
		p.tr = pdf.UnicodeTranslatorFromDescriptor("")
	}

	title := loc.T(v.Kind.LabelKey())
	pdf.SetTitle(title+" "+v.ReportID, r.cfg.FontPath != "")
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont(p.family, "", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, strconv.Itoa(pdf.PageNo())+"/{nb}", "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	for _, section := range Sections(v) {
		switch section {
		case SectionLogo:
			r.drawLogo(p)
		case SectionTitle:
			p.heading(title)
		case SectionMetadata:
			p.metadata(v)
		case SectionDescription:
			p.sectionTitle(loc.T("document.section.description"))
			p.paragraph(v.Description)
		case SectionVictims:
			p.victims(v.Victims)
		case SectionEvidence:
			p.evidence(v.Evidence)
		case SectionPriorReports:
			p.priorReports(v.PriorReports)
		case SectionObservations:
			obs := *v.Observations
			if strings.TrimSpace(obs) == "" {
				obs = loc.T("document.none")
			}
			p.sectionTitle(loc.T("document.section.observations"))
			p.paragraph(obs)
		case SectionGeneratedAt:
			pdf.Ln(2)
			p.kv(loc.T("document.generated_at"), generatedAt.Format("02/01/2006 15:04:05")+" UTC")
		case SectionSignature:
			p.signature(v)
		}
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("layout %s: %w", section, err)
		}
	}

	return pdf, pdf.Error()
}

func (r *Renderer) drawLogo(p *page) {
	opts := fpdf.ImageOptions{ImageType: r.logoType, ReadDpi: false}
	p.pdf.RegisterImageOptionsReader(logoName, opts, bytes.NewReader(r.logo))
	p.pdf.ImageOptions(logoName, 14, 10, 40, 0, false, opts, 0, "")
	p.pdf.SetY(34)
}

func (p *page) heading(title string) {
	p.pdf.SetFont(p.family, "B", 18)
	p.pdf.SetTextColor(20, 30, 60)
	p.pdf.CellFormat(0, 10, p.tr(title), "", 1, "C", false, 0, "")
	p.pdf.Ln(4)
}

func (p *page) metadata(v *View) {
	for _, f := range v.Fields {
		switch f.Key {
		case "kind", "description", "observations":
			continue
		}
		value := f.Value
		if f.Key == "responsible" && v.ResponsibleName != "" && value != "" {
			value = v.ResponsibleName + " (" + value + ")"
		}
		p.kv(p.loc.T("document.field."+f.Key), value)
	}
	p.pdf.Ln(3)
}

func (p *page) victims(victims []domain.VictimRecord) {
	p.sectionTitle(p.loc.T("document.section.victims"))
	for i, vr := range victims {
		age := p.loc.T("document.not_informed")
		if vr.Age != nil {
			age = strconv.Itoa(*vr.Age)
		}
		identified := p.loc.T("document.no")
		if vr.Identified {
			identified = p.loc.T("document.yes")
		}
		p.kv(p.loc.T("document.victim.name"), p.orNotInformed(vr.Name))
		p.kv(p.loc.T("document.victim.age"), age)
		p.kv(p.loc.T("document.victim.sex"), p.orNotInformed(vr.Sex))
		p.kv(p.loc.T("document.victim.ethnicity"), p.orNotInformed(vr.Ethnicity))
		p.kv(p.loc.T("document.victim.identification"), p.orNotInformed(vr.Identification))
		p.kv(p.loc.T("document.victim.identified"), identified)
		if vr.Observations != "" {
			p.kv(p.loc.T("document.victim.observations"), vr.Observations)
		}
		if i < len(victims)-1 {
			p.pdf.Ln(2)
		}
	}
	p.pdf.Ln(3)
}

func (p *page) evidence(items []domain.EvidenceItem) {
	p.sectionTitle(p.loc.T("document.section.evidence"))
	for i, e := range items {
		p.kv(p.loc.T("document.field.id"), e.ID)
		p.kv(p.loc.T("document.evidence.type"), p.orNotInformed(string(e.Type)))
		p.kv(p.loc.T("document.evidence.text"), p.orNotInformed(e.Text))
		if e.CollectedAt != nil {
			p.kv(p.loc.T("document.evidence.collected_at"), domain.FormatTime(*e.CollectedAt))
		}
		if e.CollectedBy != nil && *e.CollectedBy != "" {
			p.kv(p.loc.T("document.evidence.collected_by"), *e.CollectedBy)
		}
		if i < len(items)-1 {
			p.pdf.Ln(2)
		}
	}
	p.pdf.Ln(3)
}

func (p *page) priorReports(reports []domain.ExpertReport) {
	p.sectionTitle(p.loc.T("document.section.prior_reports"))
	for _, er := range reports {
		p.kv(p.loc.T("document.field.evidence"), er.EvidenceID)
		p.paragraph(er.Description)
	}
	p.pdf.Ln(1)
}

func (p *page) signature(v *View) {
	p.pdf.Ln(2)
	p.sectionTitle(p.loc.T("document.section.signature"))

	p.pdf.SetFont(signatureFont, "", 8)
	p.pdf.SetTextColor(20, 20, 20)
	for _, line := range chunk(v.Signature.Value, signatureLine) {
		p.pdf.CellFormat(0, 4, line, "", 1, "L", false, 0, "")
	}
	p.pdf.Ln(2)

	algorithm := v.Signature.Algorithm
	if algorithm == "" {
		algorithm = "RSA-SHA256"
	}
	p.kv(p.loc.T("document.signature.algorithm"), algorithm)
	p.kv(p.loc.T("document.signature.key_id"), v.Signature.KeyID)
	if v.SignedAt != nil {
		p.kv(p.loc.T("document.signature.signed_at"), domain.FormatTime(*v.SignedAt))
	}
}

func (p *page) sectionTitle(title string) {
	p.pdf.SetFont(p.family, "B", 12)
	p.pdf.SetTextColor(0, 0, 0)
	p.pdf.CellFormat(0, 7, p.tr(title), "", 1, "L", false, 0, "")
	p.pdf.SetDrawColor(200, 200, 200)
	p.pdf.Line(p.pdf.GetX(), p.pdf.GetY(), 196, p.pdf.GetY())
	p.pdf.Ln(2)
}

func (p *page) kv(key, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	p.pdf.SetFont(p.family, "B", 10)
	p.pdf.SetTextColor(30, 30, 30)
	p.pdf.CellFormat(40, 5.2, p.tr(key+":"), "", 0, "L", false, 0, "")
	p.pdf.SetFont(p.family, "", 10)
	p.pdf.SetTextColor(20, 20, 20)
	p.pdf.MultiCell(0, 5.2, p.tr(singleLine(value)), "", "L", false)
}

func (p *page) paragraph(text string) {
	if strings.TrimSpace(text) == "" {
		text = p.loc.T("document.not_informed")
	}
	p.pdf.SetFont(p.family, "", 10)
	p.pdf.SetTextColor(20, 20, 20)
	p.pdf.MultiCell(0, 5.2, p.tr(strings.ReplaceAll(text, "\r", "")), "", "J", false)
	p.pdf.Ln(2)
}

func (p *page) orNotInformed(s string) string {
	if strings.TrimSpace(s) == "" {
		return p.loc.T("document.not_informed")
	}
	return s
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}

func chunk(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func imageType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "JPG"
	case ".gif":
		return "GIF"
	default:
		return "PNG"
	}
}
