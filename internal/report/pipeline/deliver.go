package pipeline

import (
	"context"
	"io"
	"strings"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/mailer"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
)

// ExportGeneralReport finalizes a general report and writes its PDF to w
func (p *Pipeline) ExportGeneralReport(ctx context.Context, id string, w io.Writer) error {
	return p.Export(ctx, domain.KindGeneral, id, w)
}

// ExportExpertReport finalizes an expert report and writes its PDF to w
func (p *Pipeline) ExportExpertReport(ctx context.Context, id string, w io.Writer) error {
	return p.Export(ctx, domain.KindExpert, id, w)
}

// Export finalizes the report and writes its PDF to w. A report signed
// earlier is streamed straight into w.
func (p *Pipeline) Export(ctx context.Context, kind domain.Kind, id string, w io.Writer) error {
	return p.run(ctx, kind, "export", lockKey(kind, id), func(ctx context.Context) error {
		doc, err := p.prepare(ctx, kind, id)
		if err != nil {
			return err
		}

		if doc.pdf != nil {
			_, err := w.Write(doc.pdf)
			return err
		}

		cw := &countingWriter{w: w}
		err = p.stage(ctx, kind, StageRender, func(ctx context.Context) error {
			if err := p.deps.Renderer.Render(ctx, doc.view, cw); err != nil {
				if cw.n > 0 {
					return err
				}
				return apperrors.RenderFailure(err)
			}
			return nil
		})
		if err != nil {
			p.logger.WithReport(string(kind), id).Error().Err(err).Str("stage", StageRender).Msg("Export failed")
			return err
		}
		p.deps.Metrics.ObserveDocument(string(kind), cw.n)
		return nil
	})
}

// SendGeneralReport finalizes a general report and emails it to the requester
func (p *Pipeline) SendGeneralReport(ctx context.Context, id string, requester domain.Requester) error {
	return p.Send(ctx, domain.KindGeneral, id, requester)
}

// SendExpertReport finalizes an expert report and emails it to the requester
func (p *Pipeline) SendExpertReport(ctx context.Context, id string, requester domain.Requester) error {
	return p.Send(ctx, domain.KindExpert, id, requester)
}

// Send finalizes the report and emails it to the requester's own address.
// When delivery fails the report stays finalized and a later Send reuses
// the stored signature. Once the mail is out Send succeeds even if the
// sent status cannot be recorded.
func (p *Pipeline) Send(ctx context.Context, kind domain.Kind, id string, requester domain.Requester) error {
	to := strings.TrimSpace(requester.Email)
	if to == "" {
		appErr := apperrors.BadRequest("requester has no email address").
			WithDetails(map[string]string{"email": "required"})
		appErr.MessageKey = "errors.missing_email"
		return appErr
	}

	return p.run(ctx, kind, "send", lockKey(kind, id), func(ctx context.Context) error {
		log := p.logger.WithReport(string(kind), id).WithUserID(requester.ID)

		doc, err := p.prepare(ctx, kind, id)
		if err != nil {
			return err
		}

		pdf := doc.pdf
		if pdf == nil {
			if pdf, err = p.renderBytes(ctx, doc); err != nil {
				return err
			}
		}

		loc := i18n.LocalizerFromContext(ctx)
		label := loc.T(kind.LabelKey())
		msg := mailer.Message{
			To:      to,
			Subject: loc.T("email.subject", map[string]string{"kind": label, "title": doc.title}),
			Body:    loc.T("email.body", map[string]string{"kind": label}),
			Attachment: &mailer.Attachment{
				Filename: kind.Filename(doc.id),
				Content:  pdf,
			},
		}

		err = p.stage(ctx, kind, StageDeliver, func(ctx context.Context) error {
			return p.deps.Mailer.Deliver(ctx, msg)
		})
		if err != nil {
			log.Error().Err(err).Str("stage", StageDeliver).Msg("Delivery failed")
			p.deps.Events.DeliveryFailed(ctx, kind, doc.id, to, err)
			return apperrors.ServiceError("errors.delivery_failed", err)
		}

		if err := p.markSent(ctx, kind, doc.id); err != nil {
			log.WithError(err).Error().Msg("Report delivered but not marked sent")
		}

		p.deps.Events.ReportSent(ctx, kind, doc.id, to)
		log.Info().Msg("Report delivered")
		return nil
	})
}

func (p *Pipeline) markSent(ctx context.Context, kind domain.Kind, id string) error {
	if kind == domain.KindExpert {
		return p.deps.ExpertReports.MarkSent(ctx, id)
	}
	return p.deps.GeneralReports.MarkSent(ctx, id)
}
