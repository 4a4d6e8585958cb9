package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stpericial/stpericial-backend/internal/auth"
	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/internal/report/events"
	"github.com/stpericial/stpericial-backend/internal/report/pipeline"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/httputil"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

// ReportService is the pipeline as seen by the HTTP layer
type ReportService interface {
	GenerateGeneralReport(ctx context.Context, caseID string, requester domain.Requester) (*domain.GeneralReport, error)
	GenerateExpertReports(ctx context.Context, caseID string, requester domain.Requester) (*pipeline.BatchResult, error)
	CreateExpertReport(ctx context.Context, in pipeline.CreateExpertReportInput, requester domain.Requester) (*domain.ExpertReport, error)
	Export(ctx context.Context, kind domain.Kind, id string, w io.Writer) error
	Send(ctx context.Context, kind domain.Kind, id string, requester domain.Requester) error
	VerifyGeneralReport(ctx context.Context, id string) (*pipeline.Verification, error)
	VerifyExpertReport(ctx context.Context, id string) (*pipeline.Verification, error)
}

// GeneralReportReader loads general reports for display
type GeneralReportReader interface {
	GetByID(ctx context.Context, id string) (*domain.GeneralReport, error)
}

// ExpertReportReader loads expert reports for display
type ExpertReportReader interface {
	GetByID(ctx context.Context, id string) (*domain.ExpertReport, error)
}

// DeliveryQueue queues email deliveries for the background consumer
type DeliveryQueue interface {
	RequestDelivery(ctx context.Context, kind domain.Kind, reportID string, requester domain.Requester, locale string) error
}

// ReportHandler handles report HTTP endpoints
type ReportHandler struct {
	service ReportService
	general GeneralReportReader
	expert  ExpertReportReader
	queue   DeliveryQueue
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(svc ReportService, general GeneralReportReader, expert ExpertReportReader, queue DeliveryQueue, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		service: svc,
		general: general,
		expert:  expert,
		queue:   queue,
		logger:  log,
	}
}

// GenerateGeneralReport drafts a general report for a case
func (h *ReportHandler) GenerateGeneralReport(w http.ResponseWriter, r *http.Request) {
	requester, err := auth.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	report, err := h.service.GenerateGeneralReport(r.Context(), chi.URLParam(r, "caseId"), requester)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Created(w, map[string]interface{}{
		"report_id": report.ID,
		"status":    report.Status,
		"title":     report.Title,
	})
}

// GenerateExpertReports drafts expert reports for every unreported evidence item of a case
func (h *ReportHandler) GenerateExpertReports(w http.ResponseWriter, r *http.Request) {
	requester, err := auth.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.service.GenerateExpertReports(r.Context(), chi.URLParam(r, "caseId"), requester)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Created(w, result)
}

// CreateExpertReport stores an expert report written by the requester
func (h *ReportHandler) CreateExpertReport(w http.ResponseWriter, r *http.Request) {
	requester, err := auth.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var in pipeline.CreateExpertReportInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := httputil.Validate(in); err != nil {
		h.fail(w, r, err)
		return
	}

	report, err := h.service.CreateExpertReport(r.Context(), in, requester)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.Created(w, report)
}

// GetGeneralReport returns a general report
func (h *ReportHandler) GetGeneralReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.general.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// GetExpertReport returns an expert report
func (h *ReportHandler) GetExpertReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.expert.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// ExportGeneralReport serves the signed general report PDF inline
func (h *ReportHandler) ExportGeneralReport(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, domain.KindGeneral)
}

// ExportExpertReport serves the signed expert report PDF inline
func (h *ReportHandler) ExportExpertReport(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, domain.KindExpert)
}

func (h *ReportHandler) export(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	id := chi.URLParam(r, "id")
	pw := &pdfWriter{w: w, filename: kind.Filename(id)}

	if err := h.service.Export(r.Context(), kind, id, pw); err != nil {
		if pw.started {
			// headers are gone, the client sees a truncated body
			h.logger.WithReport(string(kind), id).Error().Err(err).
				Str("request_id", httputil.GetRequestID(r.Context())).
				Msg("PDF stream interrupted")
			return
		}
		h.fail(w, r, err)
	}
}

// SendGeneralReport emails the signed general report to the requester
func (h *ReportHandler) SendGeneralReport(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, domain.KindGeneral)
}

// SendExpertReport emails the signed expert report to the requester
func (h *ReportHandler) SendExpertReport(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, domain.KindExpert)
}

// send delivers to the authenticated user's own address. Any recipient in
// the request body is ignored.
func (h *ReportHandler) send(w http.ResponseWriter, r *http.Request, kind domain.Kind) {
	requester, err := auth.CurrentUser(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if requester.Email == "" {
		appErr := apperrors.BadRequest("requester has no email address").
			WithDetails(map[string]string{"email": "required"})
		appErr.MessageKey = "errors.missing_email"
		h.fail(w, r, appErr)
		return
	}

	id := chi.URLParam(r, "id")
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async && h.queue != nil {
		err := h.queue.RequestDelivery(r.Context(), kind, id, requester, i18n.GetLocaleFromContext(r.Context()))
		if err == nil {
			httputil.Accepted(w, map[string]interface{}{
				"report_id": id,
				"status":    "queued",
				"recipient": requester.Email,
			})
			return
		}
		if !errors.Is(err, events.ErrQueueUnavailable) {
			h.fail(w, r, apperrors.ServiceError("errors.delivery_failed", err))
			return
		}
		h.logger.Warn().Str("report_id", id).Msg("Delivery queue unavailable, sending synchronously")
	}

	if err := h.service.Send(r.Context(), kind, id, requester); err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"report_id": id,
		"status":    domain.StatusSent,
		"recipient": requester.Email,
	})
}

// VerifyGeneralReport checks the stored signature of a general report
func (h *ReportHandler) VerifyGeneralReport(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.VerifyGeneralReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, v)
}

// VerifyExpertReport checks the stored signature of an expert report
func (h *ReportHandler) VerifyExpertReport(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.VerifyExpertReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, v)
}

// fail writes a localized error. Server-side failures are logged with
// their cause, which never reaches the client.
func (h *ReportHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if apperrors.As(err, &appErr) {
		status = appErr.StatusCode
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("request_id", httputil.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	httputil.ErrorLocalized(w, r, err)
}

// pdfWriter commits the PDF headers on the first write so that failures
// before any byte is produced can still be answered with a JSON error
type pdfWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (p *pdfWriter) Write(b []byte) (int, error) {
	if !p.started {
		p.started = true
		httputil.PDFHeaders(p.w, p.filename, -1)
		p.w.WriteHeader(http.StatusOK)
	}
	return p.w.Write(b)
}
