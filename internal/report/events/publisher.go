package events

import (
	"context"
	"time"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/messaging"
)

// Publisher is the transport used to emit events
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// ReportEventPublisher publishes report lifecycle events. Notifications are
// best effort: failures are logged and never fail the run. A nil transport
// turns every call into a log line.
type ReportEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewReportEventPublisher creates a new report event publisher
func NewReportEventPublisher(publisher Publisher, log *logger.Logger) *ReportEventPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &ReportEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// NewRabbitPublisher declares the report exchange and returns a publisher on it
func NewRabbitPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*ReportEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeReportEvents, "report-service", log)
	if err != nil {
		return nil, err
	}
	return NewReportEventPublisher(publisher, log), nil
}

// GeneralReportGenerated publishes a general report generated event
func (p *ReportEventPublisher) GeneralReportGenerated(ctx context.Context, report *domain.GeneralReport, caseID string) {
	p.notify(ctx, messaging.EventGeneralReportGenerated, report.ID, messaging.GeneralReportGeneratedEvent{
		ReportID:    report.ID,
		CaseID:      caseID,
		RequestedBy: report.UserID,
	})
}

// ExpertBatchGenerated publishes the outcome of a batch run
func (p *ReportEventPublisher) ExpertBatchGenerated(ctx context.Context, caseID, requestedBy string, reportIDs []string, failed, skipped int) {
	p.notify(ctx, messaging.EventExpertBatchGenerated, caseID, messaging.ExpertBatchGeneratedEvent{
		CaseID:      caseID,
		ReportIDs:   reportIDs,
		Failed:      failed,
		Skipped:     skipped,
		RequestedBy: requestedBy,
	})
}

// ExpertReportCreated publishes an authored expert report event
func (p *ReportEventPublisher) ExpertReportCreated(ctx context.Context, report *domain.ExpertReport) {
	p.notify(ctx, messaging.EventExpertReportCreated, report.ID, messaging.ExpertReportCreatedEvent{
		ReportID:   report.ID,
		EvidenceID: report.EvidenceID,
		ExpertID:   report.ExpertID,
	})
}

// ReportFinalized publishes a report finalized event
func (p *ReportEventPublisher) ReportFinalized(ctx context.Context, kind domain.Kind, reportID string, sig domain.Signature, signedAt time.Time) {
	p.notify(ctx, messaging.EventReportFinalized, reportID, messaging.ReportFinalizedEvent{
		Kind:     string(kind),
		ReportID: reportID,
		KeyID:    sig.KeyID,
		SignedAt: signedAt,
	})
}

// ReportSent publishes a report sent event
func (p *ReportEventPublisher) ReportSent(ctx context.Context, kind domain.Kind, reportID, recipient string) {
	p.notify(ctx, messaging.EventReportSent, reportID, messaging.ReportSentEvent{
		Kind:      string(kind),
		ReportID:  reportID,
		Recipient: recipient,
	})
}

// DeliveryFailed publishes a delivery failed event
func (p *ReportEventPublisher) DeliveryFailed(ctx context.Context, kind domain.Kind, reportID, recipient string, cause error) {
	p.notify(ctx, messaging.EventDeliveryFailed, reportID, messaging.DeliveryFailedEvent{
		Kind:      string(kind),
		ReportID:  reportID,
		Recipient: recipient,
		Reason:    cause.Error(),
	})
}

// RequestDelivery queues an email delivery. Unlike the notifications it
// reports failure, since nothing else will send the email.
func (p *ReportEventPublisher) RequestDelivery(ctx context.Context, kind domain.Kind, reportID string, requester domain.Requester, locale string) error {
	if p.publisher == nil {
		return ErrQueueUnavailable
	}
	return p.publisher.Publish(ctx, messaging.EventDeliveryRequested, messaging.DeliveryRequestedEvent{
		Kind:           string(kind),
		ReportID:       reportID,
		RequesterID:    requester.ID,
		RequesterName:  requester.Name,
		RequesterEmail: requester.Email,
		RequesterRole:  requester.Role,
		Locale:         locale,
	})
}

func (p *ReportEventPublisher) notify(ctx context.Context, eventType, subjectID string, data interface{}) {
	if p == nil {
		return
	}
	if p.publisher == nil {
		p.logger.Debug().Str("event_type", eventType).Str("subject_id", subjectID).Msg("event not published, no transport")
		return
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Str("subject_id", subjectID).Msg("failed to publish event")
	}
}
