package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/messaging"
)

// DeliveryQueue is the queue async email deliveries are consumed from
const DeliveryQueue = "report-service.delivery"

// ErrQueueUnavailable is returned when async delivery is requested without
// a message broker
var ErrQueueUnavailable = errors.New("delivery queue unavailable")

// Sender performs an email delivery for a queued request
type Sender interface {
	Send(ctx context.Context, kind domain.Kind, reportID string, requester domain.Requester) error
}

// DeliveryConsumer runs queued email deliveries
type DeliveryConsumer struct {
	sender Sender
	logger *logger.Logger
}

// NewDeliveryConsumer creates a delivery consumer
func NewDeliveryConsumer(sender Sender, log *logger.Logger) *DeliveryConsumer {
	return &DeliveryConsumer{sender: sender, logger: log}
}

// Register subscribes the consumer's queue and installs its handler
func (c *DeliveryConsumer) Register(consumer *messaging.Consumer) error {
	if err := consumer.Subscribe(messaging.ExchangeReportEvents, messaging.EventDeliveryRequested); err != nil {
		return err
	}
	consumer.RegisterHandler(messaging.EventDeliveryRequested, c.Handle)
	return nil
}

// permanent reports whether retrying err cannot help. A conflict means
// another run holds the report and is retried.
func permanent(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.StatusCode < http.StatusInternalServerError && appErr.StatusCode != http.StatusConflict
}

// Handle runs one queued delivery. Requests that can never succeed are
// acknowledged after logging; transient failures are returned for retry.
func (c *DeliveryConsumer) Handle(ctx context.Context, event *messaging.Event) error {
	var req messaging.DeliveryRequestedEvent
	if err := event.UnmarshalData(&req); err != nil {
		return fmt.Errorf("decode delivery request: %w", err)
	}

	kind := domain.Kind(req.Kind)
	log := c.logger.WithReport(req.Kind, req.ReportID)
	if !kind.Valid() {
		log.Warn().Msg("Dropping delivery request with unknown kind")
		return nil
	}

	if req.Locale != "" {
		ctx = i18n.WithLocale(ctx, req.Locale)
	}
	requester := domain.Requester{
		ID:    req.RequesterID,
		Name:  req.RequesterName,
		Email: req.RequesterEmail,
		Role:  req.RequesterRole,
	}

	err := c.sender.Send(ctx, kind, req.ReportID, requester)
	if err == nil {
		log.Info().Str("event_id", event.ID).Msg("Queued delivery completed")
		return nil
	}

	if permanent(err) {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Dropping delivery request that cannot succeed")
		return nil
	}
	return err
}
