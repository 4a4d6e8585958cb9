package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stpericial/stpericial-backend/internal/report/domain"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/i18n"
	"github.com/stpericial/stpericial-backend/pkg/logger"
	"github.com/stpericial/stpericial-backend/pkg/messaging"
	"github.com/stpericial/stpericial-backend/pkg/testutil"
)

type sendCall struct {
	kind      domain.Kind
	reportID  string
	requester domain.Requester
	locale    string
}

type fakeSender struct {
	calls []sendCall
	err   error
}

func (f *fakeSender) Send(ctx context.Context, kind domain.Kind, reportID string, requester domain.Requester) error {
	f.calls = append(f.calls, sendCall{kind, reportID, requester, i18n.GetLocaleFromContext(ctx)})
	return f.err
}

func TestReportEventPublisher_Notifications(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewReportEventPublisher(mock, logger.Nop())
	ctx := context.Background()

	p.GeneralReportGenerated(ctx, &domain.GeneralReport{ID: "g-1", UserID: "u-1"}, "case-1")
	p.ExpertBatchGenerated(ctx, "case-1", "u-1", []string{"e-1"}, 1, 2)
	p.ReportFinalized(ctx, domain.KindGeneral, "g-1", domain.Signature{KeyID: "k1"}, testutil.FixedTime)
	p.ReportSent(ctx, domain.KindGeneral, "g-1", "ana@example.com")
	p.DeliveryFailed(ctx, domain.KindExpert, "e-1", "ana@example.com", errors.New("smtp down"))

	mock.AssertEventPublished(t, messaging.EventGeneralReportGenerated)
	mock.AssertEventPublished(t, messaging.EventExpertBatchGenerated)
	mock.AssertEventPublished(t, messaging.EventReportFinalized)
	mock.AssertEventPublished(t, messaging.EventReportSent)
	mock.AssertEventPublished(t, messaging.EventDeliveryFailed)

	events := mock.Events()
	finalized, ok := events[2].Payload.(messaging.ReportFinalizedEvent)
	require.True(t, ok)
	assert.Equal(t, "k1", finalized.KeyID)
	assert.Equal(t, "general_report", finalized.Kind)

	failed, ok := events[4].Payload.(messaging.DeliveryFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "smtp down", failed.Reason)
}

func TestReportEventPublisher_PublishErrorIsSwallowed(t *testing.T) {
	mock := testutil.NewMockPublisher()
	mock.Err = errors.New("broker down")
	p := NewReportEventPublisher(mock, logger.Nop())

	assert.NotPanics(t, func() {
		p.ReportSent(context.Background(), domain.KindExpert, "e-1", "x@example.com")
	})
	assert.Empty(t, mock.Events())
}

func TestReportEventPublisher_NoTransport(t *testing.T) {
	p := NewReportEventPublisher(nil, nil)

	p.ReportSent(context.Background(), domain.KindExpert, "e-1", "x@example.com")
	err := p.RequestDelivery(context.Background(), domain.KindExpert, "e-1", testutil.RequesterFixture(), "pt")
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestReportEventPublisher_RequestDelivery(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewReportEventPublisher(mock, logger.Nop())
	requester := testutil.RequesterFixture()

	err := p.RequestDelivery(context.Background(), domain.KindGeneral, "g-1", requester, "en")
	require.NoError(t, err)

	events := mock.Events()
	require.Len(t, events, 1)
	req, ok := events[0].Payload.(messaging.DeliveryRequestedEvent)
	require.True(t, ok)
	assert.Equal(t, "general_report", req.Kind)
	assert.Equal(t, "g-1", req.ReportID)
	assert.Equal(t, requester.Email, req.RequesterEmail)
	assert.Equal(t, "en", req.Locale)

	mock.Err = errors.New("broker down")
	assert.Error(t, p.RequestDelivery(context.Background(), domain.KindGeneral, "g-1", requester, "en"))
}

func deliveryBody(t *testing.T, req messaging.DeliveryRequestedEvent) []byte {
	t.Helper()
	event, err := messaging.NewEvent(messaging.EventDeliveryRequested, "test", "corr-1", req)
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func newDispatcher(sender Sender) *messaging.Consumer {
	d := messaging.NewDispatcher(nil, DeliveryQueue, logger.Nop())
	d.RegisterHandler(messaging.EventDeliveryRequested, NewDeliveryConsumer(sender, logger.Nop()).Handle)
	return d
}

func TestDeliveryConsumer_Handle(t *testing.T) {
	requester := testutil.RequesterFixture()
	req := messaging.DeliveryRequestedEvent{
		Kind:           "expert_report",
		ReportID:       "e-1",
		RequesterID:    requester.ID,
		RequesterName:  requester.Name,
		RequesterEmail: requester.Email,
		RequesterRole:  requester.Role,
		Locale:         "en",
	}

	tests := []struct {
		name      string
		req       messaging.DeliveryRequestedEvent
		sendErr   error
		attempts  int
		wantCalls int
		want      messaging.Outcome
	}{
		{"delivered", req, nil, 0, 1, messaging.OutcomeAck},
		{"transient failure requeued", req, apperrors.ServiceError("errors.delivery_failed", errors.New("smtp")), 0, 1, messaging.OutcomeRequeue},
		{"transient failure dead-lettered", req, apperrors.ServiceError("errors.delivery_failed", errors.New("smtp")), 1, 1, messaging.OutcomeDeadLetter},
		{"run in progress requeued", req, apperrors.Conflict("a run for expert_report:r-1 is in progress"), 0, 1, messaging.OutcomeRequeue},
		{"not found dropped", req, apperrors.NotFoundWithKey("expert_report"), 0, 1, messaging.OutcomeAck},
		{"unknown kind dropped", messaging.DeliveryRequestedEvent{Kind: "memo", ReportID: "x"}, nil, 0, 0, messaging.OutcomeAck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{err: tt.sendErr}
			d := newDispatcher(sender)

			got := d.Dispatch(context.Background(), deliveryBody(t, tt.req), tt.attempts)

			assert.Equal(t, tt.want, got)
			require.Len(t, sender.calls, tt.wantCalls)
			if tt.wantCalls > 0 {
				call := sender.calls[0]
				assert.Equal(t, domain.KindExpert, call.kind)
				assert.Equal(t, "e-1", call.reportID)
				assert.Equal(t, requester, call.requester)
				assert.Equal(t, "en", call.locale)
			}
		})
	}
}

func TestDeliveryConsumer_HandleWithTimeout(t *testing.T) {
	sender := &fakeSender{}
	c := NewDeliveryConsumer(sender, logger.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	event, err := messaging.NewEvent(messaging.EventDeliveryRequested, "test", "", messaging.DeliveryRequestedEvent{
		Kind:     "general_report",
		ReportID: "g-1",
	})
	require.NoError(t, err)

	require.NoError(t, c.Handle(ctx, event))
	require.Len(t, sender.calls, 1)
	assert.Equal(t, i18n.DefaultLocale, sender.calls[0].locale)
}
