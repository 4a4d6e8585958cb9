package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventGeneralReportGenerated = "report.general.generated"
	EventExpertBatchGenerated   = "report.expert.batch_generated"
	EventExpertReportCreated    = "report.expert.created"
	EventReportFinalized        = "report.finalized"
	EventReportSent             = "report.sent"
	EventDeliveryFailed         = "report.delivery.failed"
	EventDeliveryRequested      = "report.delivery.requested"
)

// Exchange names
const (
	ExchangeReportEvents = "report.events"
	ExchangeDeadLetter   = "dlx.report.events"
)

// Event is the envelope every message travels in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GeneralReportGeneratedEvent is published when a draft general report is stored
type GeneralReportGeneratedEvent struct {
	ReportID    string `json:"report_id"`
	CaseID      string `json:"case_id"`
	RequestedBy string `json:"requested_by"`
}

// ExpertBatchGeneratedEvent is published after a batch of expert reports was drafted
type ExpertBatchGeneratedEvent struct {
	CaseID      string   `json:"case_id"`
	ReportIDs   []string `json:"report_ids"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	RequestedBy string   `json:"requested_by"`
}

// ExpertReportCreatedEvent is published when an expert writes a report by hand
type ExpertReportCreatedEvent struct {
	ReportID   string `json:"report_id"`
	EvidenceID string `json:"evidence_id"`
	ExpertID   string `json:"expert_id"`
}

// ReportFinalizedEvent is published once a report is signed
type ReportFinalizedEvent struct {
	Kind     string    `json:"kind"`
	ReportID string    `json:"report_id"`
	KeyID    string    `json:"key_id"`
	SignedAt time.Time `json:"signed_at"`
}

// ReportSentEvent is published after a report was emailed
type ReportSentEvent struct {
	Kind      string `json:"kind"`
	ReportID  string `json:"report_id"`
	Recipient string `json:"recipient"`
}

// DeliveryFailedEvent is published when emailing a signed report failed
type DeliveryFailedEvent struct {
	Kind      string `json:"kind"`
	ReportID  string `json:"report_id"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// DeliveryRequestedEvent queues an email delivery to be run by a consumer
type DeliveryRequestedEvent struct {
	Kind           string `json:"kind"`
	ReportID       string `json:"report_id"`
	RequesterID    string `json:"requester_id"`
	RequesterName  string `json:"requester_name"`
	RequesterEmail string `json:"requester_email"`
	RequesterRole  string `json:"requester_role"`
	Locale         string `json:"locale,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
