package mailer

import (
	"context"
	"errors"
	"sync"
)

// Attachment is a single file attached to a message
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outbound email with at most one attachment
type Message struct {
	To         string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Mailer delivers messages
type Mailer interface {
	Deliver(ctx context.Context, msg Message) error
}

// ErrNoRecipient is returned for messages without a recipient
var ErrNoRecipient = errors.New("mailer: message has no recipient")

// Recorder keeps delivered messages in memory. It stands in for SMTP in
// development and tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Deliver records msg, or returns Err when set
func (r *Recorder) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return ErrNoRecipient
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
