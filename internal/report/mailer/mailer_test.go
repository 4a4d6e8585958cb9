package mailer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/stpericial/stpericial-backend/pkg/config"
)

func testMailConfig(port int) config.MailConfig {
	return config.MailConfig{
		Host:      "127.0.0.1",
		Port:      port,
		From:      "reports@stpericial.local",
		Timeout:   time.Second,
		TLSPolicy: "none",
	}
}

func testMessage() Message {
	return Message{
		To:      "ana.souza@stpericial.local",
		Subject: "Expert Report - Case 42",
		Body:    "Attached is the requested report.",
		Attachment: &Attachment{
			Filename: "laudo_42.pdf",
			Content:  []byte("%PDF-1.3 test"),
		},
	}
}

func TestSMTP_Build(t *testing.T) {
	s := NewSMTP(testMailConfig(1025), nil)

	m, err := s.build(testMessage())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "reports@stpericial.local")
	assert.Contains(t, raw, "ana.souza@stpericial.local")
	assert.Contains(t, raw, "Expert Report - Case 42")
	assert.Contains(t, raw, "laudo_42.pdf")
}

func TestSMTP_BuildRejectsBadAddresses(t *testing.T) {
	s := NewSMTP(testMailConfig(1025), nil)

	msg := testMessage()
	msg.To = ""
	_, err := s.build(msg)
	assert.ErrorIs(t, err, ErrNoRecipient)

	msg.To = "not an address"
	_, err = s.build(msg)
	assert.Error(t, err)

	cfg := testMailConfig(1025)
	cfg.From = "@@"
	_, err = NewSMTP(cfg, nil).build(testMessage())
	assert.Error(t, err)
}

func TestSMTP_DeliverUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := NewSMTP(testMailConfig(port), nil)
	err = s.Deliver(context.Background(), testMessage())

	assert.Error(t, err)
}

func TestTLSPolicy(t *testing.T) {
	assert.Equal(t, mail.TLSMandatory, tlsPolicy("mandatory"))
	assert.Equal(t, mail.NoTLS, tlsPolicy("NONE"))
	assert.Equal(t, mail.TLSOpportunistic, tlsPolicy(""))
	assert.Equal(t, mail.TLSOpportunistic, tlsPolicy("opportunistic"))
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	require.NoError(t, r.Deliver(context.Background(), testMessage()))
	assert.Len(t, r.Sent(), 1)

	assert.ErrorIs(t, r.Deliver(context.Background(), Message{}), ErrNoRecipient)

	boom := errors.New("relay down")
	r.Err = boom
	assert.ErrorIs(t, r.Deliver(context.Background(), testMessage()), boom)
	assert.Len(t, r.Sent(), 1)
}
