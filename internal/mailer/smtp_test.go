package mailer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

func TestTLSPolicy(t *testing.T) {
	assert.Equal(t, mail.TLSMandatory, tlsPolicy(""))
	assert.Equal(t, mail.TLSMandatory, tlsPolicy("mandatory"))
	assert.Equal(t, mail.TLSOpportunistic, tlsPolicy("Opportunistic"))
	assert.Equal(t, mail.NoTLS, tlsPolicy("none"))
}

func TestBuildRejectsInvalidSender(t *testing.T) {
	s := New(Config{From: "not an address"})
	_, err := s.build(report.Message{To: []string{"lead@example.com"}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSendFailureIsEmailError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := New(Config{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "reports@example.com",
		TLS:     TLSNone,
		Timeout: time.Second,
	})
	err = s.Send(context.Background(), report.Message{
		To:      []string{"lead@example.com"},
		Subject: "Activity report",
		Text:    "hello",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindEmail, apperr.KindOf(err))
}
