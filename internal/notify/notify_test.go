package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/punchamoorthee/stkledger/internal/domain"
)

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func newTestNotifier(m mailer) *SMTPNotifier {
	return &SMTPNotifier{
		dialer:    m,
		sender:    "salon@example.com",
		recipient: "owner@example.com",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func render(t *testing.T, m *gomail.Message) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSMTPNotifier_PaymentCompleted(t *testing.T) {
	fm := &fakeMailer{}
	n := newTestNotifier(fm)

	err := n.PaymentCompleted(context.Background(), domain.TransactionRecord{
		ID:                 "ws_1",
		Amount:             50,
		PhoneNumber:        "254712345678",
		MpesaReceiptNumber: "RCPT1",
	})
	require.NoError(t, err)
	require.Len(t, fm.sent, 1)

	msg := fm.sent[0]
	assert.Equal(t, []string{"owner@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Payment received"}, msg.GetHeader("Subject"))
	assert.Contains(t, render(t, msg), "RCPT1")
}

func TestSMTPNotifier_BookingCreated(t *testing.T) {
	fm := &fakeMailer{}
	n := newTestNotifier(fm)

	err := n.BookingCreated(context.Background(), domain.Booking{
		CustomerName:  "Wanjiru",
		CustomerPhone: "254712345678",
		ServiceID:     "svc-1",
		Service:       &domain.Service{Name: "Braids"},
		Date:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Notes:         "long",
	})
	require.NoError(t, err)
	require.Len(t, fm.sent, 1)
	body := render(t, fm.sent[0])
	assert.True(t, strings.Contains(body, "Braids"))
	assert.True(t, strings.Contains(body, "Notes: long"))
}

func TestSMTPNotifier_SendFailure(t *testing.T) {
	n := newTestNotifier(&fakeMailer{err: errors.New("connection refused")})

	err := n.PaymentCompleted(context.Background(), domain.TransactionRecord{ID: "ws_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.PaymentCompleted(context.Background(), domain.TransactionRecord{ID: "ws_1", MpesaReceiptNumber: "RCPT1"}))
	require.NoError(t, n.BookingCreated(context.Background(), domain.Booking{ID: "b1"}))
	assert.Contains(t, buf.String(), `"receipt":"RCPT1"`)
	assert.Contains(t, buf.String(), `"id":"b1"`)
}
