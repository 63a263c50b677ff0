// Package notify sends customer-facing messages about bookings and payments.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/punchamoorthee/stkledger/internal/domain"
)

type Notifier interface {
	PaymentCompleted(ctx context.Context, rec domain.TransactionRecord) error
	BookingCreated(ctx context.Context, b domain.Booking) error
}

type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	Sender    string
	Recipient string
}

type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier mails every notice to a single operator address.
type SMTPNotifier struct {
	dialer    mailer
	sender    string
	recipient string
	logger    *slog.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	port := cfg.Port
	if port == 0 {
		port = 465
	}
	return &SMTPNotifier{
		dialer:    gomail.NewDialer(cfg.Host, port, cfg.User, cfg.Password),
		sender:    cfg.Sender,
		recipient: cfg.Recipient,
		logger:    logger,
	}
}

func (n *SMTPNotifier) PaymentCompleted(ctx context.Context, rec domain.TransactionRecord) error {
	subject := "Payment received"
	body := fmt.Sprintf("Payment of KES %.2f from %s completed. Receipt %s, transaction %s.",
		rec.Amount, rec.PhoneNumber, rec.MpesaReceiptNumber, rec.ID)
	return n.send(ctx, subject, body)
}

func (n *SMTPNotifier) BookingCreated(ctx context.Context, b domain.Booking) error {
	subject := "New booking"
	service := b.ServiceID
	if b.Service != nil {
		service = b.Service.Name
	}
	body := fmt.Sprintf("%s (%s) booked %s for %s.", b.CustomerName, b.CustomerPhone, service, b.Date.Format("Mon 2 Jan 2006 15:04"))
	if b.Notes != "" {
		body += "\nNotes: " + b.Notes
	}
	return n.send(ctx, subject, body)
}

func (n *SMTPNotifier) send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", n.sender)
	m.SetHeader("To", n.recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send %q to %s: %w", subject, n.recipient, err)
	}
	n.logger.Info("email sent", slog.String("to", n.recipient), slog.String("subject", subject))
	return nil
}

// LogNotifier writes notices to the log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) PaymentCompleted(ctx context.Context, rec domain.TransactionRecord) error {
	n.logger.Info("payment completed",
		slog.String("id", rec.ID),
		slog.String("receipt", rec.MpesaReceiptNumber),
		slog.Float64("amount", rec.Amount),
	)
	return nil
}

func (n *LogNotifier) BookingCreated(ctx context.Context, b domain.Booking) error {
	n.logger.Info("booking created",
		slog.String("id", b.ID),
		slog.String("customer", b.CustomerName),
		slog.String("service_id", b.ServiceID),
	)
	return nil
}
