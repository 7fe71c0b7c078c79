// Package notify delivers generated summaries by email or leaves them for
// the web dashboard.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/anatolykoptev/go_ytdigest/internal/engine"
)

// ErrMailerNotConfigured is wrapped when email delivery is requested without SMTP settings.
var ErrMailerNotConfigured = errors.New("smtp is not configured")

// ErrDelivery matches every DeliveryError via errors.Is.
var ErrDelivery = errors.New("delivery failed")

// DeliveryError means a summary could not be handed to the mail transport.
type DeliveryError struct {
	To  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %q: %v", e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// Mailer hands a composed message to a transport.
type Mailer interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPMailer sends through an SMTP relay with PLAIN auth. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when offered.
type SMTPMailer struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Send implements Mailer. go-smtp has no context support, so the send runs
// in a goroutine and ctx only bounds how long the caller waits.
func (m *SMTPMailer) Send(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	var auth sasl.Client
	if m.User != "" {
		auth = sasl.NewPlainClient("", m.User, m.Password)
	}

	done := make(chan error, 1)
	go func() {
		if m.Port == 465 {
			done <- smtp.SendMailTLS(addr, auth, from, to, bytes.NewReader(msg))
			return
		}
		done <- smtp.SendMail(addr, auth, from, to, bytes.NewReader(msg))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifier routes a summary to its delivery mode.
type Notifier struct {
	mailer Mailer
	from   string
	now    func() time.Time
	logger *slog.Logger
}

// New returns a Notifier. mailer may be nil when SMTP is not configured;
// email deliveries then fail with ErrMailerNotConfigured.
func New(mailer Mailer, from string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{mailer: mailer, from: from, now: time.Now, logger: logger}
}

// Deliver sends m according to mode ("email" or "web"). Web delivery is a
// no-op: the stored Generated Item is what the dashboard shows.
func (n *Notifier) Deliver(ctx context.Context, mode string, m Message) error {
	if mode != "email" {
		return nil
	}
	fail := func(err error) error {
		engine.IncrDeliveryErrors()
		return &DeliveryError{To: m.To, Err: err}
	}
	if n.mailer == nil {
		return fail(ErrMailerNotConfigured)
	}
	if m.To == "" {
		return fail(errors.New("no recipient address"))
	}

	msg, err := Compose(n.from, m, n.now())
	if err != nil {
		return fail(err)
	}
	if err := n.mailer.Send(ctx, n.from, []string{m.To}, msg); err != nil {
		return fail(err)
	}
	engine.IncrEmailsSent()
	n.logger.Info("summary emailed", slog.String("to", m.To), slog.String("video", m.VideoURL))
	return nil
}
