// Package mailer delivers the weekly report over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/budget-autopilot/internal/apperror"
	"github.com/dvloznov/budget-autopilot/internal/domain"
	"github.com/dvloznov/budget-autopilot/internal/logger"
)

// SendFunc hands a finished message to the SMTP server. smtp.SendMail
// satisfies it.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Config is the SMTP account used for delivery.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends MIME messages through one SMTP server.
type Mailer struct {
	cfg   Config
	auth  smtp.Auth
	send  SendFunc
	now   func() time.Time
	newID func() string
}

// Option customises a Mailer.
type Option func(*Mailer)

// WithSendFunc replaces smtp.SendMail, e.g. in tests.
func WithSendFunc(f SendFunc) Option {
	return func(m *Mailer) { m.send = f }
}

// WithClock sets the clock used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(m *Mailer) { m.now = now }
}

// New creates a Mailer. PLAIN authentication is used when a username is
// configured.
func New(cfg Config, opts ...Option) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("New: smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("New: sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	m := &Mailer{
		cfg:   cfg,
		send:  smtp.SendMail,
		now:   time.Now,
		newID: uuid.NewString,
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Send delivers the message to every recipient and returns its Message-ID.
func (m *Mailer) Send(ctx context.Context, subject, body string, attachments []domain.Attachment, recipients []string) (string, error) {
	const op = "mailer.send"
	log := logger.FromContext(ctx)

	to := cleanRecipients(recipients)
	if len(to) == 0 {
		return "", apperror.Validation(op, "no recipients", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", apperror.Classify(op, err)
	}

	messageID := fmt.Sprintf("<%s@%s>", m.newID(), domainOf(m.cfg.From))
	msg, err := buildMessage(message{
		From:        m.cfg.From,
		To:          to,
		Subject:     subject,
		Body:        body,
		MessageID:   messageID,
		Date:        m.now(),
		Attachments: attachments,
	})
	if err != nil {
		return "", apperror.Validation(op, "build message", err)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, m.auth, m.cfg.From, to, msg); err != nil {
		return "", classify(op, err)
	}

	log.Info().
		Str("message_id", messageID).
		Int("recipients", len(to)).
		Int("attachments", len(attachments)).
		Msg("Report email sent")
	return messageID, nil
}

func cleanRecipients(recipients []string) []string {
	var to []string
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[strings.ToLower(r)] {
			continue
		}
		seen[strings.ToLower(r)] = true
		to = append(to, r)
	}
	return to
}

func domainOf(address string) string {
	address = strings.TrimSuffix(strings.TrimSpace(address), ">")
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}

// classify maps SMTP replies: 4xx is temporary, rejected credentials are an
// authentication failure and other 5xx replies are permanent. Dial and
// connection errors are transient.
func classify(op string, err error) *apperror.Error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code == 530 || tpErr.Code == 534 || tpErr.Code == 535:
			return apperror.Auth(op, fmt.Sprintf("smtp %d", tpErr.Code), err)
		case tpErr.Code >= 400 && tpErr.Code < 500:
			return apperror.Transient(op, fmt.Sprintf("smtp %d", tpErr.Code), err)
		default:
			return apperror.Validation(op, fmt.Sprintf("smtp %d", tpErr.Code), err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return apperror.Critical(op, "", err)
	}
	return apperror.Transient(op, "smtp delivery failed", err)
}
