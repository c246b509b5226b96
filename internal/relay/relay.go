// Package relay turns accepted submissions into notification emails and
// delivers them through an SMTP relay.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"portfoliorelay/internal/config"
	"portfoliorelay/internal/contact"

	"github.com/LixenWraith/logger"
	"github.com/jordan-wright/email"
)

var ErrTimeout = errors.New("mail relay timed out")

// MailMessage is the single outbound notification derived from one accepted request.
type MailMessage struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	Body    string
}

// Sender delivers a MailMessage. Implementations must respect ctx for as long
// as the underlying transport allows.
type Sender interface {
	Send(ctx context.Context, msg MailMessage) error
}

// NewMailMessage derives the notification deterministically from a validated request.
func NewMailMessage(cfg config.SMTPConfig, req contact.Request) MailMessage {
	return MailMessage{
		From:    cfg.FromAddr,
		To:      cfg.ToAddr,
		ReplyTo: req.Email,
		Subject: "Portfolio interest from " + req.Name,
		Body:    formatBody(req),
	}
}

func formatBody(req contact.Request) string {
	message := req.Message
	if message == "" {
		message = "(no message)"
	}
	return "New interest notification from your portfolio:\n\n" +
		"Name: " + req.Name + "\n" +
		"Email: " + req.Email + "\n\n" +
		"Message:\n" + message + "\n"
}

// SMTPSender sends through the configured relay using jordan-wright/email.
type SMTPSender struct {
	cfg config.SMTPConfig

	// send is swapped in tests to avoid dialing a real relay.
	send func(e *email.Email, addr string, auth smtp.Auth, tlsConfig *tls.Config, secure bool) error
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: deliver}
}

// Send builds the email and hands it to the relay. The relay call runs in its
// own goroutine so ctx can release the caller even if the relay hangs.
func (s *SMTPSender) Send(ctx context.Context, msg MailMessage) error {
	e := buildEmail(msg)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	tlsConfig := &tls.Config{
		ServerName: s.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	logger.Debug(ctx, "Initiating SMTP delivery",
		"host", s.cfg.Host,
		"port", s.cfg.Port,
		"secure", s.cfg.Secure)

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.send(e, addr, auth, tlsConfig, s.cfg.Secure)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return sendCtx.Err()
	}
}

func buildEmail(msg MailMessage) *email.Email {
	e := email.NewEmail()
	e.From = msg.From
	e.To = []string{msg.To}
	if msg.ReplyTo != "" {
		e.ReplyTo = []string{msg.ReplyTo}
	}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	return e
}

// deliver picks implicit TLS for secure relays, STARTTLS when authenticating,
// and a plain session for unauthenticated local relays.
func deliver(e *email.Email, addr string, auth smtp.Auth, tlsConfig *tls.Config, secure bool) error {
	switch {
	case secure:
		return e.SendWithTLS(addr, auth, tlsConfig)
	case auth != nil:
		return e.SendWithStartTLS(addr, auth, tlsConfig)
	default:
		return e.Send(addr, nil)
	}
}
