package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"FilingsMonitor/internal/config"
	"FilingsMonitor/internal/domain"
	"FilingsMonitor/internal/ports"
)

// EmailDispatcher sends alerts over SMTP.
type EmailDispatcher struct {
	cfg config.EmailConfig
}

var _ ports.Dispatcher = (*EmailDispatcher)(nil)

// NewEmailDispatcher validates the SMTP settings.
func NewEmailDispatcher(cfg config.EmailConfig) (*EmailDispatcher, error) {
	switch {
	case cfg.Host == "":
		return nil, fmt.Errorf("SMTP host is required")
	case cfg.Port == 0:
		return nil, fmt.Errorf("SMTP port is required")
	case cfg.From == "":
		return nil, fmt.Errorf("from address is required")
	case len(cfg.To) == 0:
		return nil, fmt.Errorf("at least one recipient is required")
	}
	return &EmailDispatcher{cfg: cfg}, nil
}

func (e *EmailDispatcher) Name() string { return "email" }

// Dispatch renders the alert as a plain-text message and sends it.
func (e *EmailDispatcher) Dispatch(ctx context.Context, p domain.AlertPayload) error {
	return e.sendMail(ctx, e.buildMessage(Subject(p), Body(p)))
}

func (e *EmailDispatcher) buildMessage(subject, body string) []byte {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(msg.String())
}

func (e *EmailDispatcher) sendMail(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprint(e.cfg.Port))
	tlsConfig := &tls.Config{ServerName: e.cfg.Host}

	var (
		client *smtp.Client
		err    error
	)
	if e.cfg.Port == 465 {
		client, err = e.connectImplicitTLS(ctx, addr, tlsConfig)
	} else {
		client, err = e.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.cfg.Username != "" && e.cfg.Password != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(e.cfg.From)); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := client.Rcpt(extractEmail(rcpt)); err != nil {
			return fmt.Errorf("add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

func (e *EmailDispatcher) connectImplicitTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}, Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, e.cfg.Host)
}

func (e *EmailDispatcher) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}

// extractEmail extracts the address from a "Name <email>" form.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end > start {
			return addr[start+1 : end]
		}
	}
	return strings.TrimSpace(addr)
}
