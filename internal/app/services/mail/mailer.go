// Package mail renders and delivers the service's outbound email.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/contactbook/internal/app/domain/contact"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Template names.
const (
	TemplateVerifyEmail    = "verify_email.html"
	TemplateBirthdayDigest = "birthday_digest.html"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message is one outbound email. Data is passed to the named template.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Template string
	Data     interface{}
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// VerificationData feeds the confirmation template.
type VerificationData struct {
	Host     string
	Username string
	Token    string
}

// VerificationMessage builds the confirmation email sent after signup.
func VerificationMessage(to, username, host, token string) Message {
	if host != "" && !strings.HasSuffix(host, "/") {
		host += "/"
	}
	return Message{
		To:       to,
		ToName:   username,
		Subject:  "Confirm your email",
		Template: TemplateVerifyEmail,
		Data:     VerificationData{Host: host, Username: username, Token: token},
	}
}

// DigestData feeds the upcoming-birthday digest template.
type DigestData struct {
	Username string
	Days     int
	Entries  []DigestEntry
}

// DigestEntry is one contact in the digest with the date it is celebrated on.
type DigestEntry struct {
	contact.Contact
	On    time.Time
	Turns int
}

// DigestMessage builds the upcoming-birthday digest for one user. Entries are
// ordered by the date of the coming birthday.
func DigestMessage(to, username string, days int, contacts []contact.Contact, now time.Time) Message {
	entries := make([]DigestEntry, 0, len(contacts))
	for _, c := range contacts {
		on := contact.NextBirthday(c.BirthDate.Time, now)
		entries = append(entries, DigestEntry{Contact: c, On: on, Turns: on.Year() - c.BirthDate.Year()})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].On.Before(entries[j].On) })

	return Message{
		To:       to,
		ToName:   username,
		Subject:  "Upcoming birthdays",
		Template: TemplateBirthdayDigest,
		Data:     DigestData{Username: username, Days: days, Entries: entries},
	}
}

// Render executes the message template into an HTML body.
func Render(msg Message) (string, error) {
	if msg.Template == "" {
		return "", errors.New("mail: template is required")
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, msg.Template, msg.Data); err != nil {
		return "", fmt.Errorf("render %s: %w", msg.Template, err)
	}
	return buf.String(), nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	StartTLS bool
	SSLTLS   bool
	Timeout  time.Duration
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
	now func() time.Time
}

// NewSMTPMailer validates cfg and returns a mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mail: smtp host is required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("mail: invalid from address: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPMailer{cfg: cfg, now: time.Now}, nil
}

// Send renders msg and delivers it.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg)
	if err != nil {
		return err
	}
	raw, err := m.compose(msg, body)
	if err != nil {
		return err
	}

	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	tlsConfig := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if m.cfg.SSLTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(m.now().Add(m.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if m.cfg.StartTLS && !m.cfg.SSLTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	return client, nil
}

func (m *SMTPMailer) compose(msg Message, body string) ([]byte, error) {
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("mail: invalid recipient: %w", err)
	}
	to.Name = msg.ToName
	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.From}

	var buf bytes.Buffer
	headers := [][2]string{
		{"From", from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), m.cfg.Host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/html; charset="utf-8"`},
		{"Content-Transfer-Encoding", "8bit"},
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes(), nil
}

// LogMailer records messages instead of sending them. Used when no SMTP
// server is configured.
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer returns a mailer that only logs.
func NewLogMailer(log *logger.Logger) *LogMailer {
	if log == nil {
		log = logger.NewDefault("mail")
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if _, err := Render(msg); err != nil {
		return err
	}
	m.log.WithContext(ctx).
		WithField("to", msg.To).
		WithField("template", msg.Template).
		Info("mail delivery disabled, message not sent")
	return nil
}
