package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/gofrs/uuid"

	"linkdrop/internal/config"
	"linkdrop/internal/service"
)

const smtpsPort = 465

// errUpgrade ends a plain session whose server offered STARTTLS.
var errUpgrade = errors.New("smtp: reconnect with STARTTLS")

// SMTPSender delivers plain-text mail through an SMTP relay.
type SMTPSender struct {
	addr     string
	host     string
	port     int
	username string
	password string
	from     string
	security string
	tls      *tls.Config
	dialer   net.Dialer
}

var _ service.Notifier = (*SMTPSender)(nil)

type SMTPOption func(*SMTPSender)

// WithSMTPSecurity selects auto, starttls, tls or none.
func WithSMTPSecurity(mode string) SMTPOption {
	return func(s *SMTPSender) {
		if mode != "" {
			s.security = mode
		}
	}
}

// WithSMTPTLSConfig overrides the TLS settings, e.g. to trust a private CA.
func WithSMTPTLSConfig(c *tls.Config) SMTPOption {
	return func(s *SMTPSender) { s.tls = c }
}

// NewSMTPSender creates a new SMTP sender. Host, port and from are required.
func NewSMTPSender(host string, port int, username, password, from string, opts ...SMTPOption) (*SMTPSender, error) {
	if host == "" || port == 0 {
		return nil, fmt.Errorf("SMTP host and port are required")
	}
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	s := &SMTPSender{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		security: config.SMTPSecurityAuto,
		dialer:   net.Dialer{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	switch s.security {
	case config.SMTPSecurityAuto, config.SMTPSecurityStartTLS, config.SMTPSecurityTLS, config.SMTPSecurityNone:
	default:
		return nil, fmt.Errorf("unsupported SMTP security %q", s.security)
	}
	return s, nil
}

// Notify returns the generated Message-ID. Cancelling ctx aborts the session.
func (s *SMTPSender) Notify(ctx context.Context, to, subject, body string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	messageID := fmt.Sprintf("<%s@%s>", id, domainOf(s.from))
	msg := buildMessage(s.from, to, subject, body, messageID, time.Now())

	deliver := func(c *smtp.Client) error {
		if s.username != "" {
			if ok, _ := c.Extension("AUTH"); !ok {
				return errors.New("smtp: server doesn't support AUTH")
			}
			if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
				return err
			}
		}
		if err := c.SendMail(s.from, []string{to}, strings.NewReader(msg)); err != nil {
			return err
		}
		return c.Quit()
	}

	switch {
	case s.security == config.SMTPSecurityTLS,
		s.security == config.SMTPSecurityAuto && s.port == smtpsPort:
		err = s.session(ctx, true, false, deliver)
	case s.security == config.SMTPSecurityStartTLS:
		err = s.session(ctx, false, true, deliver)
	case s.security == config.SMTPSecurityNone:
		err = s.session(ctx, false, false, deliver)
	default:
		err = s.session(ctx, false, false, func(c *smtp.Client) error {
			if ok, _ := c.Extension("STARTTLS"); ok {
				c.Quit()
				return errUpgrade
			}
			return deliver(c)
		})
		if errors.Is(err, errUpgrade) {
			err = s.session(ctx, false, true, deliver)
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("smtp send: %w", ctxErr)
		}
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return messageID, nil
}

// session dials the relay and runs fn on a client. The connection is closed
// as soon as ctx is done, which fails any command in flight.
func (s *SMTPSender) session(ctx context.Context, implicitTLS, startTLS bool, fn func(*smtp.Client) error) error {
	var (
		conn net.Conn
		err  error
	)
	if implicitTLS {
		d := tls.Dialer{NetDialer: &s.dialer, Config: s.tlsConfig()}
		conn, err = d.DialContext(ctx, "tcp", s.addr)
	} else {
		conn, err = s.dialer.DialContext(ctx, "tcp", s.addr)
	}
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var c *smtp.Client
	if startTLS {
		// NewClientStartTLS closes conn on failure.
		if c, err = smtp.NewClientStartTLS(conn, s.tlsConfig()); err != nil {
			return err
		}
	} else {
		c = smtp.NewClient(conn)
	}
	defer c.Close()
	return fn(c)
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.tls != nil {
		cfg = s.tls.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = s.host
	}
	return cfg
}

func buildMessage(from, to, subject, body, messageID string, date time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}
