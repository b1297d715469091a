package notify

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkdrop/internal/config"
)

type received struct {
	from string
	to   []string
	data string
	tls  bool
}

type testBackend struct {
	mu       sync.Mutex
	user     string
	password string
	mail     []received
}

func (b *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b, conn: c}, nil
}

func (b *testBackend) delivered() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.mail...)
}

type testSession struct {
	backend *testBackend
	conn    *smtp.Conn
	authed  bool
	cur     received
}

func (s *testSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.user || password != s.backend.password {
			return smtp.ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

func (s *testSession) Mail(from string, opts *smtp.MailOptions) error {
	if s.backend.user != "" && !s.authed {
		return smtp.ErrAuthRequired
	}
	s.cur.from = from
	return nil
}

func (s *testSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = string(b)
	_, s.cur.tls = s.conn.TLSConnectionState()
	s.backend.mu.Lock()
	s.backend.mail = append(s.backend.mail, s.cur)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.cur = received{} }
func (s *testSession) Logout() error { return nil }

// selfSigned returns a certificate for 127.0.0.1 and a pool that trusts it.
func selfSigned(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

type relayMode int

const (
	relayPlain relayMode = iota
	relayStartTLS
	relayImplicitTLS
)

// startSMTP runs a relay on 127.0.0.1 and returns its port and the pool trusting its certificate.
func startSMTP(t *testing.T, be *testBackend, mode relayMode) (int, *x509.CertPool) {
	t.Helper()
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	cert, pool := selfSigned(t)
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	switch mode {
	case relayStartTLS:
		srv.TLSConfig = tlsConfig
	case relayImplicitTLS:
		ln = tls.NewListener(ln, tlsConfig)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return port, pool
}

func TestSMTPSenderDelivers(t *testing.T) {
	be := &testBackend{user: "mailer", password: "hunter2"}
	port, _ := startSMTP(t, be, relayPlain)

	sender, err := NewSMTPSender("127.0.0.1", port, "mailer", "hunter2", "links@example.com")
	require.NoError(t, err)

	id, err := sender.Notify(context.Background(), "alice@example.com", "Your secure link", "Open your link:\nhttps://x/view/tok")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<") && strings.HasSuffix(id, "@example.com>"), id)

	mail := be.delivered()
	require.Len(t, mail, 1)
	got := mail[0]
	assert.False(t, got.tls)
	assert.Equal(t, "links@example.com", got.from)
	assert.Equal(t, []string{"alice@example.com"}, got.to)
	assert.Contains(t, got.data, "Subject: Your secure link\r\n")
	assert.Contains(t, got.data, "Message-ID: "+id+"\r\n")
	assert.Contains(t, got.data, "Open your link:\r\nhttps://x/view/tok")
}

func TestSMTPSenderWithoutAuth(t *testing.T) {
	be := &testBackend{}
	port, _ := startSMTP(t, be, relayPlain)

	sender, err := NewSMTPSender("127.0.0.1", port, "", "", "links@example.com")
	require.NoError(t, err)

	_, err = sender.Notify(context.Background(), "alice@example.com", "s", "b")
	require.NoError(t, err)
	assert.Len(t, be.delivered(), 1)
}

func TestSMTPSenderUpgradesToStartTLS(t *testing.T) {
	be := &testBackend{user: "mailer", password: "hunter2"}
	port, pool := startSMTP(t, be, relayStartTLS)

	sender, err := NewSMTPSender("127.0.0.1", port, "mailer", "hunter2", "links@example.com",
		WithSMTPTLSConfig(&tls.Config{RootCAs: pool}))
	require.NoError(t, err)

	_, err = sender.Notify(context.Background(), "alice@example.com", "s", "b")
	require.NoError(t, err)

	mail := be.delivered()
	require.Len(t, mail, 1)
	assert.True(t, mail[0].tls)
}

func TestSMTPSenderRequiresStartTLS(t *testing.T) {
	be := &testBackend{}
	port, _ := startSMTP(t, be, relayPlain)

	sender, err := NewSMTPSender("127.0.0.1", port, "", "", "links@example.com",
		WithSMTPSecurity(config.SMTPSecurityStartTLS))
	require.NoError(t, err)

	_, err = sender.Notify(context.Background(), "alice@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
	assert.Empty(t, be.delivered())
}

func TestSMTPSenderImplicitTLS(t *testing.T) {
	be := &testBackend{user: "mailer", password: "hunter2"}
	port, pool := startSMTP(t, be, relayImplicitTLS)

	sender, err := NewSMTPSender("127.0.0.1", port, "mailer", "hunter2", "links@example.com",
		WithSMTPSecurity(config.SMTPSecurityTLS), WithSMTPTLSConfig(&tls.Config{RootCAs: pool}))
	require.NoError(t, err)

	_, err = sender.Notify(context.Background(), "alice@example.com", "s", "b")
	require.NoError(t, err)

	mail := be.delivered()
	require.Len(t, mail, 1)
	assert.True(t, mail[0].tls)
}

func TestSMTPSenderBadCredentials(t *testing.T) {
	be := &testBackend{user: "mailer", password: "hunter2"}
	port, _ := startSMTP(t, be, relayPlain)

	sender, err := NewSMTPSender("127.0.0.1", port, "mailer", "wrong", "links@example.com")
	require.NoError(t, err)

	_, err = sender.Notify(context.Background(), "alice@example.com", "s", "b")
	require.Error(t, err)
	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), err.Error())
	assert.Equal(t, 535, smtpErr.Code)
	assert.Empty(t, be.delivered())
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	// Accepts connections but never sends a greeting.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	conns := make(chan net.Conn, 4)
	t.Cleanup(func() {
		ln.Close()
		select {
		case conn := <-conns:
			conn.Close()
		default:
		}
	})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conns <- conn
		}
	}()

	sender, err := NewSMTPSender("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, "", "", "links@example.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = sender.Notify(ctx, "alice@example.com", "s", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewSMTPSenderValidation(t *testing.T) {
	_, err := NewSMTPSender("", 25, "", "", "a@example.com")
	assert.Error(t, err)
	_, err = NewSMTPSender("smtp.example.com", 25, "", "", "")
	assert.Error(t, err)
	_, err = NewSMTPSender("smtp.example.com", 25, "", "", "a@example.com", WithSMTPSecurity("ssl"))
	assert.Error(t, err)
}

func TestBuildMessageEncodesSubject(t *testing.T) {
	msg := buildMessage("a@example.com", "b@example.com", "Für dich", "hi", "<id@example.com>", time.Unix(0, 0).UTC())
	assert.Contains(t, msg, "Subject: =?utf-8?q?F=C3=BCr_dich?=\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nhi\r\n"))
}

func TestLogSender(t *testing.T) {
	id, err := LogSender{}.Notify(context.Background(), "a@example.com", "s", "body")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "log-"))
}
