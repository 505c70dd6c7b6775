package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const (
	TLSModeNone     = "none"
	TLSModeStartTLS = "starttls"
	TLSModeTLS      = "tls"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLSMode  string
	// LocalName is sent in EHLO.
	LocalName string
}

type SMTPProvider struct {
	cfg Config
	now func() time.Time
}

func NewSMTP(cfg Config) *SMTPProvider {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeStartTLS
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	return &SMTPProvider{cfg: cfg, now: time.Now}
}

func (p *SMTPProvider) validate() error {
	switch {
	case p.cfg.Host == "":
		return fmt.Errorf("%w: smtp host is empty", ErrNotConfigured)
	case p.cfg.Port <= 0:
		return fmt.Errorf("%w: smtp port is invalid", ErrNotConfigured)
	case p.cfg.From == "":
		return fmt.Errorf("%w: sender address is empty", ErrNotConfigured)
	case p.cfg.Username != "" && p.cfg.Password == "":
		return fmt.Errorf("%w: smtp password is empty", ErrNotConfigured)
	}
	switch p.cfg.TLSMode {
	case TLSModeNone, TLSModeStartTLS, TLSModeTLS:
	default:
		return fmt.Errorf("%w: unknown tls mode %q", ErrNotConfigured, p.cfg.TLSMode)
	}
	return nil
}

func (p *SMTPProvider) Verify(ctx context.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	client, stop, err := p.session(ctx)
	if err != nil {
		return err
	}
	defer stop()
	return client.Quit()
}

func (p *SMTPProvider) Send(ctx context.Context, msg Message) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	if len(msg.To) == 0 {
		return Result{}, errors.New("message has no recipients")
	}

	raw, err := buildMessage(p.sender(), msg, p.now())
	if err != nil {
		return Result{}, err
	}

	client, stop, err := p.session(ctx)
	if err != nil {
		return Result{}, err
	}
	defer stop()

	if err := client.Mail(p.cfg.From); err != nil {
		return Result{}, fmt.Errorf("smtp MAIL FROM: %w", err)
	}

	var result Result
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			if permanent(err) {
				result.Rejected = append(result.Rejected, rcpt)
				continue
			}
			return Result{}, fmt.Errorf("smtp RCPT TO: %w", err)
		}
		result.Accepted = append(result.Accepted, rcpt)
	}
	if len(result.Accepted) == 0 {
		_ = client.Reset()
		_ = client.Quit()
		return result, nil
	}

	response, err := data(client, raw)
	if err != nil {
		return Result{}, err
	}
	result.Response = response
	_ = client.Quit()
	return result, nil
}

func (p *SMTPProvider) sender() string {
	if name := strings.TrimSpace(p.cfg.FromName); name != "" {
		return (&mailAddress{Name: name, Address: p.cfg.From}).String()
	}
	return p.cfg.From
}

// session dials, negotiates TLS and authenticates. stop closes the
// connection and detaches it from ctx.
func (p *SMTPProvider) session(ctx context.Context) (*smtp.Client, func(), error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	detach := context.AfterFunc(ctx, func() { _ = conn.Close() })
	stop := func() {
		detach()
		_ = conn.Close()
	}

	tlsConfig := &tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}
	if p.cfg.TLSMode == TLSModeTLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			stop()
			return nil, nil, fmt.Errorf("smtp tls handshake: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("smtp greeting: %w", err)
	}
	if err := client.Hello(p.cfg.LocalName); err != nil {
		stop()
		return nil, nil, fmt.Errorf("smtp hello: %w", err)
	}
	if p.cfg.TLSMode == TLSModeStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			stop()
			return nil, nil, errors.New("smtp server does not offer STARTTLS")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			stop()
			return nil, nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if p.cfg.Username != "" {
		auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			stop()
			return nil, nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, stop, nil
}

// data runs DATA by hand because smtp.Client discards the final reply, which
// carries the relay's queue id.
func data(client *smtp.Client, raw []byte) (string, error) {
	id, err := client.Text.Cmd("DATA")
	if err != nil {
		return "", fmt.Errorf("smtp DATA: %w", err)
	}
	client.Text.StartResponse(id)
	_, _, err = client.Text.ReadResponse(354)
	client.Text.EndResponse(id)
	if err != nil {
		return "", fmt.Errorf("smtp DATA: %w", err)
	}

	w := client.Text.DotWriter()
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp write body: %w", err)
	}
	code, message, err := client.Text.ReadResponse(250)
	if err != nil {
		if permanent(err) {
			return "", fmt.Errorf("%w: smtp end of data: %w", ErrMessageRejected, err)
		}
		return "", fmt.Errorf("smtp end of data: %w", err)
	}
	return fmt.Sprintf("%d %s", code, message), nil
}

func permanent(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code >= 500
}
