package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/tool"
)

// ErrNotConfigured is reported when no SMTP host or sender address is set.
var ErrNotConfigured = errors.New("mailer: smtp not configured")

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Success   bool
	MessageID string
	Err       error
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) Result
}

// defaultSendTimeout bounds one SMTP conversation when ctx has no deadline.
const defaultSendTimeout = 30 * time.Second

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers through a single SMTP relay using net/smtp.
type SMTPSender struct {
	cfg  config.EmailConfig
	log  *zap.SugaredLogger
	send sendFunc
}

func NewSMTPSender(cfg *config.Config, log *zap.SugaredLogger) *SMTPSender {
	return &SMTPSender{cfg: cfg.Email, log: log, send: sendMail}
}

// sendMail is smtp.SendMail on a connection bound to ctx: the dial, every
// read and every write fail once ctx is done or its deadline passes.
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Hello("localhost"); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) Result {
	if !s.cfg.Enabled() {
		return Result{Err: ErrNotConfigured}
	}
	if msg.To == "" {
		return Result{Err: errors.New("mailer: empty recipient")}
	}
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	messageID := fmt.Sprintf("<%s@%s>", tool.GenerateUUIDV7(), domainOf(s.cfg.From))
	raw, err := buildMIME(s.cfg.From, msg, messageID, time.Now())
	if err != nil {
		return Result{Err: fmt.Errorf("mailer: build message: %w", err)}
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	}
	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	if err := s.send(ctx, addr, auth, envelopeAddr(s.cfg.From), []string{msg.To}, raw); err != nil {
		return Result{MessageID: messageID, Err: fmt.Errorf("mailer: send to %s: %w", addr, err)}
	}
	return Result{Success: true, MessageID: messageID}
}

// envelopeAddr strips the display name for MAIL FROM.
func envelopeAddr(from string) string {
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Address
	}
	return from
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.TrimSuffix(addr[i+1:], ">")
	}
	return "localhost"
}

// buildMIME renders a multipart/alternative message with text and HTML parts.
func buildMIME(from string, msg Message, messageID string, date time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	headers := [][2]string{
		{"From", from},
		{"To", msg.To},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", date.Format(time.RFC1123Z)},
		{"Message-ID", messageID},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}
	for _, h := range headers {
		fmt.Fprintf(&out, "%s: %s\r\n", h[0], h[1])
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewSMTPSender, fx.As(new(Sender))),
		NewTemplates,
	),
)
