package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/BaSui01/humanloop/internal/tlsutil"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

// Message is an outgoing plain-text mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Reply is an incoming mail relevant to a request.
type Reply struct {
	From    string
	Subject string
	Body    string
}

// Sender delivers outgoing mail.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Inbox returns unseen replies and marks them seen.
type Inbox interface {
	FetchUnseen(ctx context.Context) ([]Reply, error)
}

// ServerConfig describes one mail server endpoint.
type ServerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (465/993). Otherwise SMTP upgrades with STARTTLS when offered.
	ImplicitTLS bool
	Timeout     time.Duration
}

func (c ServerConfig) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg ServerConfig
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg ServerConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	dialer := &net.Dialer{Timeout: s.cfg.timeout()}
	tlsConfig := tlsutil.ForHost(s.cfg.Host)

	var conn net.Conn
	var err error
	if s.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", s.cfg.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.addr())
	}
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.timeout()))
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !s.cfg.ImplicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(Render(msg, time.Now())); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// Render encodes msg as an RFC 5322 plain-text message.
func Render(msg Message, now time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", msg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return buf.Bytes()
}

// IMAPInbox reads unseen mail from an IMAP mailbox.
type IMAPInbox struct {
	cfg     ServerConfig
	mailbox string
	logger  *zap.Logger
}

// NewIMAPInbox creates an IMAPInbox reading mailbox (default INBOX).
func NewIMAPInbox(cfg ServerConfig, mailbox string, logger *zap.Logger) *IMAPInbox {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAPInbox{cfg: cfg, mailbox: mailbox, logger: logger}
}

// FetchUnseen implements Inbox. Fetching the full body marks messages seen.
func (in *IMAPInbox) FetchUnseen(ctx context.Context) ([]Reply, error) {
	dialer := &net.Dialer{Timeout: in.cfg.timeout()}

	var c *client.Client
	var err error
	if in.cfg.ImplicitTLS {
		c, err = client.DialWithDialerTLS(dialer, in.cfg.addr(), tlsutil.ForHost(in.cfg.Host))
	} else {
		c, err = client.DialWithDialer(dialer, in.cfg.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()
	c.Timeout = in.cfg.timeout()

	if err := c.Login(in.cfg.Username, in.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(in.mailbox, false); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", in.mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 || ctx.Err() != nil {
		return nil, ctx.Err()
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var replies []Reply
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		reply, err := parseMessage(body)
		if err != nil {
			in.logger.Debug("skip unparsable message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		if reply.Subject == "" && msg.Envelope != nil {
			reply.Subject = msg.Envelope.Subject
		}
		if reply.From == "" && msg.Envelope != nil && len(msg.Envelope.From) > 0 {
			reply.From = msg.Envelope.From[0].Address()
		}
		replies = append(replies, reply)
	}
	if err := <-done; err != nil {
		return replies, fmt.Errorf("imap fetch: %w", err)
	}
	return replies, nil
}

// parseMessage reads the headers and the first text/plain part of a raw message.
func parseMessage(r io.Reader) (Reply, error) {
	m, err := mail.ReadMessage(r)
	if err != nil {
		return Reply{}, err
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(m.Header.Get("Subject"))
	if err != nil {
		subject = m.Header.Get("Subject")
	}
	from := m.Header.Get("From")
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}

	body, err := plainText(m.Header.Get("Content-Type"), m.Body)
	if err != nil {
		return Reply{}, err
	}
	return Reply{From: from, Subject: subject, Body: body}, nil
}

func plainText(contentType string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(body)
		return string(data), err
	}

	mr := multipart.NewReader(body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(partType, "multipart/") {
			return plainText(part.Header.Get("Content-Type"), part)
		}
		if partType == "text/plain" || partType == "" {
			data, err := io.ReadAll(part)
			return string(data), err
		}
	}
}
