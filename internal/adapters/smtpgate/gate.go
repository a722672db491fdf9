// Package smtpgate runs an SMTP front-end that evaluates outbound mail before
// it leaves the relay. A BLOCK decision rejects the message at DATA time;
// anything else is annotated with decision headers and forwarded upstream.
package smtpgate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
)

// Checker evaluates a draft and returns the scoring outcome.
type Checker interface {
	Check(ctx context.Context, draft *core.Draft) *core.ScoringResult
}

// Resolver maps an SMTP address to a directory identity.
type Resolver interface {
	ResolveEmail(email string) (core.UserRecord, bool)
}

// Options configure the gate.
type Options struct {
	ListenAddr      string
	Domain          string
	BlockEnabled    bool
	UpstreamAddr    string
	UpstreamPort    int
	UpstreamEnabled bool
	DecisionHeader  string
	ScoreHeader     string
	ReasonHeader    string
}

// Gate is the SMTP server wrapper.
type Gate struct {
	checker  Checker
	resolver Resolver
	logger   *zap.Logger
	opts     Options
	server   *smtp.Server
}

// NewGate creates a gate. Header names default to the X-Misdelivery family.
func NewGate(checker Checker, resolver Resolver, opts Options, logger *zap.Logger) *Gate {
	if opts.Domain == "" {
		opts.Domain = "localhost"
	}
	if opts.DecisionHeader == "" {
		opts.DecisionHeader = "X-Misdelivery-Decision"
	}
	if opts.ScoreHeader == "" {
		opts.ScoreHeader = "X-Misdelivery-Score"
	}
	if opts.ReasonHeader == "" {
		opts.ReasonHeader = "X-Misdelivery-Reasons"
	}
	return &Gate{checker: checker, resolver: resolver, logger: logger, opts: opts}
}

// Start brings the SMTP listener up in the background.
func (g *Gate) Start() error {
	g.server = smtp.NewServer(&backend{gate: g})
	g.server.Addr = g.opts.ListenAddr
	g.server.Domain = g.opts.Domain
	g.server.ReadTimeout = 30 * time.Second
	g.server.WriteTimeout = 30 * time.Second
	g.server.MaxMessageBytes = 30 * 1024 * 1024
	g.server.MaxRecipients = 50
	g.server.AllowInsecureAuth = true

	g.logger.Info("SMTP gate starting", zap.String("address", g.opts.ListenAddr))

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != smtp.ErrServerClosed {
			g.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the listener.
func (g *Gate) Stop() error {
	if g.server != nil {
		return g.server.Close()
	}
	return nil
}

type backend struct {
	gate *Gate
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{gate: b.gate}, nil
}

type session struct {
	gate       *Gate
	sender     string
	recipients []string
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *session) Logout() error {
	return nil
}

// Data evaluates the message. BLOCK rejects with a 550; everything else gets
// decision headers prepended and is relayed upstream.
func (s *session) Data(r io.Reader) error {
	rawData, err := io.ReadAll(r)
	if err != nil {
		s.gate.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	msg, err := mail.ReadMessage(bytes.NewReader(rawData))
	if err != nil {
		s.gate.logger.Error("Failed to parse message", zap.Error(err))
		return err
	}

	draft := s.buildDraft(msg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result := s.gate.checker.Check(ctx, draft)

	if result.Decision == core.DecisionBlock && s.gate.opts.BlockEnabled {
		s.gate.logger.Info("Rejecting outbound message",
			zap.String("from", s.sender),
			zap.Int("score", result.Score),
			zap.Strings("reasons", result.Reasons))
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      fmt.Sprintf("Message held: possible misdelivery (score %d)", result.Score),
		}
	}

	annotated := s.annotate(rawData, result)

	if s.gate.opts.UpstreamEnabled {
		if err := s.gate.relay(s.sender, s.recipients, annotated); err != nil {
			s.gate.logger.Error("Failed to relay message upstream",
				zap.Error(err),
				zap.String("from", s.sender))
			return err
		}
	}

	s.gate.logger.Info("Processed outbound message",
		zap.String("from", s.sender),
		zap.String("decision", result.Decision),
		zap.Int("score", result.Score))
	return nil
}

// buildDraft maps the SMTP envelope and MIME content onto a draft. Sender and
// recipients resolve through the directory when their address is known.
func (s *session) buildDraft(msg *mail.Message) *core.Draft {
	body, attachments, err := extractContent(msg)
	if err != nil {
		s.gate.logger.Warn("Failed to extract message content", zap.Error(err))
	}

	senderID := ""
	if record, ok := s.gate.resolver.ResolveEmail(s.sender); ok {
		senderID = record.UserID
	}

	recipients := make([]core.Recipient, 0, len(s.recipients))
	for _, address := range s.recipients {
		recipient := core.Recipient{Email: address}
		if record, ok := s.gate.resolver.ResolveEmail(address); ok {
			recipient.UserID = record.UserID
		}
		recipients = append(recipients, recipient)
	}

	subject := msg.Header.Get("Subject")
	text := strings.TrimSpace(subject + "\n" + body)

	return &core.Draft{
		SenderUserID: senderID,
		To:           recipients,
		MessageText:  text,
		Attachments:  attachments,
	}
}

// annotate prepends the decision headers to the original message bytes,
// leaving the MIME structure untouched.
func (s *session) annotate(rawData []byte, result *core.ScoringResult) []byte {
	var out bytes.Buffer
	fmt.Fprintf(&out, "%s: %s\r\n", s.gate.opts.DecisionHeader, result.Decision)
	fmt.Fprintf(&out, "%s: %d\r\n", s.gate.opts.ScoreHeader, result.Score)
	fmt.Fprintf(&out, "%s: %s\r\n", s.gate.opts.ReasonHeader, strings.Join(result.Reasons, ","))
	out.Write(rawData)
	return out.Bytes()
}

// relay hands the annotated message to the upstream MTA.
func (g *Gate) relay(sender string, recipients []string, data []byte) error {
	upstream := fmt.Sprintf("%s:%d", g.opts.UpstreamAddr, g.opts.UpstreamPort)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", upstream, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect upstream: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := client.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := false
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient, nil); err != nil {
			g.logger.Warn("RCPT TO failed",
				zap.String("recipient", recipient),
				zap.Error(err))
			continue
		}
		accepted = true
	}
	if !accepted {
		return fmt.Errorf("all recipients were rejected")
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		g.logger.Warn("QUIT failed", zap.Error(err))
	}
	return nil
}
