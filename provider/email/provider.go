// Package email 实现基于 SMTP 发送、IMAP 轮询回复的人机交互渠道.
//
// 每封请求邮件的主题携带 [HumanLoop:<request_id>] 标签, 回复时保留该标签即可
// 关联到请求。回复正文中位于响应标记之间的文本被视为人工答复。
package email

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// Config configures the email provider.
type Config struct {
	SMTP          ServerConfig
	IMAP          ServerConfig
	Mailbox       string
	From          string
	Recipients    []string
	CheckInterval time.Duration
	ShowMetadata  bool
	Retry         retry.Policy
}

// Provider asks humans over e-mail.
type Provider struct {
	*provider.Base

	cfg     Config
	sender  Sender
	inbox   Inbox
	retryer *retry.Retryer
	logger  *zap.Logger

	mu         sync.Mutex
	byRequest  map[string]string // request id -> conversation id
	threadSubj map[string]string // conversation id -> first subject title

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithSender overrides the outgoing transport.
func WithSender(s Sender) Option {
	return func(p *Provider) { p.sender = s }
}

// WithInbox overrides the incoming transport.
func WithInbox(in Inbox) Option {
	return func(p *Provider) { p.inbox = in }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates an email provider. Without WithSender/WithInbox it uses SMTP and IMAP
// with the configured servers.
func New(name string, cfg Config, opts ...Option) (*Provider, error) {
	if len(cfg.Recipients) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "email provider: at least one recipient is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.SMTP.Username
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}

	p := &Provider{
		cfg:        cfg,
		logger:     zap.NewNop(),
		byRequest:  make(map[string]string),
		threadSubj: make(map[string]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.Base = provider.NewBase(name, provider.WithLogger(p.logger))
	p.logger = p.Base.Logger().With(zap.String("channel", "email"))
	if p.sender == nil {
		p.sender = NewSMTPSender(cfg.SMTP)
	}
	if p.inbox == nil {
		p.inbox = NewIMAPInbox(cfg.IMAP, cfg.Mailbox, p.logger)
	}
	p.retryer = retry.New(cfg.Retry, p.logger)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// RequestHumanLoop implements provider.Provider.
func (p *Provider) RequestHumanLoop(ctx context.Context, taskID, conversationID string, loopType types.LoopType,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req := p.NewRequest(taskID, conversationID, loopType, reqCtx, metadata, timeout)

	p.mu.Lock()
	p.byRequest[req.RequestID] = conversationID
	if _, ok := p.threadSubj[conversationID]; !ok {
		p.threadSubj[conversationID] = title(req)
	}
	p.mu.Unlock()

	return p.deliver(ctx, req), nil
}

// ContinueHumanLoop implements provider.Provider.
func (p *Provider) ContinueHumanLoop(ctx context.Context, conversationID string,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req, ok := p.AppendRequest(conversationID, reqCtx, metadata, timeout)
	if !ok {
		return types.ErrorResult(conversationID, "", types.LoopTypeConversation,
			fmt.Sprintf("Conversation '%s' not found", conversationID)), nil
	}

	p.mu.Lock()
	p.byRequest[req.RequestID] = conversationID
	p.mu.Unlock()

	return p.deliver(ctx, req), nil
}

func (p *Provider) deliver(ctx context.Context, req *types.Request) *types.Result {
	p.startOnce.Do(func() { go p.pollLoop() })

	msg := Message{
		From:    p.cfg.From,
		To:      p.cfg.Recipients,
		Subject: p.subject(req),
		Body:    p.body(req),
	}
	if err := p.retryer.Do(ctx, func(ctx context.Context) error { return p.sender.Send(ctx, msg) }); err != nil {
		p.logger.Error("send mail failed",
			zap.String("conversation_id", req.ConversationID),
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		p.Fail(req.ConversationID, req.RequestID, fmt.Sprintf("Failed to send email: %v", err))
	}
	return p.Snapshot(req.ConversationID, req.RequestID)
}

func (p *Provider) subject(req *types.Request) string {
	p.mu.Lock()
	t := p.threadSubj[req.ConversationID]
	p.mu.Unlock()
	if t == "" {
		t = title(req)
	}
	if len(p.ConversationRequests(req.ConversationID)) > 1 {
		t = "Re: " + t
	}
	return Subject(req.RequestID, t)
}

func title(req *types.Request) string {
	if s, ok := req.Context["title"].(string); ok && s != "" {
		return s
	}
	switch req.LoopType {
	case types.LoopTypeApproval:
		return "Approval request: " + req.TaskID
	case types.LoopTypeInformation:
		return "Information request: " + req.TaskID
	default:
		return "Conversation: " + req.TaskID
	}
}

func (p *Provider) body(req *types.Request) string {
	var sb strings.Builder
	sb.WriteString(provider.BuildPrompt(req, provider.PromptOptions{ShowMetadata: p.cfg.ShowMetadata}))
	sb.WriteString("\n")

	switch req.LoopType {
	case types.LoopTypeApproval:
		sb.WriteString("Reply with \"approve\" or \"reject\" on the first line between the markers below.\n")
		sb.WriteString("Any following lines are recorded as your comment (or the rejection reason).\n")
	case types.LoopTypeInformation:
		sb.WriteString("Write the requested information between the markers below.\n")
	default:
		sb.WriteString("Write your reply between the markers below. Include " + ConversationEnd +
			" to end the conversation.\n")
	}
	if req.Timeout > 0 {
		fmt.Fprintf(&sb, "This request expires at %s.\n",
			req.CreatedAt.Add(req.Timeout).Format("2006-01-02 15:04:05"))
	}
	sb.WriteString("\n" + ResponseStart + "\n\n" + ResponseEnd + "\n")
	return sb.String()
}

func (p *Provider) pollLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		p.checkInbox(p.ctx)
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// checkInbox fetches unseen mail once and applies matching replies.
func (p *Provider) checkInbox(ctx context.Context) {
	if _, _, active := p.Stats(); active == 0 {
		return
	}
	replies, err := p.inbox.FetchUnseen(ctx)
	if err != nil {
		p.logger.Warn("fetch mail failed", zap.Error(err))
	}
	for _, r := range replies {
		p.apply(r)
	}
}

func (p *Provider) apply(r Reply) {
	requestID, ok := RequestIDFromSubject(r.Subject)
	if !ok {
		return
	}
	p.mu.Lock()
	conversationID, ok := p.byRequest[requestID]
	p.mu.Unlock()
	if !ok {
		return
	}
	req, ok := p.Request(conversationID, requestID)
	if !ok || req.Status.IsTerminal() {
		return
	}

	answer := ExtractAnswer(r.Body)
	status, response, feedback, ok := Interpret(req.LoopType, answer)
	if !ok {
		p.logger.Info("reply carried no usable answer",
			zap.String("request_id", requestID),
			zap.String("from", r.From))
		return
	}
	p.Resolve(conversationID, requestID, provider.Resolution{
		Status:      status,
		Response:    response,
		Feedback:    feedback,
		RespondedBy: r.From,
	})
}

// Close stops the inbox poller and timeout alarms.
func (p *Provider) Close(ctx context.Context) error {
	p.cancel()
	// never started: nothing to wait for
	p.startOnce.Do(func() { close(p.done) })
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Base.Close(ctx)
}
