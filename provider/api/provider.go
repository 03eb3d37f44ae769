// Package api 实现基于 GoHumanLoop 平台 REST 接口的人机交互渠道.
//
// 请求通过 POST /api/v1/humanloop/request 下发, 之后由每个请求独立的轮询协程
// 通过 GET /status 把远端状态同步回本地存储。
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/internal/tlsutil"
	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const apiPrefix = "/api/v1/humanloop"

// Config configures the API provider.
type Config struct {
	BaseURL        string
	APIKey         string
	Platform       string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, 0 disables limiting
	RateBurst      int
	Retry          retry.Policy
}

// DefaultConfig returns defaults for everything except BaseURL and APIKey.
func DefaultConfig() Config {
	return Config{
		Platform:       "default",
		PollInterval:   5 * time.Second,
		RequestTimeout: 30 * time.Second,
		RateLimit:      10,
		RateBurst:      20,
		Retry:          retry.DefaultPolicy(),
	}
}

// Provider talks to the GoHumanLoop platform.
type Provider struct {
	*provider.Base

	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	retryer *retry.Retryer
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pollers map[types.RequestKey]*poller
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates an API provider.
func New(name string, cfg Config, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "api provider: base url is required")
	}
	def := DefaultConfig()
	if cfg.Platform == "" {
		cfg.Platform = def.Platform
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	p := &Provider{
		cfg:     cfg,
		logger:  zap.NewNop(),
		pollers: make(map[types.RequestKey]*poller),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = tlsutil.SecureHTTPClient(cfg.RequestTimeout)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	p.Base = provider.NewBase(name, provider.WithLogger(p.logger))
	p.logger = p.Base.Logger().With(zap.String("channel", "api"))
	p.retryer = retry.New(cfg.Retry, p.logger)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// RequestHumanLoop implements provider.Provider.
func (p *Provider) RequestHumanLoop(ctx context.Context, taskID, conversationID string, loopType types.LoopType,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req := p.NewRequest(taskID, conversationID, loopType, reqCtx, metadata, timeout)

	payload := requestPayload{
		TaskID:         taskID,
		ConversationID: conversationID,
		RequestID:      req.RequestID,
		LoopType:       string(req.LoopType),
		Context:        req.Context,
		Platform:       p.cfg.Platform,
		Metadata:       req.Metadata,
	}
	if err := p.post(ctx, "/request", payload); err != nil {
		p.Fail(conversationID, req.RequestID, fmt.Sprintf("Failed to send request: %v", err))
		return p.Snapshot(conversationID, req.RequestID), nil
	}

	p.startPoller(req.Key())
	return p.Snapshot(conversationID, req.RequestID), nil
}

// ContinueHumanLoop implements provider.Provider.
func (p *Provider) ContinueHumanLoop(ctx context.Context, conversationID string,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req, ok := p.AppendRequest(conversationID, reqCtx, metadata, timeout)
	if !ok {
		return types.ErrorResult(conversationID, "", types.LoopTypeConversation,
			fmt.Sprintf("Conversation '%s' not found", conversationID)), nil
	}

	payload := continuePayload{
		ConversationID: conversationID,
		RequestID:      req.RequestID,
		TaskID:         req.TaskID,
		Context:        req.Context,
		Platform:       p.cfg.Platform,
		Metadata:       req.Metadata,
	}
	if err := p.post(ctx, "/continue", payload); err != nil {
		p.Fail(conversationID, req.RequestID, fmt.Sprintf("Failed to continue conversation: %v", err))
		return p.Snapshot(conversationID, req.RequestID), nil
	}

	p.startPoller(req.Key())
	return p.Snapshot(conversationID, req.RequestID), nil
}

// CancelRequest cancels locally first, then tells the platform.
func (p *Provider) CancelRequest(ctx context.Context, conversationID, requestID string) (bool, error) {
	key := types.RequestKey{ConversationID: conversationID, RequestID: requestID}
	p.stopPoller(key)
	ok := p.Cancel(conversationID, requestID)
	if !ok {
		return false, nil
	}

	err := p.post(ctx, "/cancel", cancelPayload{
		ConversationID: conversationID,
		RequestID:      requestID,
		Platform:       p.cfg.Platform,
	})
	if err != nil {
		p.logger.Warn("remote cancel failed",
			zap.String("conversation_id", conversationID),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	return true, nil
}

// CancelConversation cancels every open request locally, then tells the platform.
func (p *Provider) CancelConversation(ctx context.Context, conversationID string) (bool, error) {
	for _, id := range p.ConversationRequests(conversationID) {
		p.stopPoller(types.RequestKey{ConversationID: conversationID, RequestID: id})
	}
	if !p.CancelAll(conversationID) {
		return false, nil
	}

	err := p.post(ctx, "/cancel_conversation", cancelConversationPayload{
		ConversationID: conversationID,
		Platform:       p.cfg.Platform,
	})
	if err != nil {
		p.logger.Warn("remote conversation cancel failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
	return true, nil
}

// Close stops all pollers and the timeout alarms.
func (p *Provider) Close(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Base.Close(ctx)
}

// poller is one status-polling goroutine; its address identifies it in pollers.
type poller struct {
	cancel context.CancelFunc
}

func (p *Provider) startPoller(key types.RequestKey) {
	ctx, cancel := context.WithCancel(p.ctx)
	pl := &poller{cancel: cancel}

	p.mu.Lock()
	if old, ok := p.pollers[key]; ok {
		old.cancel()
	}
	p.pollers[key] = pl
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.releasePoller(key, pl)
		p.poll(ctx, key)
	}()
}

func (p *Provider) stopPoller(key types.RequestKey) {
	p.mu.Lock()
	pl, ok := p.pollers[key]
	delete(p.pollers, key)
	p.mu.Unlock()
	if ok {
		pl.cancel()
	}
}

// releasePoller 只注销自己, 已被新 poller 替换时不动
func (p *Provider) releasePoller(key types.RequestKey, pl *poller) {
	p.mu.Lock()
	if p.pollers[key] == pl {
		delete(p.pollers, key)
	}
	p.mu.Unlock()
	pl.cancel()
}

func (p *Provider) hasPoller(key types.RequestKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pollers[key]
	return ok
}

// poll mirrors the remote status into the local store until the request is terminal.
func (p *Provider) poll(ctx context.Context, key types.RequestKey) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, ok := p.Status(key.ConversationID, key.RequestID)
		if !ok || status.IsTerminal() {
			return
		}

		remote, err := p.fetchStatus(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Warn("status poll failed",
				zap.String("conversation_id", key.ConversationID),
				zap.String("request_id", key.RequestID),
				zap.Error(err))
			continue
		}
		if !remote.Success {
			p.Fail(key.ConversationID, key.RequestID, "API returned error: "+remote.Error)
			return
		}

		next := types.ParseStatus(remote.Status)
		if next == types.StatusPending {
			continue
		}
		p.Resolve(key.ConversationID, key.RequestID, provider.Resolution{
			Status:      next,
			Response:    remote.Response,
			Feedback:    feedbackMap(remote.Feedback),
			RespondedBy: remote.RespondedBy,
			Error:       remote.Error,
		})
		if next.IsTerminal() {
			return
		}
	}
}

func feedbackMap(v any) map[string]any {
	switch fv := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return fv
	default:
		return map[string]any{"value": fv}
	}
}
