// Package websocket 实现基于 WebSocket 推送的人机交互渠道.
//
// 请求以 JSON 帧推送给中转服务 (hub), 人工答复以 humanloop_update 帧推回。
// 连接断开时帧进入待发送队列, 重连成功后按顺序补发。
package websocket

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
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Frame types.
const (
	FrameRequest            = "humanloop_request"
	FrameContinue           = "humanloop_continue"
	FrameCancel             = "humanloop_cancel"
	FrameCancelConversation = "humanloop_cancel_conversation"
	FrameUpdate             = "humanloop_update"
)

// Frame is the JSON message exchanged with the hub.
type Frame struct {
	Type           string         `json:"type"`
	TaskID         string         `json:"task_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id,omitempty"`
	LoopType       string         `json:"loop_type,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timeout        int            `json:"timeout,omitempty"`
	Status         string         `json:"status,omitempty"`
	Response       any            `json:"response,omitempty"`
	Feedback       map[string]any `json:"feedback,omitempty"`
	RespondedBy    string         `json:"responded_by,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Config configures the websocket provider.
type Config struct {
	URL       string
	AuthToken string // static bearer token; takes precedence over JWT
	JWT       TokenConfig
	Reconnect retry.Policy
	// QueueSize bounds frames held while disconnected.
	QueueSize    int
	WriteTimeout time.Duration
}

// Provider pushes requests over a websocket connection.
type Provider struct {
	*provider.Base

	cfg     Config
	logger  *zap.Logger
	retryer *retry.Retryer

	mu        sync.Mutex
	conn      *websocket.Conn
	queue     []Frame
	connected chan struct{} // closed while a connection is up

	writeMu sync.Mutex

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a websocket provider. The connection is opened on first use.
func New(name string, cfg Config, opts ...Option) (*Provider, error) {
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, types.NewError(types.ErrInvalidRequest, "websocket provider: url must start with ws:// or wss://")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	p := &Provider{
		cfg:       cfg,
		logger:    zap.NewNop(),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Base = provider.NewBase(name, provider.WithLogger(p.logger))
	p.logger = p.Base.Logger().With(zap.String("channel", "websocket"))
	p.retryer = retry.New(cfg.Reconnect, p.logger)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// RequestHumanLoop implements provider.Provider.
func (p *Provider) RequestHumanLoop(ctx context.Context, taskID, conversationID string, loopType types.LoopType,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req := p.NewRequest(taskID, conversationID, loopType, reqCtx, metadata, timeout)
	p.push(ctx, req, FrameRequest)
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
	p.push(ctx, req, FrameContinue)
	return p.Snapshot(conversationID, req.RequestID), nil
}

func (p *Provider) push(ctx context.Context, req *types.Request, frameType string) {
	f := Frame{
		Type:           frameType,
		TaskID:         req.TaskID,
		ConversationID: req.ConversationID,
		RequestID:      req.RequestID,
		LoopType:       string(req.LoopType),
		Context:        req.Context,
		Metadata:       req.Metadata,
		Timeout:        int(req.Timeout / time.Second),
	}
	if err := p.send(ctx, f); err != nil {
		p.Fail(req.ConversationID, req.RequestID, fmt.Sprintf("Failed to send request: %v", err))
	}
}

// CancelRequest implements provider.Provider.
func (p *Provider) CancelRequest(ctx context.Context, conversationID, requestID string) (bool, error) {
	if !p.Cancel(conversationID, requestID) {
		return false, nil
	}
	if err := p.send(ctx, Frame{Type: FrameCancel, ConversationID: conversationID, RequestID: requestID}); err != nil {
		p.logger.Warn("send cancel failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return true, nil
}

// CancelConversation implements provider.Provider.
func (p *Provider) CancelConversation(ctx context.Context, conversationID string) (bool, error) {
	if !p.CancelAll(conversationID) {
		return false, nil
	}
	if err := p.send(ctx, Frame{Type: FrameCancelConversation, ConversationID: conversationID}); err != nil {
		p.logger.Warn("send conversation cancel failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return true, nil
}

// send writes f on the live connection or queues it until the next connect.
func (p *Provider) send(ctx context.Context, f Frame) error {
	p.startOnce.Do(func() { go p.run() })

	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		defer p.mu.Unlock()
		return p.enqueueLocked(f)
	}
	p.mu.Unlock()

	if err := p.write(ctx, conn, f); err != nil {
		p.logger.Debug("write failed, queueing frame", zap.String("type", f.Type), zap.Error(err))
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.enqueueLocked(f)
	}
	return nil
}

func (p *Provider) enqueueLocked(f Frame) error {
	if len(p.queue) >= p.cfg.QueueSize {
		return types.NewError(types.ErrChannelUnavailable, "websocket outbound queue is full").WithProvider(p.Name())
	}
	p.queue = append(p.queue, f)
	return nil
}

func (p *Provider) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return wsjson.Write(ctx, conn, f)
}

// run keeps a connection open until Close.
func (p *Provider) run() {
	defer close(p.done)
	for {
		conn, err := p.dial()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Warn("websocket connect failed", zap.Error(err))
			if !p.sleep(p.retryer.Delay(p.cfg.Reconnect.MaxRetries + 1)) {
				return
			}
			continue
		}

		if err = p.attach(conn); err == nil {
			err = p.readLoop(conn)
			p.detach(conn)
		}
		_ = conn.CloseNow()

		if p.ctx.Err() != nil {
			return
		}
		p.logger.Info("websocket disconnected, reconnecting", zap.Error(err))
	}
}

func (p *Provider) dial() (*websocket.Conn, error) {
	return retry.Do(p.ctx, p.retryer, func(ctx context.Context) (*websocket.Conn, error) {
		header := http.Header{}
		token, err := p.bearer()
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		conn, resp, err := websocket.Dial(ctx, p.cfg.URL, &websocket.DialOptions{
			HTTPClient: tlsutil.SecureHTTPClient(0),
			HTTPHeader: header,
		})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, retry.Permanent(fmt.Errorf("websocket dial: unauthorized: %w", err))
			}
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		return conn, nil
	})
}

func (p *Provider) bearer() (string, error) {
	if p.cfg.AuthToken != "" {
		return p.cfg.AuthToken, nil
	}
	if p.cfg.JWT.Secret == "" {
		return "", nil
	}
	return IssueToken(p.cfg.JWT, p.Name(), p.Now())
}

// attach flushes queued frames in order, then installs conn for direct writes.
func (p *Provider) attach(conn *websocket.Conn) error {
	flushed := 0
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.conn = conn
			close(p.connected)
			p.mu.Unlock()
			break
		}
		queued := p.queue
		p.queue = nil
		p.mu.Unlock()

		for i, f := range queued {
			if err := p.write(p.ctx, conn, f); err != nil {
				p.mu.Lock()
				p.queue = append(queued[i:], p.queue...)
				p.mu.Unlock()
				return fmt.Errorf("flush queued frames: %w", err)
			}
			flushed++
		}
	}
	p.logger.Info("websocket connected", zap.Int("flushed", flushed))
	return nil
}

func (p *Provider) detach(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == conn {
		p.conn = nil
		p.connected = make(chan struct{})
	}
}

func (p *Provider) readLoop(conn *websocket.Conn) error {
	for {
		var f Frame
		if err := wsjson.Read(p.ctx, conn, &f); err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		p.handle(f)
	}
}

func (p *Provider) handle(f Frame) {
	if f.Type != FrameUpdate || f.RequestID == "" {
		p.logger.Debug("ignoring frame", zap.String("type", f.Type))
		return
	}
	status := types.ParseStatus(f.Status)
	if status == types.StatusPending {
		return
	}
	p.Resolve(f.ConversationID, f.RequestID, provider.Resolution{
		Status:      status,
		Response:    f.Response,
		Feedback:    f.Feedback,
		RespondedBy: f.RespondedBy,
		Error:       f.Error,
	})
}

// Connected returns a channel closed while a connection is established.
func (p *Provider) Connected() <-chan struct{} {
	p.startOnce.Do(func() { go p.run() })
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Queued returns the number of frames waiting for a connection.
func (p *Provider) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Provider) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the connection and stops reconnecting.
func (p *Provider) Close(ctx context.Context) error {
	// cancelling the read context tears the connection down
	p.cancel()
	p.startOnce.Do(func() { close(p.done) })

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Base.Close(ctx)
}
