// Package terminal 实现基于命令行交互的人机交互渠道, 适用于本地调试和简单场景.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// RespondedBy is recorded on every answer given at the terminal.
const RespondedBy = "terminal_user"

var (
	approveInput = []string{"approve", "yes", "y", "同意", "批准"}
	rejectInput  = []string{"reject", "no", "n", "拒绝", "不同意"}
	exitInput    = []string{"exit", "quit", "结束", "退出"}
)

// Provider prompts on an output stream and reads answers line by line.
// Prompts are shown one at a time in request order.
type Provider struct {
	*provider.Base

	in           io.Reader
	out          io.Writer
	showMetadata bool
	logger       *zap.Logger

	outMu sync.Mutex
	queue chan types.RequestKey
	lines chan string

	// carry is owned by the worker goroutine
	carry    string
	hasCarry bool

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithInput sets the answer stream (default os.Stdin).
func WithInput(r io.Reader) Option {
	return func(p *Provider) { p.in = r }
}

// WithOutput sets the prompt stream (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(p *Provider) { p.out = w }
}

// WithShowMetadata includes request metadata in prompts.
func WithShowMetadata(show bool) Option {
	return func(p *Provider) { p.showMetadata = show }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a terminal provider.
func New(name string, opts ...Option) *Provider {
	p := &Provider{
		in:           os.Stdin,
		out:          os.Stdout,
		showMetadata: true,
		logger:       zap.NewNop(),
		queue:        make(chan types.RequestKey, 64),
		lines:        make(chan string),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Base = provider.NewBase(name, provider.WithLogger(p.logger))
	p.logger = p.Base.Logger().With(zap.String("channel", "terminal"))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// RequestHumanLoop implements provider.Provider.
func (p *Provider) RequestHumanLoop(_ context.Context, taskID, conversationID string, loopType types.LoopType,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req := p.NewRequest(taskID, conversationID, loopType, reqCtx, metadata, timeout)
	return p.enqueue(req.Key()), nil
}

// ContinueHumanLoop implements provider.Provider.
func (p *Provider) ContinueHumanLoop(_ context.Context, conversationID string,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	req, ok := p.AppendRequest(conversationID, reqCtx, metadata, timeout)
	if !ok {
		return types.ErrorResult(conversationID, "", types.LoopTypeConversation,
			fmt.Sprintf("Conversation '%s' not found", conversationID)), nil
	}
	return p.enqueue(req.Key()), nil
}

func (p *Provider) enqueue(key types.RequestKey) *types.Result {
	p.startOnce.Do(func() {
		go p.readLines()
		go p.work()
	})
	select {
	case p.queue <- key:
	default:
		p.Fail(key.ConversationID, key.RequestID, "terminal queue is full")
	}
	return p.Snapshot(key.ConversationID, key.RequestID)
}

func (p *Provider) readLines() {
	defer close(p.lines)
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Provider) work() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case key := <-p.queue:
			p.interact(key)
		}
	}
}

func (p *Provider) printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *Provider) interact(key types.RequestKey) {
	req, ok := p.Request(key.ConversationID, key.RequestID)
	if !ok || req.Status.IsTerminal() {
		return
	}
	p.printf("%s\n", provider.BuildPrompt(req, provider.PromptOptions{ShowMetadata: p.showMetadata}))

	switch req.LoopType {
	case types.LoopTypeApproval:
		p.approval(key)
	case types.LoopTypeInformation:
		p.information(key)
	default:
		p.conversation(key)
	}
}

func (p *Provider) approval(key types.RequestKey) {
	for {
		p.printf("\nPlease enter your decision (approve/reject):\n")
		line, ok := p.readLine(key)
		if !ok {
			return
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		switch {
		case slices.Contains(approveInput, answer):
			p.resolve(key, types.StatusApproved, "")
			return
		case slices.Contains(rejectInput, answer):
			p.printf("\nPlease enter the reason for rejection:\n")
			reason, ok := p.readLine(key)
			if !ok {
				return
			}
			p.resolve(key, types.StatusRejected, strings.TrimSpace(reason))
			return
		default:
			p.printf("\nInvalid input, please enter 'approve' or 'reject'\n")
		}
	}
}

func (p *Provider) information(key types.RequestKey) {
	p.printf("\nPlease provide the requested information:\n")
	line, ok := p.readLine(key)
	if !ok {
		return
	}
	p.resolve(key, types.StatusCompleted, line)
}

func (p *Provider) conversation(key types.RequestKey) {
	p.printf("\nPlease enter your reply (type 'exit' to end the conversation):\n")
	line, ok := p.readLine(key)
	if !ok {
		return
	}
	status := types.StatusInProgress
	if slices.Contains(exitInput, strings.ToLower(strings.TrimSpace(line))) {
		status = types.StatusCompleted
		p.printf("\nConversation ended\n")
	}
	p.resolve(key, status, line)
}

func (p *Provider) resolve(key types.RequestKey, status types.Status, response string) {
	if p.Resolve(key.ConversationID, key.RequestID, provider.Resolution{
		Status:      status,
		Response:    response,
		RespondedBy: RespondedBy,
	}) {
		p.printf("\nRecorded: %s\n", status)
	}
}

// readLine waits for one input line while the request stays active.
func (p *Provider) readLine(key types.RequestKey) (string, bool) {
	for {
		changed := p.Changed(key.ConversationID, key.RequestID)
		if st, ok := p.Status(key.ConversationID, key.RequestID); !ok || st.IsTerminal() {
			p.printf("\nRequest %s is no longer active (%s)\n", key.RequestID, st)
			return "", false
		}
		if p.hasCarry {
			p.hasCarry = false
			return p.carry, true
		}
		select {
		case <-p.ctx.Done():
			return "", false
		case <-changed:
			continue
		case line, ok := <-p.lines:
			if !ok {
				p.Fail(key.ConversationID, key.RequestID, "terminal input closed")
				return "", false
			}
			if st, _ := p.Status(key.ConversationID, key.RequestID); st.IsTerminal() {
				// answered the prompt of a request that just ended; keep it for the next one
				p.carry, p.hasCarry = line, true
				continue
			}
			return line, true
		}
	}
}

// Close stops the prompt worker and timeout alarms. A read blocked on the input
// stream is abandoned.
func (p *Provider) Close(ctx context.Context) error {
	p.cancel()
	p.startOnce.Do(func() { close(p.done) })
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Base.Close(ctx)
}
