package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/humanloop/internal/metrics"
	"github.com/BaSui01/humanloop/internal/telemetry"
	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/timeout"
	"github.com/BaSui01/humanloop/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RequestOptions describes a new human-in-the-loop request.
type RequestOptions struct {
	TaskID         string
	ConversationID string
	LoopType       types.LoopType
	Context        map[string]any
	Metadata       map[string]any
	// ProviderID selects the channel. Empty uses the conversation's bound
	// provider, then the default provider.
	ProviderID string
	// Timeout arms the supervisor. 0 falls back to Config.DefaultTimeout.
	Timeout  time.Duration
	Callback Callback
}

func (o *RequestOptions) validate() error {
	if strings.TrimSpace(o.TaskID) == "" {
		return types.NewError(types.ErrInvalidRequest, "task_id is required")
	}
	if strings.TrimSpace(o.ConversationID) == "" {
		return types.NewError(types.ErrInvalidRequest, "conversation_id is required")
	}
	if o.LoopType == "" {
		o.LoopType = types.LoopTypeConversation
	}
	if !o.LoopType.Valid() {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown loop type %q", o.LoopType))
	}
	if o.Timeout < 0 {
		return types.NewError(types.ErrInvalidRequest, "timeout must not be negative")
	}
	return nil
}

// ContinueOptions appends a request to an existing conversation.
type ContinueOptions struct {
	ConversationID string
	Context        map[string]any
	Metadata       map[string]any
	// ProviderID, when set, must equal the conversation's bound provider.
	ProviderID string
	Timeout    time.Duration
	Callback   Callback
}

// conversationEntry is the manager's view of one conversation.
type conversationEntry struct {
	taskID     string
	providerID string
	requestIDs []string
}

// requestEntry holds the per-request registrations.
type requestEntry struct {
	taskID     string
	providerID string
	loopType   types.LoopType
	createdAt  time.Time
	callback   Callback
	// settled is set once the terminal outcome was dispatched or the request
	// was cancelled through the manager.
	settled bool
}

// Manager multiplexes providers and owns the task/conversation/request indices.
type Manager struct {
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Collector
	sink       persistence.Sink
	now        func() time.Time
	supervisor *timeout.Supervisor

	mu            sync.RWMutex
	providers     map[string]provider.Provider
	defaultID     string
	seq           int
	tasks         map[string][]string
	conversations map[string]*conversationEntry
	requests      map[types.RequestKey]*requestEntry

	bgMu       sync.Mutex
	bg         sync.WaitGroup
	syncCancel context.CancelFunc
	closed     atomic.Bool
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		cfg:           DefaultConfig(),
		logger:        zap.NewNop(),
		now:           time.Now,
		providers:     make(map[string]provider.Provider),
		tasks:         make(map[string][]string),
		conversations: make(map[string]*conversationEntry),
		requests:      make(map[types.RequestKey]*requestEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	base := m.logger
	m.logger = base.With(zap.String("component", "manager"))
	m.supervisor = timeout.New(
		timeout.WithLogger(base),
		timeout.WithHooks(timeout.Hooks{OnRenew: m.onRenew}),
	)
	return m
}

// =============================================================================
// Provider registry
// =============================================================================

// RegisterProvider adds p under id, generating "provider_<n>" when id is empty.
// The first provider becomes the default. Re-registering an id replaces it.
func (m *Manager) RegisterProvider(p provider.Provider, id string) (string, error) {
	if p == nil {
		return "", types.NewError(types.ErrInvalidRequest, "provider is nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		for {
			m.seq++
			id = fmt.Sprintf("provider_%d", m.seq)
			if _, taken := m.providers[id]; !taken {
				break
			}
		}
	}
	if _, exists := m.providers[id]; exists {
		m.logger.Warn("provider replaced", zap.String("provider_id", id))
	}
	m.providers[id] = p
	if m.defaultID == "" {
		m.defaultID = id
	}
	m.logger.Info("provider registered",
		zap.String("provider_id", id),
		zap.String("name", p.Name()),
		zap.Bool("default", m.defaultID == id))
	return id, nil
}

// GetProvider returns the provider for id, or the default when id is empty.
func (m *Manager) GetProvider(id string) (provider.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, p, err := m.lookupLocked(id)
	return p, err
}

// ListProviders returns a copy of the registry.
func (m *Manager) ListProviders() map[string]provider.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]provider.Provider, len(m.providers))
	for id, p := range m.providers {
		out[id] = p
	}
	return out
}

// SetDefaultProvider makes id the default.
func (m *Manager) SetDefaultProvider(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[id]; !ok {
		return types.NewProviderNotFoundError(id)
	}
	m.defaultID = id
	return nil
}

// DefaultProviderID returns the current default provider id.
func (m *Manager) DefaultProviderID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultID
}

func (m *Manager) lookupLocked(id string) (string, provider.Provider, error) {
	if id == "" {
		id = m.defaultID
	}
	p, ok := m.providers[id]
	if !ok {
		return "", nil, types.NewProviderNotFoundError(id)
	}
	return id, p, nil
}

// providerFor resolves the provider serving conversationID: the bound
// provider, else an explicit id, else the default. An explicit id that
// differs from the bound one is a PROVIDER_MISMATCH.
func (m *Manager) providerFor(conversationID, id string) (string, provider.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ce, ok := m.conversations[conversationID]; ok {
		if id != "" && id != ce.providerID {
			return "", nil, types.NewProviderMismatchError(conversationID, ce.providerID, id)
		}
		id = ce.providerID
	}
	return m.lookupLocked(id)
}

// =============================================================================
// Request / Continue
// =============================================================================

type issued struct {
	providerID string
	provider   provider.Provider
	result     *types.Result
}

// Request issues a request and returns its id without waiting.
func (m *Manager) Request(ctx context.Context, opts RequestOptions) (string, error) {
	is, err := m.request(ctx, opts)
	if err != nil {
		return "", err
	}
	return is.result.RequestID, nil
}

// RequestAndWait issues a request and blocks until it leaves PENDING/INPROGRESS.
func (m *Manager) RequestAndWait(ctx context.Context, opts RequestOptions) (*types.Result, error) {
	start := m.now()
	is, err := m.request(ctx, opts)
	if err != nil {
		return nil, err
	}
	return m.wait(ctx, is, start)
}

func (m *Manager) request(ctx context.Context, opts RequestOptions) (*issued, error) {
	if m.closed.Load() {
		return nil, types.NewError(types.ErrClosed, "manager is shut down")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	pid := opts.ProviderID
	if ce, ok := m.conversations[opts.ConversationID]; ok {
		if ce.taskID != opts.TaskID {
			m.mu.RUnlock()
			return nil, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("conversation '%s' belongs to task '%s'", opts.ConversationID, ce.taskID))
		}
		if pid != "" && pid != ce.providerID {
			m.mu.RUnlock()
			return nil, types.NewProviderMismatchError(opts.ConversationID, ce.providerID, pid)
		}
		pid = ce.providerID
	}
	pid, p, err := m.lookupLocked(pid)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	d := opts.Timeout
	if d == 0 {
		d = m.cfg.DefaultTimeout
	}

	ctx = types.WithProviderID(types.WithConversationID(types.WithTaskID(ctx, opts.TaskID), opts.ConversationID), pid)
	ctx, span := telemetry.StartSpan(ctx, "humanloop.request",
		attribute.String("humanloop.task_id", opts.TaskID),
		attribute.String("humanloop.conversation_id", opts.ConversationID),
		attribute.String("humanloop.provider_id", pid),
		attribute.String("humanloop.loop_type", string(opts.LoopType)))

	res, err := p.RequestHumanLoop(ctx, opts.TaskID, opts.ConversationID, opts.LoopType,
		opts.Context, opts.Metadata, d)
	if err == nil {
		err = checkIssued(res)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	is := &issued{providerID: pid, provider: p, result: res}
	m.track(ctx, is, opts.TaskID, opts.LoopType, opts.Callback, d, "request")
	return is, nil
}

// Continue appends a request to a known conversation and returns its id.
func (m *Manager) Continue(ctx context.Context, opts ContinueOptions) (string, error) {
	is, err := m.continueLoop(ctx, opts)
	if err != nil {
		return "", err
	}
	return is.result.RequestID, nil
}

// ContinueAndWait appends a request and blocks until it leaves PENDING/INPROGRESS.
func (m *Manager) ContinueAndWait(ctx context.Context, opts ContinueOptions) (*types.Result, error) {
	start := m.now()
	is, err := m.continueLoop(ctx, opts)
	if err != nil {
		return nil, err
	}
	return m.wait(ctx, is, start)
}

func (m *Manager) continueLoop(ctx context.Context, opts ContinueOptions) (*issued, error) {
	if m.closed.Load() {
		return nil, types.NewError(types.ErrClosed, "manager is shut down")
	}
	if opts.Timeout < 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "timeout must not be negative")
	}

	m.mu.RLock()
	ce, ok := m.conversations[opts.ConversationID]
	if !ok {
		m.mu.RUnlock()
		return nil, types.NewConversationNotFoundError(opts.ConversationID)
	}
	taskID, bound := ce.taskID, ce.providerID
	if opts.ProviderID != "" && opts.ProviderID != bound {
		m.mu.RUnlock()
		return nil, types.NewProviderMismatchError(opts.ConversationID, bound, opts.ProviderID)
	}
	pid, p, err := m.lookupLocked(bound)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	d := opts.Timeout
	if d == 0 {
		d = m.cfg.DefaultTimeout
	}

	ctx = types.WithProviderID(types.WithConversationID(types.WithTaskID(ctx, taskID), opts.ConversationID), pid)
	ctx, span := telemetry.StartSpan(ctx, "humanloop.continue",
		attribute.String("humanloop.task_id", taskID),
		attribute.String("humanloop.conversation_id", opts.ConversationID),
		attribute.String("humanloop.provider_id", pid))

	res, err := p.ContinueHumanLoop(ctx, opts.ConversationID, opts.Context, opts.Metadata, d)
	if err == nil {
		err = checkIssued(res)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	is := &issued{providerID: pid, provider: p, result: res}
	m.track(ctx, is, taskID, res.LoopType, opts.Callback, d, "continue")
	return is, nil
}

// checkIssued rejects results that carry no request id. A provider that could
// not engage its channel still allocates one and reports ERROR.
func checkIssued(res *types.Result) error {
	if res == nil {
		return types.NewError(types.ErrInternalError, "provider returned no result")
	}
	if res.RequestID == "" {
		msg := res.Error
		if msg == "" {
			msg = "provider returned no request id"
		}
		return types.NewError(types.ErrChannelUnavailable, msg)
	}
	return nil
}

// track records a freshly issued request in every index, registers its
// callback and arms the supervisor.
func (m *Manager) track(ctx context.Context, is *issued, taskID string, loopType types.LoopType,
	cb Callback, d time.Duration, kind string) {
	res := is.result
	key := types.RequestKey{ConversationID: res.ConversationID, RequestID: res.RequestID}
	if key.ConversationID == "" {
		key.ConversationID, _ = types.ConversationID(ctx)
		res.ConversationID = key.ConversationID
	}
	if loopType == "" {
		loopType = res.LoopType
	}

	m.mu.Lock()
	ce, ok := m.conversations[key.ConversationID]
	if !ok {
		ce = &conversationEntry{taskID: taskID, providerID: is.providerID}
		m.conversations[key.ConversationID] = ce
		m.tasks[taskID] = append(m.tasks[taskID], key.ConversationID)
	}
	ce.requestIDs = append(ce.requestIDs, key.RequestID)
	m.requests[key] = &requestEntry{
		taskID:     taskID,
		providerID: is.providerID,
		loopType:   loopType,
		createdAt:  m.now(),
		callback:   cb,
	}
	m.mu.Unlock()

	m.recordRequest(is.providerID, loopType, kind)
	m.logger.Info("request issued",
		zap.String("task_id", taskID),
		zap.String("conversation_id", key.ConversationID),
		zap.String("request_id", key.RequestID),
		zap.String("provider_id", is.providerID),
		zap.String("loop_type", string(loopType)),
		zap.String("status", string(res.Status)),
		zap.Duration("timeout", d))

	if res.Status.IsTerminal() {
		m.settle(ctx, is.provider, is.providerID, key, res, "")
		return
	}
	if d > 0 {
		m.arm(is.provider, is.providerID, key, d)
	}
}

// =============================================================================
// Status / Cancel
// =============================================================================

// CheckRequestStatus proxies to the provider and dispatches the callback once
// the request is terminal.
func (m *Manager) CheckRequestStatus(ctx context.Context, conversationID, requestID, providerID string) (*types.Result, error) {
	pid, p, err := m.providerFor(conversationID, providerID)
	if err != nil {
		return nil, err
	}
	return m.check(ctx, p, pid, types.RequestKey{ConversationID: conversationID, RequestID: requestID})
}

func (m *Manager) check(ctx context.Context, p provider.Provider, pid string, key types.RequestKey) (*types.Result, error) {
	res, err := p.CheckRequestStatus(ctx, key.ConversationID, key.RequestID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, types.NewError(types.ErrInternalError, "provider returned no result")
	}
	if res.Status.IsTerminal() {
		m.settle(ctx, p, pid, key, res, "")
	}
	return res, nil
}

// CheckConversationStatus reports on the conversation's latest request.
func (m *Manager) CheckConversationStatus(ctx context.Context, conversationID, providerID string) (*types.Result, error) {
	_, p, err := m.providerFor(conversationID, providerID)
	if err != nil {
		return nil, err
	}
	return p.CheckConversationStatus(ctx, conversationID)
}

// CancelRequest releases the request's alarm and callback, then asks the
// provider to cancel it.
func (m *Manager) CancelRequest(ctx context.Context, conversationID, requestID, providerID string) (bool, error) {
	pid, p, err := m.providerFor(conversationID, providerID)
	if err != nil {
		return false, err
	}
	key := types.RequestKey{ConversationID: conversationID, RequestID: requestID}

	m.supervisor.Cancel(key)
	m.mu.Lock()
	taskID := m.releaseLocked(key)
	m.mu.Unlock()
	m.updateAlarmGauge()

	ok, err := p.CancelRequest(ctx, conversationID, requestID)
	if ok {
		m.recordOutcome(pid, types.StatusCancelled)
		m.logger.Info("request cancelled",
			zap.String("conversation_id", conversationID),
			zap.String("request_id", requestID))
		m.syncAsync(taskID)
	}
	return ok, err
}

// CancelConversation releases every alarm and callback of the conversation,
// then asks the provider to cancel its pending and in-progress requests.
func (m *Manager) CancelConversation(ctx context.Context, conversationID, providerID string) (bool, error) {
	pid, p, err := m.providerFor(conversationID, providerID)
	if err != nil {
		return false, err
	}

	released := m.supervisor.CancelConversation(conversationID)
	var taskID string
	m.mu.Lock()
	if ce, ok := m.conversations[conversationID]; ok {
		taskID = ce.taskID
		for _, id := range ce.requestIDs {
			m.releaseLocked(types.RequestKey{ConversationID: conversationID, RequestID: id})
		}
	}
	m.mu.Unlock()
	m.updateAlarmGauge()

	ok, err := p.CancelConversation(ctx, conversationID)
	if ok {
		m.logger.Info("conversation cancelled",
			zap.String("conversation_id", conversationID),
			zap.String("provider_id", pid),
			zap.Int("alarms_released", released))
		m.syncAsync(taskID)
	}
	return ok, err
}

// releaseLocked drops the callback of key and marks it settled. Returns the task id.
func (m *Manager) releaseLocked(key types.RequestKey) string {
	e, ok := m.requests[key]
	if !ok {
		return ""
	}
	e.callback = nil
	e.settled = true
	return e.taskID
}

// =============================================================================
// History
// =============================================================================

// CheckConversationExist reports whether taskID lists conversationID and the
// conversation has at least one request.
func (m *Manager) CheckConversationExist(taskID, conversationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ce, ok := m.conversations[conversationID]
	if !ok || ce.taskID != taskID || len(ce.requestIDs) == 0 {
		return false
	}
	for _, id := range m.tasks[taskID] {
		if id == conversationID {
			return true
		}
	}
	return false
}

// ConversationRequests returns the conversation's request ids in creation order.
func (m *Manager) ConversationRequests(conversationID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ce, ok := m.conversations[conversationID]; ok {
		return append([]string(nil), ce.requestIDs...)
	}
	return nil
}

// TaskConversations returns the task's conversation ids in creation order.
func (m *Manager) TaskConversations(taskID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.tasks[taskID]...)
}

// Tasks returns every known task id.
func (m *Manager) Tasks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

// TaskOf returns the task a request belongs to.
func (m *Manager) TaskOf(conversationID, requestID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.requests[types.RequestKey{ConversationID: conversationID, RequestID: requestID}]
	if !ok {
		return "", false
	}
	return e.taskID, true
}

// HasCallback reports whether a callback is still registered for the request.
func (m *Manager) HasCallback(conversationID, requestID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.requests[types.RequestKey{ConversationID: conversationID, RequestID: requestID}]
	return ok && e.callback != nil
}

// TimeoutArmed reports whether the manager supervises the request.
func (m *Manager) TimeoutArmed(conversationID, requestID string) bool {
	return m.supervisor.Armed(types.RequestKey{ConversationID: conversationID, RequestID: requestID})
}

// =============================================================================
// metrics helpers
// =============================================================================

func (m *Manager) recordRequest(pid string, loopType types.LoopType, kind string) {
	if m.metrics != nil {
		m.metrics.RecordRequest(pid, string(loopType), kind)
	}
}

func (m *Manager) recordOutcome(pid string, status types.Status) {
	if m.metrics != nil {
		m.metrics.RecordOutcome(pid, string(status))
	}
}

func (m *Manager) recordCallback(kind string, err error) {
	if m.metrics != nil {
		m.metrics.RecordCallback(kind, err)
	}
}

func (m *Manager) updateAlarmGauge() {
	if m.metrics != nil {
		m.metrics.SetActiveAlarms(m.supervisor.Len())
	}
}
