// Package timeout 提供按请求粒度的超时监督器.
//
// 每个 (conversation_id, request_id) 至多持有一个闹钟。闹钟到期时执行检查函数,
// 检查结果决定闹钟续期 (Renew) 还是结束 (Done)。续期复用同一个 time.Timer 做 Reset,
// 不会派生新的 goroutine 链。
package timeout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// Verdict is what a check decides when its alarm fires.
type Verdict int

const (
	// Done discards the alarm.
	Done Verdict = iota
	// Renew re-arms the alarm for another full period.
	Renew
)

func (v Verdict) String() string {
	switch v {
	case Done:
		return "done"
	case Renew:
		return "renew"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// CheckFunc runs when an alarm fires. renewals is how many times the alarm has
// already been renewed.
type CheckFunc func(ctx context.Context, renewals int) Verdict

// Hooks observe alarm activity. Any field may be nil.
type Hooks struct {
	OnFire  func(key types.RequestKey)
	OnRenew func(key types.RequestKey, renewals int)
}

type alarm struct {
	key      types.RequestKey
	period   time.Duration
	check    CheckFunc
	timer    *time.Timer
	gen      uint64
	renewals int
}

// Supervisor 是显式的闹钟注册表.
type Supervisor struct {
	mu     sync.Mutex
	alarms map[types.RequestKey]*alarm
	seq    uint64
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hooks  Hooks
	logger *zap.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHooks installs observation hooks.
func WithHooks(h Hooks) Option {
	return func(s *Supervisor) { s.hooks = h }
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		alarms: make(map[types.RequestKey]*alarm),
		ctx:    ctx,
		cancel: cancel,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "timeout_supervisor"))
	return s
}

// Arm schedules check to run after d. An existing alarm for key is replaced.
// Returns false when d is not positive or the supervisor is closed.
func (s *Supervisor) Arm(key types.RequestKey, d time.Duration, check CheckFunc) bool {
	if d <= 0 || check == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if old, ok := s.alarms[key]; ok {
		old.timer.Stop()
	}

	s.seq++
	a := &alarm{key: key, period: d, check: check, gen: s.seq}
	gen := a.gen
	a.timer = time.AfterFunc(d, func() { s.fire(key, gen) })
	s.alarms[key] = a

	s.logger.Debug("alarm armed",
		zap.String("conversation_id", key.ConversationID),
		zap.String("request_id", key.RequestID),
		zap.Duration("period", d))
	return true
}

func (s *Supervisor) fire(key types.RequestKey, gen uint64) {
	s.mu.Lock()
	a, ok := s.alarms[key]
	if !ok || a.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	renewals := a.renewals
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if s.hooks.OnFire != nil {
		s.hooks.OnFire(key)
	}

	verdict := s.runCheck(a, renewals)

	s.mu.Lock()
	cur, ok := s.alarms[key]
	if !ok || cur != a || cur.gen != gen {
		// cancelled or replaced while the check ran
		s.mu.Unlock()
		return
	}
	if verdict == Renew && !s.closed {
		a.renewals++
		n := a.renewals
		a.timer.Reset(a.period)
		s.mu.Unlock()

		s.logger.Debug("alarm renewed",
			zap.String("conversation_id", key.ConversationID),
			zap.String("request_id", key.RequestID),
			zap.Int("renewals", n))
		if s.hooks.OnRenew != nil {
			s.hooks.OnRenew(key, n)
		}
		return
	}
	delete(s.alarms, key)
	s.mu.Unlock()
}

func (s *Supervisor) runCheck(a *alarm, renewals int) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("alarm check panicked",
				zap.String("conversation_id", a.key.ConversationID),
				zap.String("request_id", a.key.RequestID),
				zap.Any("panic", r))
			v = Done
		}
	}()
	return a.check(s.ctx, renewals)
}

// Cancel stops and discards the alarm for key.
func (s *Supervisor) Cancel(key types.RequestKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alarms[key]
	if !ok {
		return false
	}
	a.timer.Stop()
	delete(s.alarms, key)
	return true
}

// CancelConversation stops every alarm belonging to conversationID and returns how many were released.
func (s *Supervisor) CancelConversation(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, a := range s.alarms {
		if key.ConversationID != conversationID {
			continue
		}
		a.timer.Stop()
		delete(s.alarms, key)
		n++
	}
	return n
}

// Armed reports whether key currently holds an alarm.
func (s *Supervisor) Armed(key types.RequestKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.alarms[key]
	return ok
}

// Renewals returns how many times the alarm for key has been renewed.
func (s *Supervisor) Renewals(key types.RequestKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.alarms[key]; ok {
		return a.renewals
	}
	return 0
}

// Len returns the number of armed alarms.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}

// Close stops all alarms and waits for running checks until ctx is done.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, a := range s.alarms {
		a.timer.Stop()
		delete(s.alarms, key)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
