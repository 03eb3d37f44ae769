package manager

import (
	"context"
	"time"

	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/timeout"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// arm 为请求挂上管理端闹钟.
//
// 到期时的处理:
//   - PENDING: 通过 Expirer 过期后触发超时通知
//   - INPROGRESS: 续期, 达到 MaxRenewals 后取消并触发超时通知
//   - 其他终态: 按普通结果分发
func (m *Manager) arm(p provider.Provider, pid string, key types.RequestKey, d time.Duration) {
	armed := m.supervisor.Arm(key, d, func(ctx context.Context, renewals int) timeout.Verdict {
		ctx = types.WithProviderID(types.WithRequestKey(ctx, key), pid)

		res, err := p.CheckRequestStatus(ctx, key.ConversationID, key.RequestID)
		if err != nil || res == nil {
			m.logger.Warn("timeout check failed",
				zap.String("conversation_id", key.ConversationID),
				zap.String("request_id", key.RequestID),
				zap.Error(err))
			return timeout.Done
		}

		switch res.Status {
		case types.StatusPending:
			m.settle(ctx, p, pid, key, m.expire(ctx, p, key, res), "")
			return timeout.Done

		case types.StatusInProgress:
			if m.cfg.MaxRenewals > 0 && renewals >= m.cfg.MaxRenewals {
				m.giveUp(ctx, p, pid, key, renewals)
				return timeout.Done
			}
			return timeout.Renew

		default:
			if res.Status.IsTerminal() {
				m.settle(ctx, p, pid, key, res, "")
			}
			return timeout.Done
		}
	})
	if armed {
		m.updateAlarmGauge()
	}
}

// expire moves a still-pending request to EXPIRED. Providers without Expirer
// get a synthesized EXPIRED result.
func (m *Manager) expire(ctx context.Context, p provider.Provider, key types.RequestKey, res *types.Result) *types.Result {
	if ex, ok := p.(provider.Expirer); ok {
		ex.ExpireRequest(key.ConversationID, key.RequestID, provider.ErrRequestTimedOut)
		if fresh, err := p.CheckRequestStatus(ctx, key.ConversationID, key.RequestID); err == nil && fresh != nil {
			if fresh.Status.IsTerminal() {
				return fresh
			}
		}
	}
	out := res.Clone()
	out.Status = types.StatusExpired
	out.Error = provider.ErrRequestTimedOut
	return out
}

// giveUp cancels an in-progress request whose alarm renewed too often.
func (m *Manager) giveUp(ctx context.Context, p provider.Provider, pid string, key types.RequestKey, renewals int) {
	m.logger.Warn("renewal limit reached, cancelling request",
		zap.String("conversation_id", key.ConversationID),
		zap.String("request_id", key.RequestID),
		zap.Int("renewals", renewals))

	if _, err := p.CancelRequest(ctx, key.ConversationID, key.RequestID); err != nil {
		m.logger.Warn("cancel after renewal limit failed", zap.Error(err))
	}
	res, err := p.CheckRequestStatus(ctx, key.ConversationID, key.RequestID)
	if err != nil || res == nil {
		res = types.ErrorResult(key.ConversationID, key.RequestID, "", provider.ErrRequestTimedOut)
		res.Status = types.StatusCancelled
	}
	m.settle(ctx, p, pid, key, res, notifyTimeout)
}

// settle dispatches a terminal result at most once per request. kind may be
// empty, in which case EXPIRED maps to the timeout notification and every
// other status to the update notification.
func (m *Manager) settle(ctx context.Context, p provider.Provider, pid string, key types.RequestKey, res *types.Result, kind string) {
	m.supervisor.Cancel(key)

	m.mu.Lock()
	e, ok := m.requests[key]
	if !ok || e.settled {
		m.mu.Unlock()
		m.updateAlarmGauge()
		return
	}
	e.settled = true
	cb := e.callback
	e.callback = nil
	taskID, created := e.taskID, e.createdAt
	m.mu.Unlock()
	m.updateAlarmGauge()

	if kind == "" {
		kind = notifyUpdate
		if res.Status == types.StatusExpired {
			kind = notifyTimeout
		}
	}

	m.recordOutcome(pid, res.Status)
	if kind == notifyTimeout && m.metrics != nil {
		m.metrics.RecordTimeout(pid)
	}
	m.logger.Info("request settled",
		zap.String("task_id", taskID),
		zap.String("conversation_id", key.ConversationID),
		zap.String("request_id", key.RequestID),
		zap.String("provider_id", pid),
		zap.String("status", string(res.Status)),
		zap.String("notification", kind),
		zap.Duration("age", m.now().Sub(created)))

	m.notify(ctx, cb, p, kind, res)
	m.syncAsync(taskID)
}

func (m *Manager) onRenew(key types.RequestKey, renewals int) {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	e, ok := m.requests[key]
	m.mu.RUnlock()
	if ok {
		m.metrics.RecordRenewal(e.providerID)
	}
}
