package manager

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/humanloop/internal/telemetry"
	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Snapshot builds the full state of taskID from the providers' records.
func (m *Manager) Snapshot(ctx context.Context, taskID string) (*persistence.TaskSnapshot, error) {
	type convView struct {
		id, providerID string
		p              provider.Provider
		requestIDs     []string
		created        []time.Time
	}

	m.mu.RLock()
	convIDs, ok := m.tasks[taskID]
	if !ok {
		m.mu.RUnlock()
		return nil, persistence.ErrNotFound
	}
	views := make([]convView, 0, len(convIDs))
	for _, cid := range convIDs {
		ce := m.conversations[cid]
		v := convView{id: cid, providerID: ce.providerID, p: m.providers[ce.providerID]}
		for _, rid := range ce.requestIDs {
			v.requestIDs = append(v.requestIDs, rid)
			var created time.Time
			if e, ok := m.requests[types.RequestKey{ConversationID: cid, RequestID: rid}]; ok {
				created = e.createdAt
			}
			v.created = append(v.created, created)
		}
		views = append(views, v)
	}
	m.mu.RUnlock()

	snap := persistence.NewTaskSnapshot(taskID, m.now())
	for _, v := range views {
		reqs := make([]*types.Request, 0, len(v.requestIDs))
		for i, rid := range v.requestIDs {
			if req := m.record(ctx, v.p, taskID, v.id, rid, v.created[i]); req != nil {
				reqs = append(reqs, req)
			}
		}
		snap.AddConversation(v.id, v.providerID, reqs)
	}
	return snap, nil
}

// record fetches the stored request from a Recorder, or rebuilds it from a
// status check.
func (m *Manager) record(ctx context.Context, p provider.Provider, taskID, conversationID, requestID string, created time.Time) *types.Request {
	if p == nil {
		return nil
	}
	if r, ok := p.(provider.Recorder); ok {
		if req, ok := r.Request(conversationID, requestID); ok {
			return req
		}
	}
	res, err := p.CheckRequestStatus(ctx, conversationID, requestID)
	if err != nil || res == nil {
		return nil
	}
	return &types.Request{
		TaskID:         taskID,
		ConversationID: conversationID,
		RequestID:      requestID,
		LoopType:       res.LoopType,
		Status:         res.Status,
		Response:       res.Response,
		Feedback:       res.Feedback,
		RespondedBy:    res.RespondedBy,
		RespondedAt:    res.RespondedAt,
		Error:          res.Error,
		CreatedAt:      created,
	}
}

// SyncTask pushes the current snapshot of taskID to the sink.
func (m *Manager) SyncTask(ctx context.Context, taskID string) (err error) {
	if m.sink == nil {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, "humanloop.sync",
		attribute.String("humanloop.task_id", taskID),
		attribute.String("humanloop.sink", m.sink.Name()))
	start := time.Now()
	defer func() {
		telemetry.EndSpan(span, err)
		if m.metrics != nil {
			m.metrics.RecordSync(time.Since(start), err)
		}
	}()

	snap, err := m.Snapshot(ctx, taskID)
	if err != nil {
		return err
	}
	if err = m.sink.SyncTask(ctx, snap); err != nil {
		m.logger.Warn("task sync failed",
			zap.String("task_id", taskID),
			zap.String("sink", m.sink.Name()),
			zap.Error(err))
		return err
	}
	m.logger.Debug("task synced",
		zap.String("task_id", taskID),
		zap.Int("requests", snap.RequestCount()))
	return nil
}

// SyncAll syncs every known task.
func (m *Manager) SyncAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.Tasks() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.SyncTask(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// syncAsync syncs taskID in the background.
func (m *Manager) syncAsync(taskID string) {
	if m.sink == nil || taskID == "" {
		return
	}
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.closed.Load() {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SyncTimeout)
		defer cancel()
		_ = m.SyncTask(ctx, taskID)
	}()
}

// StartSync syncs every task each interval until Shutdown.
func (m *Manager) StartSync(interval time.Duration) error {
	if m.sink == nil {
		return types.NewError(types.ErrInvalidRequest, "no sync sink configured")
	}
	if interval <= 0 {
		return types.NewError(types.ErrInvalidRequest, "sync interval must be positive")
	}

	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.closed.Load() {
		return types.NewError(types.ErrClosed, "manager is shut down")
	}
	if m.syncCancel != nil {
		return types.NewError(types.ErrInvalidRequest, "sync loop already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.syncCancel = cancel

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sctx, scancel := context.WithTimeout(ctx, m.cfg.SyncTimeout)
				_ = m.SyncAll(sctx)
				scancel()
			}
		}
	}()
	m.logger.Info("sync loop started",
		zap.Duration("interval", interval),
		zap.String("sink", m.sink.Name()))
	return nil
}

// Shutdown stops background work, runs a final sync and closes providers
// implementing provider.Closer and the sink. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.bgMu.Lock()
	if !m.closed.CompareAndSwap(false, true) {
		m.bgMu.Unlock()
		return nil
	}
	if m.syncCancel != nil {
		m.syncCancel()
	}
	m.bgMu.Unlock()

	var errs []error
	if err := m.supervisor.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if m.sink != nil {
		if err := m.SyncAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	for id, p := range m.ListProviders() {
		c, ok := p.(provider.Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			m.logger.Warn("provider close failed", zap.String("provider_id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}

	if m.sink != nil {
		if err := m.sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("manager shut down")
	return errors.Join(errs...)
}
