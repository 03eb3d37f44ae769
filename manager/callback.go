package manager

import (
	"context"
	"fmt"

	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// Callback receives notifications for one request.
//
// OnUpdate fires once when the request reaches a terminal status. OnTimeout
// fires instead when the request expires while still pending. When either
// returns an error (or panics) OnError is called with it; a failure of OnError
// itself is logged and dropped.
type Callback interface {
	OnUpdate(ctx context.Context, p provider.Provider, res *types.Result) error
	OnTimeout(ctx context.Context, p provider.Provider, res *types.Result) error
	OnError(ctx context.Context, p provider.Provider, err error) error
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are no-ops.
type CallbackFuncs struct {
	Update  func(ctx context.Context, p provider.Provider, res *types.Result) error
	Timeout func(ctx context.Context, p provider.Provider, res *types.Result) error
	Error   func(ctx context.Context, p provider.Provider, err error) error
}

func (f CallbackFuncs) OnUpdate(ctx context.Context, p provider.Provider, res *types.Result) error {
	if f.Update == nil {
		return nil
	}
	return f.Update(ctx, p, res)
}

func (f CallbackFuncs) OnTimeout(ctx context.Context, p provider.Provider, res *types.Result) error {
	if f.Timeout == nil {
		return nil
	}
	return f.Timeout(ctx, p, res)
}

func (f CallbackFuncs) OnError(ctx context.Context, p provider.Provider, err error) error {
	if f.Error == nil {
		return nil
	}
	return f.Error(ctx, p, err)
}

const (
	notifyUpdate  = "update"
	notifyTimeout = "timeout"
	notifyError   = "error"
)

// invoke runs one notification, turning a panic into an error.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrCallbackFailed, fmt.Sprintf("callback panicked: %v", r))
		}
	}()
	return fn()
}

// notify delivers kind to cb. Failures fall through to OnError, whose own
// failure is only logged. It never panics.
func (m *Manager) notify(ctx context.Context, cb Callback, p provider.Provider, kind string, res *types.Result) {
	if cb == nil {
		return
	}
	err := invoke(func() error {
		if kind == notifyTimeout {
			return cb.OnTimeout(ctx, p, res.Clone())
		}
		return cb.OnUpdate(ctx, p, res.Clone())
	})
	m.recordCallback(kind, err)
	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("conversation_id", res.ConversationID),
		zap.String("request_id", res.RequestID),
		zap.String("notification", kind),
	}
	m.logger.Warn("callback failed", append(fields, zap.Error(err))...)

	cbErr := types.NewError(types.ErrCallbackFailed, kind+" callback failed").WithCause(err)
	if p != nil {
		cbErr = cbErr.WithProvider(p.Name())
	}
	errErr := invoke(func() error { return cb.OnError(ctx, p, cbErr) })
	m.recordCallback(notifyError, errErr)
	if errErr != nil {
		m.logger.Warn("error callback failed", append(fields, zap.Error(errErr))...)
	}
}
