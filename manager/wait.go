package manager

import (
	"context"
	"time"

	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
)

// wait polls until the request leaves PENDING/INPROGRESS. Push-capable
// providers wake it early. It has no deadline of its own; ctx bounds it.
func (m *Manager) wait(ctx context.Context, is *issued, start time.Time) (*types.Result, error) {
	key := types.RequestKey{ConversationID: is.result.ConversationID, RequestID: is.result.RequestID}
	res := is.result
	notifier, _ := is.provider.(provider.Notifier)

	for {
		if !res.Status.IsActive() {
			if m.metrics != nil {
				m.metrics.RecordWait(is.providerID, string(res.LoopType), m.now().Sub(start))
			}
			return res, nil
		}

		var changed <-chan struct{}
		if notifier != nil {
			changed = notifier.Changed(key.ConversationID, key.RequestID)
		}
		timer := time.NewTimer(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}

		var err error
		if res, err = m.check(ctx, is.provider, is.providerID, key); err != nil {
			return nil, err
		}
	}
}
