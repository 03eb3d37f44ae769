package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/internal/tlsutil"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// SyncPath is appended to the platform base URL.
const SyncPath = "/api/v1/humanloop/tasks/sync"

// HTTPSinkConfig configures the platform sync client.
type HTTPSinkConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Policy
}

// HTTPSink posts snapshots to the GoHumanLoop platform.
type HTTPSink struct {
	url     string
	apiKey  string
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewHTTPSink creates the sink. A nil client gets one with cfg.Timeout.
func NewHTTPSink(cfg HTTPSinkConfig, client *http.Client, logger *zap.Logger) (*HTTPSink, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "http sink: base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	logger = logger.With(zap.String("sink", "http"))
	return &HTTPSink{
		url:     strings.TrimRight(cfg.BaseURL, "/") + SyncPath,
		apiKey:  cfg.APIKey,
		client:  client,
		retryer: retry.New(cfg.Retry, logger),
		logger:  logger,
	}, nil
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) SyncTask(ctx context.Context, snap *TaskSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.retryer.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return types.NewError(types.ErrChannelUnavailable, "task sync request failed").
				WithCause(err).WithRetryable(true)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if resp.StatusCode >= 300 {
			e := types.NewError(types.ErrUpstreamError,
				fmt.Sprintf("task sync failed: %d - %s", resp.StatusCode, bytes.TrimSpace(data))).
				WithHTTPStatus(resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return e.WithRetryable(true)
			}
			return retry.Permanent(e)
		}

		var out struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		if len(data) > 0 && json.Unmarshal(data, &out) == nil && !out.Success {
			return retry.Permanent(types.NewError(types.ErrUpstreamError, "task sync rejected: "+out.Error))
		}
		s.logger.Debug("task synced", zap.String("task_id", snap.TaskID))
		return nil
	})
}

func (s *HTTPSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}
