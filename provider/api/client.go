package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/types"
)

type requestPayload struct {
	TaskID         string         `json:"task_id"`
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id"`
	LoopType       string         `json:"loop_type"`
	Context        map[string]any `json:"context"`
	Platform       string         `json:"platform"`
	Metadata       map[string]any `json:"metadata"`
}

type continuePayload struct {
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id"`
	TaskID         string         `json:"task_id"`
	Context        map[string]any `json:"context"`
	Platform       string         `json:"platform"`
	Metadata       map[string]any `json:"metadata"`
}

type cancelPayload struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
	Platform       string `json:"platform"`
}

type cancelConversationPayload struct {
	ConversationID string `json:"conversation_id"`
	Platform       string `json:"platform"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	apiResponse
	Status      string `json:"status"`
	Response    any    `json:"response,omitempty"`
	Feedback    any    `json:"feedback,omitempty"`
	RespondedBy string `json:"responded_by,omitempty"`
	RespondedAt string `json:"responded_at,omitempty"`
}

// post sends body to path and requires {"success": true}.
func (p *Provider) post(ctx context.Context, path string, body any) error {
	var resp apiResponse
	if err := p.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return types.NewError(types.ErrUpstreamError, "API returned error: "+resp.Error).
			WithProvider(p.Name())
	}
	return nil
}

func (p *Provider) fetchStatus(ctx context.Context, key types.RequestKey) (*statusResponse, error) {
	q := url.Values{}
	q.Set("conversation_id", key.ConversationID)
	q.Set("request_id", key.RequestID)
	q.Set("platform", p.cfg.Platform)

	var resp statusResponse
	if err := p.do(ctx, http.MethodGet, "/status", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do performs one JSON call under the rate limiter and retry policy.
func (p *Provider) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	target := p.cfg.BaseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return p.retryer.Do(ctx, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return types.NewError(types.ErrChannelUnavailable, "request failed").
				WithCause(err).WithRetryable(true).WithProvider(p.Name())
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return types.NewError(types.ErrUpstreamError, "read response").
				WithCause(err).WithRetryable(true).WithProvider(p.Name())
		}
		if resp.StatusCode >= 300 {
			e := types.NewError(types.ErrUpstreamError,
				fmt.Sprintf("API error: %d - %s", resp.StatusCode, bytes.TrimSpace(data))).
				WithHTTPStatus(resp.StatusCode).WithProvider(p.Name())
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return e.WithRetryable(true)
			}
			return retry.Permanent(e)
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}
