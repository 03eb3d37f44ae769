package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform is an in-memory GoHumanLoop platform.
type fakePlatform struct {
	mu        sync.Mutex
	requests  map[string]map[string]any
	statuses  map[string]statusResponse
	cancelled []string
	auth      []string
	failNext  int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		requests: make(map[string]map[string]any),
		statuses: make(map[string]statusResponse),
	}
}

func (f *fakePlatform) setStatus(requestID string, s statusResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[requestID] = s
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = append(f.auth, r.Header.Get("Authorization"))
	if f.failNext > 0 {
		f.failNext--
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case apiPrefix + "/request", apiPrefix + "/continue":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.requests[body["request_id"].(string)] = body
		_ = json.NewEncoder(w).Encode(apiResponse{Success: true})
	case apiPrefix + "/status":
		id := r.URL.Query().Get("request_id")
		s, ok := f.statuses[id]
		if !ok {
			s = statusResponse{apiResponse: apiResponse{Success: true}, Status: "pending"}
		}
		_ = json.NewEncoder(w).Encode(s)
	case apiPrefix + "/cancel", apiPrefix + "/cancel_conversation":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.cancelled = append(f.cancelled, body["conversation_id"].(string))
		_ = json.NewEncoder(w).Encode(apiResponse{Success: true})
	default:
		http.NotFound(w, r)
	}
}

func newTestProvider(t *testing.T, url string) *Provider {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.APIKey = "secret"
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RateLimit = 0
	cfg.Retry = retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	p, err := New("api", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New("api", Config{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestProvider_RequestAndPollApproval(t *testing.T) {
	platform := newFakePlatform()
	srv := httptest.NewServer(platform)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	ctx := context.Background()

	res, err := p.RequestHumanLoop(ctx, "T1", "C1", types.LoopTypeApproval,
		map[string]any{"message": "deploy?"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.Status)

	platform.mu.Lock()
	sent := platform.requests[res.RequestID]
	assert.Equal(t, "Bearer secret", platform.auth[0])
	platform.mu.Unlock()
	require.NotNil(t, sent)
	assert.Equal(t, "approval", sent["loop_type"])
	assert.Equal(t, "default", sent["platform"])

	platform.setStatus(res.RequestID, statusResponse{
		apiResponse: apiResponse{Success: true},
		Status:      "approved",
		Response:    map[string]any{"decision": "approved"},
		Feedback:    "looks good",
		RespondedBy: "alice",
	})

	require.Eventually(t, func() bool {
		got, _ := p.CheckRequestStatus(ctx, "C1", res.RequestID)
		return got.Status == types.StatusApproved
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := p.CheckRequestStatus(ctx, "C1", res.RequestID)
	assert.Equal(t, map[string]any{"decision": "approved"}, got.Response)
	assert.Equal(t, map[string]any{"value": "looks good"}, got.Feedback)
	assert.Equal(t, "alice", got.RespondedBy)
}

func TestProvider_ReplacedPollerKeepsPolling(t *testing.T) {
	platform := newFakePlatform()
	srv := httptest.NewServer(platform)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	ctx := context.Background()

	res, err := p.RequestHumanLoop(ctx, "T1", "C1", types.LoopTypeApproval,
		map[string]any{"message": "deploy?"}, nil, 0)
	require.NoError(t, err)
	key := types.RequestKey{ConversationID: "C1", RequestID: res.RequestID}

	// the first poller exits after being replaced
	p.startPoller(key)
	time.Sleep(50 * time.Millisecond)
	assert.True(t, p.hasPoller(key))

	platform.setStatus(res.RequestID, statusResponse{
		apiResponse: apiResponse{Success: true},
		Status:      "approved",
	})
	require.Eventually(t, func() bool {
		st, _ := p.Status("C1", res.RequestID)
		return st == types.StatusApproved
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !p.hasPoller(key) }, time.Second, 10*time.Millisecond)
}

func TestProvider_RequestFailureYieldsErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res, err := p.RequestHumanLoop(context.Background(), "T1", "C1", types.LoopTypeInformation, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, res.Status)
	assert.Contains(t, res.Error, "400")
}

func TestProvider_RetriesTransientFailures(t *testing.T) {
	platform := newFakePlatform()
	platform.failNext = 2
	srv := httptest.NewServer(platform)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res, err := p.RequestHumanLoop(context.Background(), "T1", "C1", types.LoopTypeInformation, nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.Status)
}

func TestProvider_ContinueAndCancelConversation(t *testing.T) {
	platform := newFakePlatform()
	srv := httptest.NewServer(platform)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	ctx := context.Background()

	missing, err := p.ContinueHumanLoop(ctx, "nope", nil, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, missing.Status)

	first, err := p.RequestHumanLoop(ctx, "T1", "C1", types.LoopTypeConversation, nil, nil, 0)
	require.NoError(t, err)
	platform.setStatus(first.RequestID, statusResponse{
		apiResponse: apiResponse{Success: true}, Status: "completed", Response: "hi",
	})
	require.Eventually(t, func() bool {
		got, _ := p.CheckRequestStatus(ctx, "C1", first.RequestID)
		return got.Status == types.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	second, err := p.ContinueHumanLoop(ctx, "C1", map[string]any{"message": "more"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, second.Status)
	assert.Equal(t, types.LoopTypeConversation, second.LoopType)

	ok, err := p.CancelConversation(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := p.CheckRequestStatus(ctx, "C1", first.RequestID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	got, _ = p.CheckRequestStatus(ctx, "C1", second.RequestID)
	assert.Equal(t, types.StatusCancelled, got.Status)

	platform.mu.Lock()
	assert.Contains(t, platform.cancelled, "C1")
	platform.mu.Unlock()

	// the platform may report a late answer; it must not reach the cancelled request
	platform.setStatus(second.RequestID, statusResponse{apiResponse: apiResponse{Success: true}, Status: "completed"})
	time.Sleep(50 * time.Millisecond)
	got, _ = p.CheckRequestStatus(ctx, "C1", second.RequestID)
	assert.Equal(t, types.StatusCancelled, got.Status)
}

func TestProvider_RemoteFailureMarksError(t *testing.T) {
	platform := newFakePlatform()
	srv := httptest.NewServer(platform)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	ctx := context.Background()

	res, err := p.RequestHumanLoop(ctx, "T1", "C1", types.LoopTypeApproval, nil, nil, 0)
	require.NoError(t, err)
	platform.setStatus(res.RequestID, statusResponse{apiResponse: apiResponse{Success: false, Error: "gone"}})

	require.Eventually(t, func() bool {
		got, _ := p.CheckRequestStatus(ctx, "C1", res.RequestID)
		return got.Status == types.StatusError
	}, 2*time.Second, 10*time.Millisecond)
}
