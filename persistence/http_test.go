package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/testutil"
	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestHTTPSink_PostsSnapshot(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SyncPath, r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPSinkConfig{BaseURL: srv.URL + "/", APIKey: "key-1", Retry: fastPolicy()}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.SyncTask(context.Background(), sampleSnapshot()))

	assert.Equal(t, "T1", got["task_id"])
	assert.NotEmpty(t, got["timestamp"])
	convs := got["conversations"].([]any)
	require.Len(t, convs, 2)
	c1 := convs[0].(map[string]any)
	assert.Equal(t, "C1", c1["conversation_id"])
	assert.Equal(t, "terminal", c1["provider_id"])
	reqs := c1["requests"].([]any)
	assert.Equal(t, "R1", reqs[0].(map[string]any)["request_id"])

	// 平台收到的内容可还原为完整快照
	sent := testutil.MustParseJSON[TaskSnapshot](testutil.MustJSON(got))
	testutil.AssertJSONEqual(t, sampleSnapshot(), &sent)
	assert.Equal(t, "approved", reqs[0].(map[string]any)["status"])
}

func TestHTTPSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPSinkConfig{BaseURL: srv.URL, Retry: fastPolicy()}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.SyncTask(context.Background(), sampleSnapshot()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSink_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"bad key"}`, "401"},
		{"rejected", http.StatusOK, `{"success":false,"error":"Missing task_id"}`, "Missing task_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			s, err := NewHTTPSink(HTTPSinkConfig{BaseURL: srv.URL, Retry: fastPolicy()}, nil, nil)
			require.NoError(t, err)
			err = s.SyncTask(context.Background(), sampleSnapshot())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
			assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestNewHTTPSink_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPSink(HTTPSinkConfig{}, nil, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}
