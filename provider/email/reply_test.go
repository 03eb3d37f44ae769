package email

import (
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDFromSubject(t *testing.T) {
	id, ok := RequestIDFromSubject("Re: [HumanLoop:4f1c-aa] Approval request: T1")
	require.True(t, ok)
	assert.Equal(t, "4f1c-aa", id)

	_, ok = RequestIDFromSubject("Re: lunch?")
	assert.False(t, ok)
}

func TestExtractAnswer(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "markers",
			body: "hello\r\n" + ResponseStart + "\r\n approve \r\n lgtm\r\n" + ResponseEnd + "\r\nsig",
			want: "approve\n lgtm",
		},
		{
			name: "quoted original",
			body: "yes\n\nOn Mon, 1 Jan 2026, bot wrote:\n> question",
			want: "yes",
		},
		{
			name: "quote prefix only",
			body: "> old\nnew text\n",
			want: "new text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractAnswer(tt.body))
		})
	}
}

func TestInterpret(t *testing.T) {
	status, resp, fb, ok := Interpret(types.LoopTypeApproval, "Approve.\nship it")
	require.True(t, ok)
	assert.Equal(t, types.StatusApproved, status)
	assert.Equal(t, map[string]any{"decision": "approved"}, resp)
	assert.Equal(t, map[string]any{"comment": "ship it"}, fb)

	_, _, _, ok = Interpret(types.LoopTypeApproval, "maybe")
	assert.False(t, ok)

	status, resp, _, ok = Interpret(types.LoopTypeInformation, "42")
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, status)
	assert.Equal(t, "42", resp)

	status, _, _, ok = Interpret(types.LoopTypeConversation, "go on")
	require.True(t, ok)
	assert.Equal(t, types.StatusInProgress, status)

	status, resp, _, ok = Interpret(types.LoopTypeConversation, "bye [END]")
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, status)
	assert.Equal(t, "bye", resp)
}

func TestRenderAndParseMessage(t *testing.T) {
	raw := Render(Message{
		From:    "bot@example.com",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: Subject("r1", "Approval request: 部署"),
		Body:    "line one\nline two",
	}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Contains(t, string(raw), "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, string(raw), "line one\r\nline two")

	reply, err := parseMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", reply.From)
	assert.Equal(t, "[HumanLoop:r1] Approval request: 部署", reply.Subject)
	assert.Equal(t, "line one\r\nline two", reply.Body)
}

func TestParseMessage_Multipart(t *testing.T) {
	raw := "From: Human <human@example.com>\r\n" +
		"Subject: Re: [HumanLoop:r2] x\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n\r\n" +
		"--XYZ\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\napprove\r\n" +
		"--XYZ\r\nContent-Type: text/html\r\n\r\n<p>approve</p>\r\n--XYZ--\r\n"

	reply, err := parseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "human@example.com", reply.From)
	assert.Equal(t, "approve", strings.TrimSpace(reply.Body))
}
