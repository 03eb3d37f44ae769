package provider

import (
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	req := &types.Request{
		TaskID:         "T1",
		ConversationID: "C1",
		RequestID:      "R1",
		LoopType:       types.LoopTypeApproval,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Context: map[string]any{
			"zeta":     1,
			"question": "Deploy to prod?",
			"message":  "Release 1.2",
			"alpha":    map[string]any{"k": "v"},
		},
		Metadata: map[string]any{"source": "ci"},
	}

	out := BuildPrompt(req, PromptOptions{ShowMetadata: true})

	assert.Contains(t, out, "=== Approval request ===")
	assert.Contains(t, out, "Request ID: R1")
	assert.Contains(t, out, "Created At: 2026-01-02 03:04:05")
	assert.Contains(t, out, "[Metadata]\nsource: ci")
	assert.Less(t, strings.Index(out, "[Message]"), strings.Index(out, "[Question]"))
	assert.Less(t, strings.Index(out, "[Question]"), strings.Index(out, "[alpha]"))
	assert.Less(t, strings.Index(out, "[alpha]"), strings.Index(out, "[zeta]"))
	assert.Contains(t, out, `"k": "v"`)

	assert.NotContains(t, BuildPrompt(req, PromptOptions{}), "[Metadata]")
}
