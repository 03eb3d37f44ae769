package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/humanloop/types"
)

// PromptOptions controls BuildPrompt.
type PromptOptions struct {
	ShowMetadata bool
}

var loopTypeTitles = map[types.LoopType]string{
	types.LoopTypeApproval:     "Approval request",
	types.LoopTypeInformation:  "Information request",
	types.LoopTypeConversation: "Conversation",
}

// BuildPrompt renders a request as plain text for human-facing channels.
//
// Well-known context keys (message, question, additional) are rendered first;
// every other key follows in sorted order.
func BuildPrompt(req *types.Request, opts PromptOptions) string {
	var sb strings.Builder

	title, ok := loopTypeTitles[req.LoopType]
	if !ok {
		title = string(req.LoopType)
	}
	sb.WriteString("=== " + title + " ===\n")
	fmt.Fprintf(&sb, "Task ID: %s\n", req.TaskID)
	fmt.Fprintf(&sb, "Conversation ID: %s\n", req.ConversationID)
	fmt.Fprintf(&sb, "Request ID: %s\n", req.RequestID)
	if !req.CreatedAt.IsZero() {
		fmt.Fprintf(&sb, "Created At: %s\n", req.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	known := []string{"message", "question", "additional"}
	rendered := make(map[string]bool, len(known))
	for _, k := range known {
		if v, ok := req.Context[k]; ok {
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", strings.ToUpper(k[:1])+k[1:], formatValue(v))
			rendered[k] = true
		}
	}

	rest := make([]string, 0, len(req.Context))
	for k := range req.Context {
		if !rendered[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", k, formatValue(req.Context[k]))
	}

	if opts.ShowMetadata && len(req.Metadata) > 0 {
		sb.WriteString("\n[Metadata]\n")
		keys := make([]string, 0, len(req.Metadata))
		for k := range req.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "%s: %s\n", k, formatValue(req.Metadata[k]))
		}
	}

	return sb.String()
}

func formatValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case nil:
		return ""
	case fmt.Stringer:
		return tv.String()
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
