package email

import (
	"regexp"
	"slices"
	"strings"

	"github.com/BaSui01/humanloop/types"
)

// Reply markers delimiting the human's answer inside a mail body.
const (
	ResponseStart = "===== RESPONSE START ====="
	ResponseEnd   = "===== RESPONSE END ====="

	// ConversationEnd ends a conversation when present in a reply.
	ConversationEnd = "[END]"
)

var subjectTag = regexp.MustCompile(`\[HumanLoop:([A-Za-z0-9-]+)\]`)

// quoteHeader matches the "On <date>, <someone> wrote:" line most clients insert.
var quoteHeader = regexp.MustCompile(`(?m)^On .+wrote:\s*$|^在 .+写道：\s*$`)

var (
	approveWords = []string{"approve", "approved", "yes", "y", "ok", "同意", "批准"}
	rejectWords  = []string{"reject", "rejected", "no", "n", "拒绝", "不同意"}
)

// Subject builds a subject carrying the request tag.
func Subject(requestID, title string) string {
	return "[HumanLoop:" + requestID + "] " + title
}

// RequestIDFromSubject extracts the request id tag.
func RequestIDFromSubject(subject string) (string, bool) {
	m := subjectTag.FindStringSubmatch(subject)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractAnswer returns the human-written part of a reply body: the text between
// the response markers when present, otherwise the text above the quoted original.
func ExtractAnswer(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")

	if start := strings.Index(body, ResponseStart); start >= 0 {
		rest := body[start+len(ResponseStart):]
		if end := strings.Index(rest, ResponseEnd); end >= 0 {
			rest = rest[:end]
		}
		return cleanLines(rest)
	}

	if loc := quoteHeader.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}
	return cleanLines(body)
}

// cleanLines drops quoted lines and surrounding blank space.
func cleanLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), ">") {
			continue
		}
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Interpret maps an answer onto a resolution for the given loop type. ok is false
// when an approval answer carries no recognisable decision.
func Interpret(loopType types.LoopType, answer string) (status types.Status, response any, feedback map[string]any, ok bool) {
	switch loopType {
	case types.LoopTypeApproval:
		first, rest := splitFirstLine(answer)
		decision := strings.ToLower(strings.Trim(first, " .!:"))
		switch {
		case slices.Contains(approveWords, decision):
			status = types.StatusApproved
		case slices.Contains(rejectWords, decision):
			status = types.StatusRejected
		default:
			return "", nil, nil, false
		}
		response = map[string]any{"decision": string(status)}
		if rest != "" {
			feedback = map[string]any{"comment": rest}
			if status == types.StatusRejected {
				response = map[string]any{"decision": string(status), "reason": rest}
			}
		}
		return status, response, feedback, true

	case types.LoopTypeInformation:
		if answer == "" {
			return "", nil, nil, false
		}
		return types.StatusCompleted, answer, nil, true

	default:
		if strings.Contains(answer, ConversationEnd) {
			text := strings.TrimSpace(strings.ReplaceAll(answer, ConversationEnd, ""))
			return types.StatusCompleted, text, nil, true
		}
		if answer == "" {
			return "", nil, nil, false
		}
		return types.StatusInProgress, answer, nil, true
	}
}

func splitFirstLine(s string) (string, string) {
	first, rest, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(first), strings.TrimSpace(rest)
}
