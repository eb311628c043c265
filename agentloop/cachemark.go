package agentloop

import "github.com/PlatformNetwork/top-agent/unifiedllm"

// MarkCache sets up to two prompt-cache breakpoints: the system message and
// the second most recent message, so the next request can reuse everything
// before its final message. Content is never touched. The input slice is not
// modified; a copy is made only when a flag actually changes, so marking a
// marked transcript returns it unchanged.
func MarkCache(msgs []unifiedllm.Message, enabled bool) []unifiedllm.Message {
	if !enabled || len(msgs) == 0 {
		return msgs
	}

	var targets []int
	for i, m := range msgs {
		if m.Role == unifiedllm.RoleSystem {
			targets = append(targets, i)
			break
		}
	}
	if i := len(msgs) - 2; i >= 0 && msgs[i].Role != unifiedllm.RoleSystem {
		targets = append(targets, i)
	}

	out := msgs
	copied := false
	for _, i := range targets {
		if out[i].CacheControl {
			continue
		}
		if !copied {
			out = append([]unifiedllm.Message(nil), msgs...)
			copied = true
		}
		out[i].CacheControl = true
	}
	return out
}

// cacheMarks counts the breakpoints in msgs.
func cacheMarks(msgs []unifiedllm.Message) int {
	n := 0
	for _, m := range msgs {
		if m.CacheControl {
			n++
		}
	}
	return n
}
