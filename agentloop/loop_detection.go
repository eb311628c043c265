package agentloop

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// callSignature identifies a tool call by name and a hash of its
// arguments. Arguments are compacted first so whitespace differences do not
// hide a repeat.
func callSignature(name string, arguments json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, arguments); err != nil {
		buf.Reset()
		buf.Write(arguments)
	}
	h := sha256.Sum256(buf.Bytes())
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentSignatures returns the signatures of the last count tool calls in
// chronological order.
func recentSignatures(msgs []unifiedllm.Message, count int) []string {
	var sigs []string
	for i := len(msgs) - 1; i >= 0 && len(sigs) < count; i-- {
		if msgs[i].Role != unifiedllm.RoleAssistant {
			continue
		}
		calls := msgs[i].ToolCalls()
		for j := len(calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, callSignature(calls[j].Name, calls[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last window tool calls repeat a pattern of
// one, two or three calls.
func DetectLoop(msgs []unifiedllm.Message, window int) bool {
	if window < 2 {
		return false
	}
	sigs := recentSignatures(msgs, window)
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 || window == patternLen {
			continue
		}
		match := true
		for i := patternLen; i < window && match; i++ {
			match = sigs[i] == sigs[i%patternLen]
		}
		if match {
			return true
		}
	}
	return false
}
