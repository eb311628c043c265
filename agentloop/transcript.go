package agentloop

import (
	"fmt"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// SummaryName tags the message that replaces a summarized range.
const SummaryName = "compaction_summary"

// Transcript is the run's ordered message list. It is append-only except
// for Replace, which the controller uses to install a compacted version.
type Transcript struct {
	msgs    []unifiedllm.Message
	nextSeq int
}

// NewTranscript starts a transcript with the given messages.
func NewTranscript(msgs ...unifiedllm.Message) *Transcript {
	t := &Transcript{}
	for _, m := range msgs {
		t.Append(m)
	}
	return t
}

// Append stamps msg with the next sequence index and adds it.
func (t *Transcript) Append(msg unifiedllm.Message) unifiedllm.Message {
	t.nextSeq++
	msg.Seq = t.nextSeq
	t.msgs = append(t.msgs, msg)
	return msg
}

// Messages returns a copy of the message list.
func (t *Transcript) Messages() []unifiedllm.Message {
	return append([]unifiedllm.Message(nil), t.msgs...)
}

// Len is the number of messages.
func (t *Transcript) Len() int { return len(t.msgs) }

// Replace installs a compacted message list. A message without a sequence
// index gets a fresh one. If that would break the strictly increasing order
// the whole list is renumbered from 1.
func (t *Transcript) Replace(msgs []unifiedllm.Message) {
	out := append([]unifiedllm.Message(nil), msgs...)
	prev := 0
	for i := range out {
		if out[i].Seq == 0 {
			t.nextSeq++
			out[i].Seq = t.nextSeq
		}
		if out[i].Seq <= prev {
			t.renumber(out)
			break
		}
		prev = out[i].Seq
	}
	t.msgs = out
}

func (t *Transcript) renumber(msgs []unifiedllm.Message) {
	for i := range msgs {
		msgs[i].Seq = i + 1
	}
	t.nextSeq = len(msgs)
}

// IsSummary reports whether msg was produced by compaction.
func IsSummary(msg unifiedllm.Message) bool {
	return msg.Role == unifiedllm.RoleUser && msg.Name == SummaryName
}

// CheckToolPairing verifies that every tool message answers exactly one
// earlier tool call and that every tool call is answered before the next
// assistant message.
func CheckToolPairing(msgs []unifiedllm.Message) error {
	pending := map[string]bool{}
	answered := map[string]bool{}
	for i, m := range msgs {
		switch m.Role {
		case unifiedllm.RoleAssistant:
			for id, open := range pending {
				if open {
					return fmt.Errorf("message %d: tool call %s was never answered", i, id)
				}
			}
			for _, tc := range m.ToolCalls() {
				pending[tc.ID] = true
			}
		case unifiedllm.RoleTool:
			if !pending[m.ToolCallID] {
				if answered[m.ToolCallID] {
					return fmt.Errorf("message %d: tool call %s answered twice", i, m.ToolCallID)
				}
				return fmt.Errorf("message %d: tool result %s has no matching call", i, m.ToolCallID)
			}
			pending[m.ToolCallID] = false
			answered[m.ToolCallID] = true
		}
	}
	return nil
}
