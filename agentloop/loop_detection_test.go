package agentloop

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

func callsTranscript(args ...string) []unifiedllm.Message {
	msgs := []unifiedllm.Message{unifiedllm.SystemMessage("sys"), unifiedllm.UserMessage("task")}
	for i, a := range args {
		id := fmt.Sprintf("c%d", i)
		msgs = append(msgs,
			assistantCalling(unifiedllm.ToolCallData{ID: id, Name: "shell_command", Arguments: json.RawMessage(a)}),
			toolMessage(id, "shell_command", "ok"),
		)
	}
	return msgs
}

func repeat(pattern []string, n int) []string {
	var out []string
	for len(out) < n {
		out = append(out, pattern...)
	}
	return out[:n]
}

func TestDetectLoop(t *testing.T) {
	a := `{"command":"ls"}`
	b := `{"command":"pwd"}`
	c := `{"command":"make"}`
	d := `{"command":"make test"}`

	tests := map[string]struct {
		args []string
		want bool
	}{
		"same call":       {args: repeat([]string{a}, 10), want: true},
		"alternating":     {args: repeat([]string{a, b}, 10), want: true},
		"period three":    {args: repeat([]string{a, b, c}, 12), want: false}, // 10 is not a multiple of 3
		"varied":          {args: []string{a, b, c, d, a, b, c, d, a, c}, want: false},
		"too few calls":   {args: repeat([]string{a}, 9), want: false},
		"loop at the end": {args: append([]string{b, c, d}, repeat([]string{a}, 10)...), want: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLoop(callsTranscript(tt.args...), 10))
		})
	}
}

func TestDetectLoopPeriodThree(t *testing.T) {
	msgs := callsTranscript(repeat([]string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, 9)...)
	assert.True(t, DetectLoop(msgs, 9))
	assert.False(t, DetectLoop(msgs, 1), "a window of one is not a loop")
}

func TestCallSignatureIgnoresWhitespace(t *testing.T) {
	assert.Equal(t,
		callSignature("read_file", json.RawMessage(`{"path": "a.go"}`)),
		callSignature("read_file", json.RawMessage(`{"path":"a.go"}`)),
	)
	assert.NotEqual(t,
		callSignature("read_file", json.RawMessage(`{"path":"a.go"}`)),
		callSignature("list_dir", json.RawMessage(`{"path":"a.go"}`)),
	)
}
