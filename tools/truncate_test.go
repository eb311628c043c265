package tools

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMiddleOut(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		max    int
		elided bool
	}{
		{"short", "hello", 100, false},
		{"exact", strings.Repeat("a", 64), 64, false},
		{"long", strings.Repeat("a", 500) + strings.Repeat("b", 500), 100, true},
		{"multibyte", strings.Repeat("é", 300), 101, true},
		{"disabled", strings.Repeat("z", 1000), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, tr := MiddleOut(tt.input, tt.max)
			assert.Equal(t, len(tt.input), tr.Kept+tr.Elided)
			assert.True(t, utf8.ValidString(out))
			if !tt.elided {
				assert.Equal(t, tt.input, out)
				assert.Zero(t, tr.Elided)
				return
			}
			assert.LessOrEqual(t, tr.Kept, tt.max)
			assert.Contains(t, out, fmt.Sprintf("[... %d bytes elided ...]", tr.Elided))
			assert.True(t, strings.HasPrefix(out, tt.input[:10]))
			assert.True(t, strings.HasSuffix(out, tt.input[len(tt.input)-10:]))
		})
	}
}

func TestFingerprintIgnoresArgumentOrder(t *testing.T) {
	a := Fingerprint("read_file", Params{"file_path": "x.go", "offset": float64(3)})
	b := Fingerprint("read_file", Params{"offset": float64(3), "file_path": "x.go"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, Fingerprint("list_dir", Params{"file_path": "x.go", "offset": float64(3)}))
	assert.NotEqual(t, a, Fingerprint("read_file", Params{"file_path": "y.go", "offset": float64(3)}))
	assert.Equal(t, Fingerprint("list_dir", nil), Fingerprint("list_dir", Params{}))
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache()
	c.Put("a", Text("1"))
	c.Put("b", Text("2"))
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", got.Output)

	assert.Equal(t, 2, c.Invalidate())
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestGuidanceHints(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: /nope", ErrNotFound), "path does not exist"},
		{fmt.Errorf("%w: /etc/shadow", ErrPermission), "permission was denied"},
		{fmt.Errorf("%w after 5s", ErrTimeout), "ran out of time"},
		{fmt.Errorf("%w: fly", ErrUnknownTool), "only the tools listed"},
	}
	for _, tt := range tests {
		g := FailureGuidance("read_file", tt.err)
		assert.Contains(t, g, "[TOOL CALL FAILED] The tool 'read_file'")
		assert.Contains(t, g, tt.want)
	}
	assert.NotContains(t, FailureGuidance("x", errors.New("exit status 1")), "Hint:")
	assert.Contains(t, InvalidParamsGuidance("shell_command", "  missing command \n"), "\n\nmissing command\n\n")
}
