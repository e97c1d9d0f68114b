package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripThink(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"no block":          {"answer", "answer"},
		"leading block":     {"<think>\nreasoning\n</think>\n\nanswer", "answer"},
		"leading space":     {"\n  <think>r</think> answer", "answer"},
		"stray close":       {"use a </think> tag to end reasoning", "use a </think> tag to end reasoning"},
		"inner block":       {"answer <think>quoted</think> tail", "answer <think>quoted</think> tail"},
		"second block kept": {"<think>a</think>x <think>b</think> y", "x <think>b</think> y"},
		"unterminated":      {"<think>partial reasoning", ""},
		"only block":        {"<think>r</think>", ""},
		"multiline payload": {"<think>a\nb</think>x\ny", "x\ny"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripThink(tc.in))
		})
	}
}

func feed(f *ThinkFilter, parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(f.Push(p))
	}
	sb.WriteString(f.Flush())
	return sb.String()
}

func TestThinkFilterHidesSplitBlock(t *testing.T) {
	var f ThinkFilter
	got := feed(&f, "<th", "ink>step one", " step two</th", "ink>\n\nThe ", "answer")
	assert.Equal(t, "The answer", got)
}

func TestThinkFilterPassesPlainText(t *testing.T) {
	var f ThinkFilter
	assert.Equal(t, "Hello world", feed(&f, "Hel", "lo ", "world"))
}

func TestThinkFilterFlushesUndecidedPrefix(t *testing.T) {
	var f ThinkFilter
	assert.Equal(t, "<th", feed(&f, "<th"))
}
