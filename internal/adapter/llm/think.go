package llm

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Reasoning block markers emitted by thinking models.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// StripThink removes a leading reasoning block from a complete reply. Text
// after the block, including any later markers, is kept as is. A reply that
// is only an unterminated block yields an empty answer.
func StripThink(text string) string {
	out := strings.TrimSpace(text)
	if !strings.HasPrefix(out, ThinkOpen) {
		return out
	}
	body := out[len(ThinkOpen):]
	i := strings.Index(body, ThinkClose)
	if i < 0 {
		out = ""
	} else {
		out = strings.TrimSpace(body[i+len(ThinkClose):])
	}
	if out == "" {
		log.Warn().Int("reply_len", len(text)).Msg("reply holds only a reasoning block")
	}
	return out
}

// ThinkFilter hides a leading reasoning block from a token stream.
// Feed it fragments in order; it returns the visible part of each.
type ThinkFilter struct {
	buf     strings.Builder
	state   thinkState
	started bool
}

type thinkState int

const (
	thinkUndecided thinkState = iota
	thinkInside
	thinkPassing
)

// Push consumes one fragment and returns text safe to display.
func (f *ThinkFilter) Push(fragment string) string {
	switch f.state {
	case thinkPassing:
		return f.visible(fragment)
	case thinkInside:
		f.buf.WriteString(fragment)
		acc := f.buf.String()
		i := strings.Index(acc, ThinkClose)
		if i < 0 {
			// keep only a tail long enough to match a split marker
			if len(acc) > len(ThinkClose) {
				tail := acc[len(acc)-len(ThinkClose):]
				f.buf.Reset()
				f.buf.WriteString(tail)
			}
			return ""
		}
		f.state = thinkPassing
		rest := acc[i+len(ThinkClose):]
		f.buf.Reset()
		return f.visible(strings.TrimLeft(rest, " \t\r\n"))
	default:
		f.buf.WriteString(fragment)
		acc := f.buf.String()
		trimmed := strings.TrimLeft(acc, " \t\r\n")
		if trimmed == "" {
			return ""
		}
		if strings.HasPrefix(trimmed, ThinkOpen) {
			f.state = thinkInside
			f.buf.Reset()
			return f.Push(trimmed[len(ThinkOpen):])
		}
		if strings.HasPrefix(ThinkOpen, trimmed) {
			// could still become the opening marker
			return ""
		}
		f.state = thinkPassing
		f.buf.Reset()
		return f.visible(acc)
	}
}

// Flush returns text held back while the opening marker was undecided.
func (f *ThinkFilter) Flush() string {
	if f.state != thinkUndecided {
		return ""
	}
	acc := f.buf.String()
	f.buf.Reset()
	f.state = thinkPassing
	return f.visible(acc)
}

func (f *ThinkFilter) visible(s string) string {
	if !f.started {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			return ""
		}
		f.started = true
	}
	return s
}
