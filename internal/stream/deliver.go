package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
)

// Encoder renders stream events in one wire protocol. Encode may buffer
// token fragments; Flush writes them out. End writes the protocol's end
// marker and must be idempotent.
type Encoder interface {
	Protocol() string
	Begin() error
	Encode(ev domain.StreamEvent) error
	Flush() error
	KeepAlive() error
	End() error
}

// Options tune the delivery loop.
type Options struct {
	PollInterval      time.Duration
	KeepAliveInterval time.Duration
}

// OptionsFrom maps the stream config to delivery options.
func OptionsFrom(cfg config.StreamConfig) Options {
	return Options{PollInterval: cfg.PollInterval, KeepAliveInterval: cfg.KeepAliveInterval}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 5 * time.Second
	}
	return o
}

// Deliver drains run into enc until EOF. The client context is checked every
// poll interval; once it is done the run is cancelled and ErrDetached is
// returned. A write failure is treated the same way. The run is always
// cancelled on return.
func Deliver(client context.Context, run *Run, enc Encoder, opts Options) error {
	defer run.Cancel()
	opts = opts.withDefaults()

	if err := enc.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrDetached, err)
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	lastWrite := time.Now()

	for {
		select {
		case ev := <-run.Events():
			if ev.Kind == domain.StreamEOF {
				if err := enc.End(); err != nil {
					return fmt.Errorf("%w: %v", ErrDetached, err)
				}
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				log.Debug().Err(err).Str("protocol", enc.Protocol()).Msg("write failed, cancelling run")
				return fmt.Errorf("%w: %v", ErrDetached, err)
			}
			if len(run.Events()) == 0 {
				if err := enc.Flush(); err != nil {
					return fmt.Errorf("%w: %v", ErrDetached, err)
				}
			}
			lastWrite = time.Now()

		case <-run.Context().Done():
			// Cancelled from elsewhere: pass on what is queued, then end.
			drain(run, enc)
			if err := enc.End(); err != nil {
				return fmt.Errorf("%w: %v", ErrDetached, err)
			}
			return ErrDetached

		case <-ticker.C:
			if client.Err() != nil {
				log.Info().Str("protocol", enc.Protocol()).Msg("client disconnected, cancelling run")
				return ErrDetached
			}
			if time.Since(lastWrite) < opts.KeepAliveInterval {
				continue
			}
			if err := enc.KeepAlive(); err != nil {
				return fmt.Errorf("%w: %v", ErrDetached, err)
			}
			metrics.KeepAlive(enc.Protocol())
			lastWrite = time.Now()
		}
	}
}

func drain(run *Run, enc Encoder) {
	for {
		select {
		case ev := <-run.Events():
			if ev.Kind == domain.StreamEOF {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Collect drains run without a client and returns the events before EOF.
// It is used by tests and non-streaming callers.
func Collect(ctx context.Context, run *Run) ([]domain.StreamEvent, error) {
	var out []domain.StreamEvent
	for {
		select {
		case ev := <-run.Events():
			if ev.Kind == domain.StreamEOF {
				return out, nil
			}
			out = append(out, ev)
		case <-ctx.Done():
			run.Cancel()
			return out, ctx.Err()
		}
	}
}

// finalRemainder returns the part of a final answer that streamed tokens did
// not already carry. A final that repeats the streamed text yields nothing; a
// final that diverges from it, such as an apology after a failed stream, is
// returned whole on a new paragraph.
func finalRemainder(streamed, final string) (string, bool) {
	s := strings.TrimSpace(streamed)
	f := strings.TrimSpace(final)
	if f == "" || f == s {
		return "", false
	}
	if s != "" && strings.HasPrefix(f, s) {
		return f[len(s):], true
	}
	return "\n\n" + final, true
}
