// Package delivery sends outbound chat messages with truncation and retry.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf16"
)

const (
	// MaxMessageLen is the largest message the channel hands to the transport.
	MaxMessageLen = 4000
	// MaxAttempts is the delivery budget per message.
	MaxAttempts = 3
	// RetryDelay is the wait between attempts when the transport gives no hint.
	RetryDelay = 2 * time.Second
)

// Sender is the transport half the channel needs.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) (messageID int, err error)
}

// TransportError carries the failure metadata a transport reports.
type TransportError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *TransportError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("transport error %d: %s", e.Code, e.Description)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("transport error %d", e.Code)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RetryHint extracts an explicit wait from a transport failure.
func RetryHint(err error) (time.Duration, bool) {
	var te *TransportError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}

// Channel delivers text best-effort. Failures are logged, never returned.
type Channel struct {
	sender Sender
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// Option configures a Channel.
type Option func(*Channel)

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(c *Channel) { c.sleep = sleep }
}

// NewChannel creates a channel over sender.
func NewChannel(sender Sender, logger *slog.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{sender: sender, logger: logger, sleep: sleepContext}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers text to chatID, retrying up to MaxAttempts times.
func (c *Channel) Send(ctx context.Context, chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	text = Truncate(text)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		start := time.Now()
		_, err := c.sender.Send(ctx, chatID, text)
		elapsed := time.Since(start)
		if err == nil {
			c.logger.Debug("Reply delivered", "chat_id", chatID, "attempt", attempt, "elapsed_ms", elapsed.Milliseconds())
			return
		}

		attrs := []any{
			"chat_id", chatID,
			"attempt", attempt,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err,
		}
		var te *TransportError
		if errors.As(err, &te) {
			attrs = append(attrs, "code", te.Code, "desc", te.Description, "retry_after", te.RetryAfter)
		}
		c.logger.Error("Reply failed", attrs...)

		if ctx.Err() != nil {
			return
		}
		if wait, ok := RetryHint(err); ok {
			c.sleep(ctx, wait)
		} else if attempt < MaxAttempts {
			c.sleep(ctx, RetryDelay)
		}
	}
	c.logger.Warn("Reply dropped after retries", "chat_id", chatID, "attempts", MaxAttempts, "length", len(text))
}

// Truncate caps text at MaxMessageLen UTF-16 code units, the unit Telegram
// counts message length in. Surrogate pairs are never split.
func Truncate(text string) string {
	if utf16Len(text) <= MaxMessageLen {
		return text
	}
	limit := MaxMessageLen - len(ellipsis)
	units := 0
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			return text[:i] + ellipsis
		}
		units += n
	}
	return text
}

const ellipsis = "..."

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
