// Package llmclient implements Component C: the retrying, fallback-capable
// facade the session engine calls instead of talking to a provider.Adapter
// directly. Grounded on original_source/rust/agents/src/api_session.rs's
// Models3Client::stream_complete (the three-error-variant streaming
// fallback: Configuration/InvalidRequest/NotFound mean the provider/model
// combination cannot stream at all, so the client transparently falls back
// to Complete and synthesizes one TextDelta) and on the hand-rolled
// exponential backoff already present in the teacher's Bedrock and Gemini
// adapter call sites (retryDelay * 2^attempt), generalized here into one
// shared RetryPolicy instead of being duplicated per adapter.
package llmclient

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"agentcore/model"
	"agentcore/provider"

	"agentcore/accumulator"
)

// RetryPolicy bounds the exponential backoff applied to retryable errors
// (model.SdkError.Retryable, per the model package's retryableCodes).
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Zero or negative disables retrying (one attempt only).
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultRetryPolicy mirrors the teacher adapters' hand-rolled backoff
// constants (a handful of attempts, second-scale base delay).
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 20 * time.Second}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the backoff before the given 0-indexed retry attempt, with
// +/-20% jitter to avoid thundering-herd retries across sessions.
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	jitter := time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	if jitter > maxDelay {
		jitter = maxDelay
	}
	return jitter
}

// Client wraps a provider.Adapter with retry and a streaming-unsupported
// fallback, so the session engine always has both Complete and
// StreamComplete available regardless of what the underlying provider
// actually supports.
type Client struct {
	adapter provider.Adapter
	retry   RetryPolicy
	limiter *rate.Limiter
}

// New wraps adapter with the given retry policy and no client-side rate
// limit.
func New(adapter provider.Adapter, retry RetryPolicy) *Client {
	return &Client{adapter: adapter, retry: retry}
}

// NewWithRateLimit wraps adapter the same way as New, additionally pacing
// outbound requests (Complete and each streaming/retry attempt) to at most
// requestsPerSecond with the given burst, via golang.org/x/time/rate — for
// providers with strict per-minute request quotas (§7's retry/rate
// concern). A non-positive requestsPerSecond disables limiting, same as New.
func NewWithRateLimit(adapter provider.Adapter, retry RetryPolicy, requestsPerSecond float64, burst int) *Client {
	c := &Client{adapter: adapter, retry: retry}
	if requestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return c
}

// wait blocks until the rate limiter admits the next request, or returns
// ctx.Err() if it's cancelled first. A nil limiter (the common, unlimited
// case) is a no-op.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Complete issues a non-streaming request, retrying retryable SdkErrors per
// the configured RetryPolicy.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return c.withRetry(ctx, func() (*model.Response, error) {
		return c.adapter.Complete(ctx, req)
	})
}

// StreamComplete attempts native streaming, invoking onEvent for each
// portable StreamEvent and returning the accumulated terminal Response. When
// the provider reports Configuration, InvalidRequest, or NotFound for a
// streaming attempt — the three error variants that indicate this
// provider/model combination cannot stream at all, never a transient
// condition — it falls back to Complete and synthesizes a single
// EventStreamStart/EventTextStart/EventTextDelta/EventTextEnd/EventFinish
// sequence so callers see a uniform event shape regardless of path taken.
// All other errors propagate (after the retry policy has been exhausted).
func (c *Client) StreamComplete(ctx context.Context, req *model.Request, onEvent func(model.StreamEvent)) (*model.Response, error) {
	stream, err := c.streamWithRetry(ctx, req)
	if err != nil {
		if isStreamingUnsupported(err) {
			return c.fallbackToComplete(ctx, req, onEvent)
		}
		return nil, err
	}
	defer stream.Close()

	acc := accumulator.New()
	for {
		ev, err := stream.Recv()
		if err != nil {
			if resp := acc.Result(); resp != nil {
				return resp, nil
			}
			return nil, err
		}
		onEvent(ev)
		if errEv, ok := ev.(model.EventError); ok {
			return nil, errEv.Err
		}
		acc.Process(ev)
		if resp := acc.Result(); resp != nil {
			return resp, nil
		}
	}
}

func (c *Client) fallbackToComplete(ctx context.Context, req *model.Request, onEvent func(model.StreamEvent)) (*model.Response, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	onEvent(model.EventStreamStart{})
	text := fullText(resp)
	if text != "" {
		onEvent(model.EventTextStart{})
		onEvent(model.EventTextDelta{Text: text})
		onEvent(model.EventTextEnd{})
	}
	onEvent(model.EventFinish{FinishReason: resp.FinishReason, Usage: resp.Usage, Response: resp})
	return resp, nil
}

func fullText(resp *model.Response) string {
	var out string
	for _, p := range resp.Message.Parts {
		if t, ok := p.(model.TextPart); ok {
			out += t.Text
		}
	}
	return out
}

func isStreamingUnsupported(err error) bool {
	se, ok := model.AsSdkError(err)
	if !ok {
		return false
	}
	switch se.Code {
	case model.ErrorCodeConfiguration, model.ErrorCodeInvalidRequest, model.ErrorCodeNotFound:
		return true
	default:
		return false
	}
}

func (c *Client) streamWithRetry(ctx context.Context, req *model.Request) (model.Streamer, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.retry.delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		stream, err := c.adapter.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) withRetry(ctx context.Context, call func() (*model.Response, error)) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retry.attempts(); attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.retry.delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	se, ok := model.AsSdkError(err)
	return ok && se.Retryable
}

// sleep blocks for d or returns ctx.Err() if the session's abort signal (or
// any other cancellation) fires first — the cooperative retry-backoff
// suspension point named in §5.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
