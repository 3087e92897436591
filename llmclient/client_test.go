package llmclient

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentcore/model"
)

type fakeStreamer struct {
	events []model.StreamEvent
	i      int
}

func (f *fakeStreamer) Recv() (model.StreamEvent, error) {
	if f.i >= len(f.events) {
		return nil, io.EOF
	}
	ev := f.events[f.i]
	f.i++
	return ev, nil
}

func (f *fakeStreamer) Close() error { return nil }

type fakeAdapter struct {
	completeCalls int
	streamCalls   int
	completeErrs  []error
	streamErrs    []error
	completeResp  *model.Response
	streamEvents  []model.StreamEvent
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	idx := f.completeCalls
	f.completeCalls++
	if idx < len(f.completeErrs) && f.completeErrs[idx] != nil {
		return nil, f.completeErrs[idx]
	}
	return f.completeResp, nil
}

func (f *fakeAdapter) Stream(_ context.Context, _ *model.Request) (model.Streamer, error) {
	idx := f.streamCalls
	f.streamCalls++
	if idx < len(f.streamErrs) && f.streamErrs[idx] != nil {
		return nil, f.streamErrs[idx]
	}
	return &fakeStreamer{events: f.streamEvents}, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestCompleteRetriesRetryableErrorThenSucceeds(t *testing.T) {
	adapter := &fakeAdapter{
		completeErrs: []error{model.NewSdkError(model.ErrorCodeServer, "fake", "server hiccup", 500, nil), nil},
		completeResp: &model.Response{FinishReason: model.FinishReasonStop},
	}
	c := New(adapter, fastRetry())
	resp, err := c.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.Equal(t, 2, adapter.completeCalls)
}

func TestCompleteDoesNotRetryNonRetryableError(t *testing.T) {
	adapter := &fakeAdapter{
		completeErrs: []error{model.NewSdkError(model.ErrorCodeInvalidRequest, "fake", "bad request", 400, nil)},
	}
	c := New(adapter, fastRetry())
	_, err := c.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
	require.Equal(t, 1, adapter.completeCalls)
}

func TestCompleteExhaustsRetriesAndReturnsLastError(t *testing.T) {
	retryableErr := model.NewSdkError(model.ErrorCodeRateLimit, "fake", "slow down", 429, nil)
	adapter := &fakeAdapter{completeErrs: []error{retryableErr, retryableErr, retryableErr}}
	c := New(adapter, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	_, err := c.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
	require.Equal(t, 3, adapter.completeCalls)
}

// TestStreamCompleteFallsBackToCompleteOnConfigurationError implements
// spec.md §4.3/§8: Configuration/InvalidRequest/NotFound from Stream means
// the provider/model cannot stream at all, so StreamComplete transparently
// falls back to Complete and synthesizes one TextDelta.
func TestStreamCompleteFallsBackToCompleteOnConfigurationError(t *testing.T) {
	adapter := &fakeAdapter{
		streamErrs:   []error{model.NewSdkError(model.ErrorCodeConfiguration, "fake", "no streaming", 0, nil)},
		completeResp: &model.Response{FinishReason: model.FinishReasonStop, Message: model.Message{Parts: []model.Part{model.TextPart{Text: "hello"}}}},
	}
	c := New(adapter, fastRetry())
	var events []model.StreamEvent
	resp, err := c.StreamComplete(context.Background(), &model.Request{}, func(ev model.StreamEvent) { events = append(events, ev) })
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Parts[0].(model.TextPart).Text)
	require.Equal(t, 1, adapter.completeCalls)

	require.Len(t, events, 5)
	_, ok := events[0].(model.EventStreamStart)
	require.True(t, ok)
	_, ok = events[1].(model.EventTextStart)
	require.True(t, ok)
	delta, ok := events[2].(model.EventTextDelta)
	require.True(t, ok)
	require.Equal(t, "hello", delta.Text)
	_, ok = events[3].(model.EventTextEnd)
	require.True(t, ok)
	_, ok = events[4].(model.EventFinish)
	require.True(t, ok)
}

func TestStreamCompleteDoesNotFallBackOnNonStreamingUnsupportedError(t *testing.T) {
	adapter := &fakeAdapter{
		streamErrs: []error{model.NewSdkError(model.ErrorCodeAuthentication, "fake", "bad api key", 401, nil)},
	}
	c := New(adapter, fastRetry())
	_, err := c.StreamComplete(context.Background(), &model.Request{}, func(model.StreamEvent) {})
	require.Error(t, err)
	require.Equal(t, 0, adapter.completeCalls)
}

func TestStreamCompleteDrainsNativeStreamAndAccumulates(t *testing.T) {
	events := []model.StreamEvent{
		model.EventStreamStart{},
		model.EventTextStart{},
		model.EventTextDelta{Text: "hi "},
		model.EventTextDelta{Text: "there"},
		model.EventTextEnd{},
		model.EventFinish{FinishReason: model.FinishReasonStop},
	}
	adapter := &fakeAdapter{streamEvents: events}
	c := New(adapter, fastRetry())
	var seen []model.StreamEvent
	resp, err := c.StreamComplete(context.Background(), &model.Request{}, func(ev model.StreamEvent) { seen = append(seen, ev) })
	require.NoError(t, err)
	require.Equal(t, model.FinishReasonStop, resp.FinishReason)
	require.Equal(t, "hi there", resp.Message.Parts[0].(model.TextPart).Text)
	require.Equal(t, events, seen)
}

func TestStreamCompletePropagatesStreamErrorEvent(t *testing.T) {
	sdkErr := model.NewSdkError(model.ErrorCodeStream, "fake", "dropped connection", 0, nil)
	events := []model.StreamEvent{
		model.EventStreamStart{},
		model.EventError{Err: sdkErr},
	}
	adapter := &fakeAdapter{streamEvents: events}
	c := New(adapter, fastRetry())
	_, err := c.StreamComplete(context.Background(), &model.Request{}, func(model.StreamEvent) {})
	require.Error(t, err)
	require.Equal(t, sdkErr, err)
}

func TestNewWithRateLimitPacesRequests(t *testing.T) {
	adapter := &fakeAdapter{completeResp: &model.Response{FinishReason: model.FinishReasonStop}}
	c := NewWithRateLimit(adapter, RetryPolicy{MaxAttempts: 1}, 2, 1)

	start := time.Now()
	_, err := c.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestNewWithRateLimitNonPositiveRateDisablesLimiting(t *testing.T) {
	adapter := &fakeAdapter{completeResp: &model.Response{FinishReason: model.FinishReasonStop}}
	c := NewWithRateLimit(adapter, RetryPolicy{MaxAttempts: 1}, 0, 0)
	require.Nil(t, c.limiter)
	_, err := c.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
}

func TestWaitReturnsContextErrorWhenCancelled(t *testing.T) {
	adapter := &fakeAdapter{completeResp: &model.Response{FinishReason: model.FinishReasonStop}}
	c := NewWithRateLimit(adapter, RetryPolicy{MaxAttempts: 1}, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Drain the initial burst token first so the next wait call actually blocks.
	_ = c.limiter.Allow()
	err := c.wait(ctx)
	require.Error(t, err)
}
