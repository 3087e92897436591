package openairesponses

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"

	"agentcore/model"
)

// streamer translates Responses API SSE events into the portable
// StreamEvent grammar. Per SPEC_FULL.md §4.2 the three event types that
// matter are response.output_text.delta (text), response.output_item.done
// (closes a tool-call or message item), and response.completed (terminal).
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[responses.ResponseStreamEventUnion]

	events chan model.StreamEvent

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[responses.ResponseStreamEventUnion]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, events: make(chan model.StreamEvent, 32)}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.StreamEvent, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errSet {
		return
	}
	s.errSet, s.finalErr = true, err
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

func (s *streamer) emit(ev model.StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *streamer) run() {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	s.emit(model.EventStreamStart{})
	textOpen := false
	openToolCalls := map[string]bool{}

	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case responses.ResponseOutputTextDeltaEvent:
			if !textOpen {
				s.emit(model.EventTextStart{})
				textOpen = true
			}
			s.emit(model.EventTextDelta{Text: ev.Delta})
		case responses.ResponseOutputItemDoneEvent:
			switch item := ev.Item.AsAny().(type) {
			case responses.ResponseFunctionToolCall:
				if !openToolCalls[item.CallID] {
					s.emit(model.EventToolCallStart{ID: item.CallID, Name: item.Name})
					openToolCalls[item.CallID] = true
				}
				args := json.RawMessage(item.Arguments)
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				s.emit(model.EventToolCallDelta{ID: item.CallID, ArgumentsDelta: string(args)})
				s.emit(model.EventToolCallEnd{ToolCall: model.ToolCallPart{
					ID: item.CallID, Name: item.Name, Arguments: args, CallType: "function",
				}})
			}
		case responses.ResponseCompletedEvent:
			if textOpen {
				s.emit(model.EventTextEnd{})
				textOpen = false
			}
			resp := translateResponse(&ev.Response)
			s.emit(model.EventFinish{FinishReason: resp.FinishReason, Usage: resp.Usage, Response: resp})
			return
		case responses.ResponseErrorEvent:
			translated := model.NewSdkError(model.ErrorCodeStream, "openai-responses", ev.Message, 0, nil)
			s.setErr(translated)
			s.emit(model.EventError{Err: translated})
			return
		}
	}
	if err := s.stream.Err(); err != nil {
		translated := TranslateError(err)
		s.setErr(translated)
		s.emit(model.EventError{Err: toSdkErr(translated)})
	}
}

func toSdkErr(err error) *model.SdkError {
	if se, ok := err.(*model.SdkError); ok {
		return se
	}
	return model.NewSdkError(model.ErrorCodeStream, "openai-responses", err.Error(), 0, err)
}
