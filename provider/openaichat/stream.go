package openaichat

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"agentcore/model"
)

type streamer struct {
	ctx          context.Context
	cancel       context.CancelFunc
	stream       *openai.ChatCompletionStream
	providerName string

	events chan model.StreamEvent

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, stream *openai.ChatCompletionStream, providerName string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, providerName: providerName, events: make(chan model.StreamEvent, 32)}
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

// accumulatedToolCall tracks one tool call's JSON fragments across deltas.
// The Chat Completions stream format identifies tool calls by array index,
// not a stable ID, on continuation deltas — the first delta carrying a given
// index supplies the ID and name.
type accumulatedToolCall struct {
	id, name string
	args     strings.Builder
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
	var text strings.Builder
	calls := map[int]*accumulatedToolCall{}
	var order []int
	var id, modelID string
	var usage model.Usage
	var finish model.FinishReason = model.FinishReasonStop

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			translated := TranslateError(s.providerName, err)
			s.setErr(translated)
			s.emit(model.EventError{Err: toSdkErr(s.providerName, translated)})
			return
		}
		if id == "" {
			id, modelID = resp.ID, resp.Model
		}
		if resp.Usage != nil {
			usage = model.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			finish = translateFinishReason(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			if !textOpen {
				s.emit(model.EventTextStart{})
				textOpen = true
			}
			s.emit(model.EventTextDelta{Text: choice.Delta.Content})
			text.WriteString(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &accumulatedToolCall{id: tc.ID, name: tc.Function.Name}
				calls[idx] = acc
				order = append(order, idx)
				s.emit(model.EventToolCallStart{ID: tc.ID, Name: tc.Function.Name})
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
				s.emit(model.EventToolCallDelta{ID: acc.id, ArgumentsDelta: tc.Function.Arguments})
			}
		}
	}
	if textOpen {
		s.emit(model.EventTextEnd{})
	}
	var parts []model.Part
	if text.Len() > 0 {
		parts = append(parts, model.TextPart{Text: text.String()})
	}
	for _, idx := range order {
		acc := calls[idx]
		args := strings.TrimSpace(acc.args.String())
		if args == "" {
			args = "{}"
		}
		call := model.ToolCallPart{ID: acc.id, Name: acc.name, Arguments: json.RawMessage(args), CallType: "function"}
		parts = append(parts, call)
		s.emit(model.EventToolCallEnd{ToolCall: call})
	}
	resp := &model.Response{
		ID:           id,
		Model:        modelID,
		Provider:     s.providerName,
		Message:      model.Message{Role: model.ConversationRoleAssistant, Parts: parts},
		Usage:        usage,
		FinishReason: finish,
	}
	s.emit(model.EventFinish{FinishReason: finish, Usage: usage, Response: resp})
}

func toSdkErr(providerName string, err error) *model.SdkError {
	if se, ok := err.(*model.SdkError); ok {
		return se
	}
	return model.NewSdkError(model.ErrorCodeStream, providerName, err.Error(), 0, err)
}
