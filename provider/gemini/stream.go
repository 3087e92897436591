package gemini

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"agentcore/model"
)

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan model.StreamEvent

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, modelID string, it iter.Seq2[*genai.GenerateContentResponse, error], nextID func(string) string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, events: make(chan model.StreamEvent, 32)}
	go s.run(modelID, it, nextID)
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
	return nil
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

func (s *streamer) run(modelID string, it iter.Seq2[*genai.GenerateContentResponse, error], nextID func(string) string) {
	defer close(s.events)

	s.emit(model.EventStreamStart{})
	textOpen := false
	var textParts []string
	var toolParts []model.Part
	var usage model.Usage
	finish := model.FinishReasonStop

	for resp, err := range it {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if err != nil {
			translated := TranslateError(err)
			s.setErr(translated)
			s.emit(model.EventError{Err: toSdkErr(translated)})
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage = model.Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		if reason := string(resp.Candidates[0].FinishReason); reason != "" {
			finish = translateFinishReason(reason)
		}
		for _, p := range resp.Candidates[0].Content.Parts {
			if p == nil {
				continue
			}
			if p.Text != "" {
				if !textOpen {
					s.emit(model.EventTextStart{})
					textOpen = true
				}
				s.emit(model.EventTextDelta{Text: p.Text})
				textParts = append(textParts, p.Text)
			}
			if p.FunctionCall != nil {
				id := nextID(p.FunctionCall.Name)
				args, _ := json.Marshal(p.FunctionCall.Args)
				s.emit(model.EventToolCallStart{ID: id, Name: p.FunctionCall.Name})
				if len(args) > 0 {
					s.emit(model.EventToolCallDelta{ID: id, ArgumentsDelta: string(args)})
				}
				call := model.ToolCallPart{ID: id, Name: p.FunctionCall.Name, Arguments: args, CallType: "function"}
				s.emit(model.EventToolCallEnd{ToolCall: call})
				toolParts = append(toolParts, call)
			}
		}
	}
	if textOpen {
		s.emit(model.EventTextEnd{})
	}
	var parts []model.Part
	if len(textParts) > 0 {
		full := ""
		for _, t := range textParts {
			full += t
		}
		parts = append(parts, model.TextPart{Text: full})
	}
	parts = append(parts, toolParts...)
	resp := &model.Response{
		Model:        modelID,
		Provider:     "gemini",
		Message:      model.Message{Role: model.ConversationRoleAssistant, Parts: parts},
		Usage:        usage,
		FinishReason: finish,
	}
	s.emit(model.EventFinish{FinishReason: finish, Usage: usage, Response: resp})
}

func toSdkErr(err error) *model.SdkError {
	if se, ok := err.(*model.SdkError); ok {
		return se
	}
	return model.NewSdkError(model.ErrorCodeStream, "gemini", err.Error(), 0, err)
}
