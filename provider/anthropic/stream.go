package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"agentcore/model"
)

// streamer adapts an Anthropic Messages SSE stream to model.Streamer,
// translating provider frames into the portable model.StreamEvent grammar.
// Grounded on features/model/anthropic/stream.go's chunk-processor idiom,
// ported from model.Chunk to the StreamStart/(Text|Reasoning|ToolCall)*/
// Finish|Error grammar this module's model.StreamEvent defines.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	events chan model.StreamEvent

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, events: make(chan model.StreamEvent, 32)}
	go s.run(nameMap)
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
		s.setErr(s.ctx.Err())
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

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	p := &chunkProcessor{nameMap: nameMap, toolBlocks: map[int]*toolBuffer{}, thinkingBlocks: map[int]*thinkingBuffer{}}
	started := false

	for s.stream.Next() {
		event := s.stream.Current()
		if !started {
			s.emit(model.EventStreamStart{})
			started = true
		}
		for _, ev := range p.handle(event) {
			if !s.emit(ev) {
				return
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(TranslateError(err))
		s.emit(model.EventError{Err: toSdkErr(TranslateError(err))})
		return
	}
	resp := p.response()
	s.emit(model.EventFinish{FinishReason: resp.FinishReason, Usage: resp.Usage, Response: resp})
}

func toSdkErr(err error) *model.SdkError {
	var se *model.SdkError
	if errors.As(err, &se) {
		return se
	}
	return model.NewSdkError(model.ErrorCodeStream, "anthropic", err.Error(), 0, err)
}

// chunkProcessor converts Anthropic SSE events into portable StreamEvents
// and accumulates enough state to synthesize the terminal EventFinish's
// Response (ID/Model/Message/Usage/FinishReason).
type chunkProcessor struct {
	nameMap map[string]string

	toolBlocks     map[int]*toolBuffer
	thinkingBlocks map[int]*thinkingBuffer

	id, modelID string
	textOpen    bool
	textParts   []string
	finalParts  []model.Part
	usage       model.Usage
	stopReason  sdk.StopReason
}

type toolBuffer struct {
	id, name string
	fragments strings.Builder
}

type thinkingBuffer struct {
	text      strings.Builder
	signature string
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) []model.StreamEvent {
	var out []model.StreamEvent
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.id = ev.Message.ID
		p.modelID = string(ev.Message.Model)
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		switch start := ev.ContentBlock.AsAny().(type) {
		case sdk.ToolUseBlock:
			name := start.Name
			if canonical, ok := p.nameMap[start.Name]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{id: start.ID, name: name}
			out = append(out, model.EventToolCallStart{ID: start.ID, Name: name})
		case sdk.TextBlock:
			p.textOpen = true
			out = append(out, model.EventTextStart{})
			if start.Text != "" {
				p.textParts = append(p.textParts, start.Text)
				out = append(out, model.EventTextDelta{Text: start.Text})
			}
		case sdk.ThinkingBlock:
			p.thinkingBlocks[idx] = &thinkingBuffer{}
			out = append(out, model.EventReasoningStart{})
		}
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				p.textParts = append(p.textParts, delta.Text)
				out = append(out, model.EventTextDelta{Text: delta.Text})
			}
		case sdk.InputJSONDelta:
			if tb := p.toolBlocks[idx]; tb != nil && delta.PartialJSON != "" {
				tb.fragments.WriteString(delta.PartialJSON)
				out = append(out, model.EventToolCallDelta{ID: tb.id, ArgumentsDelta: delta.PartialJSON})
			}
		case sdk.ThinkingDelta:
			tb := p.thinkingBlocks[idx]
			if tb == nil {
				tb = &thinkingBuffer{}
				p.thinkingBlocks[idx] = tb
			}
			if delta.Thinking != "" {
				tb.text.WriteString(delta.Thinking)
				out = append(out, model.EventReasoningDelta{Text: delta.Thinking})
			}
		case sdk.SignatureDelta:
			tb := p.thinkingBlocks[idx]
			if tb == nil {
				tb = &thinkingBuffer{}
				p.thinkingBlocks[idx] = tb
			}
			tb.signature = delta.Signature
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb := p.thinkingBlocks[idx]; tb != nil {
			delete(p.thinkingBlocks, idx)
			if tb.text.Len() > 0 {
				p.finalParts = append(p.finalParts, model.ThinkingPart{Text: tb.text.String(), Signature: tb.signature})
			}
			out = append(out, model.EventReasoningEnd{Signature: tb.signature})
		}
		if tb := p.toolBlocks[idx]; tb != nil {
			delete(p.toolBlocks, idx)
			args := decodeToolPayload(tb.fragments.String())
			call := model.ToolCallPart{ID: tb.id, Name: tb.name, Arguments: args, CallType: "function"}
			p.finalParts = append(p.finalParts, call)
			out = append(out, model.EventToolCallEnd{ToolCall: call})
		}
		if p.textOpen {
			// A text block closed: flush its accumulated text as one part and
			// reset for the next block.
			p.textOpen = false
			if len(p.textParts) > 0 {
				p.finalParts = append(p.finalParts, model.TextPart{Text: strings.Join(p.textParts, "")})
			}
			p.textParts = nil
			out = append(out, model.EventTextEnd{})
		}
	case sdk.MessageDeltaEvent:
		p.stopReason = ev.Delta.StopReason
		p.usage.InputTokens = int(ev.Usage.InputTokens)
		p.usage.OutputTokens = int(ev.Usage.OutputTokens)
		p.usage.TotalTokens = p.usage.InputTokens + p.usage.OutputTokens
		if v := int(ev.Usage.CacheReadInputTokens); v > 0 {
			p.usage.CacheReadTokens = &v
		}
		if v := int(ev.Usage.CacheCreationInputTokens); v > 0 {
			p.usage.CacheWriteTokens = &v
		}
	case sdk.MessageStopEvent:
		// Terminal bookkeeping only; EventFinish is synthesized by run().
	}
	return out
}

func (p *chunkProcessor) response() *model.Response {
	return &model.Response{
		ID:           p.id,
		Model:        p.modelID,
		Provider:     "anthropic",
		Message:      model.Message{Role: model.ConversationRoleAssistant, Parts: p.finalParts},
		Usage:        p.usage,
		FinishReason: translateStopReason(p.stopReason),
	}
}

func decodeToolPayload(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = "{}"
	}
	return json.RawMessage(trimmed)
}
