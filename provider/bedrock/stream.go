package bedrock

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"agentcore/model"
)

// streamer adapts a Bedrock ConverseStream event stream to model.Streamer,
// grounded on features/model/bedrock/stream.go's chunkProcessor, generalized
// from model.Chunk emission to the portable StreamEvent grammar.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	events chan model.StreamEvent

	mu       sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) model.Streamer {
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
		return nil, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
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

type toolBuffer struct {
	id, name  string
	fragments strings.Builder
}

type thinkingBuffer struct {
	text, signature string
}

func (s *streamer) run(nameMap map[string]string) {
	defer close(s.events)
	defer func() { _ = s.stream.Close() }()

	s.emit(model.EventStreamStart{})

	textOpen := false
	toolBlocks := make(map[int32]*toolBuffer)
	thinkingBlocks := make(map[int32]*thinkingBuffer)
	var textParts []string
	var finalParts []model.Part
	var usage model.Usage
	finish := model.FinishReasonStop

	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					translated := TranslateError(err)
					s.setErr(translated)
					s.emit(model.EventError{Err: toSdkErr(translated)})
					return
				}
				if textOpen {
					s.emit(model.EventTextEnd{})
				}
				var parts []model.Part
				if len(textParts) > 0 {
					full := strings.Join(textParts, "")
					parts = append(parts, model.TextPart{Text: full})
				}
				parts = append(parts, finalParts...)
				resp := &model.Response{
					Provider:     "bedrock",
					Message:      model.Message{Role: model.ConversationRoleAssistant, Parts: parts},
					Usage:        usage,
					FinishReason: finish,
				}
				s.emit(model.EventFinish{FinishReason: finish, Usage: usage, Response: resp})
				return
			}
			switch ev := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				idx := contentIndex(ev.Value.ContentBlockIndex)
				if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					tb := &toolBuffer{}
					if start.Value.ToolUseId != nil {
						tb.id = *start.Value.ToolUseId
					}
					if start.Value.Name != nil {
						raw := normalizeToolName(*start.Value.Name)
						if canonical, ok := nameMap[raw]; ok {
							tb.name = canonical
						} else {
							tb.name = raw
						}
					}
					toolBlocks[idx] = tb
					s.emit(model.EventToolCallStart{ID: tb.id, Name: tb.name})
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				idx := contentIndex(ev.Value.ContentBlockIndex)
				switch delta := ev.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					if delta.Value == "" {
						continue
					}
					if !textOpen {
						s.emit(model.EventTextStart{})
						textOpen = true
					}
					s.emit(model.EventTextDelta{Text: delta.Value})
					textParts = append(textParts, delta.Value)
				case *brtypes.ContentBlockDeltaMemberReasoningContent:
					rb := thinkingBlocks[idx]
					if rb == nil {
						rb = &thinkingBuffer{}
						thinkingBlocks[idx] = rb
					}
					switch v := delta.Value.(type) {
					case *brtypes.ReasoningContentBlockDeltaMemberText:
						if v.Value == "" {
							continue
						}
						rb.text += v.Value
					case *brtypes.ReasoningContentBlockDeltaMemberSignature:
						if v.Value != "" {
							rb.signature = v.Value
						}
					}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					tb := toolBlocks[idx]
					if tb == nil || delta.Value.Input == nil {
						continue
					}
					fragment := *delta.Value.Input
					tb.fragments.WriteString(fragment)
					s.emit(model.EventToolCallDelta{ID: tb.id, ArgumentsDelta: fragment})
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockStop:
				idx := contentIndex(ev.Value.ContentBlockIndex)
				if rb := thinkingBlocks[idx]; rb != nil {
					delete(thinkingBlocks, idx)
					if rb.text != "" && rb.signature != "" {
						finalParts = append(finalParts, model.ThinkingPart{Text: rb.text, Signature: rb.signature})
					}
				}
				if tb := toolBlocks[idx]; tb != nil {
					delete(toolBlocks, idx)
					payload := decodeToolPayload(tb.fragments.String())
					finalParts = append(finalParts, model.ToolCallPart{ID: tb.id, Name: tb.name, Arguments: payload, CallType: "function"})
					s.emit(model.EventToolCallEnd{ToolCall: model.ToolCallPart{ID: tb.id, Name: tb.name, Arguments: payload, CallType: "function"}})
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				if ev.Value.StopReason != "" {
					finish = translateStopReason(ev.Value.StopReason)
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage == nil {
					continue
				}
				usage = model.Usage{
					InputTokens:  int(ptrValue(ev.Value.Usage.InputTokens)),
					OutputTokens: int(ptrValue(ev.Value.Usage.OutputTokens)),
					TotalTokens:  int(ptrValue(ev.Value.Usage.TotalTokens)),
				}
				if v := int(ptrValue(ev.Value.Usage.CacheReadInputTokens)); v > 0 {
					usage.CacheReadTokens = &v
				}
				if v := int(ptrValue(ev.Value.Usage.CacheWriteInputTokens)); v > 0 {
					usage.CacheWriteTokens = &v
				}
			}
		}
	}
}

func contentIndex(idx *int32) int32 {
	if idx == nil {
		return 0
	}
	return *idx
}

func decodeToolPayload(raw string) []byte {
	if raw == "" {
		return []byte("{}")
	}
	return []byte(raw)
}

func toSdkErr(err error) *model.SdkError {
	if se, ok := err.(*model.SdkError); ok {
		return se
	}
	return model.NewSdkError(model.ErrorCodeStream, "bedrock", err.Error(), 0, err)
}
