package session

import (
	"context"
	"encoding/json"
	"sync"

	"agentcore/emitter"
	"agentcore/model"
	"agentcore/tools"
)

// executeToolCalls dispatches one assistant turn's tool calls and races the
// dispatch against the abort signal — the second of the three suspension
// points named in §5. aborted reports that the signal fired before
// dispatch finished; the caller is responsible for fabricating [Aborted]
// results (the assistant turn recording these calls has already been
// appended to history, so result count must still match 1:1).
func (s *Session) executeToolCalls(ctx context.Context, calls []model.ToolCallPart) (results []model.ToolResultPart, aborted bool) {
	resultCh := make(chan []model.ToolResultPart, 1)

	go func() {
		hasSubagent := false
		for _, tc := range calls {
			if IsSubagentTool(tc.Name) {
				hasSubagent = true
				break
			}
		}
		switch {
		case hasSubagent:
			resultCh <- s.executeToolsWithSubagents(ctx, calls)
		case s.config.ParallelToolCalls && len(calls) > 1:
			resultCh <- s.executeToolsParallel(ctx, calls)
		default:
			resultCh <- s.executeToolsSequential(ctx, calls)
		}
	}()

	select {
	case r := <-resultCh:
		return r, false
	case <-s.abortDone():
		return nil, true
	}
}

func (s *Session) executeToolsSequential(ctx context.Context, calls []model.ToolCallPart) []model.ToolResultPart {
	results := make([]model.ToolResultPart, 0, len(calls))
	for _, tc := range calls {
		if s.isAborted() {
			for _, remaining := range calls[len(results):] {
				results = append(results, abortedToolResult(remaining.ID))
			}
			break
		}
		r, img := s.executeSingleTool(ctx, tc)
		s.storeAttachmentIfSupported(tc.ID, img)
		results = append(results, r)
	}
	return results
}

func (s *Session) executeToolsParallel(ctx context.Context, calls []model.ToolCallPart) []model.ToolResultPart {
	results := make([]model.ToolResultPart, len(calls))
	images := make([]*tools.ImageAttachment, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc model.ToolCallPart) {
			defer wg.Done()
			results[i], images[i] = s.executeSingleTool(ctx, tc)
		}(i, tc)
	}
	wg.Wait()
	for i, tc := range calls {
		s.storeAttachmentIfSupported(tc.ID, images[i])
	}
	return results
}

// executeToolsWithSubagents runs sequentially so subagent calls can safely
// mutate SubagentManager state, routing subagent-tool calls to it and
// everything else through the normal registry path.
func (s *Session) executeToolsWithSubagents(ctx context.Context, calls []model.ToolCallPart) []model.ToolResultPart {
	results := make([]model.ToolResultPart, 0, len(calls))
	for _, tc := range calls {
		if s.isAborted() {
			for _, remaining := range calls[len(results):] {
				results = append(results, abortedToolResult(remaining.ID))
			}
			break
		}
		if IsSubagentTool(tc.Name) {
			results = append(results, s.executeSubagentTool(ctx, tc))
			continue
		}
		r, img := s.executeSingleTool(ctx, tc)
		s.storeAttachmentIfSupported(tc.ID, img)
		results = append(results, r)
	}
	return results
}

func (s *Session) executeSubagentTool(ctx context.Context, tc model.ToolCallPart) model.ToolResultPart {
	s.events.Emit(emitter.ToolCallStart{Name: tc.Name, ID: tc.ID, Args: tc.Arguments})
	out, err := s.subagents.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		msg := tools.ToolErrorFromError(err).Error()
		s.events.Emit(emitter.ToolCallEndError{ID: tc.ID, Message: msg})
		return model.ToolResultPart{ToolCallID: tc.ID, Content: jsonString(msg), IsError: true}
	}
	s.events.Emit(emitter.ToolCallEnd{ID: tc.ID, Output: out.Text})
	return model.ToolResultPart{ToolCallID: tc.ID, Content: jsonString(out.Text)}
}

// executeSingleTool validates and runs one tool call through the registry,
// emitting ToolCallStart/End(Error). ToolCallEnd carries the same content
// the model sees: the JSON-encoded text after tools.Limits truncation; the
// untruncated output is not available to the event consumer.
func (s *Session) executeSingleTool(ctx context.Context, tc model.ToolCallPart) (model.ToolResultPart, *tools.ImageAttachment) {
	s.events.Emit(emitter.ToolCallStart{Name: tc.Name, ID: tc.ID, Args: tc.Arguments})
	content, isError, image := s.registry.Execute(ctx, tc, s.env, s.config.Provider == "anthropic")
	if isError {
		s.events.Emit(emitter.ToolCallEndError{ID: tc.ID, Message: string(content)})
	} else {
		s.events.Emit(emitter.ToolCallEnd{ID: tc.ID, Output: string(content)})
	}
	return model.ToolResultPart{ToolCallID: tc.ID, Content: content, IsError: isError}, image
}

// storeAttachmentIfSupported retains an image attachment only for providers
// that can consume images inside a tool result (currently Anthropic),
// avoiding accumulating dead image bytes for providers that only ever see
// the text fallback.
func (s *Session) storeAttachmentIfSupported(toolCallID string, img *tools.ImageAttachment) {
	if img == nil || s.config.Provider != "anthropic" {
		return
	}
	s.mu.Lock()
	s.imageAttachments[toolCallID] = *img
	s.mu.Unlock()
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}
