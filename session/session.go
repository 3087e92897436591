// Package session implements Component F: the agentic session engine. A
// Session drives one conversation through the iterative submit → LLM call →
// tool execution loop, handling streaming, retries (delegated to
// llmclient.Client), cancellation, bounded context-overflow compaction, loop
// detection, and subagent delegation.
//
// This is a direct, line-for-line port of the control flow in
// original_source/rust/agents/src/api_session.rs's ApiSession::submit /
// process_input, translated from async/await + tokio::select! to goroutines
// + channel selects (§5, §9). The retry loop inlined in that file's
// stream_complete call site has been absorbed into llmclient.Client instead
// (Component C already owns retry policy), so Session's LLM-call path is
// thinner than the original's.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentcore/emitter"
	"agentcore/llmclient"
	"agentcore/model"
	"agentcore/telemetry"
	"agentcore/tools"

	"github.com/google/uuid"
)

// errAborted is a sentinel used internally to distinguish "the abort signal
// fired while we were waiting" from any error returned by the work itself.
var errAborted = errors.New("session: aborted")

// Session manages one conversation's lifecycle. Construct with New; drive it
// with Submit; consume its event stream via Events(); call Close when done
// (or let a depth-0 session's Close cascade to its subagents).
type Session struct {
	config       Config
	systemPrompt string
	client       *llmclient.Client
	registry     *tools.Registry
	env          tools.Environment
	log          telemetry.Logger
	events       *emitter.Emitter
	sessionID    string
	depth        int

	mu                 sync.Mutex
	state              model.SessionState
	history            []model.Turn
	steeringQueue      []string
	followupQueue      []string
	totalTurns         int
	toolCallSignatures []string
	imageAttachments   map[string]tools.ImageAttachment

	abortSignal *AbortSignal
	subagents   *SubagentManager

	externalPool     ExternalPool
	ownsExternalPool bool
}

// New constructs a Session and emits SessionStart immediately. The returned
// channel is the session's event stream (emitter.Emitter.Events()); it
// closes once Close has fully drained.
//
// subagentFactory may be nil, disabling spawn_agent regardless of
// config.MaxSubagentDepth. pool/ownsPool wire the external-resource-ownership
// pattern described in external_pool.go; pass nil/false when there is
// nothing to own.
func New(
	cfg Config,
	systemPrompt string,
	client *llmclient.Client,
	registry *tools.Registry,
	env tools.Environment,
	log telemetry.Logger,
	depth int,
	subagentFactory SubagentFactory,
	pool ExternalPool,
	ownsPool bool,
) (*Session, <-chan emitter.Event) {
	ev := emitter.New()
	sessionID := uuid.NewString()

	prompt := systemPrompt
	if cfg.CommitInstructions != "" {
		prompt += "\n\n" + cfg.CommitInstructions
	}
	if cfg.UserInstructions != "" {
		prompt += "\n\n" + cfg.UserInstructions
	}

	s := &Session{
		config:           cfg,
		systemPrompt:     prompt,
		client:           client,
		registry:         registry,
		env:              env,
		log:              log,
		events:           ev,
		sessionID:        sessionID,
		depth:            depth,
		state:            model.SessionStateIdle,
		imageAttachments: make(map[string]tools.ImageAttachment),
		subagents:        NewSubagentManager(depth, cfg.MaxSubagentDepth, subagentFactory),
		externalPool:     pool,
		ownsExternalPool: ownsPool,
	}
	s.events.Emit(emitter.SessionStart{SessionID: sessionID})
	return s, ev.Events()
}

// -- Public API --

// Submit runs the agentic loop for one user input until natural completion,
// a configured limit, or an abort. See the package doc for the state
// machine. Returns an *model.SdkError wrapping model.ErrorCodeSessionClosed
// if the session is already Closed.
func (s *Session) Submit(ctx context.Context, input string) error {
	s.mu.Lock()
	if s.state == model.SessionStateClosed {
		s.mu.Unlock()
		return model.NewSdkError(model.ErrorCodeSessionClosed, "", "session is closed", 0, nil)
	}
	s.state = model.SessionStateProcessing
	s.mu.Unlock()
	return s.processInput(ctx, input)
}

// SetAwaitingInput manually transitions Idle → AwaitingInput, for hosts that
// disable auto-detection or apply their own heuristic. Returns an
// *model.SdkError wrapping model.ErrorCodeInvalidState if the session is not
// Idle.
func (s *Session) SetAwaitingInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.SessionStateIdle {
		return model.NewSdkError(model.ErrorCodeInvalidState, "", "session must be idle to manually await input", 0, nil)
	}
	s.state = model.SessionStateAwaitingInput
	return nil
}

// Steer queues a message injected as a SteeringTurn after the current tool
// round (or immediately, if the session is idle when next submitted).
func (s *Session) Steer(message string) {
	s.mu.Lock()
	s.steeringQueue = append(s.steeringQueue, message)
	s.mu.Unlock()
}

// FollowUp queues a message processed once the current input fully
// completes (natural completion, limit exit — but not a soft abort).
func (s *Session) FollowUp(message string) {
	s.mu.Lock()
	s.followupQueue = append(s.followupQueue, message)
	s.mu.Unlock()
}

// SetAbortSignal attaches the cancellation signal this session observes at
// its three suspension points (§5). Replaces any previously attached signal.
func (s *Session) SetAbortSignal(sig *AbortSignal) {
	s.mu.Lock()
	s.abortSignal = sig
	s.mu.Unlock()
}

// Close transitions the session to Closed, closing all live subagents and,
// if this session owns one, shutting down its ExternalPool. Emits
// SessionEnd. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == model.SessionStateClosed {
		s.mu.Unlock()
		return
	}
	s.state = model.SessionStateClosed
	s.mu.Unlock()

	s.subagents.CloseAll()
	if s.ownsExternalPool && s.externalPool != nil {
		_ = s.externalPool.Shutdown(context.Background())
	}
	s.events.Emit(emitter.SessionEnd{State: model.SessionStateClosed})
	s.events.Close()
}

// -- Getters --

// State returns the session's current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a snapshot copy of the full conversation history.
func (s *Session) History() []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Turn(nil), s.history...)
}

// Config returns the session's configuration.
func (s *Session) Config() Config { return s.config }

// SessionID returns the id assigned at construction.
func (s *Session) SessionID() string { return s.sessionID }

// TotalTurns returns the count of completed LLM request/response cycles.
func (s *Session) TotalTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalTurns
}

// Depth returns the subagent nesting depth this session was constructed
// with (0 for a top-level session).
func (s *Session) Depth() int { return s.depth }

// -- Core loop (§4.6) --

func (s *Session) processInput(ctx context.Context, input string) error {
	s.mu.Lock()
	s.history = append(s.history, model.UserTurn{Content: input, Ts: time.Now()})
	s.mu.Unlock()
	s.events.Emit(emitter.UserInput{Content: input})

	var (
		roundCount          int
		naturalCompletion   bool
		compactionAttempted bool
	)

loop:
	for {
		switch s.abortKind() {
		case AbortHard:
			s.Close()
			return nil
		case AbortSoft:
			break loop
		}

		if s.config.MaxToolRoundsPerInput > 0 && roundCount >= s.config.MaxToolRoundsPerInput {
			s.emitTurnLimit("max_tool_rounds_per_input", roundCount)
			break loop
		}
		if s.config.MaxTurns > 0 && s.TotalTurns() >= s.config.MaxTurns {
			s.emitTurnLimit("max_turns", s.TotalTurns())
			break loop
		}

		s.drainSteering()
		s.checkContextUsage()

		req := s.buildRequest()
		s.events.Emit(emitter.AssistantTextStart{})

		resp, partial, err := s.callLLM(ctx, req)
		if err != nil {
			if errors.Is(err, errAborted) {
				s.events.Emit(emitter.AssistantTextEnd{FullText: partial})
				if s.abortKind() == AbortHard {
					s.Close()
					return nil
				}
				break loop
			}

			s.events.Emit(emitter.AssistantTextEnd{FullText: partial})

			if model.IsCode(err, model.ErrorCodeContextLength) && !compactionAttempted {
				if s.attemptCompaction(ctx) {
					compactionAttempted = true
					s.events.Emit(emitter.Error{
						Code:     model.ErrorCodeContextLength,
						Message:  "Context length exceeded — compacted history and retrying",
						Severity: "warning",
					})
					continue
				}
			}
			return s.handleSdkError(err)
		}
		compactionAttempted = false

		text, toolCalls, reasoning, thinkingParts := splitResponse(resp)
		s.events.Emit(emitter.AssistantTextEnd{FullText: text, Reasoning: reasoning})

		s.mu.Lock()
		s.history = append(s.history, model.AssistantTurn{
			Content:       text,
			ToolCalls:     toolCalls,
			Reasoning:     reasoning,
			ThinkingParts: thinkingParts,
			Usage:         resp.Usage,
			ResponseID:    resp.ID,
			Ts:            time.Now(),
		})
		s.totalTurns++
		s.mu.Unlock()

		if len(toolCalls) == 0 {
			naturalCompletion = true
			break loop
		}

		results, aborted := s.executeToolCalls(ctx, toolCalls)
		if aborted {
			if s.abortKind() == AbortHard {
				s.Close()
				return nil
			}
			fallback := make([]model.ToolResultPart, len(toolCalls))
			for i, tc := range toolCalls {
				fallback[i] = abortedToolResult(tc.ID)
			}
			s.mu.Lock()
			s.history = append(s.history, model.ToolResultsTurn{Results: fallback, Ts: time.Now()})
			s.mu.Unlock()
			break loop
		}
		s.mu.Lock()
		s.history = append(s.history, model.ToolResultsTurn{Results: results, Ts: time.Now()})
		s.mu.Unlock()

		roundCount++

		if s.config.EnableLoopDetection {
			s.checkLoopDetection()
		}
	}

	softAborted := s.abortKind() == AbortSoft

	if !softAborted {
		s.mu.Lock()
		var next string
		hasFollowup := len(s.followupQueue) > 0
		if hasFollowup {
			next = s.followupQueue[0]
			s.followupQueue = s.followupQueue[1:]
		}
		s.mu.Unlock()
		if hasFollowup {
			return s.processInput(ctx, next)
		}
	}

	s.mu.Lock()
	switch {
	case softAborted:
		if s.abortSignal != nil {
			s.abortSignal.ResetSoft()
		}
		s.state = model.SessionStateIdle
	case naturalCompletion && s.config.AutoDetectAwaitingInput && looksLikeQuestion(s.lastAssistantSnapshotLocked()):
		s.state = model.SessionStateAwaitingInput
	default:
		s.state = model.SessionStateIdle
	}
	s.mu.Unlock()
	return nil
}

// assistantSnapshot is the minimal view of the latest assistant turn
// looksLikeQuestion needs, decoupled from model.AssistantTurn so the
// question heuristic has no dependency on history-storage details.
type assistantSnapshot struct {
	Content   string
	ToolCalls []model.ToolCallPart
}

// lastAssistantSnapshotLocked requires s.mu held.
func (s *Session) lastAssistantSnapshotLocked() *assistantSnapshot {
	for i := len(s.history) - 1; i >= 0; i-- {
		if at, ok := s.history[i].(model.AssistantTurn); ok {
			return &assistantSnapshot{Content: at.Content, ToolCalls: at.ToolCalls}
		}
	}
	return nil
}

func splitResponse(resp *model.Response) (text string, toolCalls []model.ToolCallPart, reasoning string, thinking []model.Part) {
	for _, p := range resp.Message.Parts {
		switch v := p.(type) {
		case model.TextPart:
			text += v.Text
		case model.ToolCallPart:
			toolCalls = append(toolCalls, v)
		case model.ThinkingPart:
			reasoning += v.Text
			thinking = append(thinking, v)
		case model.RedactedThinkingPart:
			thinking = append(thinking, v)
		}
	}
	return text, toolCalls, reasoning, thinking
}

// callLLM races llmclient.Client.StreamComplete against the session's abort
// signal — one of the three suspension points named in §5. Streamed text
// deltas and reasoning sub-stream events are forwarded to the emitter as
// they arrive; partial accumulates the text delivered so far so the abort
// and error paths can emit AssistantTextEnd truthfully instead of claiming
// an empty response that contradicts deltas already seen.
func (s *Session) callLLM(ctx context.Context, req *model.Request) (resp *model.Response, partial string, err error) {
	type result struct {
		resp *model.Response
		err  error
	}
	resultCh := make(chan result, 1)

	var mu sync.Mutex
	var partialBuf []byte

	onEvent := func(ev model.StreamEvent) {
		switch v := ev.(type) {
		case model.EventTextDelta:
			mu.Lock()
			partialBuf = append(partialBuf, v.Text...)
			mu.Unlock()
			s.events.Emit(emitter.AssistantTextDelta{Delta: v.Text})
		case model.EventReasoningStart:
			s.events.Emit(emitter.AssistantReasoningStart{})
		case model.EventReasoningDelta:
			s.events.Emit(emitter.AssistantReasoningDelta{Delta: v.Text})
		case model.EventReasoningEnd:
			s.events.Emit(emitter.AssistantReasoningEnd{})
		}
	}

	go func() {
		r, e := s.client.StreamComplete(ctx, req, onEvent)
		resultCh <- result{r, e}
	}()

	select {
	case r := <-resultCh:
		mu.Lock()
		partial = string(partialBuf)
		mu.Unlock()
		return r.resp, partial, r.err
	case <-s.abortDone():
		mu.Lock()
		partial = string(partialBuf)
		mu.Unlock()
		return nil, partial, errAborted
	}
}

func (s *Session) attemptCompaction(ctx context.Context) bool {
	s.mu.Lock()
	before := estimateHistoryChars(s.systemPrompt, s.history)
	newHistory, modified := compactHistory(s.history, s.imageAttachments)
	s.history = newHistory
	after := estimateHistoryChars(s.systemPrompt, s.history)
	s.mu.Unlock()
	logCompaction(ctx, s.log, before, after, modified)
	return modified
}

// -- Steering --

func (s *Session) drainSteering() {
	s.mu.Lock()
	pending := s.steeringQueue
	s.steeringQueue = nil
	s.mu.Unlock()
	for _, msg := range pending {
		s.events.Emit(emitter.SteeringInjected{Content: msg})
		s.mu.Lock()
		s.history = append(s.history, model.SteeringTurn{Content: msg, Ts: time.Now()})
		s.mu.Unlock()
	}
}

// -- Request building --

func (s *Session) buildRequest() *model.Request {
	s.mu.Lock()
	history := append([]model.Turn(nil), s.history...)
	images := make(map[string]tools.ImageAttachment, len(s.imageAttachments))
	for k, v := range s.imageAttachments {
		images[k] = v
	}
	s.mu.Unlock()

	messages := make([]*model.Message, 0, len(history)+1)
	messages = append(messages, &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: s.systemPrompt}}})
	messages = append(messages, convertHistoryToMessages(history, images, s.config.Provider == "anthropic")...)

	return &model.Request{
		Model:           s.config.Model,
		Messages:        messages,
		Tools:           s.registry.Definitions(),
		ToolChoice:      &model.ToolChoice{Mode: model.ToolChoiceModeAuto},
		ReasoningEffort: s.config.ReasoningEffort,
		ProviderOptions: s.config.ProviderOptions,
	}
}

// convertHistoryToMessages mirrors ApiSession::convert_history_to_messages:
// steering turns are user-role (§4.6), assistant turns interleave thinking
// blocks before text and tool calls (Anthropic extended-thinking ordering
// requirement), and tool-result images are reattached only for the
// image-capable provider.
func convertHistoryToMessages(history []model.Turn, images map[string]tools.ImageAttachment, includeImages bool) []*model.Message {
	messages := make([]*model.Message, 0, len(history))
	for _, t := range history {
		switch v := t.(type) {
		case model.UserTurn:
			messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: v.Content}}})
		case model.SteeringTurn:
			messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: v.Content}}})
		case model.SystemTurn:
			messages = append(messages, &model.Message{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: v.Content}}})
		case model.AssistantTurn:
			if len(v.ThinkingParts) == 0 && len(v.ToolCalls) == 0 {
				messages = append(messages, &model.Message{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: v.Content}}})
				continue
			}
			parts := make([]model.Part, 0, len(v.ThinkingParts)+1+len(v.ToolCalls))
			parts = append(parts, v.ThinkingParts...)
			if v.Content != "" {
				parts = append(parts, model.TextPart{Text: v.Content})
			}
			for _, tc := range v.ToolCalls {
				parts = append(parts, tc)
			}
			messages = append(messages, &model.Message{Role: model.ConversationRoleAssistant, Parts: parts})
		case model.ToolResultsTurn:
			for _, r := range v.Results {
				if includeImages {
					if att, ok := images[r.ToolCallID]; ok {
						r.ImageData = att.Data
						r.ImageMediaType = att.MediaType
					}
				}
				messages = append(messages, &model.Message{Role: model.ConversationRoleTool, Parts: []model.Part{r}})
			}
		}
	}
	return messages
}

// -- Context usage (§4.6 step 6 / §4.7) --

func (s *Session) checkContextUsage() {
	if s.config.ContextWindowSize <= 0 {
		return
	}
	s.mu.Lock()
	chars := estimateHistoryChars(s.systemPrompt, s.history)
	s.mu.Unlock()

	approxTokens := chars / 4
	pct := float64(approxTokens) / float64(s.config.ContextWindowSize) * 100.0
	s.events.Emit(emitter.ContextUsage{Pct: pct, Tokens: approxTokens, Window: s.config.ContextWindowSize})

	threshold := float64(s.config.ContextWindowSize) * 0.8
	if float64(approxTokens) > threshold {
		s.events.Emit(emitter.Error{
			Severity: "warning",
			Message:  "Context usage is approaching the model's context window",
		})
	}
}

// -- Loop detection (§4.9) --

func (s *Session) checkLoopDetection() {
	s.mu.Lock()
	var latest *model.AssistantTurn
	for i := len(s.history) - 1; i >= 0; i-- {
		if at, ok := s.history[i].(model.AssistantTurn); ok {
			latest = &at
			break
		}
	}
	if latest != nil {
		window := s.config.loopWindow()
		for _, tc := range latest.ToolCalls {
			s.toolCallSignatures = append(s.toolCallSignatures, toolCallSignature(tc))
		}
		if len(s.toolCallSignatures) > window {
			s.toolCallSignatures = s.toolCallSignatures[len(s.toolCallSignatures)-window:]
		}
	}
	sigs := append([]string(nil), s.toolCallSignatures...)
	window := s.config.loopWindow()
	s.mu.Unlock()

	if message, found := detectLoop(sigs, window); found {
		s.events.Emit(emitter.LoopDetection{Message: message})
		s.mu.Lock()
		s.history = append(s.history, model.SteeringTurn{Content: message, Ts: time.Now()})
		s.mu.Unlock()
	}
}

// -- Error handling --

// handleSdkError emits the appropriate event and decides whether the
// session remains open (retryable — the user can try again without losing
// history) or closes (non-retryable: authentication, invalid request, and
// similar persistent problems a retry cannot fix).
func (s *Session) handleSdkError(err error) error {
	se, _ := model.AsSdkError(err)
	isContextLength := se != nil && se.Code == model.ErrorCodeContextLength
	isRetryable := se != nil && se.Retryable

	if isContextLength {
		s.events.Emit(emitter.Error{Code: model.ErrorCodeContextLength, Message: err.Error(), Severity: "warning"})
	} else {
		code := model.ErrorCode("")
		if se != nil {
			code = se.Code
		}
		s.events.Emit(emitter.Error{Code: code, Message: err.Error()})
	}

	s.mu.Lock()
	if isRetryable {
		s.state = model.SessionStateIdle
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.Close()
	return err
}

// -- Helpers --

func (s *Session) abortKind() AbortKind {
	s.mu.Lock()
	sig := s.abortSignal
	s.mu.Unlock()
	return sig.Kind()
}

func (s *Session) abortDone() <-chan struct{} {
	s.mu.Lock()
	sig := s.abortSignal
	s.mu.Unlock()
	return sig.Done()
}

func (s *Session) isAborted() bool {
	return s.abortKind() != AbortActive
}

func (s *Session) emitTurnLimit(limitType string, count int) {
	s.events.Emit(emitter.TurnLimit{LimitType: limitType, Count: count})
}

func abortedToolResult(toolCallID string) model.ToolResultPart {
	return model.ToolResultPart{ToolCallID: toolCallID, Content: []byte(`"[Aborted]"`), IsError: true}
}
