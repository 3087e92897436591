package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"agentcore/model"
	"agentcore/tools"
)

// Subagent tool names intercepted by the manager before they reach the
// regular tool registry (§4.8).
const (
	ToolSpawnAgent = "spawn_agent"
	ToolSendInput  = "send_input"
	ToolWait       = "wait"
	ToolCloseAgent = "close_agent"
)

// IsSubagentTool reports whether name is one of the four tools the
// SubagentManager handles itself rather than dispatching to tools.Registry.
func IsSubagentTool(name string) bool {
	switch name {
	case ToolSpawnAgent, ToolSendInput, ToolWait, ToolCloseAgent:
		return true
	default:
		return false
	}
}

// SubagentFactory builds a child Session nested one level deeper than the
// parent. The session package never constructs provider adapters or tool
// registries itself (§6 External Interfaces); the host supplies this
// factory, typically closing over a shared llmclient.Client and a
// per-task-scoped tools.Registry.
type SubagentFactory func(ctx context.Context, depth int, task string) (*Session, error)

// SubagentManager owns the lifecycle of child sessions spawned via the
// spawn_agent/send_input/wait/close_agent tool quartet. Generalised from the
// teacher's Temporal-child-workflow tracking (runtime/runtime/
// child_tracker.go, which counts discovered children for progress events)
// into in-process nested session.Session values: each handle tracks a
// pending-job count the same way childTracker tracks a discovered count, and
// wait() blocks until that count returns to zero instead of polling a
// workflow future.
type SubagentManager struct {
	mu       sync.Mutex
	depth    int
	maxDepth int
	factory  SubagentFactory
	children map[string]*subagentHandle
}

type subagentHandle struct {
	mu       sync.Mutex
	cond     *sync.Cond
	session  *Session
	jobs     chan string
	pending  int
	lastText string
	lastErr  error
	closed   bool
}

// NewSubagentManager constructs a manager for a session at the given depth.
// factory may be nil, in which case spawn_agent always fails — this is the
// expected configuration once depth reaches maxDepth.
func NewSubagentManager(depth, maxDepth int, factory SubagentFactory) *SubagentManager {
	return &SubagentManager{depth: depth, maxDepth: maxDepth, factory: factory, children: make(map[string]*subagentHandle)}
}

// CanSpawn reports whether this manager's session may spawn further
// children (depth < maxDepth and a factory was supplied).
func (m *SubagentManager) CanSpawn() bool {
	return m.factory != nil && m.depth < m.maxDepth
}

type spawnArgs struct {
	Task string `json:"task"`
}

type sendInputArgs struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type idArgs struct {
	ID string `json:"id"`
}

// Execute dispatches one subagent tool call, returning a tools.Output
// equivalent to what a regular Executor would produce (so the session's
// tool-execution path does not need a separate result shape for subagent
// calls).
func (m *SubagentManager) Execute(ctx context.Context, name string, args json.RawMessage) (tools.Output, error) {
	switch name {
	case ToolSpawnAgent:
		return m.spawn(ctx, args)
	case ToolSendInput:
		return m.sendInput(args)
	case ToolWait:
		return m.wait(args)
	case ToolCloseAgent:
		return m.closeAgent(args)
	default:
		return tools.Output{}, tools.ToolErrorf("not a subagent tool: %q", name)
	}
}

func (m *SubagentManager) spawn(ctx context.Context, raw json.RawMessage) (tools.Output, error) {
	if !m.CanSpawn() {
		return tools.Output{}, tools.NewToolError("subagent depth limit reached; cannot spawn a further child agent")
	}
	var args spawnArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.Task == "" {
		return tools.Output{}, tools.NewToolError("spawn_agent requires a non-empty \"task\" argument")
	}
	child, err := m.factory(ctx, m.depth+1, args.Task)
	if err != nil {
		return tools.Output{}, tools.NewToolErrorWithCause("failed to spawn subagent", err)
	}
	id := uuid.NewString()
	h := &subagentHandle{session: child, jobs: make(chan string, 8)}
	h.cond = sync.NewCond(&h.mu)
	go h.run(ctx)

	m.mu.Lock()
	m.children[id] = h
	m.mu.Unlock()

	h.enqueue(args.Task)
	return tools.TextOutput(id), nil
}

func (h *subagentHandle) run(ctx context.Context) {
	for task := range h.jobs {
		err := h.session.Submit(ctx, task)
		h.mu.Lock()
		h.lastText = latestAssistantText(h.session.History())
		h.lastErr = err
		h.pending--
		h.cond.Broadcast()
		h.mu.Unlock()
	}
}

func (h *subagentHandle) enqueue(task string) {
	h.mu.Lock()
	h.pending++
	h.mu.Unlock()
	h.jobs <- task
}

func (m *SubagentManager) lookup(id string) (*subagentHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.children[id]
	return h, ok
}

func (m *SubagentManager) sendInput(raw json.RawMessage) (tools.Output, error) {
	var args sendInputArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.ID == "" {
		return tools.Output{}, tools.NewToolError("send_input requires \"id\" and \"message\" arguments")
	}
	h, ok := m.lookup(args.ID)
	if !ok {
		return tools.Output{}, tools.ToolErrorf("no such subagent %q", args.ID)
	}
	h.enqueue(args.Message)
	return tools.TextOutput("queued"), nil
}

func (m *SubagentManager) wait(raw json.RawMessage) (tools.Output, error) {
	var args idArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.ID == "" {
		return tools.Output{}, tools.NewToolError("wait requires an \"id\" argument")
	}
	h, ok := m.lookup(args.ID)
	if !ok {
		return tools.Output{}, tools.ToolErrorf("no such subagent %q", args.ID)
	}
	h.mu.Lock()
	for h.pending > 0 {
		h.cond.Wait()
	}
	text, err := h.lastText, h.lastErr
	h.mu.Unlock()
	if err != nil {
		return tools.Output{}, tools.NewToolErrorWithCause("subagent run failed", err)
	}
	return tools.TextOutput(text), nil
}

func (m *SubagentManager) closeAgent(raw json.RawMessage) (tools.Output, error) {
	var args idArgs
	if err := json.Unmarshal(raw, &args); err != nil || args.ID == "" {
		return tools.Output{}, tools.NewToolError("close_agent requires an \"id\" argument")
	}
	m.mu.Lock()
	h, ok := m.children[args.ID]
	if ok {
		delete(m.children, args.ID)
	}
	m.mu.Unlock()
	if !ok {
		return tools.Output{}, tools.ToolErrorf("no such subagent %q", args.ID)
	}
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.jobs)
	}
	h.mu.Unlock()
	h.session.Close()
	return tools.TextOutput("closed"), nil
}

// CloseAll closes every live child session, used when the parent session
// itself closes (graceful shutdown, §4.8).
func (m *SubagentManager) CloseAll() {
	m.mu.Lock()
	children := m.children
	m.children = make(map[string]*subagentHandle)
	m.mu.Unlock()
	for _, h := range children {
		h.mu.Lock()
		if !h.closed {
			h.closed = true
			close(h.jobs)
		}
		h.mu.Unlock()
		h.session.Close()
	}
}

func latestAssistantText(history []model.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if at, ok := history[i].(model.AssistantTurn); ok {
			return at.Content
		}
	}
	return ""
}
