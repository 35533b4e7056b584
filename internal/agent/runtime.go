// Package agent implements the ReAct orchestrator at the center of
// openpista's agent gateway.
//
// The package is layered:
//
//	┌─────────────────────────────────────────┐
//	│              Runtime                     │  Orchestration layer
//	├─────────────────────────────────────────┤
//	│  ToolRegistry    │    sessions.Store     │  State management
//	├─────────────────────────────────────────┤
//	│              Provider                    │  Provider abstraction
//	└─────────────────────────────────────────┘
//
// A Runtime is constructed with a session store and at least one
// registered provider, then driven per-request via Process or
// ProcessWithProgress:
//
//	store := sessions.NewMemoryStore()
//	rt := agent.NewRuntime(store)
//	rt.RegisterProvider("anthropic", anthropicProvider)
//	rt.SwitchProvider("anthropic")
//	rt.RegisterTool(bashTool)
//
//	text, usage, err := rt.Process(ctx, "cli:local", "cli:local:session-1", "list files", "")
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/openpista/openpista/internal/sessions"
	"github.com/openpista/openpista/internal/telemetry"
	"github.com/openpista/openpista/pkg/models"
)

const (
	// defaultMaxToolRounds bounds the ReAct loop's provider/tool
	// round-trips per process call.
	defaultMaxToolRounds = 25

	// defaultMaxContextMessages bounds how much persisted history is
	// sent to the provider on each call.
	defaultMaxContextMessages = 40

	// defaultMaxToolResultChars bounds the size (in runes, not bytes) of
	// a tool message's content before it is sent to the provider.
	defaultMaxToolResultChars = 16000

	baseSystemPrompt = `You are openpista, a multi-channel AI agent. You interleave reasoning with tool calls to accomplish the user's request, then reply with a direct, concise final answer.`
)

// Runtime is the ReAct orchestrator: it loads session history, calls the
// active provider, executes any returned tool calls through the tool
// registry, and persists every step.
//
// Two RWMutexes guard the shared state: providerMu covers both the
// named-provider registry and the active provider handle (the two are
// not locked independently of each other), and modelMu covers the
// current model name. Writes (provider registration, provider/model switch) are
// rare; reads happen on every request and must not starve behind a
// writer holding the lock across I/O — callers snapshot the active
// provider under the lock, then release it before calling Chat.
type Runtime struct {
	log *slog.Logger

	providerMu sync.RWMutex
	providers  map[string]Provider
	active     Provider
	activeName string

	modelMu sync.RWMutex
	model   string

	maxToolRounds      int
	maxContextMessages int
	maxToolResultChars int

	tools  *ToolRegistry
	memory sessions.Store
	tracer *telemetry.Tracer
}

// NewRuntime constructs a Runtime bound to the given session store. At
// least one provider must be registered and made active via
// RegisterProvider/SwitchProvider before Process can succeed.
func NewRuntime(memory sessions.Store) *Runtime {
	return &Runtime{
		log:                slog.Default(),
		providers:          map[string]Provider{},
		maxToolRounds:      defaultMaxToolRounds,
		maxContextMessages: defaultMaxContextMessages,
		maxToolResultChars: defaultMaxToolResultChars,
		tools:              NewToolRegistry(),
		memory:             memory,
	}
}

// SetLogger overrides the runtime's logger (default: slog.Default()).
func (r *Runtime) SetLogger(log *slog.Logger) { r.log = log }

// SetTracer attaches a telemetry.Tracer. Process and ProcessWithProgress
// run without tracing if this is never called.
func (r *Runtime) SetTracer(tracer *telemetry.Tracer) { r.tracer = tracer }

// SetMaxToolRounds overrides the default round bound (25).
func (r *Runtime) SetMaxToolRounds(n int) { r.maxToolRounds = n }

// SetMaxContextMessages overrides how much persisted history is sent to
// the provider on each call (default 40).
func (r *Runtime) SetMaxContextMessages(n int) { r.maxContextMessages = n }

// SetMaxToolResultChars overrides the rune bound applied to tool result
// content before it is sent to the provider (default 16000).
func (r *Runtime) SetMaxToolResultChars(n int) { r.maxToolResultChars = n }

// RegisterTool adds a tool to the runtime's registry.
func (r *Runtime) RegisterTool(t Tool) { r.tools.Register(t) }

// RegisterProvider inserts a provider into the name→provider registry.
// It does not change the active provider.
func (r *Runtime) RegisterProvider(name string, p Provider) {
	r.providerMu.Lock()
	defer r.providerMu.Unlock()
	r.providers[name] = p
}

// SwitchProvider atomically replaces the active provider handle with
// the named, already-registered provider.
func (r *Runtime) SwitchProvider(name string) error {
	r.providerMu.Lock()
	defer r.providerMu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return fmt.Errorf("unknown provider: %s", name)
	}
	r.active = p
	r.activeName = name
	return nil
}

// ActiveProviderName returns the currently active provider's registered
// name, or "" if none is active.
func (r *Runtime) ActiveProviderName() string {
	r.providerMu.RLock()
	defer r.providerMu.RUnlock()
	return r.activeName
}

// RegisteredProviders returns the names of every registered provider.
func (r *Runtime) RegisteredProviders() []string {
	r.providerMu.RLock()
	defer r.providerMu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// snapshotActiveProvider clones the active provider handle under the
// read lock, then releases it before the caller crosses an I/O
// boundary, so a concurrent SwitchProvider cannot invalidate an
// in-flight call.
func (r *Runtime) snapshotActiveProvider() (Provider, error) {
	r.providerMu.RLock()
	defer r.providerMu.RUnlock()
	if r.active == nil {
		return nil, NewLlmError(KindAPI, "no active provider registered")
	}
	return r.active, nil
}

// SetModel overrides the model name sent to the active provider.
func (r *Runtime) SetModel(model string) {
	r.modelMu.Lock()
	defer r.modelMu.Unlock()
	r.model = model
}

func (r *Runtime) currentModel() string {
	r.modelMu.RLock()
	defer r.modelMu.RUnlock()
	return r.model
}

// Process runs the ReAct loop to completion and returns the final
// assistant text along with accumulated token usage.
func (r *Runtime) Process(ctx context.Context, channelID, sessionID, userMessage, skillsContext string) (string, models.TokenUsage, error) {
	return r.process(ctx, channelID, sessionID, userMessage, skillsContext, nil)
}

// ProcessWithProgress behaves like Process but additionally emits
// ProgressEvents on progressSink, best-effort: a full or nil sink never
// blocks the runtime.
func (r *Runtime) ProcessWithProgress(ctx context.Context, channelID, sessionID, userMessage, skillsContext string, progressSink chan<- models.ProgressEvent) (string, error) {
	text, _, err := r.process(ctx, channelID, sessionID, userMessage, skillsContext, progressSink)
	return text, err
}

func (r *Runtime) emit(sink chan<- models.ProgressEvent, ev models.ProgressEvent) {
	if sink == nil {
		return
	}
	select {
	case sink <- ev:
	default:
	}
}

func (r *Runtime) process(ctx context.Context, channelID, sessionID, userMessage, skillsContext string, progressSink chan<- models.ProgressEvent) (string, models.TokenUsage, error) {
	var usage models.TokenUsage

	if err := r.memory.EnsureSession(ctx, sessionID, channelID); err != nil {
		return "", usage, WrapLlmError(KindDatabase, "ensure session", err)
	}
	if err := r.memory.SaveMessage(ctx, models.AgentMessage{SessionID: sessionID, Role: models.RoleUser, Content: userMessage}); err != nil {
		return "", usage, WrapLlmError(KindDatabase, "save user message", err)
	}

	systemPrompt := buildSystemPrompt(skillsContext)

	persisted, err := r.memory.LoadSession(ctx, sessionID)
	if err != nil {
		return "", usage, WrapLlmError(KindDatabase, "load session", err)
	}
	persisted = trimHistory(persisted, r.maxContextMessages)

	history := make([]models.ChatMessage, 0, len(persisted)+1)
	history = append(history, models.ChatMessage{Role: models.RoleSystem, Content: systemPrompt})
	for _, msg := range persisted {
		history = append(history, r.toChatMessage(msg))
	}

	toolDefs := r.tools.Definitions()
	model := r.currentModel()

	for round := 0; ; round++ {
		if round >= r.maxToolRounds {
			r.log.WarnContext(ctx, "max tool rounds exceeded", "session_id", sessionID, "max_rounds", r.maxToolRounds)
			return "", usage, MaxToolRoundsExceededError(r.maxToolRounds)
		}

		r.emit(progressSink, models.ProgressEvent{Kind: models.ProgressLlmThinking, Round: round})

		text, done, roundUsage, err := r.runRound(ctx, round, sessionID, model, &history, toolDefs, progressSink)
		usage = usage.Add(roundUsage)
		if err != nil {
			return "", usage, err
		}
		if done {
			return text, usage, nil
		}
	}
}

// runRound executes one provider call (and any resulting tool calls) of
// the ReAct loop, tracing the round and the provider request as child
// spans when a tracer is attached. done reports whether the round
// produced a final assistant answer.
func (r *Runtime) runRound(ctx context.Context, round int, sessionID, model string, history *[]models.ChatMessage, toolDefs []models.ToolDefinition, progressSink chan<- models.ProgressEvent) (text string, done bool, usage models.TokenUsage, err error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.StartRound(ctx, sessionID, round)
		defer func() {
			r.tracer.RecordError(span, err)
			span.End()
		}()
	}

	provider, err := r.snapshotActiveProvider()
	if err != nil {
		return "", false, usage, err
	}

	providerCtx := ctx
	if r.tracer != nil {
		var providerSpan trace.Span
		providerCtx, providerSpan = r.tracer.StartProviderRequest(ctx, r.ActiveProviderName(), model)
		defer func() {
			r.tracer.RecordError(providerSpan, err)
			providerSpan.End()
		}()
	}

	resp, err := provider.Chat(providerCtx, ChatRequest{Messages: *history, Tools: toolDefs, Model: model})
	if err != nil {
		return "", false, usage, err
	}
	usage = resp.Usage

	switch resp.Kind {
	case ChatResponseText:
		if err := r.memory.SaveMessage(ctx, models.AgentMessage{SessionID: sessionID, Role: models.RoleAssistant, Content: resp.Text}); err != nil {
			return "", false, usage, WrapLlmError(KindDatabase, "save assistant message", err)
		}
		if err := r.memory.TouchSession(ctx, sessionID); err != nil {
			return "", false, usage, WrapLlmError(KindDatabase, "touch session", err)
		}
		return resp.Text, true, usage, nil

	case ChatResponseToolCalls:
		if err := r.memory.SaveMessage(ctx, models.AgentMessage{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			ToolCalls: resp.ToolCalls,
		}); err != nil {
			return "", false, usage, WrapLlmError(KindDatabase, "save assistant tool-call message", err)
		}
		*history = append(*history, models.ChatMessage{Role: models.RoleAssistant, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			r.emit(progressSink, models.ProgressEvent{Kind: models.ProgressToolCallStarted, Round: round, CallID: call.ID, ToolName: call.Name, Args: string(call.Arguments)})

			toolCtx := ctx
			var toolSpan trace.Span
			if r.tracer != nil {
				toolCtx, toolSpan = r.tracer.StartToolExecution(ctx, call.Name)
			}
			result := r.tools.Execute(toolCtx, call.ID, call.Name, call.Arguments)
			if toolSpan != nil {
				toolSpan.End()
			}

			if err := r.memory.SaveMessage(ctx, models.AgentMessage{
				SessionID:  sessionID,
				Role:       models.RoleTool,
				Content:    result.Output,
				ToolCallID: result.CallID,
				ToolName:   result.ToolName,
			}); err != nil {
				return "", false, usage, WrapLlmError(KindDatabase, "save tool result", err)
			}

			r.emit(progressSink, models.ProgressEvent{Kind: models.ProgressToolCallFinished, Round: round, CallID: call.ID, ToolName: call.Name, Output: result.Output, IsError: result.IsError})

			*history = append(*history, models.ChatMessage{
				Role:       models.RoleTool,
				Content:    truncateToolResult(result.Output, r.maxToolResultChars),
				ToolCallID: result.CallID,
				ToolName:   result.ToolName,
			})
		}
		return "", false, usage, nil

	default:
		return "", false, usage, NewLlmError(KindInvalidResponse, fmt.Sprintf("unknown chat response kind %q", resp.Kind))
	}
}

// buildSystemPrompt composes the fixed base identity string with an
// optional "## Available Skills" section.
func buildSystemPrompt(skillsContext string) string {
	if strings.TrimSpace(skillsContext) == "" {
		return baseSystemPrompt
	}
	return baseSystemPrompt + "\n\n## Available Skills\n" + skillsContext
}

// toChatMessage converts a persisted message into the in-memory chat
// shape, truncating Tool content per r.maxToolResultChars.
func (r *Runtime) toChatMessage(msg models.AgentMessage) models.ChatMessage {
	content := msg.Content
	if msg.Role == models.RoleTool {
		content = truncateToolResult(content, r.maxToolResultChars)
	}
	return models.ChatMessage{
		Role:       msg.Role,
		Content:    content,
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.ToolName,
		ToolCalls:  msg.ToolCalls,
	}
}

// truncateToolResult truncates s to at most n runes, appending a
// suffix reporting how many characters were dropped. Multibyte-safe:
// counts and cuts by rune, not byte (spec §8 invariant 5, scenario S6).
func truncateToolResult(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	omitted := len(runes) - n
	return fmt.Sprintf("%s\n...[output truncated: %d chars omitted]", string(runes[:n]), omitted)
}

// trimHistory keeps at most the last maxMessages entries. Whenever the
// computed cut point does not land on a User message, it advances forward
// to the next User-role boundary, so the kept history starts with a User
// message and never splits an Assistant-with-tool-calls message from its
// Tool replies.
func trimHistory(messages []models.AgentMessage, maxMessages int) []models.AgentMessage {
	if len(messages) <= maxMessages {
		return messages
	}
	cut := len(messages) - maxMessages
	for cut < len(messages) && messages[cut].Role != models.RoleUser {
		cut++
	}
	return messages[cut:]
}
