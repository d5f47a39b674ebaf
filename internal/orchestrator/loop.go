// Package orchestrator drives conversational turns to quiescence. One turn
// streams the model's response, reconstructs tool calls, walks each call
// through policy and execution, and appends every step to the session log
// before looping back to the model with the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/workbench/internal/llm"
	"github.com/haasonsaas/workbench/internal/session"
	"github.com/haasonsaas/workbench/internal/telemetry"
	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/pkg/models"
)

// Config bounds the turn loop.
type Config struct {
	// Provider and Model seed new sessions; per-session values take over
	// once set.
	Provider string
	Model    string

	// SystemPrompt is sent with every model request.
	SystemPrompt string

	// MaxTurns limits model round-trips per user prompt.
	// Default: 20
	MaxTurns int

	// MaxTokens caps the model's response size.
	// Default: 4096
	MaxTokens int

	// ToolTimeout bounds a single tool execution; expiry becomes a
	// tool_result with error=timeout.
	// Default: 30s
	ToolTimeout time.Duration

	// ConfirmTimeout bounds how long a confirm gate waits for the
	// operator. Expiry counts as a decline.
	// Default: 60s
	ConfirmTimeout time.Duration

	// ChunkBuffer is the capacity of the stream channel.
	// Default: 32
	ChunkBuffer int
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxTurns:       20,
		MaxTokens:      4096,
		ToolTimeout:    30 * time.Second,
		ConfirmTimeout: 60 * time.Second,
		ChunkBuffer:    32,
	}
}

func sanitizeConfig(config Config) Config {
	defaults := DefaultConfig()
	if config.MaxTurns <= 0 {
		config.MaxTurns = defaults.MaxTurns
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = defaults.ToolTimeout
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if config.ChunkBuffer <= 0 {
		config.ChunkBuffer = defaults.ChunkBuffer
	}
	return config
}

// ConfirmFunc asks the operator to approve a gated call. Implementations must
// honor ctx; expiry or an error counts as a decline.
type ConfirmFunc func(ctx context.Context, tool string, call *models.ToolCallPayload) (bool, error)

// storeError marks persistence failures so the turn-fatal classifier can
// tell them apart from provider failures.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string { return e.op + ": " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// turn is the state of one user prompt driven to quiescence: the session it
// runs against, the provider resolved for it, the call ids already spent, and
// the channel the chunks flow out of.
type turn struct {
	rt       *Runtime
	sess     *models.Session
	provider llm.Provider
	seen     map[string]bool
	rounds   int
	chunks   chan *models.StreamChunk
}

// run is the turn state machine. Each round packs the log into a prompt,
// streams the model, persists what came back, and dispatches tool calls; a
// round without calls ends the turn with turn_complete. Rounds are capped by
// MaxTurns, after which the turn fails with max_turns_exceeded. The returned
// status is "success" or the turn-fatal error code.
func (t *turn) run(ctx context.Context, userText string) string {
	var err error
	t.seen, err = t.knownCallIDs(ctx)
	if err != nil {
		return t.fatal(ctx, "", models.ErrCodeStore, fmt.Sprintf("read call history: %v", err))
	}

	if err := t.append(ctx, &models.Event{
		SessionID:  t.sess.ID,
		Type:       models.EventUserPrompt,
		UserPrompt: &models.UserPromptPayload{Text: userText},
	}); err != nil {
		return t.fatal(ctx, "", models.ErrCodeStore, fmt.Sprintf("append user prompt: %v", err))
	}

	for round := 0; round < t.rt.config.MaxTurns; round++ {
		turnID := uuid.NewString()
		t.rounds = round + 1

		if ctx.Err() != nil {
			return t.fatal(ctx, turnID, models.ErrCodeCancelled, "turn cancelled")
		}

		text, calls, streamErr := t.streamModel(ctx, turnID)

		// Text the operator already saw is persisted even when the
		// round failed, so the transcript matches the screen.
		if text != "" {
			if err := t.append(ctx, &models.Event{
				SessionID:     t.sess.ID,
				Type:          models.EventAssistantText,
				TurnID:        turnID,
				AssistantText: &models.AssistantTextPayload{Text: text},
			}); err != nil {
				return t.fatal(ctx, turnID, models.ErrCodeStore, fmt.Sprintf("append assistant text: %v", err))
			}
		}
		if streamErr != nil {
			code, msg := t.classify(ctx, streamErr)
			return t.fatal(ctx, turnID, code, msg)
		}

		for i := range calls {
			if err := t.append(ctx, &models.Event{
				SessionID: t.sess.ID,
				Type:      models.EventAssistantToolCall,
				TurnID:    turnID,
				ToolCall: &models.ToolCallPayload{
					CallID:    calls[i].ID,
					Name:      calls[i].Name,
					Arguments: calls[i].Arguments,
				},
			}); err != nil {
				return t.fatal(ctx, turnID, models.ErrCodeStore, fmt.Sprintf("append tool call: %v", err))
			}
		}

		if len(calls) == 0 {
			t.emit(ctx, &models.StreamChunk{Type: models.ChunkTurnComplete})
			return "success"
		}

		if err := t.dispatch(ctx, turnID, calls); err != nil {
			code, msg := t.classify(ctx, err)
			return t.fatal(ctx, turnID, code, msg)
		}
	}

	return t.fatal(ctx, "", models.ErrCodeMaxTurns,
		fmt.Sprintf("no final response after %d tool rounds", t.rt.config.MaxTurns))
}

// streamModel runs one model round: pack the log under the token budget,
// open the provider stream, forward text and call fragments downstream as
// they arrive, and assemble the completed calls at stream end. Accumulated
// text is returned even on failure so partial output can be persisted.
func (t *turn) streamModel(ctx context.Context, turnID string) (_ string, _ []models.ToolCall, err error) {
	events, err := t.rt.store.Events(ctx, t.sess.ID, session.EventQuery{})
	if err != nil {
		return "", nil, &storeError{op: "read events", err: err}
	}

	packed, err := t.rt.packer.Pack(t.rt.config.SystemPrompt, events)
	if err != nil {
		return "", nil, &storeError{op: "pack context", err: err}
	}

	req := &llm.Request{
		Model:  t.sess.Model,
		System: t.rt.config.SystemPrompt,
		// Pack always places the system message first; the adapters
		// carry it separately.
		Messages:  packed.Messages[1:],
		MaxTokens: t.rt.config.MaxTokens,
	}
	for _, tool := range t.rt.registry.ListMaxRisk(t.rt.policy.Config().MaxRisk) {
		schema, ok := t.rt.registry.Schema(tool.Name())
		if !ok {
			continue
		}
		req.Tools = append(req.Tools, llm.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      schema,
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = llm.ToolChoiceAuto
	}

	ctx, span := t.rt.tracer.StartProviderRequest(ctx, t.sess.Provider, t.sess.Model)
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		t.rt.metrics.RecordProviderRequest(t.sess.Provider, t.sess.Model, status, time.Since(start).Seconds())
		telemetry.End(span, err)
	}()

	stream, err := t.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	asm := llm.NewAssembler()
	for chunk := range stream {
		if chunk.Err != nil {
			return text.String(), nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			t.emit(ctx, &models.StreamChunk{Type: models.ChunkTextDelta, Text: chunk.Text})
		}
		if chunk.Delta != nil {
			first := asm.Feed(chunk.Delta)
			id, name := asm.Identity(chunk.Delta.Index)
			if first {
				t.emit(ctx, &models.StreamChunk{
					Type:     models.ChunkToolCallStarted,
					Index:    chunk.Delta.Index,
					ToolCall: &models.ToolCall{ID: id, Name: name},
				})
			}
			if chunk.Delta.Args != "" {
				t.emit(ctx, &models.StreamChunk{
					Type:      models.ChunkToolCallArgsDelta,
					Index:     chunk.Delta.Index,
					ArgsDelta: chunk.Delta.Args,
					ToolCall:  &models.ToolCall{ID: id, Name: name},
				})
			}
		}
		if chunk.Done {
			break
		}
	}
	if err = ctx.Err(); err != nil {
		return text.String(), nil, err
	}

	calls, err := asm.Finalize()
	if err != nil {
		return text.String(), nil, err
	}
	for i := range calls {
		t.emit(ctx, &models.StreamChunk{Type: models.ChunkToolCallCompleted, ToolCall: &calls[i]})
	}
	return text.String(), calls, nil
}

// dispatch runs the calls of one round sequentially in assembler order, so a
// later call observes events appended by earlier ones. When the turn dies
// mid-round the remaining calls get synthetic aborted results: no recorded
// assistant_tool_call is ever left without a matching tool_result.
func (t *turn) dispatch(ctx context.Context, turnID string, calls []models.ToolCall) error {
	for i := range calls {
		if ctx.Err() != nil {
			t.abortCalls(ctx, turnID, calls[i:])
			return ctx.Err()
		}
		if err := t.dispatchCall(ctx, turnID, &calls[i]); err != nil {
			t.abortCalls(ctx, turnID, calls[i+1:])
			return err
		}
		t.seen[calls[i].ID] = true
	}
	return nil
}

// dispatchCall walks one call through the lifecycle: registry lookup, schema
// validation, duplicate-id rejection, the policy gate with its optional
// operator confirmation, then execution. Every outcome lands in the log as a
// tool_result; only store failures and cancellation are turn-fatal.
func (t *turn) dispatchCall(ctx context.Context, turnID string, call *models.ToolCall) error {
	payload := &models.ToolCallPayload{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}

	tool, ok := t.rt.registry.Get(call.Name)
	if !ok {
		return t.finishCall(ctx, turnID, &models.ToolResult{
			CallID:    call.ID,
			Status:    models.StatusError,
			Error:     "unknown tool: " + call.Name,
			ErrorCode: models.ErrCodeUnknownTool,
		})
	}

	schema, _ := t.rt.registry.Schema(call.Name)
	if err := tools.ValidateArguments(call.Name, schema, call.Arguments); err != nil {
		return t.finishCall(ctx, turnID, &models.ToolResult{
			CallID:    call.ID,
			Status:    models.StatusError,
			Error:     err.Error(),
			ErrorCode: models.ErrCodeValidation,
		})
	}

	if t.seen[call.ID] {
		return t.finishCall(ctx, turnID, &models.ToolResult{
			CallID:    call.ID,
			Status:    models.StatusError,
			Error:     "call id already used in this session: " + call.ID,
			ErrorCode: models.ErrCodeDuplicateCall,
		})
	}

	decision := t.rt.policy.Evaluate(ctx, t.sess.ID, tool, payload)
	if err := t.appendDecision(ctx, turnID, decision); err != nil {
		return err
	}

	switch decision.Decision {
	case models.DecisionDeny:
		return t.finishCall(ctx, turnID, deniedResult(call.ID, decision.Reason))
	case models.DecisionConfirm:
		confirmed := t.confirmCall(ctx, tool.Name(), payload)
		follow := t.rt.policy.RecordOperator(ctx, t.sess.ID, tool, payload, confirmed)
		if err := t.appendDecision(ctx, turnID, follow); err != nil {
			return err
		}
		if !confirmed {
			return t.finishCall(ctx, turnID, deniedResult(call.ID, follow.Reason))
		}
	}

	result, execErr := t.execute(ctx, tool, call)
	if execErr != nil {
		// Cancelled mid-execution: record what happened to this call
		// before the turn unwinds.
		if err := t.finishCall(ctx, turnID, &models.ToolResult{
			CallID:    call.ID,
			Status:    models.StatusError,
			Error:     "execution cancelled",
			ErrorCode: models.ErrCodeCancelled,
		}); err != nil {
			t.rt.logger.Error("append cancelled result failed",
				"session_id", t.sess.ID, "call_id", call.ID, "error", err)
		}
		return execErr
	}

	t.storeArtifacts(ctx, result)
	t.rt.policy.RecordCompletion(ctx, t.sess.ID, tool, payload, result)
	return t.finishCall(ctx, turnID, result)
}

// execute wraps one tool invocation with its span and duration metric. The
// status label is the result status, or "cancelled" when the turn died
// mid-execution.
func (t *turn) execute(ctx context.Context, tool tools.Tool, call *models.ToolCall) (*models.ToolResult, error) {
	ctx, span := t.rt.tracer.StartToolExecution(ctx, call.Name)
	start := time.Now()

	result, err := t.executeTool(ctx, tool, call)

	seconds := time.Since(start).Seconds()
	if err != nil {
		t.rt.metrics.RecordToolExecution(call.Name, "cancelled", seconds)
		telemetry.End(span, err)
		return result, err
	}
	t.rt.metrics.RecordToolExecution(call.Name, string(result.Status), seconds)
	span.SetAttributes(attribute.String("tool.status", string(result.Status)))
	if result.ErrorCode != "" {
		span.SetAttributes(attribute.String("tool.error_code", result.ErrorCode))
	}
	span.End()
	return result, nil
}

// executeTool invokes the tool under the per-tool timeout. Timeouts and tool
// failures come back as results the model can react to; only the turn's own
// cancellation is returned as an error.
func (t *turn) executeTool(ctx context.Context, tool tools.Tool, call *models.ToolCall) (*models.ToolResult, error) {
	execCtx := ctx
	if t.rt.config.ToolTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, t.rt.config.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := tool.Execute(execCtx, call.Arguments)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return &models.ToolResult{
				CallID:     call.ID,
				Status:     models.StatusError,
				Error:      fmt.Sprintf("tool timed out after %s", t.rt.config.ToolTimeout),
				ErrorCode:  models.ErrCodeTimeout,
				DurationMS: elapsed,
			}, nil
		}
		return &models.ToolResult{
			CallID:     call.ID,
			Status:     models.StatusError,
			Error:      err.Error(),
			ErrorCode:  models.ErrCodeToolException,
			DurationMS: elapsed,
		}, nil
	}

	if result == nil {
		return &models.ToolResult{
			CallID:     call.ID,
			Status:     models.StatusError,
			Error:      "tool returned no result",
			ErrorCode:  models.ErrCodeToolException,
			DurationMS: elapsed,
		}, nil
	}
	result.CallID = call.ID
	if result.DurationMS == 0 {
		result.DurationMS = elapsed
	}
	return result, nil
}

// confirmCall asks the operator to approve a gated call. No callback, a
// timeout, or a callback error all count as a decline.
func (t *turn) confirmCall(ctx context.Context, tool string, call *models.ToolCallPayload) bool {
	if t.rt.confirm == nil {
		return false
	}
	confirmCtx := ctx
	if t.rt.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		confirmCtx, cancel = context.WithTimeout(ctx, t.rt.config.ConfirmTimeout)
		defer cancel()
	}
	confirmed, err := t.rt.confirm(confirmCtx, tool, call)
	if err != nil {
		return false
	}
	return confirmed
}

// storeArtifacts spills payload bytes into the blob store and swaps them for
// refs. A spill failure drops that payload with a warning rather than failing
// a call that already executed.
func (t *turn) storeArtifacts(ctx context.Context, result *models.ToolResult) {
	if len(result.ArtifactPayloads) == 0 {
		return
	}
	if t.rt.artifacts == nil {
		t.rt.logger.Warn("no artifact store configured, dropping payloads",
			"call_id", result.CallID, "payloads", len(result.ArtifactPayloads))
		result.ArtifactPayloads = nil
		return
	}

	for _, p := range result.ArtifactPayloads {
		hash, err := t.rt.artifacts.Put(p.Data)
		if err != nil {
			t.rt.logger.Warn("artifact write failed",
				"call_id", result.CallID, "name", p.Name, "error", err)
			continue
		}
		result.ArtifactRefs = append(result.ArtifactRefs, models.ArtifactRef{
			SHA256:       hash,
			OriginalName: p.Name,
			MediaType:    p.MediaType,
			Description:  p.Description,
			SizeBytes:    int64(len(p.Data)),
		})
		meta := &models.ArtifactMeta{
			SHA256:    hash,
			SizeBytes: int64(len(p.Data)),
			MediaType: p.MediaType,
			CreatedAt: time.Now().UTC(),
		}
		if err := t.rt.store.PutArtifactMeta(context.WithoutCancel(ctx), meta); err != nil {
			t.rt.logger.Warn("artifact meta write failed", "sha256", hash, "error", err)
		}
	}
	result.ArtifactPayloads = nil
}

// abortCalls appends synthetic results for calls that never ran.
func (t *turn) abortCalls(ctx context.Context, turnID string, calls []models.ToolCall) {
	for i := range calls {
		result := &models.ToolResult{
			CallID:    calls[i].ID,
			Status:    models.StatusError,
			Error:     "turn ended before execution",
			ErrorCode: models.ErrCodeAborted,
		}
		if err := t.finishCall(ctx, turnID, result); err != nil {
			t.rt.logger.Error("append aborted result failed",
				"session_id", t.sess.ID, "call_id", calls[i].ID, "error", err)
		}
	}
}

// finishCall appends the result event and forwards it downstream.
func (t *turn) finishCall(ctx context.Context, turnID string, result *models.ToolResult) error {
	if err := t.append(ctx, &models.Event{
		SessionID:  t.sess.ID,
		Type:       models.EventToolResult,
		TurnID:     turnID,
		ToolResult: result,
	}); err != nil {
		return err
	}
	t.emit(ctx, &models.StreamChunk{Type: models.ChunkToolResult, ToolResult: result})
	return nil
}

func (t *turn) appendDecision(ctx context.Context, turnID string, decision *models.PolicyDecisionPayload) error {
	t.rt.metrics.RecordPolicyDecision(string(decision.Decision), decision.Reason)
	if err := t.append(ctx, &models.Event{
		SessionID: t.sess.ID,
		Type:      models.EventPolicyDecision,
		TurnID:    turnID,
		Policy:    decision,
	}); err != nil {
		return err
	}
	t.emit(ctx, &models.StreamChunk{Type: models.ChunkPolicyDecision, Policy: decision})
	return nil
}

// fatal appends the turn-fatal error event, emits the matching chunk, and
// returns the code as the turn status. The append is best effort: when the
// store itself failed there is nothing left to record to.
func (t *turn) fatal(ctx context.Context, turnID, code, message string) string {
	payload := &models.ErrorPayload{Code: code, Message: message}
	if err := t.append(ctx, &models.Event{
		SessionID: t.sess.ID,
		Type:      models.EventError,
		TurnID:    turnID,
		Error:     payload,
	}); err != nil {
		t.rt.logger.Error("append error event failed",
			"session_id", t.sess.ID, "code", code, "error", err)
	}
	t.emit(ctx, &models.StreamChunk{Type: models.ChunkError, Err: payload})
	return code
}

// classify maps a turn-fatal failure to an error event code. The turn context
// is the authority on cancellation: adapters wrap ctx errors in their own
// types, so sentinel checks alone would misread caller cancellation.
func (t *turn) classify(ctx context.Context, err error) (code, message string) {
	if ctx.Err() != nil {
		return models.ErrCodeCancelled, fmt.Sprintf("turn cancelled: %v", err)
	}
	var pe *llm.ProtocolError
	if errors.As(err, &pe) {
		return models.ErrCodeProtocol, pe.Error()
	}
	var se *storeError
	if errors.As(err, &se) {
		return models.ErrCodeStore, se.Error()
	}
	return models.ErrCodeProvider, err.Error()
}

// append writes one event detached from the turn's cancellation, so a
// cancelled turn still leaves a consistent log.
func (t *turn) append(ctx context.Context, event *models.Event) error {
	if err := t.rt.store.Append(context.WithoutCancel(ctx), event); err != nil {
		return &storeError{op: "append " + string(event.Type), err: err}
	}
	return nil
}

// knownCallIDs harvests every call id already recorded in the session, for
// the duplicate-id rejection rule.
func (t *turn) knownCallIDs(ctx context.Context) (map[string]bool, error) {
	events, err := t.rt.store.Events(ctx, t.sess.ID, session.EventQuery{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, event := range events {
		if event.Type == models.EventAssistantToolCall && event.ToolCall != nil {
			seen[event.ToolCall.CallID] = true
		}
	}
	return seen, nil
}

// emit forwards one chunk downstream. After cancellation delivery is best
// effort; the event log stays authoritative.
func (t *turn) emit(ctx context.Context, chunk *models.StreamChunk) {
	select {
	case t.chunks <- chunk:
		return
	default:
	}
	select {
	case t.chunks <- chunk:
	case <-ctx.Done():
	}
}

func deniedResult(callID, reason string) *models.ToolResult {
	return &models.ToolResult{
		CallID:    callID,
		Status:    models.StatusDenied,
		Error:     "denied by policy: " + reason,
		ErrorCode: models.ErrCodePolicyBlock,
	}
}
