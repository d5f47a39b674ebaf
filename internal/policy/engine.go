// Package policy gates tool calls against a risk ceiling and blocked argument
// patterns, masks secrets out of stored argument copies, and writes the JSONL
// audit trail.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Subject is the slice of a tool the engine needs to gate a call.
type Subject interface {
	Name() string
	Risk() models.RiskLevel
	PrivacyScope() models.PrivacyScope
}

// SecretFielder is implemented by tools that declare argument keys holding
// secrets. Declared keys are masked wholesale in stored copies, on top of the
// configured field list.
type SecretFielder interface {
	SecretFields() []string
}

// Config holds the gating knobs. BlockedPatterns and RedactionPatterns are
// regular expressions and are compiled when the config is loaded.
type Config struct {
	MaxRisk            models.RiskLevel
	ConfirmDestructive bool
	ConfirmShell       bool
	ConfirmWrite       bool
	BlockedPatterns    []string
	RedactionPatterns  []string
	SecretFields       []string
}

// DefaultConfig denies anything above read-only and asks before shell or
// destructive calls that make it under a raised ceiling.
func DefaultConfig() Config {
	return Config{
		MaxRisk:            models.RiskReadOnly,
		ConfirmDestructive: true,
		ConfirmShell:       true,
	}
}

// Engine evaluates tool calls. Decisions are pure functions of (tool, args,
// config); the audit write is the only side effect, and a failed audit write
// is logged rather than blocking the call. Reload may swap the config while
// evaluations are in flight.
type Engine struct {
	mu       sync.RWMutex
	config   Config
	blocked  []*regexp.Regexp
	redactor *Redactor

	audit  *Writer
	logger *slog.Logger
}

// NewEngine compiles the config and wires the audit writer. A nil writer
// disables auditing.
func NewEngine(config Config, audit *Writer, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		audit:  audit,
		logger: logger.With("component", "policy"),
	}
	if err := e.Reload(config); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload recompiles and swaps the gating configuration. On error the previous
// configuration stays active.
func (e *Engine) Reload(config Config) error {
	if config.MaxRisk == 0 {
		config.MaxRisk = models.RiskReadOnly
	}

	blocked := make([]*regexp.Regexp, 0, len(config.BlockedPatterns))
	for _, pattern := range config.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid blocked pattern %q: %w", pattern, err)
		}
		blocked = append(blocked, re)
	}

	redactor, err := NewRedactor(config.RedactionPatterns, config.SecretFields)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = config
	e.blocked = blocked
	e.redactor = redactor
	return nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Evaluate gates one tool call. The returned payload is what the caller
// appends as the decision event; it carries the redacted argument copy while
// the live arguments stay untouched for execution.
func (e *Engine) Evaluate(ctx context.Context, sessionID string, tool Subject, call *models.ToolCallPayload) *models.PolicyDecisionPayload {
	e.mu.RLock()
	config := e.config
	blocked := e.blocked
	redactor := e.redactor
	e.mu.RUnlock()

	decision, reason := gate(config, blocked, tool.Risk(), call.Arguments)

	payload := &models.PolicyDecisionPayload{
		CallID:       call.CallID,
		Tool:         tool.Name(),
		Risk:         tool.Risk(),
		Decision:     decision,
		Reason:       reason,
		ArgsRedacted: redactor.RedactArgs(call.Arguments, secretFields(tool)...),
	}
	e.auditDecision(sessionID, payload)
	return payload
}

// RecordOperator records the operator's answer to a confirm as a follow-up
// decision. Declines and timeouts both arrive as confirmed=false.
func (e *Engine) RecordOperator(ctx context.Context, sessionID string, tool Subject, call *models.ToolCallPayload, confirmed bool) *models.PolicyDecisionPayload {
	decision, reason := models.DecisionDeny, models.ReasonOperatorDeclined
	if confirmed {
		decision, reason = models.DecisionAllow, models.ReasonOperatorConfirmed
	}

	e.mu.RLock()
	redactor := e.redactor
	e.mu.RUnlock()

	payload := &models.PolicyDecisionPayload{
		CallID:       call.CallID,
		Tool:         tool.Name(),
		Risk:         tool.Risk(),
		Decision:     decision,
		Reason:       reason,
		ArgsRedacted: redactor.RedactArgs(call.Arguments, secretFields(tool)...),
	}
	e.auditDecision(sessionID, payload)
	return payload
}

// Output caps for completion records, by privacy scope.
const (
	publicOutputCap    = 2000
	sensitiveOutputCap = 500
)

// RecordCompletion audits the outcome of an executed call. What the record
// retains follows the tool's privacy scope: public keeps redacted args and
// capped output, sensitive keeps only a shorter output, secret keeps neither.
func (e *Engine) RecordCompletion(ctx context.Context, sessionID string, tool Subject, call *models.ToolCallPayload, result *models.ToolResult) {
	if e.audit == nil || result == nil {
		return
	}

	e.mu.RLock()
	redactor := e.redactor
	e.mu.RUnlock()

	rec := &Record{
		SessionID:  sessionID,
		CallID:     call.CallID,
		Tool:       tool.Name(),
		Risk:       tool.Risk(),
		Privacy:    tool.PrivacyScope(),
		Status:     result.Status,
		ErrorCode:  result.ErrorCode,
		DurationMS: result.DurationMS,
	}

	placeholder := json.RawMessage(`"` + RedactedPlaceholder + `"`)
	switch tool.PrivacyScope() {
	case models.PrivacySecret:
		rec.ArgsRedacted = placeholder
		rec.Output = RedactedPlaceholder
	case models.PrivacySensitive:
		rec.ArgsRedacted = placeholder
		rec.Output = redactor.RedactString(capString(string(result.Output), sensitiveOutputCap))
	default:
		rec.ArgsRedacted = redactor.RedactArgs(call.Arguments, secretFields(tool)...)
		rec.Output = redactor.RedactString(capString(string(result.Output), publicOutputCap))
	}

	if err := e.audit.Write(rec); err != nil {
		e.logger.Warn("audit write failed",
			"session_id", sessionID,
			"call_id", call.CallID,
			"error", err)
	}
}

func (e *Engine) auditDecision(sessionID string, payload *models.PolicyDecisionPayload) {
	if e.audit == nil {
		return
	}
	rec := &Record{
		SessionID:    sessionID,
		CallID:       payload.CallID,
		Tool:         payload.Tool,
		Risk:         payload.Risk,
		Decision:     payload.Decision,
		Reason:       payload.Reason,
		ArgsRedacted: payload.ArgsRedacted,
	}
	if err := e.audit.Write(rec); err != nil {
		e.logger.Warn("audit write failed",
			"session_id", sessionID,
			"call_id", payload.CallID,
			"error", err)
	}
}

// gate applies the rules in order: ceiling, blocked patterns, then the
// confirm gates from most to least severe.
func gate(config Config, blocked []*regexp.Regexp, risk models.RiskLevel, args json.RawMessage) (models.Decision, string) {
	if risk > config.MaxRisk {
		return models.DecisionDeny, models.ReasonRiskCeiling
	}
	if matchesBlocked(blocked, args) {
		return models.DecisionDeny, models.ReasonBlockedPattern
	}
	if risk == models.RiskShell && config.ConfirmShell {
		return models.DecisionConfirm, models.ReasonConfirmShell
	}
	if risk == models.RiskDestructive && config.ConfirmDestructive {
		return models.DecisionConfirm, models.ReasonConfirmDestruct
	}
	if risk == models.RiskWrite && config.ConfirmWrite {
		return models.DecisionConfirm, models.ReasonConfirmWrite
	}
	return models.DecisionAllow, models.ReasonAllowed
}

// matchesBlocked matches patterns against argument values only, not keys.
func matchesBlocked(blocked []*regexp.Regexp, args json.RawMessage) bool {
	if len(blocked) == 0 || len(args) == 0 {
		return false
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return false
	}
	values := collectValues(decoded, nil)
	for _, re := range blocked {
		for _, v := range values {
			if re.MatchString(v) {
				return true
			}
		}
	}
	return false
}

func collectValues(v any, out []string) []string {
	switch val := v.(type) {
	case string:
		out = append(out, val)
	case float64:
		out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
	case map[string]any:
		for _, vv := range val {
			out = collectValues(vv, out)
		}
	case []any:
		for _, vv := range val {
			out = collectValues(vv, out)
		}
	}
	return out
}

func secretFields(tool Subject) []string {
	if sf, ok := tool.(SecretFielder); ok {
		return sf.SecretFields()
	}
	return nil
}

func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
