package policy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/workbench/pkg/models"
)

type stubTool struct {
	name   string
	risk   models.RiskLevel
	scope  models.PrivacyScope
	secret []string
}

func (s *stubTool) Name() string           { return s.name }
func (s *stubTool) Risk() models.RiskLevel { return s.risk }
func (s *stubTool) SecretFields() []string { return s.secret }

func (s *stubTool) PrivacyScope() models.PrivacyScope {
	if s.scope == "" {
		return models.PrivacyPublic
	}
	return s.scope
}

func newTestEngine(t *testing.T, config Config) *Engine {
	t.Helper()
	engine, err := NewEngine(config, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func callWith(args string) *models.ToolCallPayload {
	return &models.ToolCallPayload{
		CallID:    "c1",
		Name:      "probe",
		Arguments: json.RawMessage(args),
	}
}

func TestEngineGate(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		risk     models.RiskLevel
		args     string
		decision models.Decision
		reason   string
	}{
		{
			name:     "read only under ceiling",
			config:   Config{MaxRisk: models.RiskReadOnly},
			risk:     models.RiskReadOnly,
			args:     `{"target":"localhost"}`,
			decision: models.DecisionAllow,
			reason:   models.ReasonAllowed,
		},
		{
			name:     "risk over ceiling",
			config:   Config{MaxRisk: models.RiskReadOnly},
			risk:     models.RiskShell,
			args:     `{"command":"ls"}`,
			decision: models.DecisionDeny,
			reason:   models.ReasonRiskCeiling,
		},
		{
			name:     "blocked pattern in value",
			config:   Config{MaxRisk: models.RiskShell, BlockedPatterns: []string{`rm\s+-rf`}},
			risk:     models.RiskReadOnly,
			args:     `{"command":"rm -rf /"}`,
			decision: models.DecisionDeny,
			reason:   models.ReasonBlockedPattern,
		},
		{
			name:     "blocked pattern in nested value",
			config:   Config{MaxRisk: models.RiskShell, BlockedPatterns: []string{`/etc/shadow`}},
			risk:     models.RiskReadOnly,
			args:     `{"paths":["/tmp/a","/etc/shadow"]}`,
			decision: models.DecisionDeny,
			reason:   models.ReasonBlockedPattern,
		},
		{
			name:     "keys are not matched",
			config:   Config{MaxRisk: models.RiskReadOnly, BlockedPatterns: []string{`^command$`}},
			risk:     models.RiskReadOnly,
			args:     `{"command":"uptime"}`,
			decision: models.DecisionAllow,
			reason:   models.ReasonAllowed,
		},
		{
			name:     "ceiling wins over blocked pattern",
			config:   Config{MaxRisk: models.RiskReadOnly, BlockedPatterns: []string{`rm\s+-rf`}},
			risk:     models.RiskShell,
			args:     `{"command":"rm -rf /"}`,
			decision: models.DecisionDeny,
			reason:   models.ReasonRiskCeiling,
		},
		{
			name:     "blocked pattern wins over confirm",
			config:   Config{MaxRisk: models.RiskShell, ConfirmShell: true, BlockedPatterns: []string{`rm\s+-rf`}},
			risk:     models.RiskShell,
			args:     `{"command":"rm -rf /tmp/x"}`,
			decision: models.DecisionDeny,
			reason:   models.ReasonBlockedPattern,
		},
		{
			name:     "shell requires confirmation",
			config:   Config{MaxRisk: models.RiskShell, ConfirmShell: true},
			risk:     models.RiskShell,
			args:     `{"command":"uptime"}`,
			decision: models.DecisionConfirm,
			reason:   models.ReasonConfirmShell,
		},
		{
			name:     "shell without confirm gate",
			config:   Config{MaxRisk: models.RiskShell},
			risk:     models.RiskShell,
			args:     `{"command":"uptime"}`,
			decision: models.DecisionAllow,
			reason:   models.ReasonAllowed,
		},
		{
			name:     "destructive requires confirmation",
			config:   Config{MaxRisk: models.RiskShell, ConfirmDestructive: true},
			risk:     models.RiskDestructive,
			args:     `{"service":"nginx"}`,
			decision: models.DecisionConfirm,
			reason:   models.ReasonConfirmDestruct,
		},
		{
			name:     "write confirm gate",
			config:   Config{MaxRisk: models.RiskWrite, ConfirmWrite: true},
			risk:     models.RiskWrite,
			args:     `{"path":"/tmp/out"}`,
			decision: models.DecisionConfirm,
			reason:   models.ReasonConfirmWrite,
		},
		{
			name:     "write allowed by default",
			config:   Config{MaxRisk: models.RiskWrite},
			risk:     models.RiskWrite,
			args:     `{"path":"/tmp/out"}`,
			decision: models.DecisionAllow,
			reason:   models.ReasonAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, tt.config)
			tool := &stubTool{name: "probe", risk: tt.risk}

			payload := engine.Evaluate(context.Background(), "s1", tool, callWith(tt.args))

			if payload.Decision != tt.decision {
				t.Errorf("decision: expected %v, got %v", tt.decision, payload.Decision)
			}
			if payload.Reason != tt.reason {
				t.Errorf("reason: expected %v, got %v", tt.reason, payload.Reason)
			}
			if payload.CallID != "c1" || payload.Tool != "probe" {
				t.Errorf("payload identity wrong: %+v", payload)
			}
		})
	}
}

func TestEngineDefaultConfig(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())

	payload := engine.Evaluate(context.Background(), "s1",
		&stubTool{name: "probe", risk: models.RiskWrite}, callWith(`{}`))
	if payload.Decision != models.DecisionDeny || payload.Reason != models.ReasonRiskCeiling {
		t.Errorf("expected deny/risk_ceiling, got %v/%v", payload.Decision, payload.Reason)
	}

	payload = engine.Evaluate(context.Background(), "s1",
		&stubTool{name: "probe", risk: models.RiskReadOnly}, callWith(`{}`))
	if payload.Decision != models.DecisionAllow {
		t.Errorf("expected allow, got %v", payload.Decision)
	}
}

func TestEngineRedactsDecisionArgs(t *testing.T) {
	engine := newTestEngine(t, Config{MaxRisk: models.RiskReadOnly})
	tool := &stubTool{name: "probe", risk: models.RiskReadOnly}

	raw := `{"target":"localhost","api_key":"sk-1234567890abcdef1234567890abcdefXY"}`
	call := callWith(raw)
	payload := engine.Evaluate(context.Background(), "s1", tool, call)

	var redacted map[string]any
	if err := json.Unmarshal(payload.ArgsRedacted, &redacted); err != nil {
		t.Fatalf("unmarshal redacted args: %v", err)
	}
	if redacted["api_key"] != RedactedPlaceholder {
		t.Errorf("api_key not masked: %v", redacted["api_key"])
	}
	if redacted["target"] != "localhost" {
		t.Errorf("target should survive redaction: %v", redacted["target"])
	}

	// The live call must keep the original values for execution.
	if string(call.Arguments) != raw {
		t.Errorf("live arguments were modified: %s", call.Arguments)
	}
}

func TestEngineToolSecretFields(t *testing.T) {
	engine := newTestEngine(t, Config{MaxRisk: models.RiskShell})
	tool := &stubTool{name: "run_shell", risk: models.RiskShell, secret: []string{"env"}}

	payload := engine.Evaluate(context.Background(), "s1", tool,
		callWith(`{"command":"env","env":"DB_URL=postgres://u:p@h/db"}`))

	var redacted map[string]any
	if err := json.Unmarshal(payload.ArgsRedacted, &redacted); err != nil {
		t.Fatalf("unmarshal redacted args: %v", err)
	}
	if redacted["env"] != RedactedPlaceholder {
		t.Errorf("declared secret field not masked: %v", redacted["env"])
	}
	if redacted["command"] != "env" {
		t.Errorf("command should survive redaction: %v", redacted["command"])
	}
}

func TestEngineRecordOperator(t *testing.T) {
	engine := newTestEngine(t, Config{MaxRisk: models.RiskShell, ConfirmShell: true})
	tool := &stubTool{name: "run_shell", risk: models.RiskShell}
	call := callWith(`{"command":"uptime"}`)

	confirmed := engine.RecordOperator(context.Background(), "s1", tool, call, true)
	if confirmed.Decision != models.DecisionAllow || confirmed.Reason != models.ReasonOperatorConfirmed {
		t.Errorf("expected allow/operator_confirmed, got %v/%v", confirmed.Decision, confirmed.Reason)
	}

	declined := engine.RecordOperator(context.Background(), "s1", tool, call, false)
	if declined.Decision != models.DecisionDeny || declined.Reason != models.ReasonOperatorDeclined {
		t.Errorf("expected deny/operator_declined, got %v/%v", declined.Decision, declined.Reason)
	}
}

func TestEngineReload(t *testing.T) {
	engine := newTestEngine(t, Config{MaxRisk: models.RiskShell})
	tool := &stubTool{name: "run_shell", risk: models.RiskReadOnly}
	call := callWith(`{"command":"cat /etc/shadow"}`)

	if p := engine.Evaluate(context.Background(), "s1", tool, call); p.Decision != models.DecisionAllow {
		t.Fatalf("expected allow before reload, got %v", p.Decision)
	}

	err := engine.Reload(Config{MaxRisk: models.RiskShell, BlockedPatterns: []string{`/etc/shadow`}})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if p := engine.Evaluate(context.Background(), "s1", tool, call); p.Decision != models.DecisionDeny {
		t.Errorf("expected deny after reload, got %v", p.Decision)
	}

	// A bad reload keeps the previous configuration active.
	if err := engine.Reload(Config{BlockedPatterns: []string{`[`}}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
	if p := engine.Evaluate(context.Background(), "s1", tool, call); p.Decision != models.DecisionDeny {
		t.Errorf("failed reload should not drop active patterns, got %v", p.Decision)
	}
}

func TestNewEngineRejectsBadPattern(t *testing.T) {
	if _, err := NewEngine(Config{BlockedPatterns: []string{`[`}}, nil, nil); err == nil {
		t.Fatal("expected error for invalid blocked pattern")
	}
	if _, err := NewEngine(Config{RedactionPatterns: []string{`(`}}, nil, nil); err == nil {
		t.Fatal("expected error for invalid redaction pattern")
	}
}
