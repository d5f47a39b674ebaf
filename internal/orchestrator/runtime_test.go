package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/workbench/internal/llm"
	"github.com/haasonsaas/workbench/internal/policy"
	"github.com/haasonsaas/workbench/internal/session"
	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/pkg/models"
)

func TestNewRuntime_RequiredDeps(t *testing.T) {
	ctx := context.Background()
	store, err := session.NewSQLiteStore(ctx, session.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "sessions.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	engine, err := policy.NewEngine(policy.DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	registry := tools.NewRegistry()
	resolver := func(name string) (llm.Provider, error) {
		return &scriptProvider{name: name}, nil
	}

	valid := func() Deps {
		return Deps{Store: store, Registry: registry, Policy: engine, Resolver: resolver}
	}

	if _, err := NewRuntime(valid(), Config{}); err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no store", func(d *Deps) { d.Store = nil }},
		{"no registry", func(d *Deps) { d.Registry = nil }},
		{"no policy", func(d *Deps) { d.Policy = nil }},
		{"no resolver", func(d *Deps) { d.Resolver = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid()
			tt.mutate(&deps)
			if _, err := NewRuntime(deps, Config{}); err == nil {
				t.Error("NewRuntime() expected error")
			}
		})
	}
}

func TestNewRuntime_SanitizesConfig(t *testing.T) {
	provider := newScriptProvider()
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{MaxTurns: -3, ChunkBuffer: 0}, nil)

	config := rt.Config()
	if config.MaxTurns != 20 {
		t.Errorf("MaxTurns = %d, want 20", config.MaxTurns)
	}
	if config.ChunkBuffer != 32 {
		t.Errorf("ChunkBuffer = %d, want 32", config.ChunkBuffer)
	}
}

func TestRuntime_StartSession(t *testing.T) {
	provider := newScriptProvider()
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{Model: "gpt-4o"}, nil)

	sess := mustSession(t, rt)
	if sess.ID == "" {
		t.Error("session ID not set")
	}
	if sess.Provider != "script" || sess.Model != "gpt-4o" {
		t.Errorf("session seeded %s/%s, want script/gpt-4o", sess.Provider, sess.Model)
	}

	got, err := rt.store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Provider != sess.Provider || got.Model != sess.Model {
		t.Errorf("stored session = %s/%s, want %s/%s", got.Provider, got.Model, sess.Provider, sess.Model)
	}
}

func TestRuntime_TurnValidation(t *testing.T) {
	provider := newScriptProvider(textRound("hi"))
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{}, nil)

	if _, err := rt.Turn(context.Background(), "missing", "hello"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Turn(missing session) error = %v, want ErrSessionNotFound", err)
	}

	sess := mustSession(t, rt)
	if _, err := rt.Turn(context.Background(), sess.ID, "   "); err == nil {
		t.Error("Turn(blank prompt) expected error")
	}
}

func TestRuntime_TurnsShareHistory(t *testing.T) {
	provider := newScriptProvider(textRound("four"), textRound("six"))
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{}, nil)
	sess := mustSession(t, rt)

	runTurn(t, rt, sess.ID, "what is 2+2?")
	runTurn(t, rt, sess.ID, "now add 2")

	if provider.requestCount() != 2 {
		t.Fatalf("provider called %d times, want 2", provider.requestCount())
	}
	second := provider.request(1)
	if len(second.Messages) != 3 {
		t.Fatalf("second request carried %d messages, want 3", len(second.Messages))
	}
	if second.Messages[1].Role != models.RoleAssistant || second.Messages[1].Content != "four" {
		t.Errorf("message 1 = %s %q, want assistant \"four\"", second.Messages[1].Role, second.Messages[1].Content)
	}
	if second.Messages[2].Content != "now add 2" {
		t.Errorf("message 2 = %q, want %q", second.Messages[2].Content, "now add 2")
	}
}

func TestRuntime_SwitchProvider(t *testing.T) {
	provider := newScriptProvider(textRound("from script"))
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{}, nil)
	alt := &scriptProvider{name: "alt", rounds: [][]llm.Chunk{textRound("from alt")}}
	rt.providers["alt"] = alt
	sess := mustSession(t, rt)
	ctx := context.Background()

	if err := rt.SwitchProvider(ctx, sess.ID, "alt", "alt-large"); err != nil {
		t.Fatalf("SwitchProvider() error = %v", err)
	}

	got, err := rt.store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Provider != "alt" || got.Model != "alt-large" {
		t.Errorf("session = %s/%s, want alt/alt-large", got.Provider, got.Model)
	}

	events := sessionEvents(t, rt.store, sess.ID)
	wantEventTypes(t, events, models.EventSessionMeta, models.EventSessionMeta)
	if events[0].Meta.Key != models.MetaProviderChange || events[0].Meta.Value != "alt" {
		t.Errorf("meta 0 = %+v, want provider_change=alt", events[0].Meta)
	}
	if events[1].Meta.Key != models.MetaModelChange || events[1].Meta.Value != "alt-large" {
		t.Errorf("meta 1 = %+v, want model_change=alt-large", events[1].Meta)
	}

	// The next turn runs against the new provider.
	runTurn(t, rt, sess.ID, "hello")
	if alt.requestCount() != 1 {
		t.Errorf("alt provider called %d times, want 1", alt.requestCount())
	}
	if provider.requestCount() != 0 {
		t.Errorf("old provider called %d times, want 0", provider.requestCount())
	}
	if alt.request(0).Model != "alt-large" {
		t.Errorf("request model = %q, want %q", alt.request(0).Model, "alt-large")
	}
}

func TestRuntime_SwitchProviderUnknown(t *testing.T) {
	provider := newScriptProvider()
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{}, nil)
	sess := mustSession(t, rt)

	if err := rt.SwitchProvider(context.Background(), sess.ID, "nope", ""); err == nil {
		t.Fatal("SwitchProvider(unknown) expected error")
	}

	// A failed switch leaves no trace in the log.
	if events := sessionEvents(t, rt.store, sess.ID); len(events) != 0 {
		t.Errorf("events after failed switch = %v", eventTypes(events))
	}
}

func TestRuntime_SwitchProviderKeepsModel(t *testing.T) {
	provider := newScriptProvider()
	rt := newTestRuntime(t, provider, policy.DefaultConfig(), Config{Model: "script-1"}, nil)
	alt := &scriptProvider{name: "alt"}
	rt.providers["alt"] = alt
	sess := mustSession(t, rt)
	ctx := context.Background()

	if err := rt.SwitchProvider(ctx, sess.ID, "alt", ""); err != nil {
		t.Fatalf("SwitchProvider() error = %v", err)
	}

	got, err := rt.store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Provider != "alt" || got.Model != "script-1" {
		t.Errorf("session = %s/%s, want alt/script-1", got.Provider, got.Model)
	}

	events := sessionEvents(t, rt.store, sess.ID)
	wantEventTypes(t, events, models.EventSessionMeta)
}
