package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/workbench/internal/artifact"
	"github.com/haasonsaas/workbench/internal/llm"
	"github.com/haasonsaas/workbench/internal/metrics"
	"github.com/haasonsaas/workbench/internal/policy"
	"github.com/haasonsaas/workbench/internal/session"
	"github.com/haasonsaas/workbench/internal/telemetry"
	"github.com/haasonsaas/workbench/internal/tools"
	"github.com/haasonsaas/workbench/pkg/models"
)

// ResolverFunc maps a provider name to a live adapter.
type ResolverFunc func(name string) (llm.Provider, error)

// Deps wires the runtime's collaborators. Store, Registry, Policy, and
// Resolver are required; the rest default sensibly.
type Deps struct {
	Store     session.Store
	Artifacts *artifact.Store
	Registry  *tools.Registry
	Policy    *policy.Engine
	Packer    *session.Packer
	Resolver  ResolverFunc
	Confirm   ConfirmFunc
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    *telemetry.Tracer
}

// Runtime owns sessions and runs turns against them. Turns on the same
// session are serialized; different sessions run concurrently.
type Runtime struct {
	store     session.Store
	artifacts *artifact.Store
	registry  *tools.Registry
	policy    *policy.Engine
	packer    *session.Packer
	resolver  ResolverFunc
	confirm   ConfirmFunc
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    *telemetry.Tracer
	config    Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRuntime validates deps and returns a runtime ready to serve turns.
func NewRuntime(deps Deps, config Config) (*Runtime, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator: session store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("orchestrator: tool registry is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("orchestrator: policy engine is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("orchestrator: provider resolver is required")
	}
	if deps.Packer == nil {
		deps.Packer = session.NewPacker(nil, 0, 0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Nop()
	}
	return &Runtime{
		store:     deps.Store,
		artifacts: deps.Artifacts,
		registry:  deps.Registry,
		policy:    deps.Policy,
		packer:    deps.Packer,
		resolver:  deps.Resolver,
		confirm:   deps.Confirm,
		logger:    deps.Logger.With("component", "orchestrator"),
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		config:    sanitizeConfig(config),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Config returns the runtime's effective configuration.
func (r *Runtime) Config() Config { return r.config }

// StartSession creates a session seeded with the configured provider and
// model.
func (r *Runtime) StartSession(ctx context.Context, title string) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Provider:  r.config.Provider,
		Model:     r.config.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Turn runs one user prompt against a session and streams the turn's
// progress. The channel closes when the turn reaches quiescence; the final
// chunk is turn_complete or an error. Concurrent turns on the same session
// queue behind each other.
func (r *Runtime) Turn(ctx context.Context, sessionID, userText string) (<-chan *models.StreamChunk, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, errors.New("orchestrator: empty user prompt")
	}
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	provider, err := r.resolver(sess.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider %q: %w", sess.Provider, err)
	}

	t := &turn{
		rt:       r,
		sess:     sess,
		provider: provider,
		chunks:   make(chan *models.StreamChunk, r.config.ChunkBuffer),
	}

	lock := r.sessionLock(sessionID)
	go func() {
		defer close(t.chunks)
		lock.Lock()
		defer lock.Unlock()

		turnCtx, span := r.tracer.StartTurn(ctx, sess.ID, sess.Provider, sess.Model)
		r.metrics.TurnStarted(sess.Provider)
		start := time.Now()

		status := t.run(turnCtx, userText)

		r.metrics.TurnEnded(sess.Provider, sess.Model, status, t.rounds, time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("turn.status", status),
			attribute.Int("turn.rounds", t.rounds),
		)
		span.End()
	}()
	return t.chunks, nil
}

// SwitchProvider repoints a session at a different provider and optionally a
// different model. The change lands in the event log before the session row
// updates, so the transcript records when the handoff happened.
func (r *Runtime) SwitchProvider(ctx context.Context, sessionID, provider, model string) error {
	if _, err := r.resolver(provider); err != nil {
		return fmt.Errorf("resolve provider %q: %w", provider, err)
	}
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := r.store.Append(ctx, &models.Event{
		SessionID: sessionID,
		Type:      models.EventSessionMeta,
		Meta:      &models.SessionMetaPayload{Key: models.MetaProviderChange, Value: provider},
	}); err != nil {
		return fmt.Errorf("append provider change: %w", err)
	}
	if model != "" {
		if err := r.store.Append(ctx, &models.Event{
			SessionID: sessionID,
			Type:      models.EventSessionMeta,
			Meta:      &models.SessionMetaPayload{Key: models.MetaModelChange, Value: model},
		}); err != nil {
			return fmt.Errorf("append model change: %w", err)
		}
	}

	sess.Provider = provider
	if model != "" {
		sess.Model = model
	}
	if err := r.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (r *Runtime) sessionLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
