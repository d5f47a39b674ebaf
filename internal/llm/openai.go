package llm

import (
	"context"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/workbench/pkg/models"
)

// OpenAI speaks the OpenAI chat-completions streaming protocol. Because the
// wire format is a de-facto standard, pointing APIBase at any compatible
// endpoint (OpenRouter, Ollama, vLLM, Gemini's compatibility layer) reuses
// this adapter unchanged.
//
// The adapter does not assemble tool calls; it forwards raw per-slot deltas
// and leaves reconstruction to the Assembler so that malformed streams fail
// loudly instead of being silently repaired here.
type OpenAI struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// OpenAIOptions configures the adapter. Model is the default model for
// requests that leave Request.Model empty.
type OpenAIOptions struct {
	APIKey     string
	APIBase    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenAI builds the adapter. An empty API key is allowed so construction
// can precede configuration; Stream fails until a key is set.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	p := &OpenAI{
		model:      opts.Model,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	if opts.APIKey != "" {
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.APIBase != "" {
			cfg.BaseURL = opts.APIBase
		}
		p.client = openai.NewClientWithConfig(cfg)
	}
	return p
}

func (p *OpenAI) Name() string { return "openai" }

// Stream opens a streaming completion. Connection-level failures are retried
// with linear backoff when retryable; once the stream is open, failures are
// delivered as an Err chunk and end the sequence.
func (p *OpenAI) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	if p.client == nil {
		return nil, &ProviderError{Reason: ReasonAuth, Provider: p.Name(), Message: "API key not configured"}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: p.convertMessages(req),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		chatReq.Tools = convertTools(req.Tools)
		chatReq.ToolChoice = string(ToolChoiceAuto)
	}

	streamCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-streamCtx.Done():
				cancel()
				return nil, p.wrapErr(model, streamCtx.Err())
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(streamCtx, chatReq)
		if lastErr == nil {
			break
		}
		if !p.classify(lastErr).IsRetryable() {
			cancel()
			return nil, p.wrapErr(model, lastErr)
		}
	}
	if lastErr != nil {
		cancel()
		return nil, p.wrapErr(model, lastErr)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer cancel()
		p.pump(streamCtx, model, stream, chunks)
	}()
	return chunks, nil
}

func (p *OpenAI) pump(ctx context.Context, model string, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Err: p.wrapErr(model, ctx.Err()), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				chunks <- &Chunk{Done: true, Reason: "stop"}
				return
			}
			chunks <- &Chunk{Err: p.wrapErr(model, err), Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			d := &ToolCallDelta{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments}
			if tc.Index != nil {
				d.Index = *tc.Index
			}
			chunks <- &Chunk{Delta: d}
		}
		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
			chunks <- &Chunk{Done: true, Reason: string(choice.FinishReason)}
			return
		}
	}
}

func (p *OpenAI) convertMessages(req *Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		m := openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content}
		switch msg.Role {
		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
		case models.RoleTool:
			m.ToolCallID = msg.ToolCallID
		}
		out = append(out, m)
	}
	return out
}

func convertTools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func (p *OpenAI) classify(err error) FailoverReason {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatus(reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnknown
}

func (p *OpenAI) wrapErr(model string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	status := 0
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	return &ProviderError{
		Reason:   p.classify(err),
		Provider: p.Name(),
		Model:    model,
		Status:   status,
		Cause:    err,
	}
}
