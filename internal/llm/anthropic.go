package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Anthropic adapts the Messages streaming API. Unlike the OpenAI wire format,
// tool calls arrive as dedicated content blocks: identity lands on
// content_block_start and the arguments stream as input_json_delta fragments.
// The adapter numbers tool_use blocks with its own slot counter so the
// assembler sees the same per-index delta shape from every provider.
type Anthropic struct {
	client     anthropic.Client
	model      string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// AnthropicOptions configures the adapter.
type AnthropicOptions struct {
	APIKey     string
	APIBase    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewAnthropic builds the adapter.
func NewAnthropic(opts AnthropicOptions) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.APIBase != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.APIBase))
	}
	p := &Anthropic{
		client:     anthropic.NewClient(reqOpts...),
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
	return p, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

// Stream opens a streaming completion with backoff on retryable connect
// failures, then pumps events into provider-neutral chunks.
func (p *Anthropic) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params, err := p.buildParams(model, req)
	if err != nil {
		return nil, err
	}

	streamCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer cancel()
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		for attempt := 0; ; attempt++ {
			stream = p.client.Messages.NewStreaming(streamCtx, params)
			if stream.Err() == nil {
				break
			}
			werr := p.wrapErr(model, stream.Err())
			if attempt >= p.maxRetries || !werr.Reason.IsRetryable() {
				chunks <- &Chunk{Err: werr, Done: true}
				return
			}
			select {
			case <-streamCtx.Done():
				chunks <- &Chunk{Err: p.wrapErr(model, streamCtx.Err()), Done: true}
				return
			case <-time.After(p.retryDelay * time.Duration(attempt+1)):
			}
		}
		p.pump(model, stream, chunks)
	}()
	return chunks, nil
}

func (p *Anthropic) pump(model string, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk) {
	defer stream.Close()

	slot := -1        // current tool_use slot, -1 when outside a tool block
	nextSlot := 0     // next slot index to hand out
	inToolUse := false
	reason := "end_turn"

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			start := event.AsContentBlockStart()
			if start.ContentBlock.Type == "tool_use" {
				toolUse := start.ContentBlock.AsToolUse()
				slot = nextSlot
				nextSlot++
				inToolUse = true
				chunks <- &Chunk{Delta: &ToolCallDelta{Index: slot, ID: toolUse.ID, Name: toolUse.Name}}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &Chunk{Text: delta.Text}
				}
			case "input_json_delta":
				if inToolUse && delta.PartialJSON != "" {
					chunks <- &Chunk{Delta: &ToolCallDelta{Index: slot, Args: delta.PartialJSON}}
				}
			}

		case "content_block_stop":
			if inToolUse {
				inToolUse = false
				slot = -1
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Delta.StopReason != "" {
				reason = string(md.Delta.StopReason)
			}

		case "message_stop":
			chunks <- &Chunk{Done: true, Reason: reason}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &Chunk{Err: p.wrapErr(model, err), Done: true}
		return
	}
	chunks <- &Chunk{Done: true, Reason: reason}
}

func (p *Anthropic) buildParams(model string, req *Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	for _, msg := range req.Messages {
		var content []anthropic.ContentBlockParamUnion
		switch msg.Role {
		case models.RoleAssistant:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal(call.Arguments, &input); err != nil {
					return params, fmt.Errorf("anthropic: tool call %s arguments: %w", call.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		default:
			content = append(content, anthropic.NewTextBlock(msg.Content))
			params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
		}
	}

	if len(req.Tools) > 0 && req.ToolChoice != ToolChoiceNone {
		for _, t := range req.Tools {
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(t.Schema, &schema); err != nil {
				return params, fmt.Errorf("anthropic: invalid schema for tool %s: %w", t.Name, err)
			}
			tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
			if tool.OfTool == nil {
				return params, fmt.Errorf("anthropic: invalid tool definition for %s", t.Name)
			}
			tool.OfTool.Description = anthropic.String(t.Description)
			params.Tools = append(params.Tools, tool)
		}
	}
	return params, nil
}

func (p *Anthropic) wrapErr(model string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	reason := ClassifyStatus(status)
	if reason == ReasonUnknown && errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return &ProviderError{
		Reason:   reason,
		Provider: p.Name(),
		Model:    model,
		Status:   status,
		Cause:    err,
	}
}
