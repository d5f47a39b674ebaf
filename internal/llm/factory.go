package llm

import (
	"fmt"
	"time"
)

// Options is the provider-agnostic adapter configuration resolved from the
// llm config section. APIKey is the resolved secret, not the env var name.
type Options struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
}

// New constructs the adapter named by the llm.name config key. Adapter names
// are the stable lowercase identifiers each provider reports from Name().
func New(name string, opts Options) (Provider, error) {
	switch name {
	case "", "openai":
		return NewOpenAI(OpenAIOptions{
			APIKey:  opts.APIKey,
			APIBase: opts.APIBase,
			Model:   opts.Model,
			Timeout: opts.Timeout,
		}), nil
	case "anthropic":
		return NewAnthropic(AnthropicOptions{
			APIKey:  opts.APIKey,
			APIBase: opts.APIBase,
			Model:   opts.Model,
			Timeout: opts.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
