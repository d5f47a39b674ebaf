package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces masked values in stored copies of tool
// arguments. Live argument values are never rewritten; only the copies
// destined for the session log and the audit file pass through the redactor.
const RedactedPlaceholder = "***REDACTED***"

// DefaultRedactionPatterns covers common secret shapes. Config patterns are
// compiled on top of these, never instead of them.
var DefaultRedactionPatterns = []string{
	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{24,}`,

	// OpenAI-style API keys
	`sk-[a-zA-Z0-9]{32,}`,

	// Authorization headers and bearer tokens
	`(?i)(bearer|basic)\s+[a-zA-Z0-9_\-\.=+/]{16,}`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`,

	// PEM private key blocks
	`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,

	// key=value style secrets
	`(?i)(api[_-]?key|secret|token|password|passwd)[\s:=]+["']?[^\s"']{8,}["']?`,
}

// defaultSecretFields are argument keys whose values are masked wholesale
// regardless of shape. Matching is case-insensitive with "-" folded to "_".
var defaultSecretFields = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"private_key", "authorization", "auth",
}

// Redactor masks secret-shaped substrings in argument values and whole values
// of secret-named keys. It is immutable after construction and safe for
// concurrent use.
type Redactor struct {
	patterns []*regexp.Regexp
	fields   map[string]struct{}
}

// NewRedactor compiles the default patterns plus any extras. Extra secret
// field names extend the built-in key list. An invalid pattern is a
// configuration error and fails construction.
func NewRedactor(extraPatterns, extraFields []string) (*Redactor, error) {
	all := append(append([]string(nil), DefaultRedactionPatterns...), extraPatterns...)
	compiled := make([]*regexp.Regexp, 0, len(all))
	for _, pattern := range all {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	fields := make(map[string]struct{}, len(defaultSecretFields)+len(extraFields))
	for _, f := range defaultSecretFields {
		fields[normalizeField(f)] = struct{}{}
	}
	for _, f := range extraFields {
		if f == "" {
			continue
		}
		fields[normalizeField(f)] = struct{}{}
	}

	return &Redactor{patterns: compiled, fields: fields}, nil
}

// RedactString masks every pattern match in s.
func (r *Redactor) RedactString(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, RedactedPlaceholder)
	}
	return s
}

// RedactArgs returns a redacted copy of a JSON argument object. The input is
// never modified. Extra secret field names apply to this call only, on top of
// the configured set; tools that declare their own secret fields pass them
// here. Arguments that do not parse as JSON are masked entirely rather than
// stored raw.
func (r *Redactor) RedactArgs(args json.RawMessage, extraFields ...string) json.RawMessage {
	if len(args) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return json.RawMessage(`"` + RedactedPlaceholder + `"`)
	}
	var extra map[string]struct{}
	if len(extraFields) > 0 {
		extra = make(map[string]struct{}, len(extraFields))
		for _, f := range extraFields {
			extra[normalizeField(f)] = struct{}{}
		}
	}
	out, err := json.Marshal(r.redactValue(decoded, extra))
	if err != nil {
		return json.RawMessage(`"` + RedactedPlaceholder + `"`)
	}
	return out
}

func (r *Redactor) redactValue(v any, extra map[string]struct{}) any {
	switch val := v.(type) {
	case string:
		return r.RedactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if r.isSecretField(k, extra) {
				out[k] = RedactedPlaceholder
				continue
			}
			out[k] = r.redactValue(vv, extra)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = r.redactValue(vv, extra)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) isSecretField(k string, extra map[string]struct{}) bool {
	norm := normalizeField(k)
	if _, ok := r.fields[norm]; ok {
		return true
	}
	_, ok := extra[norm]
	return ok
}

func normalizeField(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "-", "_"))
}
