package config

import "fmt"

// FieldError reports a configuration value the runtime cannot start with.
// Key is the dotted path of the offending setting.
type FieldError struct {
	Key    string
	Reason string
}

func (e *FieldError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}
