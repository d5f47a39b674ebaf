package models

import "fmt"

// RiskLevel is the ordinal classification of a tool's potential impact.
// The policy engine compares levels numerically, so the ordering of the
// constants is load-bearing.
type RiskLevel int

const (
	RiskReadOnly    RiskLevel = 10
	RiskWrite       RiskLevel = 20
	RiskDestructive RiskLevel = 30
	RiskShell       RiskLevel = 40
)

// String returns the canonical lowercase name used in config and audit records.
func (r RiskLevel) String() string {
	switch r {
	case RiskReadOnly:
		return "read_only"
	case RiskWrite:
		return "write"
	case RiskDestructive:
		return "destructive"
	case RiskShell:
		return "shell"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// ParseRisk maps a config string to a risk level. It accepts the canonical
// lowercase names only.
func ParseRisk(s string) (RiskLevel, error) {
	switch s {
	case "read_only":
		return RiskReadOnly, nil
	case "write":
		return RiskWrite, nil
	case "destructive":
		return RiskDestructive, nil
	case "shell":
		return RiskShell, nil
	default:
		return 0, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalJSON encodes the level as its canonical name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON decodes either the canonical name or a bare integer.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		parsed, err := ParseRisk(string(data[1 : len(data)-1]))
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	var n int
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return fmt.Errorf("invalid risk level %s", data)
	}
	*r = RiskLevel(n)
	return nil
}

// PrivacyScope controls how much of a tool's arguments and output the audit
// log retains.
type PrivacyScope string

const (
	PrivacyPublic    PrivacyScope = "public"
	PrivacySensitive PrivacyScope = "sensitive"
	PrivacySecret    PrivacyScope = "secret"
)

// ParsePrivacyScope maps a config string to a privacy scope.
func ParsePrivacyScope(s string) (PrivacyScope, error) {
	switch PrivacyScope(s) {
	case PrivacyPublic, PrivacySensitive, PrivacySecret:
		return PrivacyScope(s), nil
	default:
		return "", fmt.Errorf("unknown privacy scope %q", s)
	}
}
