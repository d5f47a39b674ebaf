package plugins

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/workbench/internal/tools"
)

// Options gate plugin registration. Plugins register only when Enabled is
// true AND their name appears in Allowlist; an empty allowlist admits
// nothing.
type Options struct {
	Enabled   bool
	Dir       string
	Allowlist []string

	// Timeout applies to manifests that set none. Zero falls back to a
	// built-in bound.
	Timeout time.Duration
}

// Register discovers manifests under Dir and registers the allowlisted ones
// into reg. It returns how many tools were registered. Discovery failures
// and registration conflicts are errors; a tool missing from the allowlist
// is skipped, not an error.
func Register(reg *tools.Registry, opts Options, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "plugins")

	if !opts.Enabled {
		return 0, nil
	}

	found, err := Discover(opts.Dir)
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, nil
	}

	allowed := make(map[string]bool, len(opts.Allowlist))
	for _, name := range opts.Allowlist {
		allowed[name] = true
	}

	registered := 0
	for _, info := range found {
		name := info.Manifest.Name
		if !allowed[name] {
			logger.Debug("plugin not in allowlist, skipping", "plugin", name, "path", info.Path)
			continue
		}
		if err := reg.Register(NewExternalTool(info, opts.Timeout)); err != nil {
			return registered, fmt.Errorf("register plugin %s: %w", name, err)
		}
		logger.Info("plugin registered",
			"plugin", name,
			"risk", info.Manifest.RiskLevel().String(),
			"path", info.Path)
		registered++
	}
	return registered, nil
}
