package backend

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/haasonsaas/workbench/pkg/models"
)

// Action describes a diagnostic action for operator-facing listings. The
// catalog is presentation metadata; backends decide what actually runs.
type Action struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	TargetTypes []string         `json:"target_types"`
	Parameters  json.RawMessage  `json:"parameters,omitempty"`
	Risk        models.RiskLevel `json:"risk"`
}

// Catalog is a registry of diagnostic actions.
type Catalog struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewCatalog() *Catalog {
	return &Catalog{actions: make(map[string]Action)}
}

func (c *Catalog) Register(action Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[action.Name] = action
}

func (c *Catalog) Get(name string) (Action, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	action, ok := c.actions[name]
	return action, ok
}

// All returns every registered action, sorted by name.
func (c *Catalog) All() []Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortActions(c.actions, func(Action) bool { return true })
}

// ForTarget returns the actions applicable to a target type, sorted by name.
func (c *Catalog) ForTarget(targetType string) []Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortActions(c.actions, func(a Action) bool {
		return slices.Contains(a.TargetTypes, targetType)
	})
}

// ByCategory returns the actions in a category, sorted by name.
func (c *Catalog) ByCategory(category string) []Action {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortActions(c.actions, func(a Action) bool {
		return a.Category == category
	})
}

func sortActions(actions map[string]Action, keep func(Action) bool) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Action) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// DefaultCatalog describes the actions the local and demo backends ship
// with. The CLI renders it so operators can see what is runnable before
// starting a session.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, a := range []Action{
		{Name: "ps", Description: "List running processes", Category: "system", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "df", Description: "Show disk usage", Category: "system", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "uptime", Description: "Show system uptime and load", Category: "system", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "free", Description: "Show memory usage", Category: "system", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "uname", Description: "Show system information", Category: "system", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "who", Description: "Show logged-in users", Category: "system", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "ping", Description: "Probe a host or service endpoint", Category: "network", TargetTypes: []string{"host", "service"}, Risk: models.RiskReadOnly},
		{Name: "traceroute", Description: "Trace network route to host", Category: "network", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "dns_lookup", Description: "Resolve DNS records", Category: "network", TargetTypes: []string{"host", "service"}, Risk: models.RiskReadOnly},
		{Name: "port_check", Description: "Check if ports are open on host", Category: "network", TargetTypes: []string{"host"}, Risk: models.RiskReadOnly},
		{Name: "service_status", Description: "Check service health and uptime", Category: "service", TargetTypes: []string{"service"}, Risk: models.RiskReadOnly},
		{Name: "log_tail", Description: "Tail recent log lines", Category: "logs", TargetTypes: []string{"host", "service"}, Risk: models.RiskReadOnly},
		{Name: "shell", Description: "Execute an arbitrary shell command", Category: "shell", TargetTypes: []string{"host"}, Risk: models.RiskShell},
	} {
		c.Register(a)
	}
	return c
}
