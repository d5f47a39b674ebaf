package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/workbench/pkg/models"
)

func TestErrorWrapping(t *testing.T) {
	err := errorf(CodeInvalidTarget, "bad target %q", "x")
	if err.Error() != `bad target "x"` {
		t.Errorf("unexpected message: %q", err.Error())
	}

	wrapped := fmt.Errorf("resolve: %w", err)
	var bErr *Error
	if !errors.As(wrapped, &bErr) {
		t.Fatal("expected errors.As to find *Error through wrapping")
	}
	if bErr.Code != CodeInvalidTarget {
		t.Errorf("expected code %q, got %q", CodeInvalidTarget, bErr.Code)
	}
}

func TestCatalogRegisterAndGet(t *testing.T) {
	c := NewCatalog()
	c.Register(Action{Name: "ping", Description: "probe", Category: "network",
		TargetTypes: []string{"host"}, Risk: models.RiskReadOnly})

	action, ok := c.Get("ping")
	if !ok {
		t.Fatal("expected ping to be registered")
	}
	if action.Category != "network" {
		t.Errorf("expected category network, got %q", action.Category)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing action to be absent")
	}
}

func TestCatalogListingsSorted(t *testing.T) {
	c := NewCatalog()
	for _, name := range []string{"traceroute", "dns_lookup", "ping"} {
		c.Register(Action{Name: name, Category: "network", TargetTypes: []string{"host"}})
	}

	all := c.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(all))
	}
	for i, want := range []string{"dns_lookup", "ping", "traceroute"} {
		if all[i].Name != want {
			t.Errorf("action %d: expected %q, got %q", i, want, all[i].Name)
		}
	}
}

func TestCatalogFilters(t *testing.T) {
	c := DefaultCatalog()

	forService := c.ForTarget("service")
	names := make(map[string]bool, len(forService))
	for _, a := range forService {
		names[a.Name] = true
	}
	if !names["service_status"] || !names["ping"] {
		t.Errorf("expected service actions, got %v", names)
	}
	if names["ps"] {
		t.Error("ps is host-only and must not appear for services")
	}

	system := c.ByCategory("system")
	if len(system) != 6 {
		t.Errorf("expected 6 system actions, got %d", len(system))
	}
}

func TestDefaultCatalogShellRisk(t *testing.T) {
	c := DefaultCatalog()
	shell, ok := c.Get("shell")
	if !ok {
		t.Fatal("expected shell in the default catalog")
	}
	if shell.Risk != models.RiskShell {
		t.Errorf("expected shell risk, got %v", shell.Risk)
	}
	ps, _ := c.Get("ps")
	if ps.Risk != models.RiskReadOnly {
		t.Errorf("expected read-only risk for ps, got %v", ps.Risk)
	}
}
