package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"
)

var demoTargets = map[string]TargetInfo{
	"demo-host-1": {
		Type:     "host",
		Hostname: "demo-host-1.example.com",
		IP:       "10.0.1.10",
		OS:       "Ubuntu 22.04",
		Status:   "online",
	},
	"demo-host-2": {
		Type:     "host",
		Hostname: "demo-host-2.example.com",
		IP:       "10.0.1.11",
		OS:       "CentOS 9",
		Status:   "online",
	},
	"demo-service-1": {
		Type:     "service",
		Name:     "api-gateway",
		Endpoint: "https://api.example.com",
		Port:     443,
		Status:   "healthy",
	},
	"demo-service-2": {
		Type:     "service",
		Name:     "auth-service",
		Endpoint: "https://auth.example.com",
		Port:     8443,
		Status:   "degraded",
	},
}

var demoDiagnostics = map[string][]Diagnostic{
	"host": {
		{Name: "ping", Description: "Send ICMP ping to host", TargetType: "host",
			Parameters: json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer","default":4}}}`)},
		{Name: "traceroute", Description: "Trace network route to host", TargetType: "host"},
		{Name: "dns_lookup", Description: "Resolve DNS records for host", TargetType: "host",
			Parameters: json.RawMessage(`{"type":"object","properties":{"record_type":{"type":"string","default":"A"}}}`)},
		{Name: "port_check", Description: "Check if ports are open on host", TargetType: "host",
			Parameters: json.RawMessage(`{"type":"object","properties":{"ports":{"type":"array","items":{"type":"integer"}}}}`)},
		{Name: "log_tail", Description: "Tail recent log lines from host", TargetType: "host",
			Parameters: json.RawMessage(`{"type":"object","properties":{"lines":{"type":"integer","default":50},"service":{"type":"string"}}}`)},
	},
	"service": {
		{Name: "service_status", Description: "Check service health and uptime", TargetType: "service"},
		{Name: "ping", Description: "Send HTTP health check to service", TargetType: "service"},
		{Name: "dns_lookup", Description: "Resolve DNS for service endpoint", TargetType: "service"},
		{Name: "log_tail", Description: "Tail recent service logs", TargetType: "service",
			Parameters: json.RawMessage(`{"type":"object","properties":{"lines":{"type":"integer","default":50}}}`)},
	},
}

// DemoBackend returns simulated targets and diagnostic results. It exercises
// the full tool and policy flow without touching real infrastructure.
type DemoBackend struct{}

func NewDemoBackend() *DemoBackend {
	return &DemoBackend{}
}

func (d *DemoBackend) lookup(target string) (*TargetInfo, error) {
	info, ok := demoTargets[target]
	if !ok {
		return nil, errorf(CodeTargetNotFound, "unknown target: %s", target)
	}
	return &info, nil
}

func (d *DemoBackend) Resolve(ctx context.Context, target string) (*TargetInfo, error) {
	return d.lookup(target)
}

func (d *DemoBackend) ListDiagnostics(ctx context.Context, target string) ([]Diagnostic, error) {
	info, err := d.lookup(target)
	if err != nil {
		return nil, err
	}
	return slices.Clone(demoDiagnostics[info.Type]), nil
}

func (d *DemoBackend) RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (*Result, error) {
	info, err := d.lookup(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var data map[string]any
	switch action {
	case "ping":
		data = genPing(target, info, args)
	case "traceroute":
		data = genTraceroute(target)
	case "dns_lookup":
		data = genDNSLookup(target, info, args)
	case "port_check":
		data = genPortCheck(target, args)
	case "service_status":
		data = genServiceStatus(target, info)
	case "log_tail":
		data = genLogTail(target, args)
	default:
		return nil, errorf(CodeUnknownDiagnostic, "unknown diagnostic: %s", action)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Result{Data: payload, DurationMS: time.Since(start).Milliseconds()}, nil
}

func (d *DemoBackend) RunShell(ctx context.Context, target, command string) (*Result, error) {
	if _, err := d.lookup(target); err != nil {
		return nil, err
	}
	return &Result{
		ExitCode:   0,
		Stdout:     fmt.Sprintf("[demo] $ %s\n(simulated output for %s)\n", command, target),
		DurationMS: int64(50 + rand.Intn(450)),
	}, nil
}

func genPing(target string, info *TargetInfo, args map[string]any) map[string]any {
	count := intArg(args, "count", 4)
	if count < 1 {
		count = 1
	}
	ip := info.IP
	if ip == "" {
		ip = info.Endpoint
	}
	times := make([]float64, count)
	rttMin, rttMax, total := math.MaxFloat64, 0.0, 0.0
	for i := range times {
		t := round2(0.5 + rand.Float64()*24.5)
		times[i] = t
		total += t
		rttMin = math.Min(rttMin, t)
		rttMax = math.Max(rttMax, t)
	}
	return map[string]any{
		"target":           target,
		"ip":               ip,
		"packets_sent":     count,
		"packets_received": count,
		"packet_loss_pct":  0.0,
		"rtt_min_ms":       rttMin,
		"rtt_avg_ms":       round2(total / float64(count)),
		"rtt_max_ms":       rttMax,
		"times_ms":         times,
	}
}

func genTraceroute(target string) map[string]any {
	hops := make([]map[string]any, 0, 11)
	hopCount := 4 + rand.Intn(8)
	for i := 1; i <= hopCount; i++ {
		hops = append(hops, map[string]any{
			"hop":      i,
			"ip":       fmt.Sprintf("10.%d.%d.%d", rand.Intn(256), rand.Intn(256), 1+rand.Intn(254)),
			"rtt_ms":   round2((0.5 + rand.Float64()*49.5) * float64(i)),
			"hostname": fmt.Sprintf("hop-%d.network.example.com", i),
		})
	}
	return map[string]any{"target": target, "hops": hops}
}

func genDNSLookup(target string, info *TargetInfo, args map[string]any) map[string]any {
	query := info.Hostname
	if query == "" {
		query = info.Endpoint
	}
	if query == "" {
		query = target
	}
	ip := info.IP
	if ip == "" {
		ip = "10.0.1.1"
	}
	return map[string]any{
		"query":            query,
		"record_type":      stringArg(args, "record_type", "A"),
		"answers":          []map[string]any{{"type": "A", "value": ip, "ttl": 300}},
		"nameserver":       "10.0.0.2",
		"response_time_ms": round2(1 + rand.Float64()*19),
	}
}

func genPortCheck(target string, args map[string]any) map[string]any {
	ports := intsArg(args, "ports", []int{22, 80, 443})
	services := map[int]string{22: "ssh", 80: "http", 443: "https"}
	results := make([]map[string]any, 0, len(ports))
	for _, port := range ports {
		state := "open"
		if rand.Float64() <= 0.1 {
			state = "filtered"
		}
		service, ok := services[port]
		if !ok {
			service = "unknown"
		}
		results = append(results, map[string]any{
			"port":    port,
			"state":   state,
			"service": service,
		})
	}
	return map[string]any{"target": target, "port_results": results}
}

func genServiceStatus(target string, info *TargetInfo) map[string]any {
	service := info.Name
	if service == "" {
		service = target
	}
	status := info.Status
	if status == "" {
		status = "unknown"
	}
	return map[string]any{
		"target":             target,
		"service":            service,
		"status":             status,
		"uptime_seconds":     3600 + rand.Intn(860400),
		"last_restart":       "2026-02-08T10:30:00Z",
		"version":            "2.4.1",
		"connections_active": 10 + rand.Intn(490),
		"cpu_pct":            round1(1 + rand.Float64()*44),
		"memory_mb":          128 + rand.Intn(1920),
	}
}

func genLogTail(target string, args map[string]any) map[string]any {
	requested := intArg(args, "lines", 10)
	levels := []string{"INFO", "INFO", "INFO", "WARN", "DEBUG", "ERROR"}
	count := requested
	if count > 20 {
		count = 20
	}
	lines := make([]string, 0, count)
	for i := 0; i < count; i++ {
		lines = append(lines, fmt.Sprintf("2026-02-09T%02d:%02d:00Z [%s] Sample log message %d from %s",
			10+i/60, i%60, levels[rand.Intn(len(levels))], i+1, target))
	}
	return map[string]any{"target": target, "lines": lines, "total_available": requested}
}

// Argument helpers tolerate both JSON-decoded numbers (float64) and native
// ints so fixtures behave the same from tests and from the bridge tools.

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func stringArg(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

func intsArg(args map[string]any, key string, def []int) []int {
	raw, ok := args[key].([]any)
	if !ok {
		return def
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
