// Package usage keeps lightweight counters of how the tool has been used and
// enforces hourly budgets per operation. It is read by reporting surfaces
// only; the scan pipeline never consults it.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kylo/internal/shared/util"
)

const fileName = "usage.json"

const (
	OpAudit        = "audit"
	OpSecurityScan = "security_scan"
	OpDeepAnalysis = "deep_analysis"
)

type counters struct {
	Audits        int   `json:"audits"`
	SecurityScans int   `json:"security_scans"`
	DeepCalls     int   `json:"deep_calls"`
	FirstUsed     int64 `json:"first_used"`
}

// Report is the read-only usage summary.
type Report struct {
	Audits        int            `json:"audits"`
	SecurityScans int            `json:"security_scans"`
	DeepCalls     int            `json:"deep_calls"`
	ActiveDays    int            `json:"active_days"`
	HourlyLimits  map[string]int `json:"hourly_limits"`
}

type Tracker struct {
	path     string
	limits   map[string]int
	limiters map[string]*util.HourlyLimiter
	mu       sync.Mutex
	counts   counters
}

// NewTracker loads persisted counters from <projectRoot>/.kylo/usage.json.
// A missing or unreadable file starts the counters fresh.
func NewTracker(projectRoot string, limits map[string]int) *Tracker {
	t := &Tracker{
		path:     filepath.Join(projectRoot, ".kylo", fileName),
		limits:   limits,
		limiters: make(map[string]*util.HourlyLimiter, len(limits)),
	}
	for op, perHour := range limits {
		t.limiters[op] = util.NewHourlyLimiter(perHour)
	}

	if data, err := os.ReadFile(t.path); err == nil {
		_ = json.Unmarshal(data, &t.counts)
	}
	if t.counts.FirstUsed == 0 {
		t.counts.FirstUsed = time.Now().Unix()
	}
	return t
}

// Allow reports whether the operation is within its hourly budget.
// Operations with no configured limit are always allowed.
func (t *Tracker) Allow(op string) bool {
	t.mu.Lock()
	limiter, ok := t.limiters[op]
	t.mu.Unlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// Record increments the counter for an operation and persists the counters.
func (t *Tracker) Record(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch op {
	case OpAudit:
		t.counts.Audits++
	case OpSecurityScan:
		t.counts.SecurityScans++
	case OpDeepAnalysis:
		t.counts.DeepCalls++
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return t.persist()
}

func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	activeDays := int(time.Since(time.Unix(t.counts.FirstUsed, 0)).Hours()/24) + 1
	limits := make(map[string]int, len(t.limits))
	for op, perHour := range t.limits {
		limits[op] = perHour
	}
	return Report{
		Audits:        t.counts.Audits,
		SecurityScans: t.counts.SecurityScans,
		DeepCalls:     t.counts.DeepCalls,
		ActiveDays:    activeDays,
		HourlyLimits:  limits,
	}
}

func (t *Tracker) persist() error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create usage directory: %w", err)
	}
	data, err := json.MarshalIndent(t.counts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode usage counters: %w", err)
	}
	return os.WriteFile(t.path, data, 0o644)
}
