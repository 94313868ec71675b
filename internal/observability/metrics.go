package observability

import (
	"strconv"
	"sync"
	"time"
)

// Counter names recorded by engine components.
const (
	CounterInboundProcessed = "inbound_processed"
	CounterInboundDuplicate = "inbound_duplicate"
	CounterInboundFailed    = "inbound_failed"
	CounterInboundRejected  = "inbound_rejected"
	CounterTicketsCreated   = "tickets_created"
	CounterAutoReplies      = "auto_replies_sent"
	CounterSLABreaches      = "sla_breaches"
	CounterSweepFailures    = "sla_sweep_failures"
	CounterAllocatorRetries = "allocator_retries"
	CounterVersionConflicts = "version_conflicts"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	counters     map[string]int64
	latency      map[string]time.Duration
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		counters:     make(map[string]int64),
		latency:      make(map[string]time.Duration),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.latency[key] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Inc increments a named engine counter.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add adds delta to a named engine counter.
func (m *Metrics) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Counter returns the current value of a named counter.
func (m *Metrics) Counter(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot copies every counter for exposition.
func (m *Metrics) Snapshot() map[string]int64 {
	out := map[string]int64{}
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.counters {
		out[k] = v
	}
	for k, v := range m.requestCount {
		out["http_requests|"+k] = v
	}
	for k, v := range m.errorCount {
		out["http_errors|"+k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
