package store

import (
	"context"
	"sync"
	"time"
)

type usageEntry struct {
	record    UsageRecord
	expiresAt time.Time
}

type cooldownEntry struct {
	record CooldownRecord
}

// Memory is a thread-safe in-process Store. A single mutex guards all
// three namespaces, mirroring the locking discipline of a simple
// in-memory cache: the read-modify-write inside IncrementUsage and
// SetCooldown is atomic because the whole operation runs under the lock.
type Memory struct {
	mu       sync.Mutex
	usage    map[string]*usageEntry
	cooldown map[string]*cooldownEntry
	latency  map[string]*LatencyRecord
	now      func() time.Time
}

// NewMemory creates an empty in-memory Store. now defaults to time.Now
// when nil; tests may inject a deterministic clock func.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		usage:    make(map[string]*usageEntry),
		cooldown: make(map[string]*cooldownEntry),
		latency:  make(map[string]*LatencyRecord),
		now:      now,
	}
}

// GetUsage implements Store.
func (m *Memory) GetUsage(_ context.Context, key string) (*UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.usage[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.usage, key)
		return nil, nil
	}
	rec := e.record
	return &rec, nil
}

// SetUsage implements Store.
func (m *Memory) SetUsage(_ context.Context, key string, record UsageRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[key] = &usageEntry{record: record, expiresAt: m.expiry(ttl)}
	return nil
}

// IncrementUsage implements Store. See the interface doc for the
// fresh-window reset semantics.
func (m *Memory) IncrementUsage(_ context.Context, key string, deltaRequests, deltaTokens int64, windowStart time.Time, ttl time.Duration) (UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.usage[key]
	expired := ok && !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
	if !ok || expired || !e.record.WindowStart.Equal(windowStart) {
		rec := UsageRecord{RequestCount: deltaRequests, TokenCount: deltaTokens, WindowStart: windowStart}
		m.usage[key] = &usageEntry{record: rec, expiresAt: m.expiry(ttl)}
		return rec, nil
	}

	e.record.RequestCount += deltaRequests
	e.record.TokenCount += deltaTokens
	e.expiresAt = m.expiry(ttl)
	return e.record, nil
}

// GetCooldown implements Store.
func (m *Memory) GetCooldown(_ context.Context, provider, model string) (*CooldownRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := provider + "/" + model
	e, ok := m.cooldown[key]
	if !ok {
		return nil, nil
	}
	if !m.now().Before(e.record.ExpiresAt) {
		delete(m.cooldown, key)
		return nil, nil
	}
	rec := e.record
	return &rec, nil
}

// SetCooldown implements Store.
func (m *Memory) SetCooldown(_ context.Context, provider, model string, record CooldownRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown[provider+"/"+model] = &cooldownEntry{record: record}
	return nil
}

// RemoveCooldown implements Store.
func (m *Memory) RemoveCooldown(_ context.Context, provider, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cooldown, provider+"/"+model)
	return nil
}

// GetLatency implements Store.
func (m *Memory) GetLatency(_ context.Context, provider, model string) (*LatencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latency[provider+"/"+model]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// UpdateLatency implements Store using an EMA with the fixed decay factor
// and a sample-count cap.
func (m *Memory) UpdateLatency(_ context.Context, provider, model string, sampleMillis float64) (LatencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := provider + "/" + model
	rec, ok := m.latency[key]
	if !ok {
		rec = &LatencyRecord{EMAMillis: sampleMillis, Samples: 1, LastUpdate: m.now()}
		m.latency[key] = rec
		return *rec, nil
	}

	rec.EMAMillis = EMADecay*rec.EMAMillis + (1-EMADecay)*sampleMillis
	if rec.Samples < DefaultLatencySampleCap {
		rec.Samples++
	}
	rec.LastUpdate = m.now()
	return *rec, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = make(map[string]*usageEntry)
	m.cooldown = make(map[string]*cooldownEntry)
	m.latency = make(map[string]*LatencyRecord)
	return nil
}

// Close implements Store. Memory holds no external resources.
func (m *Memory) Close() error { return nil }

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
