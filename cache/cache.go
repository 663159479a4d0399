// Package cache provides paymentplan.DashboardCache implementations: Redis
// for shared deployments, an in-process map for a single server, and a no-op.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// NOOP
// =============================================================================

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, paymentplan.AgencyID, string) (paymentplan.AgencyAggregate, bool, error) {
	return paymentplan.AgencyAggregate{}, false, nil
}

func (Noop) Set(context.Context, paymentplan.AgencyID, string, paymentplan.AgencyAggregate) error {
	return nil
}

func (Noop) Invalidate(context.Context, paymentplan.AgencyID) error { return nil }

// =============================================================================
// MEMORY
// =============================================================================

type memoryEntry struct {
	agg     paymentplan.AgencyAggregate
	expires time.Time
}

// Memory is an in-process cache with a fixed TTL. A zero TTL never expires.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[paymentplan.AgencyID]map[string]memoryEntry
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[paymentplan.AgencyID]map[string]memoryEntry),
	}
}

func (m *Memory) Get(_ context.Context, agencyID paymentplan.AgencyID, key string) (paymentplan.AgencyAggregate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[agencyID][key]
	if !ok {
		return paymentplan.AgencyAggregate{}, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries[agencyID], key)
		return paymentplan.AgencyAggregate{}, false, nil
	}
	return e.agg, true, nil
}

func (m *Memory) Set(_ context.Context, agencyID paymentplan.AgencyID, key string, agg paymentplan.AgencyAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKey, ok := m.entries[agencyID]
	if !ok {
		byKey = make(map[string]memoryEntry)
		m.entries[agencyID] = byKey
	}
	e := memoryEntry{agg: agg}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	byKey[key] = e
	return nil
}

func (m *Memory) Invalidate(_ context.Context, agencyID paymentplan.AgencyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, agencyID)
	return nil
}
