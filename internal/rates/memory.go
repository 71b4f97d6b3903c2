package rates

import (
	"context"
	"sync"
	"time"
)

// MemorySource implements Source with an in-memory map. Used for tests and
// development; the refresh job's UpsertRate replaces the active rate per pair.
type MemorySource struct {
	mu    sync.RWMutex
	rates map[string]ExchangeRate
}

// NewMemorySource creates an empty in-memory rate source.
func NewMemorySource() *MemorySource {
	return &MemorySource{rates: make(map[string]ExchangeRate)}
}

func pairKey(from, to string) string {
	return from + "->" + to
}

func (m *MemorySource) ActiveRate(_ context.Context, from, to string) (*ExchangeRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rate, ok := m.rates[pairKey(from, to)]
	if !ok || !rate.IsActive {
		return nil, &RateNotFoundError{From: from, To: to}
	}
	out := rate
	return &out, nil
}

// UpsertRate replaces the active rate for the ordered pair.
func (m *MemorySource) UpsertRate(_ context.Context, rate ExchangeRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate.IsActive = true
	if rate.LastUpdated.IsZero() {
		rate.LastUpdated = time.Now().UTC()
	}
	m.rates[pairKey(rate.FromCurrency, rate.ToCurrency)] = rate
	return nil
}
