/**
 * @description
 * In-memory implementation of the Repository interface for tests and local
 * development. It enforces the same version compare-and-swap contract as the
 * PostgreSQL repository so concurrent-sweep behavior can be exercised without
 * a database.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/rates"
)

// MemoryStore implements Repository with in-memory maps. Not suitable for
// production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*domain.Payment
	rates    map[string]rates.ExchangeRate
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[uuid.UUID]*domain.Payment),
		rates:    make(map[string]rates.ExchangeRate),
	}
}

func clonePayment(p *domain.Payment) (*domain.Payment, error) {
	// Deep copy through JSON so callers never share slices with the store.
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("clone payment: %w", err)
	}
	var out domain.Payment
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("clone payment: %w", err)
	}
	return &out, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}
	stored, err := clonePayment(p)
	if err != nil {
		return err
	}
	s.payments[p.ID] = stored
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return clonePayment(p)
}

func (s *MemoryStore) ListPaymentsByEvent(ctx context.Context, eventID uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error) {
	return s.list(func(p *domain.Payment) bool { return p.EventID == eventID }, opts)
}

func (s *MemoryStore) ListPaymentsByCustomer(ctx context.Context, customerID uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error) {
	return s.list(func(p *domain.Payment) bool { return p.CustomerID == customerID }, opts)
}

func (s *MemoryStore) list(match func(*domain.Payment) bool, opts PaymentListOptions) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Payment
	for _, p := range s.payments {
		if !match(p) {
			continue
		}
		if opts.Status != "" && string(p.Status) != opts.Status {
			continue
		}
		clone, err := clonePayment(p)
		if err != nil {
			return nil, err
		}
		out = append(out, *clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SavePayment(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	if current.Version != p.Version {
		return ErrConcurrentModification
	}

	p.Version++
	p.UpdatedAt = time.Now().UTC()
	stored, err := clonePayment(p)
	if err != nil {
		p.Version--
		return err
	}
	s.payments[p.ID] = stored
	return nil
}

func (s *MemoryStore) ActiveRate(_ context.Context, from, to string) (*rates.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[from+"->"+to]
	if !ok || !rate.IsActive {
		return nil, &rates.RateNotFoundError{From: from, To: to}
	}
	out := rate
	return &out, nil
}

func (s *MemoryStore) UpsertRate(_ context.Context, rate rates.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate.IsActive = true
	if rate.LastUpdated.IsZero() {
		rate.LastUpdated = time.Now().UTC()
	}
	s.rates[rate.FromCurrency+"->"+rate.ToCurrency] = rate
	return nil
}
