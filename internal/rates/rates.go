/**
 * @description
 * Currency rate table. Exposes rate lookup and conversion over a pluggable
 * rate source (PostgreSQL in production, in-memory for tests, optionally
 * wrapped by a Redis read-through cache).
 *
 * @notes
 * - Rates are directional: the (A, B) and (B, A) pairs are independent stored
 *   values and no inverse is ever derived. Inconsistent cross-rates are a
 *   property of the source data, not something this package repairs.
 * - The identity pair (X, X) is never stored; lookups short-circuit to 1.
 */

package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
)

// RateSourceKind identifies where a stored rate came from.
type RateSourceKind string

const (
	SourceAPI    RateSourceKind = "api"
	SourceManual RateSourceKind = "manual"
	SourceBank   RateSourceKind = "bank"
)

// ExchangeRate is one stored directional conversion rate. At most one active
// rate exists per ordered currency pair.
type ExchangeRate struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Source       RateSourceKind  `json:"source"`
	LastUpdated  time.Time       `json:"last_updated"`
	IsActive     bool            `json:"is_active"`
}

// ErrRateNotFound is the sentinel matched by errors.Is for missing pairs.
var ErrRateNotFound = errors.New("exchange rate not found")

// RateNotFoundError reports the exact ordered pair that had no active rate.
type RateNotFoundError struct {
	From string
	To   string
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("no active exchange rate for %s->%s", e.From, e.To)
}

// Is lets errors.Is(err, ErrRateNotFound) match the typed error.
func (e *RateNotFoundError) Is(target error) bool {
	return target == ErrRateNotFound
}

// Source is the persistence contract the table reads rates through.
type Source interface {
	// ActiveRate returns the most recently updated active rate for the exact
	// ordered pair, or a *RateNotFoundError.
	ActiveRate(ctx context.Context, from, to string) (*ExchangeRate, error)
}

// Table answers rate and conversion queries for the settlement calculator.
type Table struct {
	source Source
}

// NewTable creates a rate table over the given source.
func NewTable(source Source) *Table {
	return &Table{source: source}
}

// GetRate returns the multiplicative rate for the ordered pair. The identity
// pair returns 1 without consulting the source.
func (t *Table) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rate, err := t.source.ActiveRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Rate, nil
}

// Convert multiplies amount by the pair's rate and rounds to money scale.
func (t *Table) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := t.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.RoundAmount(amount.Mul(rate)), nil
}

// Snapshot materializes the rates needed to convert each of the given source
// currencies into the target. A settlement calculation works entirely off one
// snapshot so a concurrent rate refresh cannot yield mixed cross-rates within
// a single run. A missing pair fails the whole snapshot.
func (t *Table) Snapshot(ctx context.Context, target string, currencies []string) (*Snapshot, error) {
	snap := &Snapshot{target: target, rates: make(map[string]decimal.Decimal)}
	for _, cur := range currencies {
		if cur == target {
			continue
		}
		if _, ok := snap.rates[cur]; ok {
			continue
		}
		rate, err := t.source.ActiveRate(ctx, cur, target)
		if err != nil {
			return nil, err
		}
		snap.rates[cur] = rate.Rate
	}
	return snap, nil
}

// Snapshot is a frozen view of the rates for one settlement calculation.
type Snapshot struct {
	target string
	rates  map[string]decimal.Decimal
}

// Target returns the settlement currency the snapshot converts into.
func (s *Snapshot) Target() string { return s.target }

// Rate returns the frozen rate from the given currency into the target.
func (s *Snapshot) Rate(from string) (decimal.Decimal, error) {
	if from == s.target {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := s.rates[from]
	if !ok {
		return decimal.Zero, &RateNotFoundError{From: from, To: s.target}
	}
	return rate, nil
}

// Convert converts amount from the given currency into the target, returning
// the rounded amount together with the rate applied.
func (s *Snapshot) Convert(amount decimal.Decimal, from string) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := s.Rate(from)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return domain.RoundAmount(amount.Mul(rate)), rate, nil
}
