/**
 * @description
 * Rate table operations exposed to the HTTP layer: lookups for pricing
 * screens and the upsert write path used by the periodic refresh job.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/metrics"
	"github.com/wedloop/settlement-service/internal/rates"
)

// ErrInvalidRate rejects rate upserts that fail validation.
var ErrInvalidRate = errors.New("invalid exchange rate")

// GetRate returns the active rate for the ordered pair.
func (s *Service) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	rate, err := s.rateTable.GetRate(ctx, from, to)
	if err != nil {
		if errors.Is(err, rates.ErrRateNotFound) {
			metrics.RateLookups.WithLabelValues("miss").Inc()
		} else {
			metrics.RateLookups.WithLabelValues("error").Inc()
		}
		return decimal.Zero, err
	}
	metrics.RateLookups.WithLabelValues("hit").Inc()
	return rate, nil
}

// UpsertRate replaces the active rate for the ordered pair and drops any
// cached copy. Identity pairs are rejected; they are implicit and never stored.
func (s *Service) UpsertRate(ctx context.Context, rate rates.ExchangeRate) error {
	if rate.FromCurrency == rate.ToCurrency {
		return fmt.Errorf("%w: identity pairs are implicit and cannot be stored", ErrInvalidRate)
	}
	if !rate.Rate.IsPositive() {
		return fmt.Errorf("%w: rate must be positive", ErrInvalidRate)
	}

	if err := s.repo.UpsertRate(ctx, rate); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, rate.FromCurrency, rate.ToCurrency)
	}
	log.Printf("level=info component=rates msg=\"rate upserted\" pair=%s->%s rate=%s source=%s",
		rate.FromCurrency, rate.ToCurrency, rate.Rate, rate.Source)
	return nil
}
