/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the settlement service needs. The interface decouples the business
 * logic from the PostgreSQL implementation and makes the app layer testable
 * against the in-memory store.
 *
 * @notes
 * - SavePayment is a compare-and-swap on the aggregate's Version field. Two
 *   concurrent read-modify-write cycles against the same Payment cannot both
 *   persist; the loser receives ErrConcurrentModification.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/rates"
)

var (
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrRefundNotFound         = errors.New("refund not found")
	ErrConcurrentModification = errors.New("payment was modified concurrently")
)

// PaymentListOptions filters payment listings.
type PaymentListOptions struct {
	Status string
	Limit  int
	Offset int
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment aggregate methods. The aggregate is persisted as a single row;
	// every write is atomic per payment.
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	ListPaymentsByEvent(ctx context.Context, eventID uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error)
	ListPaymentsByCustomer(ctx context.Context, customerID uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error)
	// SavePayment persists the aggregate if and only if the stored version
	// still equals payment.Version, then increments the version in place.
	SavePayment(ctx context.Context, payment *domain.Payment) error

	// Exchange rate methods. ActiveRate satisfies rates.Source; UpsertRate is
	// the write path used by the refresh job, replacing the active rate for
	// the ordered pair.
	ActiveRate(ctx context.Context, from, to string) (*rates.ExchangeRate, error)
	UpsertRate(ctx context.Context, rate rates.ExchangeRate) error
}
