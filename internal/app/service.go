/**
 * @description
 * This file contains the core business logic for the settlement service. The
 * `Service` struct orchestrates settlement creation for wedding events,
 * coordinating between the events service (source of confirmed provider
 * bookings), the currency rate table, the payment gateway, the database
 * repository, and the message broker.
 *
 * Key features:
 * - Implements the settlement calculator: filters an event's provider charges
 *   to the confirmed ones, converts each into the settlement currency off a
 *   single rate snapshot, and derives the platform commission.
 * - Publishes settlement lifecycle events to RabbitMQ for other services.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - github.com/shopspring/decimal: Money arithmetic.
 * - internal/domain, internal/rates, internal/store: Domain models, currency
 *   table, and data access.
 * - pkg/gateway, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/metrics"
	"github.com/wedloop/settlement-service/internal/rates"
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/gateway"
	"github.com/wedloop/settlement-service/pkg/rabbitmq"
)

var (
	ErrNoConfirmedProviders      = errors.New("event has no confirmed provider charges")
	ErrPaymentNotCompleted       = errors.New("payment has not completed; distribution is not allowed")
	ErrProviderNotFoundInPayment = errors.New("provider has no pending payout line in this payment")
	ErrPaymentNotPending         = errors.New("payment has already been submitted")
	ErrPaymentNotCancellable     = errors.New("payment can no longer be cancelled")
	ErrUnsupportedCurrency       = errors.New("currency is not supported for settlement")
	ErrInvalidRefundAmount       = errors.New("refund amount must be positive and within the refundable balance")
	ErrRefundCurrencyMismatch    = errors.New("refund currency must match the settlement currency")
	ErrRefundNotPending          = errors.New("refund is not in a processable state")
	ErrPaymentNotRefundable      = errors.New("payment has no completed charge to refund against")
)

// Gateway is the payment gateway surface the service depends on.
type Gateway interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error)
	Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.Result, error)
	Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error)
}

// EventSource lists an event's provider charges. Event state is never
// mutated through it.
type EventSource interface {
	ListProviderCharges(ctx context.Context, eventID uuid.UUID) ([]domain.ProviderCharge, error)
}

// RateInvalidator drops a cached rate pair after an upsert. Optional.
type RateInvalidator interface {
	Invalidate(ctx context.Context, from, to string)
}

// SettlementConfig carries the calculator's tunables. It is passed in at
// construction; there is no package-level default state.
type SettlementConfig struct {
	DefaultCommissionPercent decimal.Decimal
	CommissionPolicy         domain.CommissionPolicy
	SupportedCurrencies      []string
	DefaultSettings          domain.PaymentSettings
}

// Service provides the core business logic for payment settlement.
type Service struct {
	repo        store.Repository
	rateTable   *rates.Table
	gateway     Gateway
	events      EventSource
	producer    rabbitmq.Publisher
	invalidator RateInvalidator
	cfg         SettlementConfig
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, table *rates.Table, gw Gateway, events EventSource, producer rabbitmq.Publisher, cfg SettlementConfig) *Service {
	if producer == nil {
		producer = &rabbitmq.NoopPublisher{}
	}
	return &Service{
		repo:      repo,
		rateTable: table,
		gateway:   gw,
		events:    events,
		producer:  producer,
		cfg:       cfg,
	}
}

// SetRateInvalidator wires the rate-cache invalidation hook.
func (s *Service) SetRateInvalidator(inv RateInvalidator) {
	s.invalidator = inv
}

// CreateSettlementInput is the request to settle an event's confirmed charges.
type CreateSettlementInput struct {
	EventID           uuid.UUID
	CustomerID        uuid.UUID
	Currency          string
	CommissionPercent *decimal.Decimal
	Settings          *domain.PaymentSettings
}

// CreateSettlement builds and persists a Payment aggregate from the event's
// confirmed provider charges. Nothing is persisted on any failure: a missing
// rate or an empty confirmed set aborts the whole settlement.
func (s *Service) CreateSettlement(ctx context.Context, input CreateSettlementInput) (*domain.Payment, error) {
	// Currency codes are stored and compared in canonical upper case.
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if !s.currencySupported(input.Currency) {
		metrics.SettlementFailures.WithLabelValues("unsupported_currency").Inc()
		return nil, ErrUnsupportedCurrency
	}

	charges, err := s.events.ListProviderCharges(ctx, input.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider charges for event %s: %w", input.EventID, err)
	}

	confirmed := domain.ConfirmedCharges(charges)
	if len(confirmed) == 0 {
		metrics.SettlementFailures.WithLabelValues("no_confirmed_providers").Inc()
		return nil, ErrNoConfirmedProviders
	}

	// Freeze the rates for this calculation up front so a concurrent refresh
	// cannot produce mixed cross-rates within one settlement.
	currencies := make([]string, 0, len(confirmed))
	for _, charge := range confirmed {
		currencies = append(currencies, charge.Currency)
	}
	snapshot, err := s.rateTable.Snapshot(ctx, input.Currency, currencies)
	if err != nil {
		if errors.Is(err, rates.ErrRateNotFound) {
			metrics.SettlementFailures.WithLabelValues("rate_not_found").Inc()
		}
		return nil, err
	}

	total := decimal.Zero
	lines := make([]domain.ProviderPayment, 0, len(confirmed))
	for _, charge := range confirmed {
		converted, _, err := snapshot.Convert(charge.Price, charge.Currency)
		if err != nil {
			return nil, err
		}
		total = total.Add(converted)
		lines = append(lines, domain.ProviderPayment{
			ProviderID: charge.ProviderID,
			Service:    charge.Service,
			Amount:     converted,
			Currency:   input.Currency,
			Status:     domain.ProviderPaymentPending,
		})
	}

	commissionPct := s.cfg.DefaultCommissionPercent
	if input.CommissionPercent != nil {
		commissionPct = *input.CommissionPercent
	}

	settings := s.cfg.DefaultSettings
	if input.Settings != nil {
		settings = *input.Settings
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:               uuid.New(),
		EventID:          input.EventID,
		CustomerID:       input.CustomerID,
		TotalAmount:      total,
		Currency:         input.Currency,
		CommissionPolicy: s.cfg.CommissionPolicy,
		ProviderPayments: lines,
		Status:           domain.PaymentPending,
		Settings:         settings,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	payment.SetCommissionPercentage(commissionPct)

	// Under the provider-borne policy the payout lines net out the
	// commission; the customer still pays the gross total.
	if payment.CommissionPolicy == domain.CommissionBorneByProvider {
		applyProviderCommission(payment)
	}

	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to persist settlement: %w", err)
	}

	metrics.SettlementsCreated.WithLabelValues(payment.Currency).Inc()
	log.Printf("level=info component=settlement msg=\"settlement created\" payment_id=%s event_id=%s total=%s currency=%s commission=%s providers=%d",
		payment.ID, payment.EventID, payment.TotalAmount, payment.Currency, payment.Commission.Amount, len(payment.ProviderPayments))

	s.publishPaymentEvent(ctx, rabbitmq.RoutingPaymentSettled, payment, "")

	return payment, nil
}

// applyProviderCommission reduces each payout line pro rata so the provider
// share nets out the commission. The gross total is untouched.
func applyProviderCommission(p *domain.Payment) {
	factor := decimal.NewFromInt(1).Sub(p.Commission.Percentage.Div(decimal.NewFromInt(100)))
	for i := range p.ProviderPayments {
		p.ProviderPayments[i].Amount = domain.RoundAmount(p.ProviderPayments[i].Amount.Mul(factor))
	}
}

// GetPayment loads one payment aggregate.
func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, paymentID)
}

// ListPaymentsByEvent returns an event's settlements, oldest first.
func (s *Service) ListPaymentsByEvent(ctx context.Context, eventID uuid.UUID, opts store.PaymentListOptions) ([]domain.Payment, error) {
	return s.repo.ListPaymentsByEvent(ctx, eventID, opts)
}

// ListPaymentsByCustomer returns a customer's settlements, oldest first.
func (s *Service) ListPaymentsByCustomer(ctx context.Context, customerID uuid.UUID, opts store.PaymentListOptions) ([]domain.Payment, error) {
	return s.repo.ListPaymentsByCustomer(ctx, customerID, opts)
}

// CancelPayment cancels a payment that has not completed its customer charge.
// All still-pending payout lines are cancelled with it.
func (s *Service) CancelPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.CanCancel() {
		return nil, ErrPaymentNotCancellable
	}

	for i := range payment.ProviderPayments {
		if payment.ProviderPayments[i].Status == domain.ProviderPaymentPending {
			payment.ProviderPayments[i].Status = domain.ProviderPaymentCancelled
		}
	}
	payment.Status = domain.PaymentCancelled

	if err := s.repo.SavePayment(ctx, payment); err != nil {
		return nil, err
	}
	log.Printf("level=info component=settlement msg=\"payment cancelled\" payment_id=%s", payment.ID)
	return payment, nil
}

func (s *Service) currencySupported(currency string) bool {
	if len(s.cfg.SupportedCurrencies) == 0 {
		return currency != ""
	}
	for _, c := range s.cfg.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

func (s *Service) publishPaymentEvent(ctx context.Context, routingKey string, p *domain.Payment, detail string) {
	err := s.producer.PublishPaymentEvent(ctx, routingKey, rabbitmq.PaymentEvent{
		PaymentID:  p.ID,
		EventID:    p.EventID,
		CustomerID: p.CustomerID,
		Amount:     p.TotalAmount,
		Currency:   p.Currency,
		Status:     string(p.Status),
		Detail:     detail,
	})
	if err != nil {
		log.Printf("level=warn component=settlement msg=\"event publish failed\" routing_key=%s payment_id=%s err=%v", routingKey, p.ID, err)
	}
}
