/**
 * @description
 * Customer charge submission. Submitting a pending payment to the gateway
 * appends a processing entry to the append-only transaction ledger and moves
 * the payment to processing; the final completed/failed outcome arrives
 * asynchronously through the gateway status consumer.
 *
 * Gateway failures are split by kind: a decline is user-correctable, so the
 * payment stays pending and retryable; an outage marks the payment failed
 * with the reason on the ledger.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/metrics"
	"github.com/wedloop/settlement-service/pkg/gateway"
	"github.com/wedloop/settlement-service/pkg/rabbitmq"
)

// ChargeInput carries the tokenized payment method for a charge submission.
// Only the masked descriptor is ever persisted.
type ChargeInput struct {
	MethodToken string
	Brand       string
	Last4       string
}

// SubmitCharge submits the payment's gross total to the gateway.
func (s *Service) SubmitCharge(ctx context.Context, paymentID uuid.UUID, input ChargeInput) (*domain.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentPending {
		return nil, ErrPaymentNotPending
	}

	result, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Reference: payment.ID.String(),
		Amount:    payment.TotalAmount,
		Currency:  payment.Currency,
		Method: gateway.MethodRef{
			Token: input.MethodToken,
			Brand: input.Brand,
			Last4: input.Last4,
		},
	})
	if err != nil {
		return s.handleChargeFailure(ctx, payment, err)
	}

	metrics.GatewayCalls.WithLabelValues("charge", "accepted").Inc()

	payment.AppendTransaction(domain.Transaction{
		TransactionID:    result.Data.ID,
		Amount:           payment.TotalAmount,
		Currency:         payment.Currency,
		ExchangeRate:     decimal.NewFromInt(1),
		OriginalAmount:   payment.TotalAmount,
		OriginalCurrency: payment.Currency,
		Status:           "processing",
		GatewayResponse:  result.Data.Response,
	})
	payment.Status = domain.PaymentProcessing
	payment.PaymentMethod = &domain.MaskedPaymentMethod{Brand: input.Brand, Last4: input.Last4}

	if err := s.repo.SavePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record gateway charge: %w", err)
	}

	log.Printf("level=info component=settlement msg=\"charge submitted\" payment_id=%s transaction_id=%s amount=%s %s",
		payment.ID, result.Data.ID, payment.TotalAmount, payment.Currency)
	s.publishPaymentEvent(ctx, rabbitmq.RoutingChargeSubmitted, payment, result.Data.ID)

	return payment, nil
}

// handleChargeFailure encodes the decline/outage policy split.
func (s *Service) handleChargeFailure(ctx context.Context, payment *domain.Payment, err error) (*domain.Payment, error) {
	var declined *gateway.DeclinedError
	if errors.As(err, &declined) {
		// User-correctable: leave the payment pending for retry.
		metrics.GatewayCalls.WithLabelValues("charge", "declined").Inc()
		log.Printf("level=info component=settlement msg=\"charge declined\" payment_id=%s code=%s", payment.ID, declined.Code)
		return nil, err
	}

	metrics.GatewayCalls.WithLabelValues("charge", "unavailable").Inc()

	var unavailable *gateway.UnavailableError
	reason := err.Error()
	if errors.As(err, &unavailable) {
		reason = unavailable.Message
	}

	now := time.Now().UTC()
	payment.AppendTransaction(domain.Transaction{
		TransactionID:    uuid.NewString(),
		Amount:           payment.TotalAmount,
		Currency:         payment.Currency,
		ExchangeRate:     decimal.NewFromInt(1),
		OriginalAmount:   payment.TotalAmount,
		OriginalCurrency: payment.Currency,
		Status:           "failed",
		FailedAt:         &now,
		FailureReason:    &reason,
	})
	payment.Status = domain.PaymentFailed

	if saveErr := s.repo.SavePayment(ctx, payment); saveErr != nil {
		log.Printf("level=error component=settlement msg=\"failed to record gateway outage\" payment_id=%s err=%v", payment.ID, saveErr)
	}
	return nil, err
}
