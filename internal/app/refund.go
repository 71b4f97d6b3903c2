/**
 * @description
 * Refund handling. Requesting a refund appends a pending entry to the
 * payment's append-only refund log; processing it is a separate
 * administrative step that calls the gateway and marks the entry completed or
 * failed. Provider payouts are never automatically reversed by a refund.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/metrics"
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/gateway"
	"github.com/wedloop/settlement-service/pkg/rabbitmq"
)

// RefundInput is a customer or admin refund request.
type RefundInput struct {
	Amount   decimal.Decimal
	Currency string
	Reason   string
}

// RequestRefund appends a pending refund to the payment's refund log. The
// amount must fit within the total minus refunds already recorded.
func (s *Service) RequestRefund(ctx context.Context, paymentID uuid.UUID, input RefundInput) (*domain.Refund, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if chargeTransactionID(payment) == "" {
		return nil, ErrPaymentNotRefundable
	}
	if input.Currency != payment.Currency {
		return nil, ErrRefundCurrencyMismatch
	}
	refundable := payment.TotalAmount.Sub(payment.RefundedAmount())
	if !input.Amount.IsPositive() || input.Amount.GreaterThan(refundable) {
		return nil, ErrInvalidRefundAmount
	}

	refund := domain.Refund{
		ID:          uuid.New(),
		Amount:      domain.RoundAmount(input.Amount),
		Currency:    input.Currency,
		Reason:      input.Reason,
		Status:      domain.RefundPending,
		RequestedAt: time.Now().UTC(),
	}
	payment.AppendRefund(refund)

	if err := s.repo.SavePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record refund request: %w", err)
	}

	log.Printf("level=info component=refund msg=\"refund requested\" payment_id=%s refund_id=%s amount=%s %s",
		payment.ID, refund.ID, refund.Amount, refund.Currency)
	s.publishPaymentEvent(ctx, rabbitmq.RoutingRefundRequested, payment, refund.ID.String())

	return &refund, nil
}

// ProcessRefund executes a pending refund against the gateway. When the
// cumulative completed refunds reach the payment's total, the payment itself
// moves to refunded.
func (s *Service) ProcessRefund(ctx context.Context, paymentID, refundID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	refund := payment.FindRefund(refundID)
	if refund == nil {
		return nil, store.ErrRefundNotFound
	}
	if refund.Status != domain.RefundPending {
		return nil, ErrRefundNotPending
	}

	originalTx := chargeTransactionID(payment)
	if originalTx == "" {
		return nil, ErrPaymentNotRefundable
	}

	now := time.Now().UTC()
	result, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		Reference:             refund.ID.String(),
		OriginalTransactionID: originalTx,
		Amount:                refund.Amount,
		Currency:              refund.Currency,
	})
	if err != nil {
		reason := err.Error()
		refund.Status = domain.RefundFailed
		refund.FailureReason = &reason
		refund.ProcessedAt = &now
		metrics.RefundsProcessed.WithLabelValues("failed").Inc()
		metrics.GatewayCalls.WithLabelValues("refund", "failed").Inc()

		if saveErr := s.repo.SavePayment(ctx, payment); saveErr != nil {
			return nil, fmt.Errorf("failed to record refund failure: %w", saveErr)
		}
		log.Printf("level=warn component=refund msg=\"refund failed\" payment_id=%s refund_id=%s err=%v", payment.ID, refund.ID, err)
		return payment, nil
	}

	refund.Status = domain.RefundCompleted
	refund.TransactionID = &result.Data.ID
	refund.ProcessedAt = &now
	metrics.RefundsProcessed.WithLabelValues("completed").Inc()
	metrics.GatewayCalls.WithLabelValues("refund", "accepted").Inc()

	if payment.CompletedRefundAmount().GreaterThanOrEqual(payment.TotalAmount) {
		payment.Status = domain.PaymentRefunded
	}

	if err := s.repo.SavePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record refund completion: %w", err)
	}

	log.Printf("level=info component=refund msg=\"refund completed\" payment_id=%s refund_id=%s transaction_id=%s",
		payment.ID, refund.ID, result.Data.ID)
	s.publishPaymentEvent(ctx, rabbitmq.RoutingRefundProcessed, payment, refund.ID.String())

	return payment, nil
}

// chargeTransactionID returns the gateway id of the customer charge that
// completed, or the one still processing when none has completed yet.
func chargeTransactionID(p *domain.Payment) string {
	var processing string
	for i := range p.Transactions {
		switch p.Transactions[i].Status {
		case "completed":
			return p.Transactions[i].TransactionID
		case "processing":
			if processing == "" {
				processing = p.Transactions[i].TransactionID
			}
		}
	}
	if p.Status == domain.PaymentCompleted || p.Status == domain.PaymentPartiallyCompleted || p.Status == domain.PaymentRefunded {
		return processing
	}
	return ""
}
