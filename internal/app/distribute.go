/**
 * @description
 * Distribution driver: pays out the pending provider lines of a completed
 * payment. The sweep is best-effort per line; a failed payout marks its line
 * failed and the sweep continues, with no rollback of lines that already
 * completed. After every pass the umbrella status is explicitly recomputed
 * from the line statuses.
 *
 * Concurrency: the pass runs in two phases around the gateway. The eligible
 * lines are first claimed (pending -> processing) under the aggregate-version
 * compare-and-swap, so of two concurrent sweeps only one ever reaches the
 * gateway for a given line; the loser re-reads and finds nothing pending.
 * Outcomes are recorded in a second save, replayed onto a fresh read if that
 * save loses a version race to an unrelated writer.
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
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/gateway"
	"github.com/wedloop/settlement-service/pkg/rabbitmq"
)

// saveAttempts bounds the claim and record retries on version conflicts.
const saveAttempts = 3

// DistributionResult summarizes one distribution pass.
type DistributionResult struct {
	Payment   *domain.Payment `json:"payment"`
	Processed int             `json:"processed"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
}

// Distribute pays out provider lines. With a providerID exactly one matching
// pending line is processed; without one, every pending line is swept in
// insertion order. Distribution is only allowed once the umbrella payment has
// completed.
func (s *Service) Distribute(ctx context.Context, paymentID uuid.UUID, providerID *uuid.UUID) (*DistributionResult, error) {
	payment, lineIdx, err := s.claimLines(ctx, paymentID, providerID)
	if err != nil {
		return nil, err
	}

	result := &DistributionResult{Payment: payment, Processed: len(lineIdx)}
	if len(lineIdx) == 0 {
		return result, nil
	}

	outcomes := make([]lineOutcome, 0, len(lineIdx))
	for _, i := range lineIdx {
		out := s.payoutLine(ctx, payment, i)
		if out.ok {
			result.Completed++
		} else {
			result.Failed++
		}
		outcomes = append(outcomes, out)
	}

	payment, err = s.recordOutcomes(ctx, payment, outcomes)
	if err != nil {
		return nil, err
	}
	result.Payment = payment

	log.Printf("level=info component=distribution msg=\"distribution pass finished\" payment_id=%s processed=%d completed=%d failed=%d status=%s",
		payment.ID, result.Processed, result.Completed, result.Failed, payment.Status)
	s.publishPaymentEvent(ctx, rabbitmq.RoutingDistributionCompleted, payment,
		fmt.Sprintf("completed=%d failed=%d", result.Completed, result.Failed))

	return result, nil
}

// claimLines transitions the eligible pending lines to processing and persists
// the claim before any money moves. A version conflict means another sweep got
// there first; the claim is retried against a fresh read, where the contested
// lines are no longer pending.
func (s *Service) claimLines(ctx context.Context, paymentID uuid.UUID, providerID *uuid.UUID) (*domain.Payment, []int, error) {
	for attempt := 1; ; attempt++ {
		payment, err := s.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, nil, err
		}
		if payment.Status != domain.PaymentCompleted {
			return nil, nil, ErrPaymentNotCompleted
		}

		var lineIdx []int
		if providerID != nil {
			idx := payment.FindProviderLine(*providerID)
			if idx < 0 {
				return nil, nil, ErrProviderNotFoundInPayment
			}
			lineIdx = []int{idx}
		} else {
			lineIdx = payment.PendingLines()
			if len(lineIdx) == 0 {
				return payment, nil, nil
			}
		}

		for _, i := range lineIdx {
			payment.ProviderPayments[i].Status = domain.ProviderPaymentProcessing
		}
		err = s.repo.SavePayment(ctx, payment)
		if err == nil {
			return payment, lineIdx, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) || attempt == saveAttempts {
			return nil, nil, fmt.Errorf("failed to claim provider lines: %w", err)
		}
		log.Printf("level=info component=distribution msg=\"line claim lost a version race, retrying\" payment_id=%s attempt=%d", paymentID, attempt)
	}
}

// recordOutcomes persists the gateway results for the claimed lines. The
// claimed lines belong to this pass alone, so on a version conflict the
// outcomes are replayed onto a fresh read.
func (s *Service) recordOutcomes(ctx context.Context, payment *domain.Payment, outcomes []lineOutcome) (*domain.Payment, error) {
	for attempt := 1; ; attempt++ {
		for _, o := range outcomes {
			o.apply(payment)
		}
		payment.RecomputeStatus()

		err := s.repo.SavePayment(ctx, payment)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) || attempt == saveAttempts {
			return nil, fmt.Errorf("failed to persist distribution results: %w", err)
		}
		payment, err = s.repo.GetPayment(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
	}
}

// lineOutcome is the gateway result for one claimed line, kept separate from
// the aggregate so it can be replayed onto a fresh read after a version race.
type lineOutcome struct {
	idx         int
	ok          bool
	txID        string
	gwResponse  string
	failure     string
	processedAt time.Time
}

func (o lineOutcome) apply(p *domain.Payment) {
	line := &p.ProviderPayments[o.idx]
	at := o.processedAt
	line.ProcessedAt = &at

	if !o.ok {
		reason := o.failure
		line.Status = domain.ProviderPaymentFailed
		line.Notes = &reason
		return
	}

	txID := o.txID
	line.Status = domain.ProviderPaymentCompleted
	line.TransactionID = &txID

	// Payouts join the append-only gateway ledger alongside customer charges.
	p.AppendTransaction(domain.Transaction{
		TransactionID:    o.txID,
		Amount:           line.Amount,
		Currency:         line.Currency,
		ExchangeRate:     decimal.NewFromInt(1),
		OriginalAmount:   line.Amount,
		OriginalCurrency: line.Currency,
		Status:           "completed",
		GatewayResponse:  o.gwResponse,
		ProcessedAt:      &at,
	})
}

// payoutLine pays one claimed line at the gateway and reports the outcome.
func (s *Service) payoutLine(ctx context.Context, payment *domain.Payment, i int) lineOutcome {
	line := payment.ProviderPayments[i]
	out := lineOutcome{idx: i, processedAt: time.Now().UTC()}

	gwResult, err := s.gateway.Payout(ctx, gateway.PayoutRequest{
		Reference:  fmt.Sprintf("%s/%d", payment.ID, i),
		ProviderID: line.ProviderID.String(),
		Amount:     line.Amount,
		Currency:   line.Currency,
	})
	if err != nil {
		out.failure = err.Error()
		metrics.DistributionLines.WithLabelValues("failed").Inc()
		metrics.GatewayCalls.WithLabelValues("payout", "failed").Inc()
		log.Printf("level=warn component=distribution msg=\"provider payout failed\" payment_id=%s provider_id=%s err=%v",
			payment.ID, line.ProviderID, err)
		return out
	}

	out.ok = true
	out.txID = gwResult.Data.ID
	out.gwResponse = gwResult.Data.Response
	metrics.DistributionLines.WithLabelValues("completed").Inc()
	metrics.GatewayCalls.WithLabelValues("payout", "accepted").Inc()
	return out
}
