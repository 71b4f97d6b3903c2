/**
 * @description
 * Consumer for asynchronous gateway charge confirmations. The gateway
 * publishes the final outcome of each submitted charge to RabbitMQ; this
 * consumer moves the matching payment from processing to completed or failed
 * and stamps the ledger entry. Handling is idempotent: redelivered events for
 * an already-final transaction are acknowledged without changes.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/store"
)

// GatewayChargeEvent is the payload the gateway publishes for charge outcomes.
type GatewayChargeEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
}

// GatewayStatusConsumer applies charge outcome events to payments.
type GatewayStatusConsumer struct {
	repo store.Repository
}

// GatewayStatusConsumer returns the consumer bound to the service's repository.
func (s *Service) GatewayStatusConsumer() *GatewayStatusConsumer {
	return &GatewayStatusConsumer{repo: s.repo}
}

// HandleMessage is the RabbitMQ binding target. Returning false requeues.
func (c *GatewayStatusConsumer) HandleMessage(body []byte) bool {
	var event GatewayChargeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=gateway_consumer msg=\"unmarshal failed; dropping\" err=%v", err)
		return true
	}
	if event.TransactionID == "" || event.PaymentID == uuid.Nil {
		log.Printf("level=warn component=gateway_consumer msg=\"event missing ids; dropping\" payment_id=%s", event.PaymentID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			// Another writer won the CAS; requeue and re-read.
			return false
		}
		log.Printf("level=warn component=gateway_consumer msg=\"processing error\" payment_id=%s transaction_id=%s err=%v",
			event.PaymentID, event.TransactionID, err)
		return false
	}
	return true
}

func (c *GatewayStatusConsumer) processEvent(ctx context.Context, event GatewayChargeEvent) error {
	payment, err := c.repo.GetPayment(ctx, event.PaymentID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("level=warn component=gateway_consumer msg=\"unknown payment; acknowledging\" payment_id=%s", event.PaymentID)
			return nil
		}
		return fmt.Errorf("lookup payment: %w", err)
	}

	tx := findTransaction(payment, event.TransactionID)
	if tx == nil {
		log.Printf("level=warn component=gateway_consumer msg=\"unknown transaction; acknowledging\" payment_id=%s transaction_id=%s",
			event.PaymentID, event.TransactionID)
		return nil
	}
	if tx.Status == "completed" || tx.Status == "failed" {
		return nil
	}

	now := time.Now().UTC()
	switch normalizeGatewayStatus(event.Status) {
	case "completed":
		tx.Status = "completed"
		tx.ProcessedAt = &now
		if payment.Status == domain.PaymentProcessing {
			payment.Status = domain.PaymentCompleted
		}
	case "failed":
		tx.Status = "failed"
		tx.FailedAt = &now
		if event.Reason != "" {
			reason := event.Reason
			tx.FailureReason = &reason
		}
		if payment.Status == domain.PaymentProcessing {
			payment.Status = domain.PaymentFailed
		}
	default:
		return nil
	}

	if err := c.repo.SavePayment(ctx, payment); err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	log.Printf("level=info component=gateway_consumer msg=\"charge outcome applied\" payment_id=%s transaction_id=%s status=%s",
		payment.ID, event.TransactionID, payment.Status)
	return nil
}

func findTransaction(p *domain.Payment, transactionID string) *domain.Transaction {
	for i := range p.Transactions {
		if p.Transactions[i].TransactionID == transactionID {
			return &p.Transactions[i]
		}
	}
	return nil
}

func normalizeGatewayStatus(status string) string {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "successful", "success", "completed":
		return "completed"
	case "failed", "failure", "declined":
		return "failed"
	case "initiated", "processing", "pending":
		return "processing"
	default:
		return status
	}
}
