/**
 * @description
 * This file defines the Payment aggregate and its owned value types. The Payment
 * is the root record for one settlement of a wedding event: it carries the
 * per-provider payout lines, the platform commission, the append-only gateway
 * transaction log, and the append-only refund log.
 *
 * @notes
 * - All money amounts use shopspring/decimal and are rounded to 2 places with
 *   round-half-up semantics (Decimal.Round rounds half away from zero, which is
 *   half-up for the non-negative amounts handled here).
 * - Transactions and Refunds are append-only: entries are added to the ordered
 *   slices and existing entries are only ever transitioned forward in status.
 * - Version is the optimistic-concurrency token; every save in the store layer
 *   is a compare-and-swap against it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places kept for all money amounts.
// The currencies in scope (USD, EUR, ARS, MXN) all use 2 fractional digits.
const MoneyScale = 2

// RoundAmount normalizes a money amount to MoneyScale places, half-up.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// PaymentStatus enumerates the lifecycle states of a Payment aggregate.
type PaymentStatus string

const (
	PaymentPending            PaymentStatus = "pending"
	PaymentProcessing         PaymentStatus = "processing"
	PaymentCompleted          PaymentStatus = "completed"
	PaymentPartiallyCompleted PaymentStatus = "partially_completed"
	PaymentFailed             PaymentStatus = "failed"
	PaymentCancelled          PaymentStatus = "cancelled"
	PaymentRefunded           PaymentStatus = "refunded"
)

// ProviderPaymentStatus enumerates the states of a single payout line.
type ProviderPaymentStatus string

const (
	ProviderPaymentPending    ProviderPaymentStatus = "pending"
	ProviderPaymentProcessing ProviderPaymentStatus = "processing"
	ProviderPaymentCompleted  ProviderPaymentStatus = "completed"
	ProviderPaymentFailed     ProviderPaymentStatus = "failed"
	ProviderPaymentCancelled  ProviderPaymentStatus = "cancelled"
)

// RefundStatus enumerates the states of a refund entry.
type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// CommissionPolicy controls who bears the platform commission.
// Under CommissionBorneByCustomer (the marketplace's historical behavior) the
// provider lines carry the full converted price and the commission is an
// additive platform take. Under CommissionBorneByProvider each line is reduced
// pro rata so the provider share nets out the commission.
type CommissionPolicy string

const (
	CommissionBorneByCustomer CommissionPolicy = "customer"
	CommissionBorneByProvider CommissionPolicy = "provider"
)

// PlatformCommission is the platform's take on a settlement. Amount is always
// derived from the gross total and the percentage; it is never set directly.
type PlatformCommission struct {
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// ProviderPayment is one payout line owned by a Payment. Lines are appended in
// the order the provider charges were confirmed and are never removed.
type ProviderPayment struct {
	ProviderID    uuid.UUID             `json:"provider_id"`
	Service       string                `json:"service"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency"`
	Status        ProviderPaymentStatus `json:"status"`
	TransactionID *string               `json:"transaction_id,omitempty"`
	Notes         *string               `json:"notes,omitempty"`
	ProcessedAt   *time.Time            `json:"processed_at,omitempty"`
}

// Transaction is one append-only entry in the Payment's gateway ledger.
type Transaction struct {
	TransactionID    string          `json:"transaction_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	OriginalCurrency string          `json:"original_currency"`
	Status           string          `json:"status"`
	GatewayResponse  string          `json:"gateway_response,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
}

// Refund is one append-only entry in the Payment's refund log.
type Refund struct {
	ID            uuid.UUID       `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
	Status        RefundStatus    `json:"status"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// PaymentSettings carries the per-payment distribution knobs.
type PaymentSettings struct {
	AutoDistribute         bool `json:"auto_distribute"`
	DistributionDelayHours int  `json:"distribution_delay_hours"`
	HoldPeriodDays         int  `json:"hold_period_days"`
}

// MaskedPaymentMethod is the only payment-method detail ever persisted.
// Raw card numbers never reach the aggregate.
type MaskedPaymentMethod struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

// Payment is the root settlement aggregate for one event.
type Payment struct {
	ID               uuid.UUID            `json:"id"`
	EventID          uuid.UUID            `json:"event_id"`
	CustomerID       uuid.UUID            `json:"customer_id"`
	TotalAmount      decimal.Decimal      `json:"total_amount"`
	Currency         string               `json:"currency"`
	Commission       PlatformCommission   `json:"platform_commission"`
	CommissionPolicy CommissionPolicy     `json:"commission_borne_by"`
	ProviderPayments []ProviderPayment    `json:"provider_payments"`
	Status           PaymentStatus        `json:"status"`
	Transactions     []Transaction        `json:"transactions"`
	Refunds          []Refund             `json:"refunds"`
	PaymentMethod    *MaskedPaymentMethod `json:"payment_method,omitempty"`
	Settings         PaymentSettings      `json:"payment_settings"`
	Version          int64                `json:"version"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// SetCommissionPercentage re-derives the commission amount from the payment's
// gross total. The percentage is clamped to [0, 50].
func (p *Payment) SetCommissionPercentage(pct decimal.Decimal) {
	p.Commission.Percentage = ClampCommissionPercentage(pct)
	p.Commission.Amount = RoundAmount(p.TotalAmount.Mul(p.Commission.Percentage).Div(decimal.NewFromInt(100)))
}

// ClampCommissionPercentage bounds a commission percentage to [0, 50].
func ClampCommissionPercentage(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if max := decimal.NewFromInt(50); pct.GreaterThan(max) {
		return max
	}
	return pct
}

// ProviderNet is the display-only provider share after commission. Under the
// customer policy this is informational; the persisted lines keep the gross.
func (p *Payment) ProviderNet() decimal.Decimal {
	return p.TotalAmount.Sub(p.Commission.Amount)
}

// FindProviderLine returns the index of the first line for the provider that
// is still pending, or -1 when no such line exists.
func (p *Payment) FindProviderLine(providerID uuid.UUID) int {
	for i := range p.ProviderPayments {
		if p.ProviderPayments[i].ProviderID == providerID && p.ProviderPayments[i].Status == ProviderPaymentPending {
			return i
		}
	}
	return -1
}

// PendingLines returns the indexes of all pending payout lines in insertion order.
func (p *Payment) PendingLines() []int {
	var idx []int
	for i := range p.ProviderPayments {
		if p.ProviderPayments[i].Status == ProviderPaymentPending {
			idx = append(idx, i)
		}
	}
	return idx
}

// AppendTransaction adds an entry to the append-only gateway ledger.
func (p *Payment) AppendTransaction(tx Transaction) {
	p.Transactions = append(p.Transactions, tx)
}

// AppendRefund adds an entry to the append-only refund log.
func (p *Payment) AppendRefund(r Refund) {
	p.Refunds = append(p.Refunds, r)
}

// RefundedAmount sums refunds that are not failed, i.e. amounts that are
// already returned or committed to be returned.
func (p *Payment) RefundedAmount() decimal.Decimal {
	total := decimal.Zero
	for i := range p.Refunds {
		if p.Refunds[i].Status != RefundFailed {
			total = total.Add(p.Refunds[i].Amount)
		}
	}
	return total
}

// CompletedRefundAmount sums only refunds that actually completed.
func (p *Payment) CompletedRefundAmount() decimal.Decimal {
	total := decimal.Zero
	for i := range p.Refunds {
		if p.Refunds[i].Status == RefundCompleted {
			total = total.Add(p.Refunds[i].Amount)
		}
	}
	return total
}

// FindRefund returns a pointer to the refund with the given id, or nil.
func (p *Payment) FindRefund(refundID uuid.UUID) *Refund {
	for i := range p.Refunds {
		if p.Refunds[i].ID == refundID {
			return &p.Refunds[i]
		}
	}
	return nil
}

// CanCancel reports whether the payment may still be cancelled. Cancellation
// is only reachable before the customer charge completes.
func (p *Payment) CanCancel() bool {
	return p.Status == PaymentPending || p.Status == PaymentProcessing
}

// RecomputeStatus derives the umbrella status from the payout line statuses.
// It is invoked at the end of every distribution pass so the rollup can never
// go stale: all lines completed -> completed; a mix of completed and failed
// with nothing outstanding -> partially_completed; all failed -> failed.
// While any line is still pending or processing the status is left alone.
func (p *Payment) RecomputeStatus() {
	if p.Status == PaymentCancelled || p.Status == PaymentRefunded {
		return
	}
	if len(p.ProviderPayments) == 0 {
		return
	}

	var completed, failed, outstanding int
	for i := range p.ProviderPayments {
		switch p.ProviderPayments[i].Status {
		case ProviderPaymentCompleted:
			completed++
		case ProviderPaymentFailed:
			failed++
		case ProviderPaymentPending, ProviderPaymentProcessing:
			outstanding++
		}
	}

	if outstanding > 0 {
		return
	}
	switch {
	case failed == 0 && completed > 0:
		p.Status = PaymentCompleted
	case completed == 0 && failed > 0:
		p.Status = PaymentFailed
	case completed > 0 && failed > 0:
		p.Status = PaymentPartiallyCompleted
	}
}
