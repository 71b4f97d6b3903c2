/**
 * @description
 * Provider charge input types. A ProviderCharge is a line inside an event's
 * provider list as served by the events service; only confirmed charges are
 * eligible for settlement.
 */

package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeStatus enumerates the booking states a provider charge moves through
// on the event side. The settlement service only ever reads these.
type ChargeStatus string

const (
	ChargeRequested ChargeStatus = "requested"
	ChargeQuoted    ChargeStatus = "quoted"
	ChargeConfirmed ChargeStatus = "confirmed"
	ChargeCompleted ChargeStatus = "completed"
	ChargeCancelled ChargeStatus = "cancelled"
)

// ProviderCharge is one provider booking on an event, priced in the provider's
// own currency.
type ProviderCharge struct {
	ProviderID uuid.UUID       `json:"provider_id"`
	Service    string          `json:"service"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	Status     ChargeStatus    `json:"status"`
}

// ConfirmedCharges filters a charge list down to the confirmed ones,
// preserving input order.
func ConfirmedCharges(charges []ProviderCharge) []ProviderCharge {
	var confirmed []ProviderCharge
	for _, c := range charges {
		if c.Status == ChargeConfirmed {
			confirmed = append(confirmed, c)
		}
	}
	return confirmed
}
