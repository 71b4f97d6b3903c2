package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/rates"
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/gateway"
)

type gatewayStub struct {
	chargeFn func(gateway.ChargeRequest) (*gateway.Result, error)
	payoutFn func(gateway.PayoutRequest) (*gateway.Result, error)
	refundFn func(gateway.RefundRequest) (*gateway.Result, error)
}

func (g *gatewayStub) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	if g.chargeFn == nil {
		return gwResult("charge_1"), nil
	}
	return g.chargeFn(req)
}

func (g *gatewayStub) Payout(_ context.Context, req gateway.PayoutRequest) (*gateway.Result, error) {
	if g.payoutFn == nil {
		return gwResult("payout_1"), nil
	}
	return g.payoutFn(req)
}

func (g *gatewayStub) Refund(_ context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	if g.refundFn == nil {
		return gwResult("refund_1"), nil
	}
	return g.refundFn(req)
}

func gwResult(id string) *gateway.Result {
	var r gateway.Result
	r.Data.ID = id
	r.Data.Status = "successful"
	return &r
}

type eventsStub struct {
	charges []domain.ProviderCharge
	err     error
}

func (e *eventsStub) ListProviderCharges(_ context.Context, _ uuid.UUID) ([]domain.ProviderCharge, error) {
	return e.charges, e.err
}

func newTestService(t *testing.T, gw *gatewayStub, events *eventsStub, cfg SettlementConfig) (*Service, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemoryStore()
	if err := repo.UpsertRate(context.Background(), rates.ExchangeRate{
		FromCurrency: "USD", ToCurrency: "MXN", Rate: decimal.NewFromInt(20), Source: rates.SourceManual,
	}); err != nil {
		t.Fatalf("UpsertRate returned error: %v", err)
	}
	if cfg.SupportedCurrencies == nil {
		cfg.SupportedCurrencies = []string{"USD", "EUR", "ARS", "MXN"}
	}
	if cfg.DefaultCommissionPercent.IsZero() {
		cfg.DefaultCommissionPercent = decimal.NewFromFloat(8.5)
	}
	if cfg.CommissionPolicy == "" {
		cfg.CommissionPolicy = domain.CommissionBorneByCustomer
	}
	return NewService(repo, rates.NewTable(repo), gw, events, nil, cfg), repo
}

func TestCreateSettlement_ConvertsConfirmedChargesIntoSettlementCurrency(t *testing.T) {
	providerUSD := uuid.New()
	providerMXN := uuid.New()
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: providerUSD, Service: "photography", Price: decimal.NewFromInt(100), Currency: "USD", Status: domain.ChargeConfirmed},
		{ProviderID: uuid.New(), Service: "flowers", Price: decimal.NewFromInt(500), Currency: "MXN", Status: domain.ChargeQuoted},
		{ProviderID: providerMXN, Service: "catering", Price: decimal.NewFromInt(1000), Currency: "MXN", Status: domain.ChargeConfirmed},
	}}
	svc, repo := newTestService(t, &gatewayStub{}, events, SettlementConfig{})

	eventID := uuid.New()
	payment, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID:    eventID,
		CustomerID: uuid.New(),
		Currency:   "MXN",
	})
	if err != nil {
		t.Fatalf("CreateSettlement returned error: %v", err)
	}

	if len(payment.ProviderPayments) != 2 {
		t.Fatalf("expected 2 payout lines, got %d", len(payment.ProviderPayments))
	}
	if !payment.ProviderPayments[0].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected USD line converted to 2000 MXN, got %s", payment.ProviderPayments[0].Amount)
	}
	if !payment.ProviderPayments[1].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected MXN line kept at 1000, got %s", payment.ProviderPayments[1].Amount)
	}
	if !payment.TotalAmount.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected total 3000, got %s", payment.TotalAmount)
	}
	if !payment.Commission.Amount.Equal(decimal.NewFromInt(255)) {
		t.Fatalf("expected commission 255 at 8.5%%, got %s", payment.Commission.Amount)
	}
	if payment.Status != domain.PaymentPending {
		t.Fatalf("expected pending payment, got %s", payment.Status)
	}
	for _, line := range payment.ProviderPayments {
		if line.Status != domain.ProviderPaymentPending || line.Currency != "MXN" {
			t.Fatalf("expected pending MXN line, got %s %s", line.Status, line.Currency)
		}
	}

	stored, err := repo.GetPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("expected payment persisted: %v", err)
	}
	if stored.EventID != eventID {
		t.Fatalf("expected stored event id %s, got %s", eventID, stored.EventID)
	}
}

func TestCreateSettlement_NoConfirmedCharges(t *testing.T) {
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: uuid.New(), Service: "music", Price: decimal.NewFromInt(300), Currency: "USD", Status: domain.ChargeQuoted},
		{ProviderID: uuid.New(), Service: "venue", Price: decimal.NewFromInt(900), Currency: "USD", Status: domain.ChargeCancelled},
	}}
	svc, _ := newTestService(t, &gatewayStub{}, events, SettlementConfig{})

	_, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: uuid.New(), CustomerID: uuid.New(), Currency: "USD",
	})
	if !errors.Is(err, ErrNoConfirmedProviders) {
		t.Fatalf("expected ErrNoConfirmedProviders, got %v", err)
	}
}

func TestCreateSettlement_MissingRateAbortsWithoutPersisting(t *testing.T) {
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: uuid.New(), Service: "photography", Price: decimal.NewFromInt(100), Currency: "USD", Status: domain.ChargeConfirmed},
		{ProviderID: uuid.New(), Service: "catering", Price: decimal.NewFromInt(400), Currency: "EUR", Status: domain.ChargeConfirmed},
	}}
	svc, repo := newTestService(t, &gatewayStub{}, events, SettlementConfig{})

	eventID := uuid.New()
	_, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: eventID, CustomerID: uuid.New(), Currency: "MXN",
	})
	if !errors.Is(err, rates.ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}

	payments, err := repo.ListPaymentsByEvent(context.Background(), eventID, store.PaymentListOptions{})
	if err != nil {
		t.Fatalf("ListPaymentsByEvent returned error: %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("expected nothing persisted on rate failure, got %d payments", len(payments))
	}
}

func TestCreateSettlement_UnsupportedCurrency(t *testing.T) {
	svc, _ := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})

	_, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: uuid.New(), CustomerID: uuid.New(), Currency: "GBP",
	})
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestCreateSettlement_NormalizesCurrencyCase(t *testing.T) {
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: uuid.New(), Service: "venue", Price: decimal.NewFromInt(100), Currency: "USD", Status: domain.ChargeConfirmed},
	}}
	svc, _ := newTestService(t, &gatewayStub{}, events, SettlementConfig{})

	payment, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: uuid.New(), CustomerID: uuid.New(), Currency: " mxn ",
	})
	if err != nil {
		t.Fatalf("CreateSettlement returned error: %v", err)
	}
	if payment.Currency != "MXN" {
		t.Fatalf("expected canonical MXN, got %q", payment.Currency)
	}
	if payment.ProviderPayments[0].Currency != "MXN" {
		t.Fatalf("expected line currency MXN, got %q", payment.ProviderPayments[0].Currency)
	}
}

func TestCreateSettlement_RequestCommissionOverridesDefault(t *testing.T) {
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: uuid.New(), Service: "venue", Price: decimal.NewFromInt(1000), Currency: "USD", Status: domain.ChargeConfirmed},
	}}
	svc, _ := newTestService(t, &gatewayStub{}, events, SettlementConfig{})

	pct := decimal.NewFromInt(10)
	payment, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: uuid.New(), CustomerID: uuid.New(), Currency: "USD", CommissionPercent: &pct,
	})
	if err != nil {
		t.Fatalf("CreateSettlement returned error: %v", err)
	}
	if !payment.Commission.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected commission 100 at 10%%, got %s", payment.Commission.Amount)
	}
}

func TestCreateSettlement_ProviderBornePolicyReducesLines(t *testing.T) {
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: uuid.New(), Service: "venue", Price: decimal.NewFromInt(1000), Currency: "USD", Status: domain.ChargeConfirmed},
	}}
	svc, _ := newTestService(t, &gatewayStub{}, events, SettlementConfig{
		DefaultCommissionPercent: decimal.NewFromInt(10),
		CommissionPolicy:         domain.CommissionBorneByProvider,
	})

	payment, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: uuid.New(), CustomerID: uuid.New(), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreateSettlement returned error: %v", err)
	}

	// Customer still pays the gross; the payout line nets out the commission.
	if !payment.TotalAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected gross total 1000, got %s", payment.TotalAmount)
	}
	if !payment.ProviderPayments[0].Amount.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected provider line netted to 900, got %s", payment.ProviderPayments[0].Amount)
	}
}

func TestCancelPayment_CancelsPendingLines(t *testing.T) {
	events := &eventsStub{charges: []domain.ProviderCharge{
		{ProviderID: uuid.New(), Service: "venue", Price: decimal.NewFromInt(1000), Currency: "USD", Status: domain.ChargeConfirmed},
	}}
	svc, repo := newTestService(t, &gatewayStub{}, events, SettlementConfig{})

	payment, err := svc.CreateSettlement(context.Background(), CreateSettlementInput{
		EventID: uuid.New(), CustomerID: uuid.New(), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreateSettlement returned error: %v", err)
	}

	cancelled, err := svc.CancelPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("CancelPayment returned error: %v", err)
	}
	if cancelled.Status != domain.PaymentCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.ProviderPayments[0].Status != domain.ProviderPaymentCancelled {
		t.Fatalf("expected payout line cancelled, got %s", cancelled.ProviderPayments[0].Status)
	}

	stored, err := repo.GetPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	if stored.Status != domain.PaymentCancelled {
		t.Fatalf("expected cancellation persisted, got %s", stored.Status)
	}
}

func TestCancelPayment_RejectsCompletedPayment(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})

	payment := seedPayment(t, repo, domain.PaymentCompleted, []domain.ProviderPayment{
		{ProviderID: uuid.New(), Amount: decimal.NewFromInt(100), Currency: "USD", Status: domain.ProviderPaymentPending},
	})

	if _, err := svc.CancelPayment(context.Background(), payment.ID); !errors.Is(err, ErrPaymentNotCancellable) {
		t.Fatalf("expected ErrPaymentNotCancellable, got %v", err)
	}
}

// seedPayment stores a payment directly, bypassing the settlement calculator.
func seedPayment(t *testing.T, repo *store.MemoryStore, status domain.PaymentStatus, lines []domain.ProviderPayment) *domain.Payment {
	t.Helper()
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	payment := &domain.Payment{
		ID:               uuid.New(),
		EventID:          uuid.New(),
		CustomerID:       uuid.New(),
		TotalAmount:      total,
		Currency:         "USD",
		CommissionPolicy: domain.CommissionBorneByCustomer,
		ProviderPayments: lines,
		Status:           status,
	}
	payment.SetCommissionPercentage(decimal.NewFromFloat(8.5))
	if err := repo.CreatePayment(context.Background(), payment); err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	return payment
}
