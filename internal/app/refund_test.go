package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/store"
	"github.com/wedloop/settlement-service/pkg/gateway"
)

// seedChargedPayment stores a completed payment with a completed customer
// charge in its ledger, which is the refundable baseline.
func seedChargedPayment(t *testing.T, repo *store.MemoryStore) *domain.Payment {
	t.Helper()
	payment := seedPayment(t, repo, domain.PaymentCompleted, []domain.ProviderPayment{
		{ProviderID: uuid.New(), Amount: decimal.NewFromInt(1000), Currency: "USD", Status: domain.ProviderPaymentCompleted},
	})
	payment.AppendTransaction(domain.Transaction{
		TransactionID:    "charge_1",
		Amount:           payment.TotalAmount,
		Currency:         payment.Currency,
		ExchangeRate:     decimal.NewFromInt(1),
		OriginalAmount:   payment.TotalAmount,
		OriginalCurrency: payment.Currency,
		Status:           "completed",
	})
	if err := repo.SavePayment(context.Background(), payment); err != nil {
		t.Fatalf("SavePayment returned error: %v", err)
	}
	return payment
}

func TestRequestRefund_AppendsPendingRefund(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	refund, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(250), Currency: "USD", Reason: "caterer cancelled",
	})
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}
	if refund.Status != domain.RefundPending {
		t.Fatalf("expected pending refund, got %s", refund.Status)
	}

	stored, err := repo.GetPayment(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	if len(stored.Refunds) != 1 || stored.Refunds[0].ID != refund.ID {
		t.Fatal("expected refund persisted on the payment")
	}
	if stored.Refunds[0].Reason != "caterer cancelled" {
		t.Fatalf("expected reason persisted, got %q", stored.Refunds[0].Reason)
	}
}

func TestRequestRefund_RejectsAmountBeyondRefundableBalance(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	if _, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(2000), Currency: "USD",
	}); !errors.Is(err, ErrInvalidRefundAmount) {
		t.Fatalf("expected ErrInvalidRefundAmount, got %v", err)
	}
	if _, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(-5), Currency: "USD",
	}); !errors.Is(err, ErrInvalidRefundAmount) {
		t.Fatalf("expected ErrInvalidRefundAmount for negative amount, got %v", err)
	}

	// Earlier non-failed refunds shrink the refundable balance.
	if _, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(800), Currency: "USD",
	}); err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}
	if _, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(300), Currency: "USD",
	}); !errors.Is(err, ErrInvalidRefundAmount) {
		t.Fatalf("expected ErrInvalidRefundAmount once balance exhausted, got %v", err)
	}
}

func TestRequestRefund_RejectsCurrencyMismatch(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	if _, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(100), Currency: "MXN",
	}); !errors.Is(err, ErrRefundCurrencyMismatch) {
		t.Fatalf("expected ErrRefundCurrencyMismatch, got %v", err)
	}
}

func TestRequestRefund_RequiresACharge(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedPayment(t, repo, domain.PaymentPending, []domain.ProviderPayment{
		{ProviderID: uuid.New(), Amount: decimal.NewFromInt(100), Currency: "USD", Status: domain.ProviderPaymentPending},
	})

	if _, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(50), Currency: "USD",
	}); !errors.Is(err, ErrPaymentNotRefundable) {
		t.Fatalf("expected ErrPaymentNotRefundable, got %v", err)
	}
}

func TestProcessRefund_CompletesAgainstOriginalCharge(t *testing.T) {
	var refunded gateway.RefundRequest
	gw := &gatewayStub{refundFn: func(req gateway.RefundRequest) (*gateway.Result, error) {
		refunded = req
		return gwResult("refund_1"), nil
	}}
	svc, repo := newTestService(t, gw, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	refund, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(250), Currency: "USD", Reason: "date change",
	})
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}

	updated, err := svc.ProcessRefund(context.Background(), payment.ID, refund.ID)
	if err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}

	if refunded.OriginalTransactionID != "charge_1" {
		t.Fatalf("expected refund against charge_1, got %q", refunded.OriginalTransactionID)
	}
	processed := updated.FindRefund(refund.ID)
	if processed == nil || processed.Status != domain.RefundCompleted {
		t.Fatalf("expected completed refund, got %+v", processed)
	}
	if processed.TransactionID == nil || *processed.TransactionID != "refund_1" {
		t.Fatal("expected gateway transaction id on completed refund")
	}
	// Partial refund leaves the payment status alone.
	if updated.Status != domain.PaymentCompleted {
		t.Fatalf("expected completed payment after partial refund, got %s", updated.Status)
	}
}

func TestProcessRefund_FullRefundFlipsPaymentToRefunded(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	refund, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: payment.TotalAmount, Currency: "USD", Reason: "event cancelled",
	})
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}

	updated, err := svc.ProcessRefund(context.Background(), payment.ID, refund.ID)
	if err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}
	if updated.Status != domain.PaymentRefunded {
		t.Fatalf("expected refunded payment, got %s", updated.Status)
	}
}

func TestProcessRefund_GatewayFailureMarksRefundFailed(t *testing.T) {
	gw := &gatewayStub{refundFn: func(gateway.RefundRequest) (*gateway.Result, error) {
		return nil, &gateway.UnavailableError{Status: 502, Message: "refund rail timeout"}
	}}
	svc, repo := newTestService(t, gw, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	refund, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}

	updated, err := svc.ProcessRefund(context.Background(), payment.ID, refund.ID)
	if err != nil {
		t.Fatalf("expected failure to be recorded, not returned, got %v", err)
	}
	failed := updated.FindRefund(refund.ID)
	if failed.Status != domain.RefundFailed {
		t.Fatalf("expected failed refund, got %s", failed.Status)
	}
	if failed.FailureReason == nil {
		t.Fatal("expected failure reason on refund entry")
	}
	if updated.Status != domain.PaymentCompleted {
		t.Fatalf("expected payment status untouched, got %s", updated.Status)
	}
}

func TestProcessRefund_RejectsReplays(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	refund, err := svc.RequestRefund(context.Background(), payment.ID, RefundInput{
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}
	if _, err := svc.ProcessRefund(context.Background(), payment.ID, refund.ID); err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}
	if _, err := svc.ProcessRefund(context.Background(), payment.ID, refund.ID); !errors.Is(err, ErrRefundNotPending) {
		t.Fatalf("expected ErrRefundNotPending on replay, got %v", err)
	}
}

func TestProcessRefund_UnknownRefund(t *testing.T) {
	svc, repo := newTestService(t, &gatewayStub{}, &eventsStub{}, SettlementConfig{})
	payment := seedChargedPayment(t, repo)

	if _, err := svc.ProcessRefund(context.Background(), payment.ID, uuid.New()); !errors.Is(err, store.ErrRefundNotFound) {
		t.Fatalf("expected ErrRefundNotFound, got %v", err)
	}
}
