package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
)

func newStoredPayment(t *testing.T, s *MemoryStore) *domain.Payment {
	t.Helper()
	p := &domain.Payment{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		CustomerID:  uuid.New(),
		TotalAmount: decimal.NewFromInt(500),
		Currency:    "USD",
		Status:      domain.PaymentPending,
		ProviderPayments: []domain.ProviderPayment{
			{ProviderID: uuid.New(), Service: "catering", Amount: decimal.NewFromInt(500), Currency: "USD", Status: domain.ProviderPaymentPending},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreatePayment(context.Background(), p); err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	return p
}

func TestSavePayment_IncrementsVersion(t *testing.T) {
	s := NewMemoryStore()
	p := newStoredPayment(t, s)

	p.Status = domain.PaymentProcessing
	if err := s.SavePayment(context.Background(), p); err != nil {
		t.Fatalf("SavePayment returned error: %v", err)
	}
	if p.Version != 1 {
		t.Fatalf("expected version 1 after save, got %d", p.Version)
	}

	stored, err := s.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	if stored.Version != 1 || stored.Status != domain.PaymentProcessing {
		t.Fatalf("expected persisted version 1 status processing, got %d %s", stored.Version, stored.Status)
	}
}

func TestSavePayment_StaleVersionLosesTheRace(t *testing.T) {
	s := NewMemoryStore()
	p := newStoredPayment(t, s)

	// Two readers load the same version; the first save wins.
	first, err := s.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	second, err := s.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}

	first.ProviderPayments[0].Status = domain.ProviderPaymentCompleted
	if err := s.SavePayment(context.Background(), first); err != nil {
		t.Fatalf("first SavePayment returned error: %v", err)
	}

	second.ProviderPayments[0].Status = domain.ProviderPaymentFailed
	if err := s.SavePayment(context.Background(), second); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	stored, err := s.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	if stored.ProviderPayments[0].Status != domain.ProviderPaymentCompleted {
		t.Fatalf("expected winner's line transition to survive, got %s", stored.ProviderPayments[0].Status)
	}
}

func TestGetPayment_ReturnsIsolatedCopy(t *testing.T) {
	s := NewMemoryStore()
	p := newStoredPayment(t, s)

	got, err := s.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	got.ProviderPayments[0].Status = domain.ProviderPaymentFailed

	again, err := s.GetPayment(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	if again.ProviderPayments[0].Status != domain.ProviderPaymentPending {
		t.Fatal("expected stored payment to be unaffected by caller mutation")
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetPayment(context.Background(), uuid.New()); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestListPayments_FiltersByStatusAndSortsByCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	eventID := uuid.New()

	older := &domain.Payment{
		ID: uuid.New(), EventID: eventID, CustomerID: uuid.New(),
		TotalAmount: decimal.NewFromInt(100), Currency: "USD",
		Status: domain.PaymentCompleted, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &domain.Payment{
		ID: uuid.New(), EventID: eventID, CustomerID: uuid.New(),
		TotalAmount: decimal.NewFromInt(200), Currency: "USD",
		Status: domain.PaymentCompleted, CreatedAt: time.Now().UTC(),
	}
	pending := &domain.Payment{
		ID: uuid.New(), EventID: eventID, CustomerID: uuid.New(),
		TotalAmount: decimal.NewFromInt(300), Currency: "USD",
		Status: domain.PaymentPending, CreatedAt: time.Now().UTC(),
	}
	for _, p := range []*domain.Payment{newer, older, pending} {
		if err := s.CreatePayment(context.Background(), p); err != nil {
			t.Fatalf("CreatePayment returned error: %v", err)
		}
	}

	got, err := s.ListPaymentsByEvent(context.Background(), eventID, PaymentListOptions{Status: "completed"})
	if err != nil {
		t.Fatalf("ListPaymentsByEvent returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 completed payments, got %d", len(got))
	}
	if got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Fatal("expected payments sorted oldest first")
	}
}
