/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. The Payment
 * aggregate is stored as one row in the `payments` table with the payout
 * lines, gateway transactions, and refunds held in JSONB columns, so every
 * save is a single-row atomic write guarded by the version column.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Numeric columns round-trip through strings.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wedloop/settlement-service/internal/domain"
	"github.com/wedloop/settlement-service/internal/rates"
)

// PostgresRepository is the concrete Repository backed by PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `
	id, event_id, customer_id, total_amount::text, currency,
	commission_percentage::text, commission_amount::text, commission_borne_by,
	status, provider_payments, transactions, refunds, payment_method,
	payment_settings, version, created_at, updated_at
`

// CreatePayment inserts a freshly calculated settlement aggregate.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	lines, txs, refunds, method, settings, err := marshalPaymentDocs(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			id, event_id, customer_id, total_amount, currency,
			commission_percentage, commission_amount, commission_borne_by,
			status, provider_payments, transactions, refunds, payment_method,
			payment_settings, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.db.Exec(ctx, query,
		p.ID, p.EventID, p.CustomerID, p.TotalAmount.String(), p.Currency,
		p.Commission.Percentage.String(), p.Commission.Amount.String(), string(p.CommissionPolicy),
		string(p.Status), lines, txs, refunds, method,
		settings, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment loads the full aggregate by id.
func (r *PostgresRepository) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	payment, err := scanPayment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// ListPaymentsByEvent returns the payments created for one event, oldest first.
func (r *PostgresRepository) ListPaymentsByEvent(ctx context.Context, eventID uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error) {
	return r.listPayments(ctx, "event_id", eventID, opts)
}

// ListPaymentsByCustomer returns the payments owned by one customer, oldest first.
func (r *PostgresRepository) ListPaymentsByCustomer(ctx context.Context, customerID uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error) {
	return r.listPayments(ctx, "customer_id", customerID, opts)
}

func (r *PostgresRepository) listPayments(ctx context.Context, column string, id uuid.UUID, opts PaymentListOptions) ([]domain.Payment, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = $1`
	args := []interface{}{id}
	if opts.Status != "" {
		query += ` AND status = $2`
		args = append(args, opts.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at ASC LIMIT %d OFFSET %d`, limit, opts.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// SavePayment writes the aggregate back under a compare-and-swap on version.
func (r *PostgresRepository) SavePayment(ctx context.Context, p *domain.Payment) error {
	lines, txs, refunds, method, settings, err := marshalPaymentDocs(p)
	if err != nil {
		return err
	}

	p.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE payments SET
			total_amount = $1, commission_percentage = $2, commission_amount = $3,
			status = $4, provider_payments = $5, transactions = $6, refunds = $7,
			payment_method = $8, payment_settings = $9,
			version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12
	`
	tag, err := r.db.Exec(ctx, query,
		p.TotalAmount.String(), p.Commission.Percentage.String(), p.Commission.Amount.String(),
		string(p.Status), lines, txs, refunds,
		method, settings,
		p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale version from a missing row.
		var exists bool
		if checkErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, p.ID).Scan(&exists); checkErr != nil {
			return fmt.Errorf("save payment existence check: %w", checkErr)
		}
		if !exists {
			return ErrPaymentNotFound
		}
		return ErrConcurrentModification
	}
	p.Version++
	return nil
}

// ActiveRate returns the most recently updated active rate for the exact
// ordered pair. No inverse fallback is attempted.
func (r *PostgresRepository) ActiveRate(ctx context.Context, from, to string) (*rates.ExchangeRate, error) {
	var (
		rate    rates.ExchangeRate
		rateStr string
		source  string
	)
	query := `
		SELECT from_currency, to_currency, rate::text, source, last_updated, is_active
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND is_active
		ORDER BY last_updated DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, from, to).Scan(
		&rate.FromCurrency, &rate.ToCurrency, &rateStr, &source, &rate.LastUpdated, &rate.IsActive,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &rates.RateNotFoundError{From: from, To: to}
		}
		return nil, fmt.Errorf("query active rate: %w", err)
	}
	rate.Source = rates.RateSourceKind(source)
	if rate.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return nil, fmt.Errorf("parse stored rate %q: %w", rateStr, err)
	}
	return &rate, nil
}

// UpsertRate replaces the active rate for the ordered pair: any prior active
// row is deactivated and the new rate inserted, atomically.
func (r *PostgresRepository) UpsertRate(ctx context.Context, rate rates.ExchangeRate) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rate upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE exchange_rates SET is_active = false WHERE from_currency = $1 AND to_currency = $2 AND is_active`,
		rate.FromCurrency, rate.ToCurrency,
	)
	if err != nil {
		return fmt.Errorf("deactivate prior rate: %w", err)
	}

	updated := rate.LastUpdated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO exchange_rates (from_currency, to_currency, rate, source, last_updated, is_active)
		 VALUES ($1, $2, $3, $4, $5, true)`,
		rate.FromCurrency, rate.ToCurrency, rate.Rate.String(), string(rate.Source), updated,
	)
	if err != nil {
		return fmt.Errorf("insert rate: %w", err)
	}

	return tx.Commit(ctx)
}

func marshalPaymentDocs(p *domain.Payment) (lines, txs, refunds, method, settings []byte, err error) {
	if lines, err = json.Marshal(p.ProviderPayments); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal provider payments: %w", err)
	}
	if txs, err = json.Marshal(p.Transactions); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal transactions: %w", err)
	}
	if refunds, err = json.Marshal(p.Refunds); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal refunds: %w", err)
	}
	if p.PaymentMethod != nil {
		if method, err = json.Marshal(p.PaymentMethod); err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("marshal payment method: %w", err)
		}
	}
	if settings, err = json.Marshal(p.Settings); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("marshal payment settings: %w", err)
	}
	return lines, txs, refunds, method, settings, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p                           domain.Payment
		totalStr, pctStr, amountStr string
		policy, status              string
		lines, txs, refunds, method []byte
		settings                    []byte
	)
	err := row.Scan(
		&p.ID, &p.EventID, &p.CustomerID, &totalStr, &p.Currency,
		&pctStr, &amountStr, &policy,
		&status, &lines, &txs, &refunds, &method,
		&settings, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
		return nil, fmt.Errorf("parse total amount %q: %w", totalStr, err)
	}
	if p.Commission.Percentage, err = decimal.NewFromString(pctStr); err != nil {
		return nil, fmt.Errorf("parse commission percentage %q: %w", pctStr, err)
	}
	if p.Commission.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("parse commission amount %q: %w", amountStr, err)
	}
	p.CommissionPolicy = domain.CommissionPolicy(policy)
	p.Status = domain.PaymentStatus(status)

	if err = json.Unmarshal(lines, &p.ProviderPayments); err != nil {
		return nil, fmt.Errorf("unmarshal provider payments: %w", err)
	}
	if err = json.Unmarshal(txs, &p.Transactions); err != nil {
		return nil, fmt.Errorf("unmarshal transactions: %w", err)
	}
	if err = json.Unmarshal(refunds, &p.Refunds); err != nil {
		return nil, fmt.Errorf("unmarshal refunds: %w", err)
	}
	if len(method) > 0 {
		p.PaymentMethod = &domain.MaskedPaymentMethod{}
		if err = json.Unmarshal(method, p.PaymentMethod); err != nil {
			return nil, fmt.Errorf("unmarshal payment method: %w", err)
		}
	}
	if err = json.Unmarshal(settings, &p.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal payment settings: %w", err)
	}
	return &p, nil
}
