package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/payrolldesk/backend/internal/models"
)

// DefaultCommission is the amount used to seed the commission policy table
// the first time an active policy is requested and none exists.
var DefaultCommission = decimal.NewFromInt(500)

// querier is satisfied by both *sql.DB and *sql.Tx so policy reads can run
// inside a caller's transaction. The ledger reads the active amount fresh at
// write time rather than caching it across writes.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type CommissionService struct {
	db *sql.DB
}

func NewCommissionService(db *sql.DB) *CommissionService {
	return &CommissionService{db: db}
}

// ActiveAmount returns the amount of the currently active commission policy,
// creating and activating the default policy on first access. Concurrent
// first-access races are resolved by the partial unique index on is_active:
// the losing insert is a no-op and the winner's row is re-read.
func (s *CommissionService) ActiveAmount(ctx context.Context) (decimal.Decimal, error) {
	return s.activeAmount(ctx, s.db)
}

func (s *CommissionService) activeAmount(ctx context.Context, q querier) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := q.QueryRowContext(ctx,
		`SELECT amount FROM commission_policies WHERE is_active = TRUE LIMIT 1`).Scan(&amount)
	if err == nil {
		return amount, nil
	}
	if err != sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("failed to read active commission policy: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO commission_policies (amount, is_active) VALUES ($1, TRUE) ON CONFLICT DO NOTHING`,
		DefaultCommission)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to seed default commission policy: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`SELECT amount FROM commission_policies WHERE is_active = TRUE LIMIT 1`).Scan(&amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read commission policy after seeding: %w", err)
	}
	return amount, nil
}

// Active returns the full active policy row, seeding the default if needed.
func (s *CommissionService) Active(ctx context.Context) (*models.CommissionPolicy, error) {
	if _, err := s.activeAmount(ctx, s.db); err != nil {
		return nil, err
	}

	var policy models.CommissionPolicy
	err := s.db.QueryRowContext(ctx, `
		SELECT id, amount, is_active, created_at
		FROM commission_policies
		WHERE is_active = TRUE
		LIMIT 1`).Scan(&policy.ID, &policy.Amount, &policy.IsActive, &policy.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load active commission policy: %w", err)
	}
	return &policy, nil
}

// SetActive deactivates the current policy and activates a new one with the
// given amount. Old rows are kept for the version trail. Setting the amount
// already active is a no-op returning the existing row.
func (s *CommissionService) SetActive(ctx context.Context, amount decimal.Decimal) (*models.CommissionPolicy, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: commission amount must not be negative", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.CommissionPolicy
	err = tx.QueryRowContext(ctx, `
		SELECT id, amount, is_active, created_at
		FROM commission_policies
		WHERE is_active = TRUE
		LIMIT 1
		FOR UPDATE`).Scan(&current.ID, &current.Amount, &current.IsActive, &current.CreatedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to lock active commission policy: %w", err)
	}

	if err == nil && current.Amount.Equal(amount) {
		return &current, nil
	}

	if err == nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE commission_policies SET is_active = FALSE WHERE id = $1`, current.ID); err != nil {
			return nil, fmt.Errorf("failed to deactivate commission policy: %w", err)
		}
	}

	var next models.CommissionPolicy
	err = tx.QueryRowContext(ctx, `
		INSERT INTO commission_policies (amount, is_active)
		VALUES ($1, TRUE)
		RETURNING id, amount, is_active, created_at`,
		amount).Scan(&next.ID, &next.Amount, &next.IsActive, &next.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create commission policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit commission policy change: %w", err)
	}

	log.Printf("[COMMISSION] Active policy changed to %s (policy id %d)", amount, next.ID)
	return &next, nil
}
