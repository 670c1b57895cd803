package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCommissionService_ActiveAmount(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCommissionService(db)

	t.Run("returns existing active policy", func(t *testing.T) {
		mock.ExpectQuery("SELECT amount FROM commission_policies WHERE is_active = TRUE").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("750.00"))

		amount, err := service.ActiveAmount(context.Background())
		assert.NoError(t, err)
		assert.True(t, amount.Equal(decimal.RequireFromString("750.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("seeds default policy on first access", func(t *testing.T) {
		mock.ExpectQuery("SELECT amount FROM commission_policies WHERE is_active = TRUE").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}))

		mock.ExpectExec("INSERT INTO commission_policies").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT amount FROM commission_policies WHERE is_active = TRUE").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("500.00"))

		amount, err := service.ActiveAmount(context.Background())
		assert.NoError(t, err)
		assert.True(t, amount.Equal(DefaultCommission))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent seed loses insert race but reads winner", func(t *testing.T) {
		mock.ExpectQuery("SELECT amount FROM commission_policies WHERE is_active = TRUE").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}))

		// ON CONFLICT DO NOTHING: zero rows affected.
		mock.ExpectExec("INSERT INTO commission_policies").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT amount FROM commission_policies WHERE is_active = TRUE").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("650.00"))

		amount, err := service.ActiveAmount(context.Background())
		assert.NoError(t, err)
		assert.True(t, amount.Equal(decimal.RequireFromString("650.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCommissionService_SetActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCommissionService(db)

	t.Run("replaces the active policy", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, amount, is_active, created_at FROM commission_policies").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "is_active", "created_at"}).
				AddRow(1, "500.00", true, time.Now()))

		mock.ExpectExec("UPDATE commission_policies SET is_active = FALSE").
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("INSERT INTO commission_policies").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "is_active", "created_at"}).
				AddRow(2, "300.00", true, time.Now()))

		mock.ExpectCommit()

		policy, err := service.SetActive(context.Background(), decimal.RequireFromString("300.00"))
		assert.NoError(t, err)
		assert.Equal(t, int64(2), policy.ID)
		assert.True(t, policy.Amount.Equal(decimal.RequireFromString("300.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same amount is a no-op", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, amount, is_active, created_at FROM commission_policies").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "is_active", "created_at"}).
				AddRow(1, "500.00", true, time.Now()))

		mock.ExpectRollback()

		policy, err := service.SetActive(context.Background(), decimal.RequireFromString("500.00"))
		assert.NoError(t, err)
		assert.Equal(t, int64(1), policy.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects negative amount", func(t *testing.T) {
		_, err := service.SetActive(context.Background(), decimal.RequireFromString("-1"))
		assert.ErrorIs(t, err, ErrValidation)
	})
}
