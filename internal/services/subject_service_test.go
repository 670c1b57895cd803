package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestSubjectService_ResolveOrCreateByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSubjectService(db)

	t.Run("existing email matches case-insensitively", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM subjects WHERE lower\\(email\\) = lower\\(\\$1\\)").
			WithArgs("A@X.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

		id, wasCreated, err := service.ResolveOrCreateByEmail(context.Background(), "A@X.com", "A")
		assert.NoError(t, err)
		assert.Equal(t, int64(7), id)
		assert.False(t, wasCreated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates subject for new email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM subjects WHERE lower\\(email\\) = lower\\(\\$1\\)").
			WithArgs("new@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		mock.ExpectQuery("INSERT INTO subjects").
			WithArgs("New Person", "new@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))

		id, wasCreated, err := service.ResolveOrCreateByEmail(context.Background(), "new@x.com", "New Person")
		assert.NoError(t, err)
		assert.Equal(t, int64(8), id)
		assert.True(t, wasCreated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loses concurrent create race and reads winner", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM subjects WHERE lower\\(email\\) = lower\\(\\$1\\)").
			WithArgs("race@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		mock.ExpectQuery("INSERT INTO subjects").
			WithArgs("Racer", "race@x.com").
			WillReturnError(&pq.Error{Code: "23505"})

		mock.ExpectQuery("SELECT id FROM subjects WHERE lower\\(email\\) = lower\\(\\$1\\)").
			WithArgs("race@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

		id, wasCreated, err := service.ResolveOrCreateByEmail(context.Background(), "race@x.com", "Racer")
		assert.NoError(t, err)
		assert.Equal(t, int64(9), id)
		assert.False(t, wasCreated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects empty email", func(t *testing.T) {
		_, _, err := service.ResolveOrCreateByEmail(context.Background(), "   ", "X")
		assert.ErrorIs(t, err, ErrValidation)
	})
}
