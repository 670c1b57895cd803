package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func newSalaryServiceForTest(t *testing.T) (*SalaryService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	commission := NewCommissionService(db)
	ledger := NewSalaryLedgerService(db, commission, NewSubjectService(db))
	service := NewSalaryService(ledger, commission, nil)
	return service, mock, func() { db.Close() }
}

func TestSalaryService_SubmitSalary(t *testing.T) {
	service, mock, closeDB := newSalaryServiceForTest(t)
	defer closeDB()

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/salaries", bytes.NewBufferString("invalid"))
		w := httptest.NewRecorder()

		service.SubmitSalary(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure reports field details", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"name":                "A",
			"email":               "not-an-email",
			"local_amount":        1000,
			"local_currency_code": "USD",
		})
		r := httptest.NewRequest("POST", "/salaries", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.SubmitSalary(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "Validation failed", resp.Error)
		assert.NotEmpty(t, resp.Details)
	})

	t.Run("successful first submission returns 201", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM subjects").
			WithArgs("b@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("INSERT INTO subjects").
			WithArgs("B Person", "b@x.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		mock.ExpectBegin()
		mock.ExpectQuery("FROM salary_entries WHERE subject_id = \\$1 FOR UPDATE").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows(entryColumns()))
		mock.ExpectQuery("SELECT amount FROM commission_policies").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("500.00"))
		mock.ExpectQuery("INSERT INTO salary_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(2, time.Now(), time.Now()))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]any{
			"name":                "B Person",
			"email":               "b@x.com",
			"local_amount":        1000,
			"local_currency_code": "usd", // handler upper-cases
		})
		r := httptest.NewRequest("POST", "/salaries", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.SubmitSalary(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp struct {
			Created bool `json:"created"`
			Entry   struct {
				ReferenceAmount string `json:"reference_amount"`
				DisplayedTotal  string `json:"displayed_total"`
			} `json:"entry"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Created)
		assert.Equal(t, "850", resp.Entry.ReferenceAmount)
		assert.Equal(t, "1350", resp.Entry.DisplayedTotal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSalaryService_UpdateSalary(t *testing.T) {
	service, mock, closeDB := newSalaryServiceForTest(t)
	defer closeDB()

	router := chi.NewRouter()
	router.Put("/salaries/{subjectId}", service.UpdateSalary)

	t.Run("invalid subject id", func(t *testing.T) {
		r := httptest.NewRequest("PUT", "/salaries/abc", bytes.NewBufferString("{}"))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing entry returns 404", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM salary_entries WHERE subject_id = \\$1 FOR UPDATE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(entryColumns()))
		mock.ExpectRollback()

		body, _ := json.Marshal(map[string]any{"commission": 300})
		r := httptest.NewRequest("PUT", "/salaries/5", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commission-only update recomputes total", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM salary_entries WHERE subject_id = \\$1 FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(entryRow(1, "2000", "USD", "1700", "500", "2200"))
		mock.ExpectQuery("UPDATE salary_entries").
			WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
		mock.ExpectExec("INSERT INTO salary_histories").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(map[string]any{"commission": 300, "reason": "manual adjustment"})
		r := httptest.NewRequest("PUT", "/salaries/1", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var entry struct {
			Commission     string `json:"commission"`
			DisplayedTotal string `json:"displayed_total"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
		assert.Equal(t, "300", entry.Commission)
		assert.Equal(t, "2000", entry.DisplayedTotal)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSalaryService_BulkUpdateSalaries(t *testing.T) {
	service, _, closeDB := newSalaryServiceForTest(t)
	defer closeDB()

	t.Run("empty batch rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"updates": []any{}})
		r := httptest.NewRequest("POST", "/salaries/bulk", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.BulkUpdateSalaries(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSalaryService_GetSalaryHistory(t *testing.T) {
	service, mock, closeDB := newSalaryServiceForTest(t)
	defer closeDB()

	router := chi.NewRouter()
	router.Get("/salaries/{subjectId}/history", service.GetSalaryHistory)

	t.Run("returns history page", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM salary_histories").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("FROM salary_histories WHERE subject_id = \\$1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "subject_id", "old_reference_amount", "new_reference_amount", "old_commission", "new_commission", "old_displayed_total", "new_displayed_total", "changed_by", "change_reason", "created_at"}).
				AddRow(1, 1, "850", "1700", "500", "500", "1350", "2200", nil, "salary update", time.Now()))

		r := httptest.NewRequest("GET", "/salaries/1/history", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var page struct {
			Total   int `json:"total"`
			Records []struct {
				OldReferenceAmount string `json:"old_reference_amount"`
			} `json:"records"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Equal(t, 1, page.Total)
		assert.Len(t, page.Records, 1)
		assert.Equal(t, "850", page.Records[0].OldReferenceAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSalaryService_ExportSalaries(t *testing.T) {
	service, mock, closeDB := newSalaryServiceForTest(t)
	defer closeDB()

	t.Run("streams CSV with header and rows", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery("FROM salary_entries e").
			WillReturnRows(sqlmock.NewRows([]string{"id", "subject_id", "name", "email", "local_amount", "local_currency_code", "reference_amount", "commission", "displayed_total", "effective_date", "created_at", "updated_at"}).
				AddRow(1, 1, "A", "a@x.com", "1000", "USD", "850", "500", "1350", now, now, now))

		r := httptest.NewRequest("GET", "/salaries/export", nil)
		w := httptest.NewRecorder()

		service.ExportSalaries(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "subject_id,name,email")
		assert.Contains(t, w.Body.String(), "a@x.com")
		assert.Contains(t, w.Body.String(), "1350.00")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure before streaming yields an error response", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
			WillReturnError(assert.AnError)

		r := httptest.NewRequest("GET", "/salaries/export", nil)
		w := httptest.NewRecorder()

		service.ExportSalaries(w, r)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.NotContains(t, w.Body.String(), "subject_id,name,email")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSalaryService_Commission(t *testing.T) {
	service, mock, closeDB := newSalaryServiceForTest(t)
	defer closeDB()

	t.Run("get active policy", func(t *testing.T) {
		mock.ExpectQuery("SELECT amount FROM commission_policies").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("500.00"))
		mock.ExpectQuery("SELECT id, amount, is_active, created_at FROM commission_policies").
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "is_active", "created_at"}).
				AddRow(1, "500.00", true, time.Now()))

		r := httptest.NewRequest("GET", "/commission", nil)
		w := httptest.NewRecorder()

		service.GetCommission(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var policy struct {
			Amount   string `json:"amount"`
			IsActive bool   `json:"is_active"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &policy))
		assert.Equal(t, "500", policy.Amount)
		assert.True(t, policy.IsActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set negative commission rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"amount": -10})
		r := httptest.NewRequest("PUT", "/commission", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.SetCommission(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
