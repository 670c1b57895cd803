package services

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/payrolldesk/backend/internal/config"
	"github.com/payrolldesk/backend/internal/middleware"
)

// SalaryService exposes the ledger over HTTP: the public submission form,
// the admin table (list/update/bulk/history), CSV export, and the
// commission policy endpoints.
type SalaryService struct {
	ledger     *SalaryLedgerService
	commission *CommissionService
	redis      *redis.Client
	validator  *ValidationHelper
	config     *config.LedgerConfig
}

func NewSalaryService(ledger *SalaryLedgerService, commission *CommissionService, redisClient *redis.Client) *SalaryService {
	return &SalaryService{
		ledger:     ledger,
		commission: commission,
		redis:      redisClient,
		validator:  NewValidationHelper(),
		config:     config.LoadLedgerConfig(),
	}
}

// SubmitSalaryRequest is the public submission form payload.
// @Description Salary submission request structure
type SubmitSalaryRequest struct {
	Name          string           `json:"name" validate:"required,min=2" example:"John Doe"`
	Email         string           `json:"email" validate:"required,email" example:"john@example.com"`
	LocalAmount   decimal.Decimal  `json:"local_amount" example:"1000"`
	LocalCurrency string           `json:"local_currency_code" validate:"required,len=3" example:"USD"`
	Commission    *decimal.Decimal `json:"commission,omitempty"`
}

// UpdateSalaryRequest is a partial admin edit of one entry.
// @Description Salary update request structure
type UpdateSalaryRequest struct {
	LocalAmount     *decimal.Decimal `json:"local_amount,omitempty"`
	LocalCurrency   *string          `json:"local_currency_code,omitempty"`
	Commission      *decimal.Decimal `json:"commission,omitempty"`
	ResetCommission bool             `json:"reset_commission,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// BulkUpdateRequest carries a best-effort batch of entry updates.
type BulkUpdateRequest struct {
	Updates []struct {
		SubjectID int64 `json:"subject_id" validate:"required"`
		UpdateSalaryRequest
	} `json:"updates" validate:"required,min=1"`
}

// SetCommissionRequest sets the active default commission.
type SetCommissionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// SubmitSalary handles the public salary submission form
// @Summary Submit a salary record
// @Description Create or update the salary entry for the submitted email
// @Tags salaries
// @Accept json
// @Produce json
// @Param request body SubmitSalaryRequest true "Submission"
// @Success 200 {object} models.SalaryEntry
// @Success 201 {object} models.SalaryEntry
// @Failure 400 {object} ErrorResponse
// @Router /salaries [post]
func (s *SalaryService) SubmitSalary(w http.ResponseWriter, r *http.Request) {
	var req SubmitSalaryRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, created, err := s.ledger.Submit(r.Context(), SubmitInput{
		Email:        req.Email,
		Name:         req.Name,
		LocalAmount:  req.LocalAmount,
		CurrencyCode: strings.ToUpper(req.LocalCurrency),
		Commission:   req.Commission,
	}, actorFromContext(r.Context()))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	s.invalidateListCache(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"created": created,
		"entry":   entry,
	})
}

// ListSalaries returns the paginated admin table
// @Summary List salary entries
// @Description Paginated salary entries with optional name/email search
// @Tags salaries
// @Produce json
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Param search query string false "Case-insensitive name/email filter"
// @Success 200 {object} map[string]any
// @Router /salaries [get]
func (s *SalaryService) ListSalaries(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	search := r.URL.Query().Get("search")

	if cached, ok := s.readListCache(r.Context(), search, page, perPage); ok {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.Write(cached)
		return
	}

	entries, total, err := s.ledger.ListEntries(r.Context(), search, page, perPage)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	body, err := json.Marshal(map[string]any{
		"entries":  entries,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
	if err != nil {
		SendErrorResponse(w, "Failed to encode response", http.StatusInternalServerError, nil)
		return
	}

	s.writeListCache(r.Context(), search, page, perPage, body)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// UpdateSalary applies an admin edit to one entry
// @Summary Update a salary entry
// @Description Partial update of one subject's salary entry; writes a history record
// @Tags salaries
// @Accept json
// @Produce json
// @Param subjectId path int true "Subject ID"
// @Param request body UpdateSalaryRequest true "Fields to change"
// @Success 200 {object} models.SalaryEntry
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /salaries/{subjectId} [put]
func (s *SalaryService) UpdateSalary(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "subjectId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid subject id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateSalaryRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	fields := UpdateFields{
		LocalAmount:     req.LocalAmount,
		Commission:      req.Commission,
		ResetCommission: req.ResetCommission,
	}
	if req.LocalCurrency != nil {
		upper := strings.ToUpper(*req.LocalCurrency)
		fields.CurrencyCode = &upper
	}

	entry, err := s.ledger.Update(r.Context(), subjectID, fields, actorFromContext(r.Context()), req.Reason)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	s.invalidateListCache(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// BulkUpdateSalaries applies a best-effort batch of edits
// @Summary Bulk-update salary entries
// @Description Applies each update independently; failures are reported, successes commit
// @Tags salaries
// @Accept json
// @Produce json
// @Param request body BulkUpdateRequest true "Batch of updates"
// @Success 200 {object} models.BulkResult
// @Failure 400 {object} ErrorResponse
// @Router /salaries/bulk [post]
func (s *SalaryService) BulkUpdateSalaries(w http.ResponseWriter, r *http.Request) {
	var req BulkUpdateRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	items := make([]BulkUpdateItem, 0, len(req.Updates))
	for _, u := range req.Updates {
		fields := UpdateFields{
			LocalAmount:     u.LocalAmount,
			Commission:      u.Commission,
			ResetCommission: u.ResetCommission,
		}
		if u.LocalCurrency != nil {
			upper := strings.ToUpper(*u.LocalCurrency)
			fields.CurrencyCode = &upper
		}
		items = append(items, BulkUpdateItem{SubjectID: u.SubjectID, Fields: fields, Reason: u.Reason})
	}

	result, err := s.ledger.BulkUpdate(r.Context(), items, actorFromContext(r.Context()))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	s.invalidateListCache(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetSalaryHistory returns the audit trail for one subject
// @Summary Salary change history
// @Description Paginated immutable history records, newest first
// @Tags salaries
// @Produce json
// @Param subjectId path int true "Subject ID"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Success 200 {object} models.HistoryPage
// @Failure 404 {object} ErrorResponse
// @Router /salaries/{subjectId}/history [get]
func (s *SalaryService) GetSalaryHistory(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "subjectId"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid subject id", http.StatusBadRequest, nil)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	history, err := s.ledger.GetHistory(r.Context(), subjectID, page, perPage)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// ExportSalaries streams the current entries as CSV
// @Summary Export salary entries
// @Description CSV export of all current salary entries
// @Tags salaries
// @Produce text/csv
// @Success 200 {string} string "CSV data"
// @Router /salaries/export [get]
func (s *SalaryService) ExportSalaries(w http.ResponseWriter, r *http.Request) {
	// Fetch the first page before committing to a CSV response so a storage
	// failure still gets a proper error status instead of an empty 200.
	entries, _, err := s.ledger.ListEntries(r.Context(), "", 1, s.config.MaxPageSize)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="salaries-%s.csv"`, time.Now().Format("2006-01-02")))

	writer := csv.NewWriter(w)
	writer.Write([]string{"subject_id", "name", "email", "local_amount", "local_currency", "reference_amount", "commission", "displayed_total", "effective_date"})

	for page := 1; ; page++ {
		if page > 1 {
			entries, _, err = s.ledger.ListEntries(r.Context(), "", page, s.config.MaxPageSize)
			if err != nil {
				// The 200 header is already on the wire; stop without
				// flushing the buffered page so the truncation lands on a
				// row boundary rather than mid-record.
				log.Printf("[SALARY] CSV export aborted at page %d: %v", page, err)
				return
			}
		}
		for _, e := range entries {
			writer.Write([]string{
				strconv.FormatInt(e.SubjectID, 10),
				e.SubjectName,
				e.SubjectEmail,
				e.LocalAmount.StringFixed(2),
				e.LocalCurrency,
				e.ReferenceAmount.StringFixed(2),
				e.Commission.StringFixed(2),
				e.DisplayedTotal.StringFixed(2),
				e.EffectiveDate.Format("2006-01-02"),
			})
		}
		writer.Flush()
		if len(entries) < s.config.MaxPageSize {
			return
		}
	}
}

// GetCommission returns the active commission policy
// @Summary Active commission policy
// @Tags commission
// @Produce json
// @Success 200 {object} models.CommissionPolicy
// @Router /commission [get]
func (s *SalaryService) GetCommission(w http.ResponseWriter, r *http.Request) {
	policy, err := s.commission.Active(r.Context())
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policy)
}

// SetCommission activates a new default commission policy
// @Summary Set the active commission
// @Tags commission
// @Accept json
// @Produce json
// @Param request body SetCommissionRequest true "New amount"
// @Success 200 {object} models.CommissionPolicy
// @Failure 400 {object} ErrorResponse
// @Router /commission [put]
func (s *SalaryService) SetCommission(w http.ResponseWriter, r *http.Request) {
	var req SetCommissionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	policy, err := s.commission.SetActive(r.Context(), req.Amount)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policy)
}

func (s *SalaryService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func (s *SalaryService) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded):
		SendErrorResponse(w, "Storage temporarily unavailable", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[SALARY] Internal error: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

// List responses are cached under a versioned namespace; writes bump the
// version instead of enumerating keys, so stale pages simply age out.
func (s *SalaryService) listCacheKey(ctx context.Context, search string, page, perPage int) (string, bool) {
	if s.redis == nil {
		return "", false
	}
	ver, err := s.redis.Get(ctx, "salaries:list:ver").Int64()
	if err != nil && err != redis.Nil {
		return "", false
	}
	return fmt.Sprintf("salaries:list:%d:%s:%d:%d", ver, search, page, perPage), true
}

func (s *SalaryService) readListCache(ctx context.Context, search string, page, perPage int) ([]byte, bool) {
	key, ok := s.listCacheKey(ctx, search, page, perPage)
	if !ok {
		return nil, false
	}
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *SalaryService) writeListCache(ctx context.Context, search string, page, perPage int, body []byte) {
	key, ok := s.listCacheKey(ctx, search, page, perPage)
	if !ok {
		return
	}
	if err := s.redis.Set(ctx, key, body, s.config.ListCacheTTL).Err(); err != nil {
		log.Printf("[SALARY] Failed to cache list response: %v", err)
	}
}

func (s *SalaryService) invalidateListCache(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Incr(ctx, "salaries:list:ver").Err(); err != nil {
		log.Printf("[SALARY] Failed to invalidate list cache: %v", err)
	}
}

// actorFromContext extracts the authenticated admin id placed in the request
// context by the auth middleware. Nil for unauthenticated (public form)
// requests, which the history rows record as system-initiated changes.
func actorFromContext(ctx context.Context) *int64 {
	v, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
