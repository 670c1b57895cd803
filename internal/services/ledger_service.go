package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/payrolldesk/backend/internal/audit"
	"github.com/payrolldesk/backend/internal/config"
	"github.com/payrolldesk/backend/internal/models"
)

var (
	// ErrValidation marks caller-input failures: negative amounts, malformed
	// currency codes, missing required fields. Not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks updates addressed to a subject with no ledger entry.
	ErrNotFound = errors.New("not found")
)

// SalaryLedgerService is the core engine: it owns every mutation of salary
// entries, recomputes the derived fields on each write, and appends one
// immutable history record per committed update in the same transaction.
type SalaryLedgerService struct {
	db         *sql.DB
	commission *CommissionService
	subjects   *SubjectService
	audit      *audit.Logger
	config     *config.LedgerConfig
}

func NewSalaryLedgerService(db *sql.DB, commission *CommissionService, subjects *SubjectService) *SalaryLedgerService {
	return &SalaryLedgerService{
		db:         db,
		commission: commission,
		subjects:   subjects,
		audit:      audit.NewLogger(),
		config:     config.LoadLedgerConfig(),
	}
}

// SubmitInput is one salary submission from the public form.
type SubmitInput struct {
	Email         string
	Name          string
	LocalAmount   decimal.Decimal
	CurrencyCode  string
	Commission    *decimal.Decimal // nil: default from policy on create, keep existing on update
	EffectiveDate *time.Time       // nil: defaults to today on create
}

// UpdateFields carries a partial update; nil pointers leave the field as-is.
// ResetCommission refills commission from the active policy, which is what
// an explicit empty commission in a request means.
type UpdateFields struct {
	LocalAmount     *decimal.Decimal
	CurrencyCode    *string
	Commission      *decimal.Decimal
	ResetCommission bool
}

// BulkUpdateItem addresses one entry within a batch.
type BulkUpdateItem struct {
	SubjectID int64
	Fields    UpdateFields
	Reason    string
}

// Submit records a salary for the given email. The first submission for an
// email creates the subject's single ledger entry; every later submission
// for the same (case-insensitively matched) email updates that entry instead
// of creating another. Creation writes no history record: there is nothing
// to diff against.
func (s *SalaryLedgerService) Submit(ctx context.Context, in SubmitInput, actorID *int64) (*models.SalaryEntry, bool, error) {
	if err := validateSubmit(in); err != nil {
		return nil, false, err
	}

	subjectID, _, err := s.subjects.ResolveOrCreateByEmail(ctx, in.Email, in.Name)
	if err != nil {
		return nil, false, err
	}

	entry, created, err := s.submitForSubject(ctx, subjectID, in, actorID)
	if err != nil && isUniqueViolation(err) {
		// Lost the first-submission race: a concurrent request inserted the
		// entry between our existence check and our insert. The winner's row
		// is authoritative, so retry this submission as an update against it.
		log.Printf("[LEDGER] Insert conflict for subject %d, retrying as update", subjectID)
		entry, created, err = s.submitForSubject(ctx, subjectID, in, actorID)
	}
	if err != nil {
		s.audit.LogError("SUBMIT", subjectID, err)
		return nil, false, err
	}

	if created {
		s.audit.LogEntryCreated(subjectID, actorID, entry.DisplayedTotal)
	}
	return entry, created, nil
}

func (s *SalaryLedgerService) submitForSubject(ctx context.Context, subjectID int64, in SubmitInput, actorID *int64) (*models.SalaryEntry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.lockEntryTx(ctx, tx, subjectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if current != nil {
		// Resubmission: update the existing entry, preserving its commission
		// unless the caller explicitly supplied a new one.
		fields := UpdateFields{
			LocalAmount:  &in.LocalAmount,
			CurrencyCode: &in.CurrencyCode,
			Commission:   in.Commission,
		}
		updated, err := s.applyUpdateTx(ctx, tx, current, fields, actorID, s.config.DefaultChangeReason)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit salary update: %w", err)
		}
		s.audit.LogEntryUpdated(subjectID, actorID, current.DisplayedTotal, updated.DisplayedTotal, s.config.DefaultChangeReason)
		return updated, false, nil
	}

	var commission decimal.Decimal
	if in.Commission != nil {
		commission = *in.Commission
	} else {
		commission, err = s.commission.activeAmount(ctx, tx)
		if err != nil {
			return nil, false, err
		}
	}

	effectiveDate := time.Now()
	if in.EffectiveDate != nil {
		effectiveDate = *in.EffectiveDate
	}

	referenceAmount := ToReference(in.LocalAmount, in.CurrencyCode)
	displayedTotal := DisplayedTotal(referenceAmount, commission)

	entry := &models.SalaryEntry{
		SubjectID:       subjectID,
		LocalAmount:     in.LocalAmount,
		LocalCurrency:   in.CurrencyCode,
		ReferenceAmount: referenceAmount,
		Commission:      commission,
		DisplayedTotal:  displayedTotal,
		EffectiveDate:   effectiveDate,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO salary_entries (subject_id, local_amount, local_currency_code, reference_amount, commission, displayed_total, effective_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		subjectID, in.LocalAmount, in.CurrencyCode, referenceAmount, commission, displayedTotal, effectiveDate,
	).Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit salary entry: %w", err)
	}
	return entry, true, nil
}

// Update applies a partial update to the subject's entry, recomputes the
// derived fields, and appends the history record in the same transaction.
// A zero-delta update still writes a history record: the audit trail records
// every committed write, not just effective changes.
func (s *SalaryLedgerService) Update(ctx context.Context, subjectID int64, fields UpdateFields, actorID *int64, reason string) (*models.SalaryEntry, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = s.config.DefaultChangeReason
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.lockEntryTx(ctx, tx, subjectID)
	if err != nil {
		return nil, err
	}

	updated, err := s.applyUpdateTx(ctx, tx, current, fields, actorID, reason)
	if err != nil {
		s.audit.LogError("UPDATE", subjectID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.audit.LogError("UPDATE", subjectID, err)
		return nil, fmt.Errorf("failed to commit salary update: %w", err)
	}

	s.audit.LogEntryUpdated(subjectID, actorID, current.DisplayedTotal, updated.DisplayedTotal, reason)
	return updated, nil
}

// BulkUpdate applies each item independently inside one outer transaction,
// using a savepoint per item so a failed item rolls back alone while the
// successful subset still commits. Best-effort by design, not all-or-nothing.
func (s *SalaryLedgerService) BulkUpdate(ctx context.Context, items []BulkUpdateItem, actorID *int64) (*models.BulkResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no updates provided", ErrValidation)
	}
	if len(items) > s.config.MaxBulkSize {
		return nil, fmt.Errorf("%w: batch size exceeds limit (%d)", ErrValidation, s.config.MaxBulkSize)
	}

	result := &models.BulkResult{BatchID: uuid.NewString(), Errors: []string{}}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, item := range items {
		savepoint := fmt.Sprintf("bulk_item_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("failed to create savepoint: %w", err)
		}

		itemErr := s.applyBulkItemTx(ctx, tx, item, actorID)
		if itemErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
				return nil, fmt.Errorf("failed to roll back savepoint: %w", err)
			}
			result.FailureCount++
			result.Errors = append(result.Errors, fmt.Sprintf("subject %d: %v", item.SubjectID, itemErr))
			continue
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("failed to release savepoint: %w", err)
		}
		result.SuccessCount++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bulk update: %w", err)
	}

	s.audit.LogBulkUpdate(result.BatchID, actorID, result.SuccessCount, result.FailureCount)
	return result, nil
}

func (s *SalaryLedgerService) applyBulkItemTx(ctx context.Context, tx *sql.Tx, item BulkUpdateItem, actorID *int64) error {
	if err := validateFields(item.Fields); err != nil {
		return err
	}
	reason := item.Reason
	if reason == "" {
		reason = s.config.DefaultChangeReason
	}

	current, err := s.lockEntryTx(ctx, tx, item.SubjectID)
	if err != nil {
		return err
	}
	_, err = s.applyUpdateTx(ctx, tx, current, item.Fields, actorID, reason)
	return err
}

// GetHistory returns one page of the subject's audit trail, newest first.
// Read-only; history rows are never mutated.
func (s *SalaryLedgerService) GetHistory(ctx context.Context, subjectID int64, page, perPage int) (*models.HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = s.config.DefaultPageSize
	}
	if perPage > s.config.MaxPageSize {
		perPage = s.config.MaxPageSize
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM salary_histories WHERE subject_id = $1`, subjectID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count history records: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, old_reference_amount, new_reference_amount, old_commission, new_commission, old_displayed_total, new_displayed_total, changed_by, change_reason, created_at
		FROM salary_histories
		WHERE subject_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		subjectID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to query history records: %w", err)
	}
	defer rows.Close()

	result := &models.HistoryPage{Page: page, PerPage: perPage, Total: total, Records: []models.SalaryHistoryRecord{}}
	for rows.Next() {
		var rec models.SalaryHistoryRecord
		if err := rows.Scan(
			&rec.ID, &rec.SubjectID,
			&rec.OldReferenceAmount, &rec.NewReferenceAmount,
			&rec.OldCommission, &rec.NewCommission,
			&rec.OldDisplayedTotal, &rec.NewDisplayedTotal,
			&rec.ChangedBy, &rec.ChangeReason, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		result.Records = append(result.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history records: %w", err)
	}
	return result, nil
}

// GetEntry loads the current entry for a subject without locking it.
func (s *SalaryLedgerService) GetEntry(ctx context.Context, subjectID int64) (*models.SalaryEntry, error) {
	var entry models.SalaryEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, local_amount, local_currency_code, reference_amount, commission, displayed_total, effective_date, created_at, updated_at
		FROM salary_entries
		WHERE subject_id = $1`, subjectID).Scan(
		&entry.ID, &entry.SubjectID, &entry.LocalAmount, &entry.LocalCurrency,
		&entry.ReferenceAmount, &entry.Commission, &entry.DisplayedTotal,
		&entry.EffectiveDate, &entry.CreatedAt, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no salary entry for subject %d", ErrNotFound, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load salary entry: %w", err)
	}
	return &entry, nil
}

// ListEntries returns one page of entries joined with their subjects,
// optionally filtered by a case-insensitive match on name or email.
func (s *SalaryLedgerService) ListEntries(ctx context.Context, search string, page, perPage int) ([]models.SalaryEntryWithSubject, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = s.config.DefaultPageSize
	}
	if perPage > s.config.MaxPageSize {
		perPage = s.config.MaxPageSize
	}

	pattern := "%" + search + "%"

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM salary_entries e
		JOIN subjects s ON s.id = e.subject_id
		WHERE s.name ILIKE $1 OR s.email ILIKE $1`,
		pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count salary entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.subject_id, s.name, s.email, e.local_amount, e.local_currency_code, e.reference_amount, e.commission, e.displayed_total, e.effective_date, e.created_at, e.updated_at
		FROM salary_entries e
		JOIN subjects s ON s.id = e.subject_id
		WHERE s.name ILIKE $1 OR s.email ILIKE $1
		ORDER BY e.id
		LIMIT $2 OFFSET $3`,
		pattern, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query salary entries: %w", err)
	}
	defer rows.Close()

	entries := []models.SalaryEntryWithSubject{}
	for rows.Next() {
		var e models.SalaryEntryWithSubject
		if err := rows.Scan(
			&e.ID, &e.SubjectID, &e.SubjectName, &e.SubjectEmail,
			&e.LocalAmount, &e.LocalCurrency, &e.ReferenceAmount,
			&e.Commission, &e.DisplayedTotal, &e.EffectiveDate,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan salary entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read salary entries: %w", err)
	}
	return entries, total, nil
}

// lockEntryTx reads the subject's entry FOR UPDATE so the snapshot-compute-
// write sequence is atomic per subject; concurrent updates to the same
// subject serialize on this row lock.
func (s *SalaryLedgerService) lockEntryTx(ctx context.Context, tx *sql.Tx, subjectID int64) (*models.SalaryEntry, error) {
	var entry models.SalaryEntry
	err := tx.QueryRowContext(ctx, `
		SELECT id, subject_id, local_amount, local_currency_code, reference_amount, commission, displayed_total, effective_date, created_at, updated_at
		FROM salary_entries
		WHERE subject_id = $1
		FOR UPDATE`, subjectID).Scan(
		&entry.ID, &entry.SubjectID, &entry.LocalAmount, &entry.LocalCurrency,
		&entry.ReferenceAmount, &entry.Commission, &entry.DisplayedTotal,
		&entry.EffectiveDate, &entry.CreatedAt, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no salary entry for subject %d", ErrNotFound, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock salary entry: %w", err)
	}
	return &entry, nil
}

// applyUpdateTx mutates the locked entry and appends the history record in
// the caller's transaction. Either both writes commit or neither does.
func (s *SalaryLedgerService) applyUpdateTx(ctx context.Context, tx *sql.Tx, current *models.SalaryEntry, fields UpdateFields, actorID *int64, reason string) (*models.SalaryEntry, error) {
	updated := *current

	if fields.LocalAmount != nil {
		updated.LocalAmount = *fields.LocalAmount
	}
	if fields.CurrencyCode != nil {
		updated.LocalCurrency = *fields.CurrencyCode
	}
	switch {
	case fields.Commission != nil:
		updated.Commission = *fields.Commission
	case fields.ResetCommission:
		amount, err := s.commission.activeAmount(ctx, tx)
		if err != nil {
			return nil, err
		}
		updated.Commission = amount
	}

	updated.ReferenceAmount = ToReference(updated.LocalAmount, updated.LocalCurrency)
	updated.DisplayedTotal = DisplayedTotal(updated.ReferenceAmount, updated.Commission)

	err := tx.QueryRowContext(ctx, `
		UPDATE salary_entries
		SET local_amount = $1, local_currency_code = $2, reference_amount = $3, commission = $4, displayed_total = $5, updated_at = NOW()
		WHERE subject_id = $6
		RETURNING updated_at`,
		updated.LocalAmount, updated.LocalCurrency, updated.ReferenceAmount,
		updated.Commission, updated.DisplayedTotal, current.SubjectID,
	).Scan(&updated.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update salary entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO salary_histories (subject_id, old_reference_amount, new_reference_amount, old_commission, new_commission, old_displayed_total, new_displayed_total, changed_by, change_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		current.SubjectID,
		current.ReferenceAmount, updated.ReferenceAmount,
		current.Commission, updated.Commission,
		current.DisplayedTotal, updated.DisplayedTotal,
		actorID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to append history record: %w", err)
	}

	return &updated, nil
}

func validateSubmit(in SubmitInput) error {
	if in.Email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.LocalAmount.IsNegative() {
		return fmt.Errorf("%w: salary amount must not be negative", ErrValidation)
	}
	if !ValidCurrencyCode(in.CurrencyCode) {
		return fmt.Errorf("%w: currency code must be 3 uppercase letters", ErrValidation)
	}
	if in.Commission != nil && in.Commission.IsNegative() {
		return fmt.Errorf("%w: commission must not be negative", ErrValidation)
	}
	return nil
}

func validateFields(fields UpdateFields) error {
	if fields.LocalAmount == nil && fields.CurrencyCode == nil && fields.Commission == nil && !fields.ResetCommission {
		return fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if fields.LocalAmount != nil && fields.LocalAmount.IsNegative() {
		return fmt.Errorf("%w: salary amount must not be negative", ErrValidation)
	}
	if fields.CurrencyCode != nil && !ValidCurrencyCode(*fields.CurrencyCode) {
		return fmt.Errorf("%w: currency code must be 3 uppercase letters", ErrValidation)
	}
	if fields.Commission != nil && fields.Commission.IsNegative() {
		return fmt.Errorf("%w: commission must not be negative", ErrValidation)
	}
	if fields.Commission != nil && fields.ResetCommission {
		return fmt.Errorf("%w: commission and reset_commission are mutually exclusive", ErrValidation)
	}
	return nil
}
