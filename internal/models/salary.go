package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalaryEntry is the single current-state salary record per subject.
// reference_amount and displayed_total are derived fields; they are recomputed
// on every write and never settable by callers.
type SalaryEntry struct {
	ID              int64           `json:"id" db:"id"`
	SubjectID       int64           `json:"subject_id" db:"subject_id"`
	LocalAmount     decimal.Decimal `json:"local_amount" db:"local_amount"`
	LocalCurrency   string          `json:"local_currency_code" db:"local_currency_code"`
	ReferenceAmount decimal.Decimal `json:"reference_amount" db:"reference_amount"` // local_amount converted to EUR
	Commission      decimal.Decimal `json:"commission" db:"commission"`
	DisplayedTotal  decimal.Decimal `json:"displayed_total" db:"displayed_total"` // reference_amount + commission
	EffectiveDate   time.Time       `json:"effective_date" db:"effective_date"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// SalaryHistoryRecord is an immutable audit row describing one committed
// change to a salary entry. Rows are append-only: never updated or deleted.
type SalaryHistoryRecord struct {
	ID                 int64           `json:"id" db:"id"`
	SubjectID          int64           `json:"subject_id" db:"subject_id"`
	OldReferenceAmount decimal.Decimal `json:"old_reference_amount" db:"old_reference_amount"`
	NewReferenceAmount decimal.Decimal `json:"new_reference_amount" db:"new_reference_amount"`
	OldCommission      decimal.Decimal `json:"old_commission" db:"old_commission"`
	NewCommission      decimal.Decimal `json:"new_commission" db:"new_commission"`
	OldDisplayedTotal  decimal.Decimal `json:"old_displayed_total" db:"old_displayed_total"`
	NewDisplayedTotal  decimal.Decimal `json:"new_displayed_total" db:"new_displayed_total"`
	ChangedBy          *int64          `json:"changed_by" db:"changed_by"` // nil for system-initiated changes
	ChangeReason       string          `json:"change_reason" db:"change_reason"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// CommissionPolicy is one version of the global default commission. Exactly
// one row is active at a time; superseded rows are deactivated, not deleted.
type CommissionPolicy struct {
	ID        int64           `json:"id" db:"id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// BulkResult summarizes a best-effort batch update: successes are committed
// even when other items in the same batch fail.
type BulkResult struct {
	BatchID      string   `json:"batch_id"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Errors       []string `json:"errors"`
}

// SalaryEntryWithSubject is a listing row: the entry joined with the name
// and email of the subject it belongs to.
type SalaryEntryWithSubject struct {
	ID              int64           `json:"id"`
	SubjectID       int64           `json:"subject_id"`
	SubjectName     string          `json:"subject_name"`
	SubjectEmail    string          `json:"subject_email"`
	LocalAmount     decimal.Decimal `json:"local_amount"`
	LocalCurrency   string          `json:"local_currency_code"`
	ReferenceAmount decimal.Decimal `json:"reference_amount"`
	Commission      decimal.Decimal `json:"commission"`
	DisplayedTotal  decimal.Decimal `json:"displayed_total"`
	EffectiveDate   time.Time       `json:"effective_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HistoryPage is one page of a subject's audit trail, newest first.
type HistoryPage struct {
	Records []SalaryHistoryRecord `json:"records"`
	Total   int                   `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}
