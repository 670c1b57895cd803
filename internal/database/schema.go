package database

import (
	"database/sql"
	"log"
)

// EnsureSchema creates the tables and indexes the ledger needs if they do
// not exist yet. Statements are idempotent so startup can run this on every
// boot.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subjects (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS subjects_email_lower_idx ON subjects (lower(email))`,
		`CREATE TABLE IF NOT EXISTS admins (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS salary_entries (
			id BIGSERIAL PRIMARY KEY,
			subject_id BIGINT NOT NULL UNIQUE REFERENCES subjects(id),
			local_amount NUMERIC(14,2) NOT NULL CHECK (local_amount >= 0),
			local_currency_code CHAR(3) NOT NULL,
			reference_amount NUMERIC(14,2) NOT NULL CHECK (reference_amount >= 0),
			commission NUMERIC(14,2) NOT NULL CHECK (commission >= 0),
			displayed_total NUMERIC(14,2) NOT NULL,
			effective_date DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS salary_histories (
			id BIGSERIAL PRIMARY KEY,
			subject_id BIGINT NOT NULL REFERENCES subjects(id),
			old_reference_amount NUMERIC(14,2) NOT NULL,
			new_reference_amount NUMERIC(14,2) NOT NULL,
			old_commission NUMERIC(14,2) NOT NULL,
			new_commission NUMERIC(14,2) NOT NULL,
			old_displayed_total NUMERIC(14,2) NOT NULL,
			new_displayed_total NUMERIC(14,2) NOT NULL,
			changed_by BIGINT NULL REFERENCES admins(id),
			change_reason TEXT NOT NULL DEFAULT 'salary update',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS salary_histories_subject_idx ON salary_histories (subject_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS commission_policies (
			id BIGSERIAL PRIMARY KEY,
			amount NUMERIC(14,2) NOT NULL CHECK (amount >= 0),
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS commission_policies_active_idx ON commission_policies (is_active) WHERE is_active`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("Schema statement failed: %v", err)
			return err
		}
	}

	log.Println("Database schema verified")
	return nil
}
