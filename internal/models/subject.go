package models

import "time"

// Subject is the person a salary entry belongs to. Subjects are owned by the
// user-management side of the system; the ledger only resolves them by email
// and attaches entries to their ids.
type Subject struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"` // compared case-insensitively
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Admin is a back-office account allowed to view and edit salary entries.
type Admin struct {
	ID        int64     `json:"id" example:"1"`
	Email     string    `json:"email" example:"admin@example.com"`
	Name      string    `json:"name" example:"Jane Admin"`
	CreatedAt time.Time `json:"created_at"`
}
