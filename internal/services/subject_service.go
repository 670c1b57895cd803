package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lib/pq"

	"github.com/payrolldesk/backend/internal/models"
)

type SubjectService struct {
	db *sql.DB
}

func NewSubjectService(db *sql.DB) *SubjectService {
	return &SubjectService{db: db}
}

// ResolveOrCreateByEmail finds the subject with the given email, matched
// case-insensitively, or creates one. The unique index on lower(email) is
// the backstop for concurrent creates of the same new address: the loser's
// insert hits 23505 and re-reads the winner's row.
func (s *SubjectService) ResolveOrCreateByEmail(ctx context.Context, email, name string) (subjectID int64, wasCreated bool, err error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, false, fmt.Errorf("%w: email is required", ErrValidation)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM subjects WHERE lower(email) = lower($1)`, email).Scan(&subjectID)
	if err == nil {
		return subjectID, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to look up subject: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO subjects (name, email) VALUES ($1, $2) RETURNING id`,
		name, strings.ToLower(email)).Scan(&subjectID)
	if err == nil {
		log.Printf("[SUBJECT] Created subject %d for email %s", subjectID, strings.ToLower(email))
		return subjectID, true, nil
	}

	if isUniqueViolation(err) {
		// Concurrent create won the race; their row is authoritative.
		err = s.db.QueryRowContext(ctx,
			`SELECT id FROM subjects WHERE lower(email) = lower($1)`, email).Scan(&subjectID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to re-read subject after insert conflict: %w", err)
		}
		return subjectID, false, nil
	}

	return 0, false, fmt.Errorf("failed to create subject: %w", err)
}

// GetByID loads one subject.
func (s *SubjectService) GetByID(ctx context.Context, id int64) (*models.Subject, error) {
	var subject models.Subject
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM subjects
		WHERE id = $1`, id).Scan(&subject.ID, &subject.Name, &subject.Email, &subject.CreatedAt, &subject.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: subject %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}
	return &subject, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
