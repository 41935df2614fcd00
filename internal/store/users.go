package store

import (
	"database/sql"
	"errors"
	"fmt"

	"mattone/internal/models"
)

const userColumns = `id, subject, email, name, created_at, updated_at`

func scanUser(scanner rowScanner) (models.User, error) {
	var u models.User
	err := scanner.Scan(&u.ID, &u.Subject, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetOrCreateUserBySubject returns the tenant owning the identity-provider
// subject, creating it on first sight. Concurrent first requests for the same
// subject converge on one row.
func (s *Store) GetOrCreateUserBySubject(subject, email, name string) (*models.User, error) {
	if subject == "" {
		return nil, errors.New("subject is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, subject, email, name) VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject) DO NOTHING`,
		newID(), subject, email, name,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	u, err := scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE subject = ?`, subject,
	))
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if (email != "" && email != u.Email) || (name != "" && name != u.Name) {
		if email == "" {
			email = u.Email
		}
		if name == "" {
			name = u.Name
		}
		if _, err := s.db.Exec(
			`UPDATE users SET email = ?, name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			email, name, u.ID,
		); err != nil {
			return nil, fmt.Errorf("refreshing user profile: %w", err)
		}
		u.Email, u.Name = email, name
	}
	return &u, nil
}

func (s *Store) GetUser(id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}
