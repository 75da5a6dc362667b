package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/larkspur/copdesk/internal/cop"
)

// User is a facilitator account. Role gates who may co-sign overrides.
type User struct {
	ID           string    `json:"id"`
	Handle       string    `json:"handle"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUser inserts a facilitator account with a pre-hashed password.
func (db *DB) CreateUser(handle, passwordHash, role string) (*User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, cop.Validationf("handle", "required")
	}
	switch role {
	case "", "facilitator":
		role = "facilitator"
	case "approver", "admin":
	default:
		return nil, cop.Validationf("role", "unknown role %q", role)
	}

	id := NewID()
	_, err := db.Exec(`
		INSERT INTO users (id, handle, password_hash, role)
		VALUES (?, ?, ?, ?)`, id, handle, passwordHash, role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, cop.Validationf("handle", "handle %q already taken", handle)
		}
		return nil, err
	}
	return db.GetUser(id)
}

// CountUsers returns the number of registered accounts.
func (db *DB) CountUsers() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// GetUser returns a user by ID.
func (db *DB) GetUser(id string) (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, handle, password_hash, role, created_at FROM users WHERE id = ?`, id))
}

// GetUserByHandle returns a user by handle.
func (db *DB) GetUserByHandle(handle string) (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, handle, password_hash, role, created_at FROM users WHERE handle = ?`, handle))
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Handle, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, cop.Validationf("user", "not found")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
