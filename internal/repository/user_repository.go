package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,name,password_hash,role,created_at,updated_at"

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Create inserts a user. The password must already be hashed.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?)",
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if isDuplicate(err) {
		return ErrEmailExists
	}
	return classify(err)
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	return u, classify(err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return u, classify(err)
}

// UpdateName changes the display name and returns the updated row.
func (r *UserRepo) UpdateName(ctx context.Context, id, name string, now time.Time) (model.User, error) {
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET name=?, updated_at=? WHERE id=?", name, now.UTC(), id)
	if err != nil {
		return model.User{}, classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return r.GetByID(ctx, id)
}
