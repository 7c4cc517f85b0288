package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classdesk/classdesk-portal/internal/models"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `
		SELECT id, name, email, role, COALESCE(school_id, ''), password_hash,
		       status, two_factor_enabled, first_login, token_version,
		       created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
		LIMIT 1
	`

	var account models.Account
	var role string
	if err := r.pool.QueryRow(ctx, query, email).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&role,
		&account.SchoolID,
		&account.PasswordHash,
		&account.Status,
		&account.TwoFactorEnabled,
		&account.FirstLogin,
		&account.TokenVersion,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	account.Role = models.Role(role)
	return &account, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT id, name, email, role, COALESCE(school_id, ''), password_hash,
		       status, two_factor_enabled, first_login, token_version,
		       created_at, updated_at
		FROM users
		WHERE id = $1
		LIMIT 1
	`

	var account models.Account
	var role string
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&role,
		&account.SchoolID,
		&account.PasswordHash,
		&account.Status,
		&account.TwoFactorEnabled,
		&account.FirstLogin,
		&account.TokenVersion,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	account.Role = models.Role(role)
	return &account, nil
}

// UpdatePassword replaces the stored hash and clears the first-login flag.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, first_login = FALSE, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.pool.Exec(ctx, query, passwordHash, userID)
	return err
}

// BumpTokenVersion invalidates every refresh token issued before now.
func (r *UserRepository) BumpTokenVersion(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET token_version = token_version + 1, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}
