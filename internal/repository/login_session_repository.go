package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classdesk/classdesk-portal/internal/models"
)

type LoginSessionRepository struct {
	pool *pgxpool.Pool
}

func NewLoginSessionRepository(pool *pgxpool.Pool) *LoginSessionRepository {
	return &LoginSessionRepository{pool: pool}
}

func (r *LoginSessionRepository) Create(ctx context.Context, session *models.LoginSession) error {
	query := `
		INSERT INTO login_sessions (id, user_id, temp_token, code_hash, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TempToken,
		session.CodeHash,
		session.ExpiresAt,
	)
	return err
}

func (r *LoginSessionRepository) GetByTempToken(ctx context.Context, tempToken string) (*models.LoginSession, error) {
	query := `
		SELECT id, user_id, temp_token, code_hash, attempts, expires_at, created_at
		FROM login_sessions
		WHERE temp_token = $1
		LIMIT 1
	`

	var session models.LoginSession
	if err := r.pool.QueryRow(ctx, query, tempToken).Scan(
		&session.ID,
		&session.UserID,
		&session.TempToken,
		&session.CodeHash,
		&session.Attempts,
		&session.ExpiresAt,
		&session.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

// IncrementAttempts records one failed code entry and returns the new count.
func (r *LoginSessionRepository) IncrementAttempts(ctx context.Context, sessionID string) (int, error) {
	query := `
		UPDATE login_sessions
		SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

// Delete removes the session. A login session is single-use: it is deleted
// on successful verification, on lockout, and on expiry cleanup.
func (r *LoginSessionRepository) Delete(ctx context.Context, sessionID string) error {
	query := `DELETE FROM login_sessions WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, sessionID)
	return err
}

// DeleteExpired prunes abandoned sessions. Called periodically from main.
func (r *LoginSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM login_sessions WHERE expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
