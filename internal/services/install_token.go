package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CallumSergeant/alarm/internal/store"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// InstallTokenRepository stores one-time install tokens.
type InstallTokenRepository interface {
	Create(ctx context.Context, tok *models.InstallToken) error
	Get(ctx context.Context, token string) (*models.InstallToken, error)

	// Consume marks token used if it is unused and unexpired at now. It
	// reports whether this call performed the transition.
	Consume(ctx context.Context, token string, now time.Time) (bool, error)
}

// Compile-time interface guard.
var _ InstallTokenRepository = (*SQLiteInstallTokenRepository)(nil)

// SQLiteInstallTokenRepository implements InstallTokenRepository using SQLite.
type SQLiteInstallTokenRepository struct {
	db DBTX
}

func NewSQLiteInstallTokenRepository(db DBTX) *SQLiteInstallTokenRepository {
	return &SQLiteInstallTokenRepository{db: db}
}

func (r *SQLiteInstallTokenRepository) Create(ctx context.Context, tok *models.InstallToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO install_tokens (token, created_at, expires_at, is_used, used_at)
		VALUES (?, ?, ?, ?, ?)`,
		tok.Token, tok.CreatedAt.UTC(), tok.ExpiresAt.UTC(), tok.IsUsed, nullTime(tok.UsedAt),
	)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create install token: %w", err)
	}
	return nil
}

func (r *SQLiteInstallTokenRepository) Get(ctx context.Context, token string) (*models.InstallToken, error) {
	var tok models.InstallToken
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT token, created_at, expires_at, is_used, used_at
		FROM install_tokens WHERE token = ?`, token,
	).Scan(&tok.Token, &tok.CreatedAt, &tok.ExpiresAt, &tok.IsUsed, &usedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get install token: %w", err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		tok.UsedAt = &t
	}
	return &tok, nil
}

func (r *SQLiteInstallTokenRepository) Consume(ctx context.Context, token string, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE install_tokens
		SET is_used = 1, used_at = ?
		WHERE token = ? AND is_used = 0 AND expires_at > ?`,
		now, token, now,
	)
	if err != nil {
		return false, fmt.Errorf("consume install token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume install token: %w", err)
	}
	return n == 1, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
