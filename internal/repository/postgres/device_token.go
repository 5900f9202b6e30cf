package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
)

type deviceTokenRepository struct {
	db *sqlx.DB
}

func NewDeviceTokenRepository(db *sqlx.DB) repository.DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

// Register upserts on the token value: re-registering an existing token
// reactivates it and reassigns it to the current user.
func (r *deviceTokenRepository) Register(ctx context.Context, token *model.DeviceToken) error {
	query := `
		INSERT INTO device_tokens (
			id, user_id, token, platform, is_active, last_used_at, created_at
		) VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		ON CONFLICT (token)
		DO UPDATE SET user_id = EXCLUDED.user_id, is_active = TRUE, last_used_at = EXCLUDED.last_used_at
	`
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	now := time.Now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.IsActive = true
	token.LastUsedAt = now

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.Token,
		token.Platform,
		token.LastUsedAt,
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

func (r *deviceTokenRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error) {
	query := `
		SELECT id, user_id, token, platform, is_active, last_used_at, created_at
		FROM device_tokens
		WHERE user_id = $1 AND is_active = TRUE
	`
	var tokens []*model.DeviceToken
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	return tokens, nil
}

func (r *deviceTokenRepository) ListActiveByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*model.DeviceToken, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, user_id, token, platform, is_active, last_used_at, created_at
		FROM device_tokens
		WHERE user_id IN (?) AND is_active = TRUE
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	query = r.db.Rebind(query)

	var tokens []*model.DeviceToken
	if err := r.db.SelectContext(ctx, &tokens, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	return tokens, nil
}

// MarkInvalid soft-deletes a token the provider reported as permanently
// invalid so future fan-outs skip it.
func (r *deviceTokenRepository) MarkInvalid(ctx context.Context, token string) error {
	query := `UPDATE device_tokens SET is_active = FALSE WHERE token = $1`

	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to mark device token invalid: %w", err)
	}
	return nil
}

func (r *deviceTokenRepository) TouchLastUsed(ctx context.Context, token string) error {
	query := `UPDATE device_tokens SET last_used_at = $1 WHERE token = $2`

	if _, err := r.db.ExecContext(ctx, query, time.Now(), token); err != nil {
		return fmt.Errorf("failed to touch device token: %w", err)
	}
	return nil
}
