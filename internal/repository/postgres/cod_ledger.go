package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/courierhq/dispatch-api/internal/repository"
)

type codLedgerRepository struct {
	db *sqlx.DB
}

func NewCODLedgerRepository(db *sqlx.DB) repository.CODLedgerRepository {
	return &codLedgerRepository{db: db}
}

// Add upserts the courier's running total for the day. The increment happens
// in the database so concurrent deliveries never lose an update.
func (r *codLedgerRepository) Add(ctx context.Context, courierID uuid.UUID, day time.Time, amount int64) error {
	query := `
		INSERT INTO cod_ledger (courier_id, day, total)
		VALUES ($1, $2, $3)
		ON CONFLICT (courier_id, day)
		DO UPDATE SET total = cod_ledger.total + EXCLUDED.total
	`
	_, err := r.db.ExecContext(ctx, query, courierID, day.Format("2006-01-02"), amount)
	if err != nil {
		return fmt.Errorf("failed to add to cod ledger: %w", err)
	}
	return nil
}

func (r *codLedgerRepository) Total(ctx context.Context, courierID uuid.UUID, day time.Time) (int64, error) {
	query := `SELECT total FROM cod_ledger WHERE courier_id = $1 AND day = $2`

	var total int64
	err := r.db.GetContext(ctx, &total, query, courierID, day.Format("2006-01-02"))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cod ledger: %w", err)
	}
	return total, nil
}
