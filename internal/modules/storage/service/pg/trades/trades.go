package trades

import (
	"context"

	"github.com/pkg/errors"

	"grid_bot/internal/models"
	"grid_bot/pkg/db"
)

// Trades таблица закрытых циклов.
type Trades struct{}

func New() *Trades { return &Trades{} }

func (t *Trades) Insert(ctx context.Context, tx db.Transaction, rec models.TradeRecord) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO trades
	(user_id, symbol, side, entry_price, exit_price, size, pnl, pnl_source, closed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		rec.UserID, rec.Symbol, string(rec.Side), rec.EntryPrice, rec.ExitPrice, rec.Size,
		rec.Pnl, rec.PnlSource, rec.ClosedAt,
	).Scan(&id)
	return id, errors.Wrap(err, "Trades.Insert")
}

// ListByUser последние сделки пользователя, новые первыми.
func (t *Trades) ListByUser(ctx context.Context, tx db.Transaction, userID int64, limit int) ([]models.TradeRecord, error) {
	rows, err := tx.Query(ctx, `SELECT id, user_id, symbol, side, entry_price, exit_price, size, pnl, pnl_source, closed_at
FROM trades WHERE user_id = $1 ORDER BY closed_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "Trades.ListByUser")
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			rec  models.TradeRecord
			side string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Symbol, &side, &rec.EntryPrice, &rec.ExitPrice,
			&rec.Size, &rec.Pnl, &rec.PnlSource, &rec.ClosedAt); err != nil {
			return nil, errors.Wrap(err, "Trades.ListByUser: scan")
		}
		rec.Side = models.PositionSide(side)
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "Trades.ListByUser")
}
