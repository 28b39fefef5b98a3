package user_settings

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"grid_bot/internal/models"
	"grid_bot/pkg/db"
)

const columns = `user_id, chat_id, name, exchange, api_key, api_secret, api_passphrase,
	symbol, side, take_profit, stop_loss, leverage, rounds, repeat_cycle, grids, updated_at`

const upsertQuery = `INSERT INTO user_settings (` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb, $16)
ON CONFLICT (user_id) DO UPDATE SET
	chat_id = EXCLUDED.chat_id,
	name = EXCLUDED.name,
	exchange = EXCLUDED.exchange,
	api_key = EXCLUDED.api_key,
	api_secret = EXCLUDED.api_secret,
	api_passphrase = EXCLUDED.api_passphrase,
	symbol = EXCLUDED.symbol,
	side = EXCLUDED.side,
	take_profit = EXCLUDED.take_profit,
	stop_loss = EXCLUDED.stop_loss,
	leverage = EXCLUDED.leverage,
	rounds = EXCLUDED.rounds,
	repeat_cycle = EXCLUDED.repeat_cycle,
	grids = EXCLUDED.grids,
	updated_at = EXCLUDED.updated_at`

// UserSettings таблица user_settings.
type UserSettings struct{}

func New() *UserSettings { return &UserSettings{} }

func (u *UserSettings) Upsert(ctx context.Context, tx db.Transaction, s models.UserSettings) error {
	grids := s.Grids
	if grids == nil {
		grids = []models.GridLeg{}
	}
	data, err := sonic.Marshal(grids)
	if err != nil {
		return errors.Wrap(err, "UserSettings.Upsert: marshal grids")
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = tx.Exec(ctx, upsertQuery,
		s.UserID, s.ChatID, s.Name, s.Exchange, s.APIKey, s.APISecret, s.APIPassphrase,
		s.Symbol, string(s.Side), s.TakeProfitPct, s.StopLossPct, s.Leverage, s.Rounds, s.Repeat,
		string(data), updated,
	)
	return errors.Wrap(err, "UserSettings.Upsert")
}

func (u *UserSettings) GetByID(ctx context.Context, tx db.Transaction, userID int64) (models.UserSettings, error) {
	row := tx.QueryRow(ctx, `SELECT `+columns+` FROM user_settings WHERE user_id = $1`, userID)
	s, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserSettings{}, models.ErrNotFound
	}
	return s, errors.Wrap(err, "UserSettings.GetByID")
}

func (u *UserSettings) List(ctx context.Context, tx db.Transaction) ([]models.UserSettings, error) {
	rows, err := tx.Query(ctx, `SELECT `+columns+` FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "UserSettings.List")
	}
	defer rows.Close()

	var out []models.UserSettings
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "UserSettings.List: scan")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "UserSettings.List")
}

func scan(row pgx.Row) (models.UserSettings, error) {
	var (
		s     models.UserSettings
		side  string
		grids []byte
	)
	err := row.Scan(
		&s.UserID, &s.ChatID, &s.Name, &s.Exchange, &s.APIKey, &s.APISecret, &s.APIPassphrase,
		&s.Symbol, &side, &s.TakeProfitPct, &s.StopLossPct, &s.Leverage, &s.Rounds, &s.Repeat,
		&grids, &s.UpdatedAt,
	)
	if err != nil {
		return models.UserSettings{}, err
	}
	s.Side = models.PositionSide(side)
	if len(grids) > 0 {
		if err := sonic.Unmarshal(grids, &s.Grids); err != nil {
			return models.UserSettings{}, errors.Wrap(err, "unmarshal grids")
		}
	}
	return s, nil
}
