package user_bots

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"grid_bot/internal/models"
	"grid_bot/pkg/db"
)

const columns = `user_id, status, run_id, state, last_heartbeat, last_error, restart_count, updated_at`

// UserBots таблица user_bots: одна строка статуса на пользователя.
type UserBots struct{}

func New() *UserBots { return &UserBots{} }

func (u *UserBots) Upsert(ctx context.Context, tx db.Transaction, rec models.RunStatusRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := tx.Exec(ctx, `INSERT INTO user_bots (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id) DO UPDATE SET
	status = EXCLUDED.status,
	run_id = EXCLUDED.run_id,
	state = EXCLUDED.state,
	last_heartbeat = COALESCE(EXCLUDED.last_heartbeat, user_bots.last_heartbeat),
	last_error = EXCLUDED.last_error,
	restart_count = EXCLUDED.restart_count,
	updated_at = EXCLUDED.updated_at`,
		rec.UserID, string(rec.Status), rec.RunID, rec.State, nullTime(rec.LastHeartbeat),
		rec.LastError, rec.RestartCount, updated,
	)
	return errors.Wrap(err, "UserBots.Upsert")
}

// Heartbeat трогает только состояние и отметку времени, статус не меняет.
func (u *UserBots) Heartbeat(ctx context.Context, tx db.Transaction, userID int64, state string, at time.Time) error {
	_, err := tx.Exec(ctx, `INSERT INTO user_bots (user_id, status, state, last_heartbeat, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (user_id) DO UPDATE SET
	state = EXCLUDED.state,
	last_heartbeat = EXCLUDED.last_heartbeat,
	updated_at = EXCLUDED.updated_at`,
		userID, string(models.StatusRunning), state, at,
	)
	return errors.Wrap(err, "UserBots.Heartbeat")
}

func (u *UserBots) Get(ctx context.Context, tx db.Transaction, userID int64) (models.RunStatusRecord, bool, error) {
	rec, err := scan(tx.QueryRow(ctx, `SELECT `+columns+` FROM user_bots WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RunStatusRecord{}, false, nil
	}
	if err != nil {
		return models.RunStatusRecord{}, false, errors.Wrap(err, "UserBots.Get")
	}
	return rec, true, nil
}

func (u *UserBots) List(ctx context.Context, tx db.Transaction) ([]models.RunStatusRecord, error) {
	rows, err := tx.Query(ctx, `SELECT `+columns+` FROM user_bots ORDER BY user_id`)
	if err != nil {
		return nil, errors.Wrap(err, "UserBots.List")
	}
	defer rows.Close()

	var out []models.RunStatusRecord
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "UserBots.List: scan")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "UserBots.List")
}

func scan(row pgx.Row) (models.RunStatusRecord, error) {
	var (
		rec    models.RunStatusRecord
		status string
		hb     *time.Time
	)
	if err := row.Scan(&rec.UserID, &status, &rec.RunID, &rec.State, &hb, &rec.LastError, &rec.RestartCount, &rec.UpdatedAt); err != nil {
		return models.RunStatusRecord{}, err
	}
	rec.Status = models.RunStatus(status)
	if hb != nil {
		rec.LastHeartbeat = *hb
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
