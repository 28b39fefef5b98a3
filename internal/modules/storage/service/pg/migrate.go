package pg

import (
	"context"

	"github.com/pkg/errors"

	"grid_bot/pkg/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user_settings (
	user_id        BIGINT PRIMARY KEY,
	chat_id        BIGINT NOT NULL DEFAULT 0,
	name           TEXT NOT NULL DEFAULT '',
	exchange       TEXT NOT NULL,
	api_key        TEXT NOT NULL DEFAULT '',
	api_secret     TEXT NOT NULL DEFAULT '',
	api_passphrase TEXT NOT NULL DEFAULT '',
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	take_profit    DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_loss      DOUBLE PRECISION NOT NULL DEFAULT 0,
	leverage       INTEGER NOT NULL DEFAULT 1,
	rounds         INTEGER NOT NULL DEFAULT 0,
	repeat_cycle   BOOLEAN NOT NULL DEFAULT FALSE,
	grids          JSONB NOT NULL DEFAULT '[]',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS user_bots (
	user_id        BIGINT PRIMARY KEY,
	status         TEXT NOT NULL,
	run_id         TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	last_heartbeat TIMESTAMPTZ,
	last_error     TEXT NOT NULL DEFAULT '',
	restart_count  INTEGER NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS trades (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price  DOUBLE PRECISION NOT NULL,
	size        DOUBLE PRECISION NOT NULL,
	pnl         DOUBLE PRECISION NOT NULL,
	pnl_source  TEXT NOT NULL DEFAULT '',
	closed_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS trades_user_closed_idx ON trades (user_id, closed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS bot_commands (
	id         UUID PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	picked_at  TIMESTAMPTZ,
	picked_by  TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS bot_commands_queue_idx ON bot_commands (user_id, status, created_at)`,
}

// Migrate создаёт таблицы, если их нет. Повторный вызов безопасен.
func Migrate(ctx context.Context, tx db.Transaction) error {
	for _, stmt := range schema {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "pg.Migrate")
		}
	}
	return nil
}
