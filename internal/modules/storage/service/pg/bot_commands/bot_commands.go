package bot_commands

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"grid_bot/internal/models"
	"grid_bot/pkg/db"
)

const returning = `RETURNING id::text, user_id, type, status, created_at, picked_at, picked_by, error`

// BotCommands очередь операторских команд.
type BotCommands struct{}

func New() *BotCommands { return &BotCommands{} }

func (b *BotCommands) Insert(ctx context.Context, tx db.Transaction, id string, userID int64, typ models.CommandType, at time.Time) (models.Command, error) {
	cmd, err := scan(tx.QueryRow(ctx, `INSERT INTO bot_commands (id, user_id, type, status, created_at)
VALUES ($1::uuid, $2, $3, $4, $5) `+returning,
		id, userID, string(typ), string(models.CommandQueued), at,
	))
	return cmd, errors.Wrap(err, "BotCommands.Insert")
}

// ClaimOldest забирает самую старую команду в очереди пользователя.
// Строки, захваченные другим воркером, пропускаются.
func (b *BotCommands) ClaimOldest(ctx context.Context, tx db.Transaction, userID int64, worker string) (*models.Command, error) {
	cmd, err := scan(tx.QueryRow(ctx, `UPDATE bot_commands
SET status = $3, picked_at = now(), picked_by = $4
WHERE id = (
	SELECT id FROM bot_commands
	WHERE user_id = $1 AND status = $2
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
) `+returning,
		userID, string(models.CommandQueued), string(models.CommandPicked), worker,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "BotCommands.ClaimOldest")
	}
	return &cmd, nil
}

func (b *BotCommands) Complete(ctx context.Context, tx db.Transaction, id string, status models.CommandStatus, msg string) error {
	tag, err := tx.Exec(ctx, `UPDATE bot_commands SET status = $2, error = $3 WHERE id = $1::uuid`, id, string(status), msg)
	if err != nil {
		return errors.Wrap(err, "BotCommands.Complete")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scan(row pgx.Row) (models.Command, error) {
	var (
		cmd      models.Command
		typ      string
		status   string
		pickedAt *time.Time
	)
	if err := row.Scan(&cmd.ID, &cmd.UserID, &typ, &status, &cmd.CreatedAt, &pickedAt, &cmd.PickedBy, &cmd.Error); err != nil {
		return models.Command{}, err
	}
	cmd.Type = models.CommandType(typ)
	cmd.Status = models.CommandStatus(status)
	if pickedAt != nil {
		cmd.PickedAt = *pickedAt
	}
	return cmd, nil
}
