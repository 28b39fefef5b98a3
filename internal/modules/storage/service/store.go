package service

import (
	"context"
	"time"

	"grid_bot/internal/models"
)

// Store хранилище настроек, статусов запусков, сделок и очереди команд.
type Store interface {
	LoadSettings(ctx context.Context, userID int64) (models.UserSettings, error)
	SaveSettings(ctx context.Context, s models.UserSettings) error
	ListSettings(ctx context.Context) ([]models.UserSettings, error)

	SaveTradeRecord(ctx context.Context, rec models.TradeRecord) error
	ListTrades(ctx context.Context, userID int64, limit int) ([]models.TradeRecord, error)

	UpdateRunStatus(ctx context.Context, rec models.RunStatusRecord) error
	Heartbeat(ctx context.Context, userID int64, state string, at time.Time) error
	GetRunStatus(ctx context.Context, userID int64) (models.RunStatusRecord, bool, error)
	ListRunStatuses(ctx context.Context) ([]models.RunStatusRecord, error)

	EnqueueCommand(ctx context.Context, userID int64, typ models.CommandType) (models.Command, error)
	ClaimCommand(ctx context.Context, userID int64) (*models.Command, error)
	CompleteCommand(ctx context.Context, id string, cmdErr error) error

	Ping(ctx context.Context) error
}

const DefaultTradesLimit = 20
