package service

import (
	"context"
	"errors"
	"fmt"

	"grid_bot/internal/models"
)

// defaultSettings стартовые настройки нового пользователя: paper-биржа, три ступени.
func defaultSettings(chatID int64) models.UserSettings {
	return models.UserSettings{
		UserID:        chatID,
		ChatID:        chatID,
		Exchange:      models.ExchangePaper,
		Symbol:        "BTCUSDT",
		Side:          models.Long,
		TakeProfitPct: 10,
		Leverage:      5,
		Rounds:        3,
		Grids: []models.GridLeg{
			{Amount: 10},
			{Amount: 10, GapPct: 2},
			{Amount: 20, GapPct: 3},
		},
	}
}

func (t *Telegram) getUser(ctx context.Context, chatID int64) (models.UserSettings, error) {
	user, err := t.repo.LoadSettings(ctx, chatID)
	if errors.Is(err, models.ErrNotFound) {
		user = defaultSettings(chatID)
		if err := t.repo.SaveSettings(ctx, user); err != nil {
			return models.UserSettings{}, fmt.Errorf("create user settings: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return models.UserSettings{}, fmt.Errorf("get user settings: %w", err)
	}
	return user, nil
}
