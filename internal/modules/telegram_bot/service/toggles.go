package service

import (
	"context"

	"grid_bot/internal/models"
)

func (t *Telegram) toggle(ctx context.Context, chatID int64, what string) {
	user, err := t.getUser(ctx, chatID)
	if err != nil {
		t.reply(ctx, chatID, "Настройки не найдены, попробуй /start")
		return
	}
	switch what {
	case "repeat":
		user.Repeat = !user.Repeat
	case "side":
		if user.Side == models.Long {
			user.Side = models.Short
		} else {
			user.Side = models.Long
		}
	default:
		return
	}
	if err := t.repo.SaveSettings(ctx, user); err != nil {
		t.reply(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	t.handleSettingsMenu(ctx, chatID)
}

func (t *Telegram) usePaper(ctx context.Context, chatID int64) {
	user, err := t.getUser(ctx, chatID)
	if err != nil {
		t.reply(ctx, chatID, "Настройки не найдены, попробуй /start")
		return
	}
	user.Exchange = models.ExchangePaper
	if err := t.repo.SaveSettings(ctx, user); err != nil {
		t.reply(ctx, chatID, "⚠️ Не удалось сохранить: "+err.Error())
		return
	}
	t.reply(ctx, chatID, "🧪 Включена paper-биржа, реальные ордера не отправляются")
	t.handleSettingsMenu(ctx, chatID)
}
