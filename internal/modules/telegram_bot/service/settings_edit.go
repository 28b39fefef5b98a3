package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"grid_bot/internal/models"
)

func settingsKeyboard() tgbot.InlineKeyboardMarkup {
	return tgbot.NewInlineKeyboardMarkup(
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("📈 Инструмент", "set:symbol"),
			tgbot.NewInlineKeyboardButtonData("↕️ Long/Short", "toggle:side"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🎯 TP %", "set:tp"),
			tgbot.NewInlineKeyboardButtonData("🛑 SL %", "set:sl"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("⚖️ Плечо", "set:lev"),
			tgbot.NewInlineKeyboardButtonData("🔢 Ступени", "set:rounds"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🪜 Сетка", "set:grids"),
			tgbot.NewInlineKeyboardButtonData("🔁 Повтор", "toggle:repeat"),
		),
		tgbot.NewInlineKeyboardRow(
			tgbot.NewInlineKeyboardButtonData("🧪 Paper", "exchange:paper"),
			tgbot.NewInlineKeyboardButtonData("🔑 Ключи", "set:keys"),
		),
	)
}

func (t *Telegram) handleSettingsMenu(ctx context.Context, chatID int64) {
	user, err := t.getUser(ctx, chatID)
	if err != nil {
		t.reply(ctx, chatID, "Настройки не найдены, попробуй /start")
		return
	}
	msg := tgbot.NewMessage(chatID, formatSettings(user))
	msg.ReplyMarkup = settingsKeyboard()
	if _, err := t.SendMessage(ctx, msg); err != nil {
		t.log.Warn("settings menu not sent", zap.Error(err))
	}
}

func (t *Telegram) askValue(ctx context.Context, chatID int64, key string) {
	t.setAwait(chatID, key)

	var hint string
	switch key {
	case "symbol":
		hint = "Введи инструмент, например: BTCUSDT или BTC-USDT-SWAP"
	case "tp":
		hint = "Введи TP в % от маржи, например: 10"
	case "sl":
		hint = "Введи SL в % от маржи, 0 = без стопа"
	case "lev":
		hint = "Введи плечо (целое), например: 5"
	case "rounds":
		hint = fmt.Sprintf("Введи число ступеней 1..%d", models.MaxRounds)
	case "grids":
		hint = "Введи сетку: сумма входа, затем сумма:отступ% для каждой ступени.\nНапример: 10; 10:2; 20:3"
	case "keys":
		hint = "Отправь ключи в формате:\nBINANCE: apiKey; apiSecret\nOKX: apiKey; apiSecret; passphrase"
	default:
		hint = "Введи значение"
	}

	t.reply(ctx, chatID, "✍️ "+hint+"\n\nОтмена: напиши отмена")
}

func (t *Telegram) handleAwaitValue(ctx context.Context, chatID int64, text, key string) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "отмена") {
		t.clearAwait(chatID)
		t.handleSettingsMenu(ctx, chatID)
		return
	}
	if key == "keys" {
		if t.handleKeys(ctx, chatID, text) {
			t.clearAwait(chatID)
		}
		return
	}

	user, err := t.getUser(ctx, chatID)
	if err != nil {
		t.reply(ctx, chatID, "Настройки не найдены, попробуй /start")
		return
	}

	if msg := applyValue(&user, key, text); msg != "" {
		t.reply(ctx, chatID, "❗️"+msg)
		return
	}

	if err := t.repo.SaveSettings(ctx, user); err != nil {
		t.reply(ctx, chatID, "⚠️ Не удалось сохранить настройку: "+err.Error())
		return
	}
	t.clearAwait(chatID)
	t.reply(ctx, chatID, "✅ Сохранено. Новые значения применятся при следующем запуске.")
	t.handleSettingsMenu(ctx, chatID)
}

// applyValue меняет поле настроек; непустая строка означает ошибку ввода.
func applyValue(user *models.UserSettings, key, text string) string {
	switch key {
	case "symbol":
		sym := strings.ToUpper(strings.TrimSpace(text))
		if sym == "" || strings.ContainsAny(sym, " \t") {
			return "Нужен тикер без пробелов, например BTCUSDT"
		}
		user.Symbol = sym
	case "tp":
		v, err := parseFloat(text)
		if err != nil || v <= 0 || v > 1000 {
			return "Нужно число 0..1000, например 10"
		}
		user.TakeProfitPct = v
	case "sl":
		v, err := parseFloat(text)
		if err != nil || v < 0 || v > 1000 {
			return "Нужно число 0..1000, 0 = без стопа"
		}
		user.StopLossPct = v
	case "lev":
		v, err := strconv.Atoi(text)
		if err != nil || v < 1 || v > 125 {
			return "Нужно целое 1..125, например 5"
		}
		user.Leverage = v
	case "rounds":
		v, err := strconv.Atoi(text)
		if err != nil || v < 1 || v > models.MaxRounds {
			return fmt.Sprintf("Нужно целое 1..%d", models.MaxRounds)
		}
		user.Rounds = v
	case "grids":
		grids, err := parseGrids(text)
		if err != nil {
			return err.Error()
		}
		user.Grids = grids
	default:
		return "Неизвестная настройка"
	}
	return ""
}

// parseGrids разбирает "10; 10:2; 20:3": первая сумма это вход, дальше сумма:отступ.
func parseGrids(text string) ([]models.GridLeg, error) {
	parts := strings.Split(text, ";")
	grids := make([]models.GridLeg, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		amountStr, gapStr, hasGap := strings.Cut(p, ":")
		amount, err := parseFloat(amountStr)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("ступень %d: сумма должна быть > 0", i)
		}
		leg := models.GridLeg{Amount: amount}
		if len(grids) > 0 {
			if !hasGap {
				return nil, fmt.Errorf("ступень %d: нужен отступ, формат сумма:отступ", i)
			}
			gap, err := parseFloat(gapStr)
			if err != nil || gap < 0 || gap >= 100 {
				return nil, fmt.Errorf("ступень %d: отступ должен быть в [0, 100)", i)
			}
			leg.GapPct = gap
		}
		grids = append(grids, leg)
	}
	if len(grids) == 0 {
		return nil, fmt.Errorf("сетка пустая")
	}
	if len(grids) > models.MaxRounds {
		return nil, fmt.Errorf("не больше %d ступеней", models.MaxRounds)
	}
	return grids, nil
}

// handleKeys принимает "BINANCE: key; secret" и "OKX: key; secret; passphrase".
func (t *Telegram) handleKeys(ctx context.Context, chatID int64, text string) bool {
	venue, rest, ok := strings.Cut(text, ":")
	if !ok {
		t.reply(ctx, chatID, "Формат: BINANCE: apiKey; apiSecret или OKX: apiKey; apiSecret; passphrase")
		return false
	}
	venue = strings.ToLower(strings.TrimSpace(venue))

	parts := strings.Split(rest, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	want := 2
	if venue == models.ExchangeOKX {
		want = 3
	} else if venue != models.ExchangeBinance {
		t.reply(ctx, chatID, "Поддерживаются BINANCE и OKX")
		return false
	}
	if len(parts) != want {
		t.reply(ctx, chatID, fmt.Sprintf("Для %s нужно %d значения через ;", strings.ToUpper(venue), want))
		return false
	}

	user, err := t.getUser(ctx, chatID)
	if err != nil {
		t.reply(ctx, chatID, "Настройки не найдены, попробуй /start")
		return false
	}
	user.Exchange = venue
	user.APIKey, user.APISecret = parts[0], parts[1]
	user.APIPassphrase = ""
	if want == 3 {
		user.APIPassphrase = parts[2]
	}
	if err := t.repo.SaveSettings(ctx, user); err != nil {
		t.reply(ctx, chatID, "⚠️ Не удалось сохранить ключи: "+err.Error())
		return false
	}
	t.reply(ctx, chatID, fmt.Sprintf("✅ Ключи %s сохранены. Теперь можно запускать /run", strings.ToUpper(venue)))
	return true
}
