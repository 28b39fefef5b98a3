package service

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const tradesInChat = 10

// кнопки главного меню
const (
	btnRun      = "▶️ Запустить бота"
	btnStop     = "⏹ Остановить бота"
	btnSettings = "⚙️ Настройки"
	btnStatus   = "📊 Статус"
	btnTrades   = "📒 Сделки"
	btnRefresh  = "🔄 Перестроить ордера"
)

var buttonCommands = map[string]string{
	btnRun:      "run",
	btnStop:     "stop",
	btnSettings: "settings",
	btnStatus:   "status",
	btnTrades:   "trades",
	btnRefresh:  "refresh",
}

func mainKeyboard() tgbot.ReplyKeyboardMarkup {
	return tgbot.NewReplyKeyboard(
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnRun),
			tgbot.NewKeyboardButton(btnStop),
		),
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnSettings),
			tgbot.NewKeyboardButton(btnStatus),
		),
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnTrades),
			tgbot.NewKeyboardButton(btnRefresh),
		),
	)
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	if msg := update.Message; msg != nil {
		chatID := msg.Chat.ID

		if msg.IsCommand() {
			t.clearAwait(chatID)
			t.handleCommand(ctx, chatID, msg.Command(), msg.CommandArguments())
			return
		}

		text := strings.TrimSpace(msg.Text)
		if key, ok := t.peekAwait(chatID); ok {
			t.handleAwaitValue(ctx, chatID, text, key)
			return
		}
		if cmd, ok := buttonCommands[text]; ok {
			t.handleCommand(ctx, chatID, cmd, "")
			return
		}
		upper := strings.ToUpper(text)
		if strings.HasPrefix(upper, "OKX:") || strings.HasPrefix(upper, "BINANCE:") {
			t.handleKeys(ctx, chatID, text)
		}
		return
	}

	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil {
			return
		}
		t.handleCallback(ctx, cb.Message.Chat.ID, cb)
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, cmd, args string) {
	log := t.log.With(zap.Int64("chat", chatID), zap.String("cmd", cmd))

	switch cmd {
	case "start":
		if _, err := t.getUser(ctx, chatID); err != nil {
			log.Error("getUser failed", zap.Error(err))
			t.reply(ctx, chatID, "Настройки не найдены, попробуй ещё раз /start")
			return
		}
		msg := tgbot.NewMessage(chatID, "Привет! Я сеточный бот.\n\n"+
			"1️⃣ Проверь настройки кнопкой «⚙️ Настройки».\n"+
			"2️⃣ Для реальной торговли пришли API-ключи.\n"+
			"3️⃣ Запусти бота кнопкой «▶️ Запустить бота».\n\n/help список команд")
		msg.ReplyMarkup = mainKeyboard()
		if _, err := t.SendMessage(ctx, msg); err != nil {
			log.Warn("start menu not sent", zap.Error(err))
		}

	case "help":
		t.reply(ctx, chatID, "/run запуск\n/stop остановка\n/status статус\n/settings настройки\n"+
			"/trades последние сделки\n/recover проверить TP\n/refresh перестраивать ордера постоянно (/refresh once один раз)\n"+
			"/clear_refresh выключить постоянное обновление\n"+
			"/stop_repeat завершить после текущего цикла")

	case "run":
		res, err := t.ops.Start(ctx, chatID)
		if err != nil {
			log.Info("start rejected", zap.String("status", res.Status), zap.Error(err))
		}
		t.reply(ctx, chatID, formatStart(res))

	case "stop":
		res, err := t.ops.Stop(ctx, chatID)
		if err != nil {
			log.Warn("stop failed", zap.Error(err))
			t.reply(ctx, chatID, "⚠️ Не удалось остановить бота: "+err.Error())
			return
		}
		if res.Success {
			t.reply(ctx, chatID, "🛑 Бот остановлен")
		} else {
			t.reply(ctx, chatID, "ℹ️ "+res.Message)
		}

	case "status":
		st, err := t.ops.Status(ctx, chatID)
		if err != nil {
			t.reply(ctx, chatID, "⚠️ Статус недоступен: "+err.Error())
			return
		}
		t.reply(ctx, chatID, formatStatus(st))

	case "settings":
		t.handleSettingsMenu(ctx, chatID)

	case "trades":
		trades, err := t.repo.ListTrades(ctx, chatID, tradesInChat)
		if err != nil {
			t.reply(ctx, chatID, "⚠️ История недоступна: "+err.Error())
			return
		}
		t.reply(ctx, chatID, formatTrades(trades))

	case "recover":
		res, err := t.ops.Recover(ctx, chatID)
		if err != nil {
			t.reply(ctx, chatID, "⚠️ Сверка не удалась: "+err.Error())
			return
		}
		text := "🩹 " + res.Message
		if len(res.Actions) > 0 {
			text += "\n- " + strings.Join(res.Actions, "\n- ")
		}
		t.reply(ctx, chatID, text)

	case "refresh":
		single := strings.EqualFold(strings.TrimSpace(args), "once")
		res, err := t.ops.Refresh(ctx, chatID, single)
		t.replyAction(ctx, chatID, "🔄 Команда принята", res.Message, err)

	case "clear_refresh":
		res, err := t.ops.ClearRefresh(ctx, chatID)
		t.replyAction(ctx, chatID, "⏹ Постоянное обновление будет выключено", res.Message, err)

	case "stop_repeat":
		res, err := t.ops.StopRepeat(ctx, chatID)
		t.replyAction(ctx, chatID, "⏸ Бот завершит работу после текущего цикла", res.Message, err)

	case "all":
		if !t.admins[chatID] {
			t.reply(ctx, chatID, "⛔️ Только для администраторов")
			return
		}
		all, err := t.ops.AllStatuses(ctx)
		if err != nil {
			t.reply(ctx, chatID, "⚠️ "+err.Error())
			return
		}
		t.reply(ctx, chatID, formatAdmin(all))

	default:
		t.reply(ctx, chatID, fmt.Sprintf("Неизвестная команда /%s, см. /help", cmd))
	}
}

func (t *Telegram) replyAction(ctx context.Context, chatID int64, ok, msg string, err error) {
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		t.reply(ctx, chatID, "ℹ️ "+msg)
		return
	}
	t.reply(ctx, chatID, ok)
}

func (t *Telegram) handleCallback(ctx context.Context, chatID int64, cb *tgbot.CallbackQuery) {
	// убираем "часики" на кнопке
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	kind, arg, _ := strings.Cut(cb.Data, ":")
	switch kind {
	case "set":
		t.askValue(ctx, chatID, arg)
	case "toggle":
		t.toggle(ctx, chatID, arg)
	case "exchange":
		if arg == "paper" {
			t.usePaper(ctx, chatID)
		}
	}
}
