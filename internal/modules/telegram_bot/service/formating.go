package service

import (
	"fmt"
	"strings"
	"time"

	"grid_bot/internal/models"
	"grid_bot/internal/supervisor"
)

func formatSettings(us models.UserSettings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ Настройки\n\n")
	fmt.Fprintf(&b, "Биржа: %s (ключ %s)\n", us.Exchange, mask(us.APIKey))
	fmt.Fprintf(&b, "Инструмент: %s, направление: %s\n", us.Symbol, us.Side)
	fmt.Fprintf(&b, "TP: %s%%, SL: %s%% (от маржи)\n", f2(us.TakeProfitPct), f2(us.StopLossPct))
	fmt.Fprintf(&b, "Плечо: x%d, ступеней: %d\n", us.Leverage, us.Rounds)
	fmt.Fprintf(&b, "Повтор цикла: %s\n", onOff(us.Repeat))
	b.WriteString("Сетка:\n")
	for i, g := range us.Grids {
		if i == 0 {
			fmt.Fprintf(&b, "  вход: %s\n", f2(g.Amount))
			continue
		}
		fmt.Fprintf(&b, "  #%d: %s через %s%%\n", i, f2(g.Amount), f2(g.GapPct))
	}
	return b.String()
}

func formatStatus(st supervisor.StatusResult) string {
	var b strings.Builder
	if st.Running {
		fmt.Fprintf(&b, "🟢 Бот работает\n")
	} else {
		fmt.Fprintf(&b, "⚪️ Бот не запущен (%s)\n", st.Status)
	}
	if st.State != "" {
		fmt.Fprintf(&b, "Состояние: %s\n", st.State)
	}
	if st.Running {
		fmt.Fprintf(&b, "Аптайм: %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	}
	if st.LastHeartbeat != nil {
		fmt.Fprintf(&b, "Пульс: %s\n", st.LastHeartbeat.Format(time.DateTime))
	}
	if st.RestartCount > 0 {
		fmt.Fprintf(&b, "Перезапусков: %d\n", st.RestartCount)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Последняя ошибка: %s\n", st.LastError)
	}
	return b.String()
}

func formatTrades(trades []models.TradeRecord) string {
	if len(trades) == 0 {
		return "📭 Сделок пока нет"
	}
	var (
		b     strings.Builder
		total float64
	)
	b.WriteString("📒 Последние сделки:\n")
	for _, tr := range trades {
		mark := "✅"
		if tr.Pnl < 0 {
			mark = "🔻"
		}
		fmt.Fprintf(&b, "%s %s %s %s → %s x%s PnL %s\n",
			mark, tr.ClosedAt.Format("01-02 15:04"), tr.Side,
			f2(tr.EntryPrice), f2(tr.ExitPrice), fmt.Sprintf("%g", tr.Size), f2(tr.Pnl))
		total += tr.Pnl
	}
	fmt.Fprintf(&b, "\nИтого: %s", f2(total))
	return b.String()
}

func formatAdmin(all supervisor.AdminStatuses) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 Боты: %d, работают: %d\n", all.Totals.Managed, all.Totals.Running)
	for _, st := range all.Users {
		icon := "⚪️"
		if st.Running {
			icon = "🟢"
		}
		fmt.Fprintf(&b, "%s %d %s %s\n", icon, st.UserID, st.Status, st.State)
	}
	return b.String()
}

func formatStart(res supervisor.StartResult) string {
	switch res.Status {
	case supervisor.StartStarted:
		return "✅ Бот запущен"
	case supervisor.StartAlreadyRunning:
		return "ℹ️ Бот уже работает"
	case supervisor.StartMissingCredentials:
		return "🔑 Нет API-ключей. Отправь их в формате:\nBINANCE: apiKey; apiSecret\nOKX: apiKey; apiSecret; passphrase"
	default:
		return "❌ Не удалось запустить: " + res.Message
	}
}
