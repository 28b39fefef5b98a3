package models

import "time"

// GridLeg одна ступень сетки: сумма маржи и отступ от предыдущей ступени в процентах.
type GridLeg struct {
	Amount float64 `json:"amount" yaml:"amount"`
	GapPct float64 `json:"gap" yaml:"gap"`
}

// UserSettings хранит данные пользователя
type UserSettings struct {
	UserID int64  `json:"user_id" yaml:"user_id"`
	ChatID int64  `json:"chat_id" yaml:"chat_id"` // Telegram chat, 0 => UserID
	Name   string `json:"name" yaml:"name"`

	Exchange      string `json:"exchange" yaml:"exchange"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	APISecret     string `json:"api_secret" yaml:"api_secret"`
	APIPassphrase string `json:"api_passphrase" yaml:"api_passphrase"`

	Symbol        string       `json:"symbol" yaml:"symbol"`
	Side          PositionSide `json:"side" yaml:"side"`
	TakeProfitPct float64      `json:"take_profit" yaml:"take_profit"`
	StopLossPct   float64      `json:"stop_loss" yaml:"stop_loss"`
	Leverage      int          `json:"leverage" yaml:"leverage"`
	Rounds        int          `json:"rounds" yaml:"rounds"`
	Repeat        bool         `json:"repeat" yaml:"repeat"`
	Grids         []GridLeg    `json:"grids" yaml:"grids"`

	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Snapshot снимает неизменяемую копию настроек для одного запуска.
func (u *UserSettings) Snapshot() EngineConfig {
	grids := make([]GridLeg, len(u.Grids))
	copy(grids, u.Grids)

	chatID := u.ChatID
	if chatID == 0 {
		chatID = u.UserID
	}
	return EngineConfig{
		UserID:        u.UserID,
		ChatID:        chatID,
		Exchange:      u.Exchange,
		APIKey:        u.APIKey,
		APISecret:     u.APISecret,
		APIPassphrase: u.APIPassphrase,
		Symbol:        u.Symbol,
		Side:          u.Side,
		TakeProfitPct: u.TakeProfitPct,
		StopLossPct:   u.StopLossPct,
		Leverage:      u.Leverage,
		Rounds:        u.Rounds,
		Repeat:        u.Repeat,
		Grids:         grids,
	}
}
