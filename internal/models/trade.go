package models

import "time"

// TradeRecord закрытый цикл сделки.
type TradeRecord struct {
	ID         int64        `json:"id"`
	UserID     int64        `json:"user_id"`
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Size       float64      `json:"size"`
	Pnl        float64      `json:"pnl"`
	PnlSource  string       `json:"pnl_source"`
	ClosedAt   time.Time    `json:"closed_at"`
}
