package models

import "time"

// PositionSide направление позиции стратегии.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

func (s PositionSide) Valid() bool { return s == Long || s == Short }

// EntrySide сторона ордеров, которые набирают позицию.
func (s PositionSide) EntrySide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// ExitSide сторона reduce-only ордеров (TP/SL).
func (s PositionSide) ExitSide() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// Sign +1 для long, -1 для short.
func (s PositionSide) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Position снимок позиции, каждый цикл берётся заново с биржи.
type Position struct {
	Symbol        string
	Side          PositionSide
	Size          float64 // в контрактах, всегда >= 0
	EntryPrice    float64
	UnrealizedPnl float64
	UpdatedAt     time.Time
}

func (p Position) Open() bool { return p.Size > 0 && p.EntryPrice > 0 }
