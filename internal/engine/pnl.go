package engine

import (
	"strconv"

	"grid_bot/internal/models"
)

// поля с реализованным PnL, которые отдают разные биржи, в порядке предпочтения
var pnlFields = []string{"realizedPnl", "execPnl", "closedPnl", "realizedProfit", "profit", "pnl", "fillPnl"}

const (
	PnlSourceExchange = "exchange"
	PnlSourceComputed = "computed"
)

type PnlResult struct {
	Pnl    float64
	Exit   float64
	Source string
}

func reportedPnl(f models.Fill) (float64, bool) {
	for _, k := range pnlFields {
		s, ok := f.Info[k]
		if !ok || s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// RealizedPnl PnL закрытого цикла. Берёт то, что сообщила биржа по закрывающим сделкам,
// иначе считает (exit-entry)*size*sign*contract - комиссии.
// fallbackExit используется, если закрывающих сделок не нашлось.
func RealizedPnl(side models.PositionSide, entry, size, contractSize float64, fills []models.Fill, fallbackExit float64) PnlResult {
	if contractSize <= 0 {
		contractSize = 1
	}
	exitSide := side.ExitSide()

	var (
		reported  float64
		anyReport bool
		qty       float64
		notional  float64
		fees      float64
	)
	for _, f := range fills {
		if f.Side != exitSide {
			continue
		}
		qty += f.Qty
		notional += f.Qty * f.Price
		fees += f.Fee
		if v, ok := reportedPnl(f); ok {
			reported += v
			anyReport = true
		}
	}

	exit := fallbackExit
	if qty > 0 {
		exit = notional / qty
	}
	if anyReport {
		return PnlResult{Pnl: reported, Exit: exit, Source: PnlSourceExchange}
	}
	return PnlResult{
		Pnl:    (exit-entry)*size*side.Sign()*contractSize - fees,
		Exit:   exit,
		Source: PnlSourceComputed,
	}
}
