package models

import "github.com/shopspring/decimal"

// Market параметры инструмента, нужные для округления.
type Market struct {
	Symbol       string
	TickSize     float64
	StepSize     float64
	MinQty       float64
	ContractSize float64 // 1 для USDT-M, ctVal для OKX SWAP
}

// PriceToPrecision округляет цену до ближайшего тика.
func (m Market) PriceToPrecision(px float64) float64 {
	if m.TickSize <= 0 {
		return px
	}
	tick := decimal.NewFromFloat(m.TickSize)
	return decimal.NewFromFloat(px).Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// AmountToPrecision обрезает количество вниз до шага лота.
func (m Market) AmountToPrecision(qty float64) float64 {
	if m.StepSize <= 0 {
		return qty
	}
	step := decimal.NewFromFloat(m.StepSize)
	return decimal.NewFromFloat(qty).Div(step).Floor().Mul(step).InexactFloat64()
}

func (m Market) Ticks(n float64) float64 { return n * m.TickSize }

// ContractsFor сколько контрактов покупается на notional по цене px.
func (m Market) ContractsFor(notional, px float64) float64 {
	if px <= 0 {
		return 0
	}
	ct := m.ContractSize
	if ct <= 0 {
		ct = 1
	}
	return m.AmountToPrecision(notional / px / ct)
}
