package models

import "time"

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderLimit      OrderType = "limit"
	OrderStopMarket OrderType = "stop_market"
)

// OrderRequest нормализованная заявка, адаптер биржи сам раскладывает её по полям API.
type OrderRequest struct {
	Symbol       string
	Type         OrderType
	Side         OrderSide
	PositionSide PositionSide
	Amount       float64
	Price        float64
	StopPrice    float64
	ReduceOnly   bool
	Tag          string
	// Params все client-reference поля с тегом (clientOrderId, clOrdId, text, ...).
	Params map[string]string
}

// Order нормализованный ордер биржи.
type Order struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Price      float64
	StopPrice  float64
	Amount     float64
	Filled     float64
	ReduceOnly bool
	Status     string
	ClientRefs map[string]string
	CreatedAt  time.Time
}

type Ticker struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Fill исполнение по счёту пользователя. Info хранит сырые поля биржи (pnl, fee и т.д.).
type Fill struct {
	OrderID string
	Symbol  string
	Side    OrderSide
	Price   float64
	Qty     float64
	Fee     float64
	Info    map[string]string
	Time    time.Time
}
