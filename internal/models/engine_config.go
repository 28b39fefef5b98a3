package models

import (
	"fmt"
	"strings"
)

const (
	ExchangeBinance = "binance"
	ExchangeOKX     = "okx"
	ExchangePaper   = "paper"
)

// MaxRounds номер ступени кодируется в теге двумя цифрами.
const MaxRounds = 99

// ConfigError невалидный снимок настроек, запуск с ним бессмысленен.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// EngineConfig неизменяемый снимок настроек одного запуска.
type EngineConfig struct {
	UserID int64
	ChatID int64

	Exchange      string
	APIKey        string
	APISecret     string
	APIPassphrase string

	Symbol        string
	Side          PositionSide
	TakeProfitPct float64
	StopLossPct   float64
	Leverage      int
	Rounds        int
	Repeat        bool
	Grids         []GridLeg
}

func (c EngineConfig) HasCredentials() bool {
	switch strings.ToLower(c.Exchange) {
	case ExchangePaper:
		return true
	case ExchangeOKX:
		return c.APIKey != "" && c.APISecret != "" && c.APIPassphrase != ""
	default:
		return c.APIKey != "" && c.APISecret != ""
	}
}

func (c EngineConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Symbol) == "":
		return &ConfigError{Field: "symbol", Reason: "is empty"}
	case !c.Side.Valid():
		return &ConfigError{Field: "side", Reason: fmt.Sprintf("must be long or short, got %q", c.Side)}
	case c.Leverage < 1:
		return &ConfigError{Field: "leverage", Reason: "must be >= 1"}
	case c.Rounds < 1 || c.Rounds > MaxRounds:
		return &ConfigError{Field: "rounds", Reason: fmt.Sprintf("must be in [1, %d]", MaxRounds)}
	case len(c.Grids) == 0:
		return &ConfigError{Field: "grids", Reason: "is empty"}
	case c.Grids[0].Amount <= 0:
		return &ConfigError{Field: "grids[0].amount", Reason: "must be > 0"}
	case c.TakeProfitPct < 0 || c.StopLossPct < 0:
		return &ConfigError{Field: "take_profit/stop_loss", Reason: "must be >= 0"}
	}
	for i, g := range c.Grids[1:] {
		if g.GapPct < 0 || g.GapPct >= 100 {
			return &ConfigError{Field: fmt.Sprintf("grids[%d].gap", i+1), Reason: "must be in [0, 100)"}
		}
	}
	return nil
}

// TakeProfitFraction доля движения цены для TP: проценты заданы от маржи, поэтому делим на плечо.
func (c EngineConfig) TakeProfitFraction() float64 {
	if c.TakeProfitPct <= 0 || c.Leverage <= 0 {
		return 0
	}
	return c.TakeProfitPct / 100 / float64(c.Leverage)
}

func (c EngineConfig) StopLossFraction() float64 {
	if c.StopLossPct <= 0 || c.Leverage <= 0 {
		return 0
	}
	return c.StopLossPct / 100 / float64(c.Leverage)
}

// LegCount сколько ступеней реально используется: min(rounds, len(grids)).
func (c EngineConfig) LegCount() int {
	if c.Rounds < len(c.Grids) {
		return c.Rounds
	}
	return len(c.Grids)
}
