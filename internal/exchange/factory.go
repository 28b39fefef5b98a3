package exchange

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"grid_bot/internal/models"
)

type Options struct {
	Testnet   bool
	RateLimit float64 // запросов в секунду на одно соединение, 0 = без лимита
	Burst     int

	// PaperMarkets инструменты paper-биржи и стартовые цены.
	PaperMarkets []models.Market
	PaperPrices  map[string]float64
}

// Factory создаёт новое соединение на каждый запуск движка.
type Factory struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	papers map[int64]*Paper
}

func NewFactory(opts Options, log *zap.Logger) *Factory {
	return &Factory{
		opts:   opts,
		log:    log.Named("exchange"),
		papers: make(map[int64]*Paper),
	}
}

func (f *Factory) New(cfg models.EngineConfig) (Exchange, error) {
	var ex Exchange
	switch strings.ToLower(cfg.Exchange) {
	case models.ExchangeBinance, "":
		ex = NewBinance(cfg.APIKey, cfg.APISecret, f.opts.Testnet)
	case models.ExchangeOKX:
		ex = NewOKX(cfg.APIKey, cfg.APISecret, cfg.APIPassphrase, f.opts.Testnet)
	case models.ExchangePaper:
		// paper-счёт живёт дольше одного запуска, иначе позиция терялась бы при рестарте
		return f.PaperFor(cfg.UserID), nil
	default:
		return nil, &models.ConfigError{Field: "exchange", Reason: fmt.Sprintf("unsupported exchange %q", cfg.Exchange)}
	}

	f.log.Debug("exchange connection created",
		zap.String("exchange", ex.ID()),
		zap.Int64("user_id", cfg.UserID),
	)
	return WithRateLimit(ex, f.opts.RateLimit, f.opts.Burst), nil
}

// PaperFor paper-счёт пользователя, создаётся лениво.
func (f *Factory) PaperFor(userID int64) *Paper {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.papers[userID]; ok {
		return p
	}
	p := NewPaper(f.opts.PaperMarkets...)
	for sym, px := range f.opts.PaperPrices {
		p.SetPrice(sym, px)
	}
	f.papers[userID] = p
	return p
}
