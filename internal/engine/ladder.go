package engine

import "grid_bot/internal/models"

// LegPlan одна ступень сетки усреднения.
type LegPlan struct {
	N     int
	Price float64
	Qty   float64
}

// PlanLegs цены и объёмы ступеней 1..LegCount-1 от цены входа.
// Каждая ступень отступает на свой gap% от предыдущей выставленной.
// Ступень меньше минимального лота пропускается и опорную цену не сдвигает.
func PlanLegs(cfg models.EngineConfig, market models.Market, entry float64) []LegPlan {
	sign := cfg.Side.Sign()
	lev := float64(cfg.Leverage)
	ref := entry

	var plan []LegPlan
	for i := 1; i < cfg.LegCount(); i++ {
		g := cfg.Grids[i]
		price := market.PriceToPrecision(ref * (1 - sign*g.GapPct/100))
		if price <= 0 {
			break
		}
		qty := market.ContractsFor(g.Amount*lev, price)
		if qty <= 0 || qty < market.MinQty {
			continue
		}
		plan = append(plan, LegPlan{N: i, Price: price, Qty: qty})
		ref = price
	}
	return plan
}
