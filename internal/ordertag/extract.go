package ordertag

import (
	"strings"

	"grid_bot/internal/models"
)

// ClientRefKeys все известные имена client-reference полей. Тег пишется в каждое.
var ClientRefKeys = []string{
	"clientOrderId",
	"newClientOrderId",
	"clOrdId",
	"algoClOrdId",
	"clientAlgoId",
	"orderLinkId",
	"text",
	"label",
}

// Params заготовка params для createOrder.
func Params(tag string) map[string]string {
	out := make(map[string]string, len(ClientRefKeys))
	for _, k := range ClientRefKeys {
		out[k] = tag
	}
	return out
}

// Extractor достаёт строку из нормализованного ордера, пустая строка = нет значения.
type Extractor func(o models.Order) string

func byKey(key string) Extractor {
	return func(o models.Order) string {
		if o.ClientRefs == nil {
			return ""
		}
		if v, ok := o.ClientRefs[key]; ok {
			return strings.TrimSpace(v)
		}
		// некоторые адаптеры кладут ключи как есть из json
		for k, v := range o.ClientRefs {
			if strings.EqualFold(k, key) {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
}

var extractors = func() []Extractor {
	out := make([]Extractor, 0, len(ClientRefKeys))
	for _, k := range ClientRefKeys {
		out = append(out, byKey(k))
	}
	return out
}()

// FromOrder первый тег с нашим префиксом, иначе первое непустое client-reference значение.
func FromOrder(o models.Order) string {
	first := ""
	for _, ex := range extractors {
		v := ex(o)
		if v == "" {
			continue
		}
		if IsEngineOwned(v) {
			return v
		}
		if first == "" {
			first = v
		}
	}
	return first
}

// Owned хоть одно client-reference поле начинается с префикса.
func Owned(o models.Order) bool {
	for _, ex := range extractors {
		if IsEngineOwned(ex(o)) {
			return true
		}
	}
	return false
}

// ParseOrder разбирает тег ордера, если он есть и читается.
func ParseOrder(o models.Order) (Tag, bool) {
	for _, ex := range extractors {
		if t, ok := Parse(ex(o)); ok {
			return t, true
		}
	}
	return Tag{}, false
}

// PriceOf цена ордера: лимитная, иначе триггер.
func PriceOf(o models.Order) float64 {
	for _, px := range []float64{o.Price, o.StopPrice} {
		if px > 0 {
			return px
		}
	}
	return 0
}
