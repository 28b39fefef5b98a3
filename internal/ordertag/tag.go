// Package ordertag кодирует назначение ордера в client-reference поля,
// чтобы любой экземпляр бота (в том числе после рестарта) мог отличить свои ордера от чужих.
package ordertag

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// Prefix зарезервированный префикс. Ордер с таким client id считается нашим.
	Prefix = "BOT"
	sep    = "_"

	// MaxLen лимит clientOrderId у Binance/Bybit.
	MaxLen = 36

	maxSymbolCode = 12
	suffixLen     = 6
)

type Purpose string

const (
	Entry      Purpose = "EN"
	TakeProfit Purpose = "TP"
	StopLoss   Purpose = "SL"
	Leg        Purpose = "L"
)

// Tag разобранный client id.
type Tag struct {
	Purpose Purpose
	LegN    int
	UserID  int64
	Symbol  string
	Suffix  string
}

func (t Tag) IsTPSL() bool { return t.Purpose == TakeProfit || t.Purpose == StopLoss }

func (t Tag) IsEntrySide() bool { return t.Purpose == Entry || t.Purpose == Leg }

var (
	now     = time.Now
	randInt = rand.IntN
)

// Make строит тег. TP и SL детерминированы для (user, symbol), вход получает суффикс попытки.
func Make(p Purpose, userID int64, symbol string) string {
	if p == Leg {
		return MakeLeg(1, userID, symbol)
	}
	return build(string(p), userID, symbol, p == Entry)
}

// MakeLeg тег n-й ступени сетки, n в [1, 99].
func MakeLeg(n int, userID int64, symbol string) string {
	if n < 1 {
		n = 1
	}
	if n > 99 {
		n = 99
	}
	return build(string(Leg)+strconv.Itoa(n), userID, symbol, true)
}

func build(purpose string, userID int64, symbol string, withSuffix bool) string {
	user := strconv.FormatInt(userID, 36)
	parts := []string{Prefix, purpose, user, SymbolCode(symbol, symbolBudget(user))}
	if withSuffix {
		parts = append(parts, suffix())
	}
	return strings.ToUpper(strings.Join(parts, sep))
}

// symbolBudget считается под худший случай (L99 + суффикс), чтобы код символа
// у одного пользователя был одинаковым во всех тегах.
func symbolBudget(user string) int {
	fixed := len(Prefix) + len(sep) + 3 + len(sep) + len(user) + len(sep) + len(sep) + suffixLen
	b := MaxLen - fixed
	if b > maxSymbolCode {
		b = maxSymbolCode
	}
	return b
}

// SymbolCode нормализует символ биржи ("BTC/USDT:USDT", "BTC-USDT-SWAP") в короткий алфанумерик.
func SymbolCode(symbol string, budget int) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(symbol) {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	code := b.String()
	// ccxt-стиль "BTC/USDT:USDT" даёт хвост из settle-валюты, он не несёт информации
	if i := strings.IndexByte(symbol, ':'); i > 0 {
		code = strings.TrimSuffix(code, strings.ToUpper(symbol[i+1:]))
	}
	if len(code) <= budget {
		return code
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	hash := strings.ToUpper(strconv.FormatUint(uint64(h.Sum32()), 36))
	if len(hash) > 5 {
		hash = hash[:5]
	}
	keep := budget - len(hash)
	if keep < 1 {
		return hash
	}
	return code[:keep] + hash
}

func suffix() string {
	ts := strconv.FormatInt(now().UnixMilli(), 36)
	if len(ts) > suffixLen-2 {
		ts = ts[len(ts)-(suffixLen-2):]
	}
	return ts + strconv.FormatInt(int64(randInt(36)), 36) + strconv.FormatInt(int64(randInt(36)), 36)
}

// IsEngineOwned строка читается как наш тег в одной из двух форм.
// Одного префикса мало: "bottom_catcher_42" принадлежит чужому инструменту.
func IsEngineOwned(s string) bool {
	_, ok := Parse(s)
	return ok
}

// Parse разбирает тег в полной форме (BOT_TP_...) или в компактной (BOTTP...).
func Parse(s string) (Tag, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.Contains(s, sep) {
		return parseFull(s)
	}
	return parseCompact(s)
}

func parseFull(s string) (Tag, bool) {
	parts := strings.Split(s, sep)
	if len(parts) < 4 || len(parts) > 5 || parts[0] != Prefix {
		return Tag{}, false
	}
	for _, p := range parts[1:] {
		if p == "" || !alnum(p) {
			return Tag{}, false
		}
	}

	t := Tag{Symbol: parts[3]}
	switch p := parts[1]; {
	case p == string(Entry), p == string(TakeProfit), p == string(StopLoss):
		t.Purpose = Purpose(p)
	case strings.HasPrefix(p, string(Leg)):
		n, err := strconv.Atoi(p[1:])
		if err != nil || n < 1 || n > 99 {
			return Tag{}, false
		}
		t.Purpose, t.LegN = Leg, n
	default:
		return Tag{}, false
	}

	uid, err := strconv.ParseInt(strings.ToLower(parts[2]), 36, 64)
	if err != nil {
		return Tag{}, false
	}
	t.UserID = uid

	// суффикс есть ровно у входа и ступеней
	if (len(parts) == 5) != t.IsEntrySide() {
		return Tag{}, false
	}
	if len(parts) == 5 {
		t.Suffix = parts[4]
	}
	return t, true
}

// Compact переводит тег в форму без разделителей для бирж, где client id только алфанумерик.
// Формат: BOT, код назначения (ступень всегда двумя цифрами), длина id пользователя одной
// base36-цифрой, id пользователя, код символа, суффикс. Код символа режется справа под maxLen.
// Нечитаемая строка возвращается очищенной от всего, кроме букв и цифр.
func Compact(tag string, maxLen int) string {
	t, ok := Parse(tag)
	if !ok {
		s := onlyAlnum(tag)
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		return s
	}

	purpose := string(t.Purpose)
	if t.Purpose == Leg {
		purpose = fmt.Sprintf("%s%02d", Leg, t.LegN)
	}
	user := strings.ToUpper(strconv.FormatInt(t.UserID, 36))
	head := Prefix + purpose + strings.ToUpper(strconv.FormatInt(int64(len(user)), 36)) + user

	symbol := t.Symbol
	if over := len(head) + len(symbol) + len(t.Suffix) - maxLen; over > 0 {
		keep := len(symbol) - over
		if keep < 1 {
			keep = 1
		}
		symbol = symbol[:keep]
	}
	return head + symbol + t.Suffix
}

func parseCompact(s string) (Tag, bool) {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok || !alnum(rest) {
		return Tag{}, false
	}

	var t Tag
	switch {
	case strings.HasPrefix(rest, string(Entry)), strings.HasPrefix(rest, string(TakeProfit)), strings.HasPrefix(rest, string(StopLoss)):
		t.Purpose, rest = Purpose(rest[:2]), rest[2:]
	case strings.HasPrefix(rest, string(Leg)) && len(rest) > 3:
		n, err := strconv.Atoi(rest[1:3])
		if err != nil || n < 1 {
			return Tag{}, false
		}
		t.Purpose, t.LegN, rest = Leg, n, rest[3:]
	default:
		return Tag{}, false
	}

	if rest == "" {
		return Tag{}, false
	}
	ulen, err := strconv.ParseInt(strings.ToLower(rest[:1]), 36, 64)
	if err != nil || ulen < 1 || int(ulen) >= len(rest) {
		return Tag{}, false
	}
	uid, err := strconv.ParseInt(strings.ToLower(rest[1:1+ulen]), 36, 64)
	if err != nil {
		return Tag{}, false
	}
	t.UserID, rest = uid, rest[1+ulen:]

	if t.IsEntrySide() {
		if len(rest) <= suffixLen {
			return Tag{}, false
		}
		t.Suffix, rest = rest[len(rest)-suffixLen:], rest[:len(rest)-suffixLen]
	}
	t.Symbol = rest
	return t, true
}

func alnum(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func onlyAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
