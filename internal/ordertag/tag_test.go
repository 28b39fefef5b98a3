package ordertag

import (
	"strings"
	"testing"
	"time"

	"grid_bot/internal/models"
)

func TestMakeTakeProfitDeterministic(t *testing.T) {
	a := Make(TakeProfit, 123, "BTCUSDT")
	b := Make(TakeProfit, 123, "BTCUSDT")
	if a != b {
		t.Fatalf("take-profit tag not deterministic: %q vs %q", a, b)
	}
	if a != "BOT_TP_3F_BTCUSDT" {
		t.Fatalf("unexpected tag %q", a)
	}

	if Make(TakeProfit, 124, "BTCUSDT") == a {
		t.Fatal("tags of different users collide")
	}
	if Make(TakeProfit, 123, "ETHUSDT") == a {
		t.Fatal("tags of different symbols collide")
	}
	if Make(StopLoss, 123, "BTCUSDT") == a {
		t.Fatal("take-profit and stop-loss tags collide")
	}
}

func TestEntryTagsHaveSuffix(t *testing.T) {
	restore := now
	defer func() { now = restore }()

	now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	a := Make(Entry, 1, "BTCUSDT")
	now = func() time.Time { return time.UnixMilli(1_700_000_000_001) }
	b := Make(Entry, 1, "BTCUSDT")

	if a == b {
		t.Fatalf("entry tags must differ between attempts: %q", a)
	}
	tag, ok := Parse(a)
	if !ok || tag.Purpose != Entry || tag.Suffix == "" {
		t.Fatalf("Parse(%q) = %+v, %v", a, tag, ok)
	}
}

func TestTagsAreEngineOwned(t *testing.T) {
	tags := []string{
		Make(Entry, 42, "BTC/USDT:USDT"),
		Make(TakeProfit, 42, "BTC/USDT:USDT"),
		Make(StopLoss, 42, "BTC/USDT:USDT"),
		MakeLeg(3, 42, "BTC/USDT:USDT"),
		MakeLeg(99, 9_223_372_036_854_775_807, "1000SHIBUSDTPERPETUALSWAP"),
	}
	for _, tag := range tags {
		if !IsEngineOwned(tag) {
			t.Fatalf("%q is not recognized as engine-owned", tag)
		}
		if !IsEngineOwned(strings.ToLower(tag)) {
			t.Fatalf("lower-case %q is not recognized", tag)
		}
		if len(tag) > MaxLen {
			t.Fatalf("%q is longer than %d", tag, MaxLen)
		}
	}
	if IsEngineOwned("web-target-1") || IsEngineOwned("") {
		t.Fatal("foreign ids must not be engine-owned")
	}
}

func TestParseRoundTrip(t *testing.T) {
	tag := MakeLeg(7, 555, "ETH-USDT-SWAP")
	got, ok := Parse(tag)
	if !ok {
		t.Fatalf("Parse(%q) failed", tag)
	}
	if got.Purpose != Leg || got.LegN != 7 || got.UserID != 555 || got.Symbol != "ETHUSDTSWAP" {
		t.Fatalf("Parse(%q) = %+v", tag, got)
	}

	for _, bad := range []string{"", "BOT", "BOT_XX_1_BTC", "BOT_TP_1_BTC_ABCDEF", "BOT_EN_1_BTC", "BOTTPZBTC", "BOTL7X1BTC", "FOO_TP_1_BTC"} {
		if _, ok := Parse(bad); ok {
			t.Fatalf("Parse(%q) should fail", bad)
		}
	}
}

func TestForeignBotPrefixIsNotOwned(t *testing.T) {
	foreign := []string{
		"bottom_catcher_42",
		"bot-xyz",
		"BOTTLE123",
		"bot_grid_v2",
		"BOT_TP",
		"BOT__1_BTC",
	}
	for _, id := range foreign {
		if IsEngineOwned(id) {
			t.Errorf("%q must not be engine-owned", id)
		}
		if Owned(models.Order{ClientRefs: map[string]string{"clientOrderId": id}}) {
			t.Errorf("order with %q must not be owned", id)
		}
	}
}

func TestCompactRoundTrip(t *testing.T) {
	restore := now
	defer func() { now = restore }()
	now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	tests := []struct {
		name string
		tag  string
		want Tag
	}{
		{"take profit", Make(TakeProfit, 123, "BTC-USDT-SWAP"), Tag{Purpose: TakeProfit, UserID: 123, Symbol: "BTCUSDTSWAP"}},
		{"stop loss", Make(StopLoss, 7, "ETHUSDT"), Tag{Purpose: StopLoss, UserID: 7, Symbol: "ETHUSDT"}},
		{"entry", Make(Entry, 99, "SOLUSDT"), Tag{Purpose: Entry, UserID: 99, Symbol: "SOLUSDT"}},
		{"leg", MakeLeg(7, 555, "ETH-USDT-SWAP"), Tag{Purpose: Leg, LegN: 7, UserID: 555, Symbol: "ETHUSDTSWAP"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compact(tt.tag, 32)
			if strings.Contains(c, "_") || len(c) > 32 {
				t.Fatalf("Compact(%q) = %q", tt.tag, c)
			}
			if !IsEngineOwned(c) || !IsEngineOwned(strings.ToLower(c)) {
				t.Fatalf("compact %q is not engine-owned", c)
			}
			got, ok := Parse(c)
			if !ok {
				t.Fatalf("Parse(%q) failed", c)
			}
			full, _ := Parse(tt.tag)
			if got.Purpose != tt.want.Purpose || got.LegN != tt.want.LegN || got.UserID != tt.want.UserID ||
				got.Symbol != tt.want.Symbol || got.Suffix != full.Suffix {
				t.Fatalf("Parse(%q) = %+v, want %+v suffix %q", c, got, tt.want, full.Suffix)
			}
		})
	}
}

func TestCompactFitsLimit(t *testing.T) {
	tag := MakeLeg(99, 9_223_372_036_854_775_807, "1000SHIBUSDTPERPETUALSWAP")
	c := Compact(tag, 32)
	if len(c) > 32 {
		t.Fatalf("Compact(%q) = %q, longer than 32", tag, c)
	}
	got, ok := Parse(c)
	if !ok || got.Purpose != Leg || got.LegN != 99 || got.UserID != 9_223_372_036_854_775_807 {
		t.Fatalf("Parse(%q) = %+v, %v", c, got, ok)
	}

	if got := Compact("web-target-1", 32); got != "webtarget1" {
		t.Fatalf("foreign id compacted to %q", got)
	}
}

func TestSymbolCodeStable(t *testing.T) {
	long := "1000SHIBUSDTPERPETUALSWAP"
	a := SymbolCode(long, 10)
	if len(a) != 10 || a != SymbolCode(long, 10) {
		t.Fatalf("unstable or oversized code %q", a)
	}
	if SymbolCode(long+"X", 10) == a {
		t.Fatal("different long symbols should hash differently")
	}
}

func TestExtractors(t *testing.T) {
	own := Make(TakeProfit, 9, "BTCUSDT")
	o := models.Order{ClientRefs: map[string]string{"text": "t-123", "clOrdId": own}}

	if got := FromOrder(o); got != own {
		t.Fatalf("FromOrder = %q, want %q", got, own)
	}
	if !Owned(o) {
		t.Fatal("order with engine tag in clOrdId should be owned")
	}
	tag, ok := ParseOrder(o)
	if !ok || tag.Purpose != TakeProfit {
		t.Fatalf("ParseOrder = %+v, %v", tag, ok)
	}

	foreign := models.Order{ClientRefs: map[string]string{"ClientOrderID": "manual"}}
	if FromOrder(foreign) != "manual" || Owned(foreign) {
		t.Fatal("foreign order misclassified")
	}

	if PriceOf(models.Order{StopPrice: 90}) != 90 || PriceOf(models.Order{Price: 101, StopPrice: 90}) != 101 {
		t.Fatal("PriceOf should prefer limit price and fall back to stop price")
	}
}

func TestParamsCoverAllKeys(t *testing.T) {
	p := Params("BOT_TP_1_BTC")
	for _, k := range ClientRefKeys {
		if p[k] != "BOT_TP_1_BTC" {
			t.Fatalf("param %s missing", k)
		}
	}
}
