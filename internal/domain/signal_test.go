package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func activeLong(activation string) *Signal {
	a := dec(activation)
	return &Signal{
		Symbol:          "BTCUSDT",
		Side:            SideLong,
		Status:          StatusActive,
		ActivationPrice: &a,
		StopLoss:        dec("95"),
		TakeProfit1:     dec("105"),
		TakeProfit2:     dec("110"),
		TakeProfit3:     dec("120"),
	}
}

func TestEffectiveStop(t *testing.T) {
	sig := activeLong("100")

	t.Run("original stop before any partial", func(t *testing.T) {
		if !sig.EffectiveStop().Equal(dec("95")) {
			t.Errorf("expected 95, got %s", sig.EffectiveStop())
		}
	})

	t.Run("breakeven after stage 1", func(t *testing.T) {
		sig.Stage = 1
		if !sig.EffectiveStop().Equal(dec("100")) {
			t.Errorf("expected activation 100, got %s", sig.EffectiveStop())
		}
	})
}

func TestStopHit(t *testing.T) {
	t.Run("long stops on price at or below", func(t *testing.T) {
		sig := activeLong("100")
		if sig.StopHit(dec("96")) {
			t.Error("96 should not hit a 95 stop on a long")
		}
		if !sig.StopHit(dec("95")) {
			t.Error("95 should hit the stop exactly")
		}
		if !sig.StopHit(dec("90")) {
			t.Error("90 should hit the stop")
		}
	})

	t.Run("short stops on price at or above", func(t *testing.T) {
		a := dec("100")
		sig := &Signal{Side: SideShort, ActivationPrice: &a, StopLoss: dec("105")}
		if sig.StopHit(dec("104")) {
			t.Error("104 should not hit a 105 stop on a short")
		}
		if !sig.StopHit(dec("105")) {
			t.Error("105 should hit the stop exactly")
		}
	})
}

func TestTargetHitAndInProfit(t *testing.T) {
	sig := activeLong("100")

	if !sig.TargetHit(dec("105"), sig.TakeProfit1) {
		t.Error("105 should reach TP1")
	}
	if sig.TargetHit(dec("104.9"), sig.TakeProfit1) {
		t.Error("104.9 should not reach TP1")
	}
	if !sig.InProfit(dec("100.01")) {
		t.Error("above activation should be in profit for a long")
	}
	if sig.InProfit(dec("100")) {
		t.Error("at activation is not strictly in profit")
	}
}

func TestPnlPercent(t *testing.T) {
	t.Run("long gross move", func(t *testing.T) {
		sig := activeLong("100")
		got := sig.GrossPnlPercent(dec("105"))
		if !got.Equal(dec("5")) {
			t.Errorf("expected 5%%, got %s", got)
		}
	})

	t.Run("short gross move is inverted", func(t *testing.T) {
		a := dec("100")
		sig := &Signal{Side: SideShort, ActivationPrice: &a}
		got := sig.GrossPnlPercent(dec("95"))
		if !got.Equal(dec("5")) {
			t.Errorf("expected 5%%, got %s", got)
		}
	})

	t.Run("net subtracts fees as percent of activation", func(t *testing.T) {
		sig := activeLong("100")
		sig.FeesPaid = dec("0.2") // 0.2 absolute = 0.2% of 100
		got := sig.NetPnlPercent(dec("105"))
		if !got.Equal(dec("4.8")) {
			t.Errorf("expected 4.8%%, got %s", got)
		}
	})

	t.Run("zero activation yields zero", func(t *testing.T) {
		sig := &Signal{Side: SideLong}
		if !sig.NetPnlPercent(dec("105")).IsZero() {
			t.Error("expected zero PnL without activation price")
		}
	})
}

func TestSlipAgainst(t *testing.T) {
	rate := dec("0.0005")
	if !SlipAgainst(SideLong, dec("100"), rate).Equal(dec("100.05")) {
		t.Error("long entry should slip upward")
	}
	if !SlipAgainst(SideShort, dec("100"), rate).Equal(dec("99.95")) {
		t.Error("short entry should slip downward")
	}
}

func TestWithinBand(t *testing.T) {
	tol := dec("0.003")
	if !WithinBand(dec("100.2"), dec("100"), tol) {
		t.Error("100.2 is within 0.3% of 100")
	}
	if WithinBand(dec("100.4"), dec("100"), tol) {
		t.Error("100.4 is outside 0.3% of 100")
	}
	if WithinBand(dec("1"), decimal.Zero, tol) {
		t.Error("zero reference never matches")
	}
}

func TestExpiryLimit(t *testing.T) {
	if ExpiryLimit("15m") != 4*time.Hour {
		t.Error("15m timeframe expires after 4h")
	}
	if ExpiryLimit("1h") != 48*time.Hour {
		t.Error("other timeframes expire after 48h")
	}
}

func TestCVDStateApply(t *testing.T) {
	var cvd CVDState

	cvd.Apply(MarketTick{Symbol: "BTCUSDT", Price: dec("100"), Quantity: dec("2")})
	cvd.Apply(MarketTick{Symbol: "BTCUSDT", Price: dec("99"), Quantity: dec("3"), IsAggressorSell: true})

	if !cvd.CumulativeDelta.Equal(dec("-1")) {
		t.Errorf("expected delta -1, got %s", cvd.CumulativeDelta)
	}
	if !cvd.CumulativeVolume.Equal(dec("5")) {
		t.Errorf("expected volume 5, got %s", cvd.CumulativeVolume)
	}
	if !cvd.LastPrice.Equal(dec("99")) {
		t.Errorf("expected last price 99, got %s", cvd.LastPrice)
	}
}
