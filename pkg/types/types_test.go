package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if SideYes.Opposite() != SideNo {
		t.Errorf("SideYes.Opposite() = %v, want N", SideYes.Opposite())
	}
	if SideNo.Opposite() != SideYes {
		t.Errorf("SideNo.Opposite() = %v, want Y", SideNo.Opposite())
	}
}

func TestWinLossFromPnL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		pnl  string
		want WinLoss
	}{
		{"2.91", Win},
		{"-2.91", Loss},
		{"0", Draw},
	}
	for _, tc := range cases {
		pnl, _ := decimal.NewFromString(tc.pnl)
		if got := WinLossFromPnL(pnl); got != tc.want {
			t.Errorf("WinLossFromPnL(%s) = %v, want %v", tc.pnl, got, tc.want)
		}
	}
}

func TestMarketStrike(t *testing.T) {
	t.Parallel()
	m := Market{FloorStrike: 118999.99}
	if got := m.Strike(); got != 119000 {
		t.Errorf("Strike() = %d, want 119000", got)
	}
}

func TestSnapshotLookups(t *testing.T) {
	t.Parallel()
	snap := &Snapshot{
		StrikeDate: time.Date(2025, 7, 31, 17, 0, 0, 0, time.UTC),
		Markets: []Market{
			{Ticker: "T-118", FloorStrike: 118999.99},
			{Ticker: "T-119", FloorStrike: 119249.99},
		},
	}

	m, ok := snap.MarketByStrike(119000)
	if !ok || m.Ticker != "T-118" {
		t.Errorf("MarketByStrike(119000) = %v, %v", m.Ticker, ok)
	}
	if _, ok := snap.MarketByStrike(120000); ok {
		t.Error("MarketByStrike(120000) should miss")
	}

	m, ok = snap.MarketByTicker("T-119")
	if !ok || m.Strike() != 119250 {
		t.Errorf("MarketByTicker(T-119) = %v, %v", m.Strike(), ok)
	}

	now := time.Date(2025, 7, 31, 16, 50, 0, 0, time.UTC)
	if got := snap.TTCSeconds(now); got != 600 {
		t.Errorf("TTCSeconds = %d, want 600", got)
	}
	after := time.Date(2025, 7, 31, 17, 1, 0, 0, time.UTC)
	if got := snap.TTCSeconds(after); got != 0 {
		t.Errorf("TTCSeconds past expiry = %d, want 0", got)
	}
}

func TestStrikeRowActiveSide(t *testing.T) {
	t.Parallel()
	below := StrikeRow{AboveMoney: false, YesAsk: 93, NoAsk: 9, YesDiff: 2.5, NoDiff: -1.5}
	if below.ActiveSide() != SideYes {
		t.Errorf("below money line should favor YES, got %v", below.ActiveSide())
	}
	if below.ActiveAsk() != 93 {
		t.Errorf("ActiveAsk = %d, want 93", below.ActiveAsk())
	}
	if below.ActiveDiff() != 2.5 {
		t.Errorf("ActiveDiff = %v, want 2.5", below.ActiveDiff())
	}

	above := StrikeRow{AboveMoney: true, YesAsk: 9, NoAsk: 93, YesDiff: -1.5, NoDiff: 2.5}
	if above.ActiveSide() != SideNo {
		t.Errorf("above money line should favor NO, got %v", above.ActiveSide())
	}
	if above.ActiveAsk() != 93 {
		t.Errorf("ActiveAsk = %d, want 93", above.ActiveAsk())
	}
	if above.ActiveDiff() != 2.5 {
		t.Errorf("ActiveDiff = %v, want 2.5", above.ActiveDiff())
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	for _, s := range []TradeStatus{StatusClosed, StatusError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TradeStatus{StatusPending, StatusOpen, StatusClosing, StatusExpired} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
