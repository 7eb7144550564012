package engine

import (
	"testing"
	"time"

	"chart-trade-bot-go/internal/models"
	"chart-trade-bot-go/internal/statemanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// Tuesday, mid-morning. Weekday matters for the trading-hours tests.
var testEpoch = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	e := New(statemanager.NewManager(logger), nil, logger)
	clock := &fakeClock{t: testEpoch}
	e.now = clock.Now
	return e, clock
}

func autoSignal(trend, price, ticker string) models.Signal {
	return models.Signal{Trend: trend, Price: price, Ticker: ticker, Auto: true}
}

func defaultOnly() models.RuleConfig {
	return models.RuleConfig{DefaultTradeEnabled: true}
}

func lastTrade(t *testing.T, sum *models.Summary) models.TradeRecord {
	t.Helper()
	require.NotEmpty(t, sum.AllTrades)
	return sum.AllTrades[len(sum.AllTrades)-1]
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"123.45", 123.45, true},
		{"$1,234.50", 1234.50, true},
		{" 99 ", 99, true},
		{"$ 1 234", 1234, true},
		{"", 0, false},
		{"N/A", 0, false},
		{"$", 0, false},
	}
	for _, c := range cases {
		got, ok := ParsePrice(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
		if c.ok {
			assert.InDelta(t, c.want, got, 1e-9, "input %q", c.in)
		}
	}
}

func TestUnparsablePriceIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()

	sum := e.OnSignal(autoSignal("up", "loading...", "TSLA"), cfg)
	assert.Empty(t, sum.AllTrades)
	assert.Empty(t, sum.Bots)

	sum = e.OnSignal(autoSignal("up", "100.0", ""), cfg)
	assert.Empty(t, sum.AllTrades)
	assert.Empty(t, sum.Bots)
}

func TestDefaultStrategyBootstrap(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()

	// A leading down buys immediately and waits for the second down.
	sum := e.OnSignal(autoSignal("down", "50.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)
	assert.Equal(t, "long", sum.Bots["TSLA"].Position)

	// An up tick during the bootstrap is ignored.
	sum = e.OnSignal(autoSignal("up", "52.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)
	assert.Equal(t, "long", sum.Bots["TSLA"].Position)

	// The second down closes the probe and finishes the bootstrap.
	sum = e.OnSignal(autoSignal("down", "48.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 2)
	sell := sum.AllTrades[1]
	assert.Equal(t, models.DirectionSell, sell.Direction)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, -2.0, *sell.Profit, 1e-9)
	assert.True(t, sum.Bots["TSLA"].FirstCycleDone)

	// Steady state: buy on up while flat.
	sum = e.OnSignal(autoSignal("up", "49.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 3)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[2].Direction)
	assert.Equal(t, "long", sum.Bots["TSLA"].Position)
}

func TestDefaultStrategyFirstSignalUp(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()

	sum := e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)
	assert.True(t, sum.Bots["TSLA"].FirstCycleDone)
}

func TestTakeProfitSell(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()
	cfg.Rule1Enabled = true
	cfg.TakeProfitAmount = 2.0

	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)

	// Below the target nothing happens.
	sum := e.OnSignal(autoSignal("up", "101.9", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	// At exactly entry+amount the rule sells.
	sum = e.OnSignal(autoSignal("up", "102.0", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.DirectionSell, sell.Direction)
	assert.Equal(t, models.WinReasonTakeProfit, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, 2.0, *sell.Profit, 1e-9)
}

func TestStopLossSell(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()
	cfg.Rule2Enabled = true
	cfg.StopLossAmount = 1.0

	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)

	sum := e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonStopLoss, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, -1.0, *sell.Profit, 1e-9)
	assert.Equal(t, "flat", sum.Bots["TSLA"].Position)
}

func TestStopLossRunsOnManualSignals(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := models.RuleConfig{Rule2Enabled: true, StopLossAmount: 1.0}

	e.ManualToggle("100.0", "TSLA", "", "")

	sig := models.Signal{Trend: "down", Price: "98.5", Ticker: "TSLA", Auto: false}
	sum := e.OnSignal(sig, cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonStopLoss, sell.WinReason)
}

func TestConsecutiveDropsSell(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := models.RuleConfig{Rule3Enabled: true, Rule3DropCount: 2}

	e.ManualToggle("100.0", "TSLA", "", "")

	// First drop: streak of one, no sell.
	sum := e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	// Second drop reaches the threshold.
	sum = e.OnSignal(autoSignal("down", "98.0", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonConsecutiveDrops, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, -2.0, *sell.Profit, 1e-9)

	// Flat now: further drops are no-ops.
	sum = e.OnSignal(autoSignal("down", "97.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 2)
}

func TestConsecutiveDropsStreakResetsOnRise(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := models.RuleConfig{Rule3Enabled: true, Rule3DropCount: 2}

	e.ManualToggle("100.0", "TSLA", "", "")

	e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)
	e.OnSignal(autoSignal("up", "99.5", "TSLA"), cfg) // streak back to zero
	e.OnSignal(autoSignal("down", "99.2", "TSLA"), cfg)
	sum := e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)

	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonConsecutiveDrops, sell.WinReason)
	assert.Len(t, sum.AllTrades, 2)
}

func TestRule5ReversalAndScalp(t *testing.T) {
	e, clock := newTestEngine(t)
	cfg := models.RuleConfig{
		Rule5Enabled:        true,
		Rule5DownMinutes:    1,
		Rule5ReversalAmount: 2.0,
		Rule5ScalpAmount:    0.25,
	}

	// Downtrend timer.
	e.OnSignal(autoSignal("down", "100.0", "TSLA"), cfg)
	clock.Advance(61 * time.Second)
	e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)

	// First up after the timer elapsed: reversal buy.
	sum := e.OnSignal(autoSignal("up", "99.5", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)
	assert.InDelta(t, 99.5, sum.AllTrades[0].Price, 1e-9)

	// Below the reversal target the rule holds and blocks.
	sum = e.OnSignal(autoSignal("up", "101.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	// Target prints: sell and switch to scalp mode.
	sum = e.OnSignal(autoSignal("up", "101.5", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonRule5, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, 2.0, *sell.Profit, 1e-9)

	// Scalp: each up tick while flat is an instant round trip.
	sum = e.OnSignal(autoSignal("up", "102.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 4)
	scalpBuy, scalpSell := sum.AllTrades[2], sum.AllTrades[3]
	assert.Equal(t, models.DirectionBuy, scalpBuy.Direction)
	assert.InDelta(t, 102.0, scalpBuy.Price, 1e-9)
	assert.Equal(t, models.DirectionSell, scalpSell.Direction)
	assert.InDelta(t, 102.25, scalpSell.Price, 1e-9)
	assert.Equal(t, scalpBuy.TradeID, scalpSell.TradeID)

	// A down tick exits scalp mode without trading.
	sum = e.OnSignal(autoSignal("down", "101.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 4)
}

func TestRule6BuyAfterDowntrendHoldForProfit(t *testing.T) {
	e, clock := newTestEngine(t)
	cfg := models.RuleConfig{
		Rule6Enabled:      true,
		Rule6DownMinutes:  1,
		Rule6ProfitAmount: 1.0,
	}

	e.OnSignal(autoSignal("down", "100.0", "TSLA"), cfg)
	clock.Advance(61 * time.Second)
	e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)

	sum := e.OnSignal(autoSignal("up", "99.5", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)

	// Holds below entry+profit even through down ticks.
	sum = e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)
	sum = e.OnSignal(autoSignal("up", "100.4", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	sum = e.OnSignal(autoSignal("up", "100.5", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonRule6, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, 1.0, *sell.Profit, 1e-9)
}

func TestRule7MomentumBuyAndTaggedSell(t *testing.T) {
	e, clock := newTestEngine(t)
	cfg := defaultOnly()
	cfg.Rule7Enabled = true
	cfg.Rule7UpMinutes = 3 // seconds, historical field name

	// Counting suppresses the default buy-on-up.
	sum := e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	assert.Empty(t, sum.AllTrades)

	clock.Advance(1 * time.Second)
	sum = e.OnSignal(autoSignal("up", "100.5", "TSLA"), cfg)
	assert.Empty(t, sum.AllTrades)

	// Streak long enough: momentum buy.
	clock.Advance(3 * time.Second)
	sum = e.OnSignal(autoSignal("up", "101.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)

	// The default down-sell closes it with the rule's tag.
	sum = e.OnSignal(autoSignal("down", "100.0", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.DirectionSell, sell.Direction)
	assert.Equal(t, models.WinReasonRule7, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, -1.0, *sell.Profit, 1e-9)
}

func TestRule7StrictReset(t *testing.T) {
	e, clock := newTestEngine(t)
	cfg := models.RuleConfig{Rule7Enabled: true, Rule7UpMinutes: 3}

	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	clock.Advance(2 * time.Second)
	// A single down tick wipes the streak.
	e.OnSignal(autoSignal("down", "99.5", "TSLA"), cfg)

	clock.Advance(1 * time.Second)
	sum := e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	assert.Empty(t, sum.AllTrades)

	// Only two seconds into the new streak: still no buy.
	clock.Advance(2 * time.Second)
	sum = e.OnSignal(autoSignal("up", "100.5", "TSLA"), cfg)
	assert.Empty(t, sum.AllTrades)

	clock.Advance(2 * time.Second)
	sum = e.OnSignal(autoSignal("up", "101.0", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)
}

func TestRule8PullbackBuyTargetSell(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := models.RuleConfig{
		Rule8Enabled:    true,
		Rule8BuyOffset:  0.5,
		Rule8SellOffset: 0.5,
	}

	// Rolling maximum tracks upward while flat.
	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	e.OnSignal(autoSignal("up", "100.4", "TSLA"), cfg)

	// Not a deep enough pullback yet.
	sum := e.OnSignal(autoSignal("down", "100.0", "TSLA"), cfg)
	assert.Empty(t, sum.AllTrades)

	sum = e.OnSignal(autoSignal("down", "99.9", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)
	assert.InDelta(t, 99.9, sum.AllTrades[0].Price, 1e-9)

	sum = e.OnSignal(autoSignal("up", "100.3", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	sum = e.OnSignal(autoSignal("up", "100.4", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonRule8, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, 0.5, *sell.Profit, 1e-9)
}

func TestRule9SellCooldown(t *testing.T) {
	e, clock := newTestEngine(t)
	cfg := defaultOnly()
	cfg.Rule9Enabled = true
	cfg.Rule9WindowMinutes = 15 // seconds, historical field name

	// Open and close a default-strategy position to arm the cooldown.
	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)

	// Five seconds after the sell the re-entry is suppressed.
	clock.Advance(5 * time.Second)
	sum := e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 2)
	assert.Equal(t, "flat", sum.Bots["TSLA"].Position)

	// Cooldown elapsed: the default strategy buys again.
	clock.Advance(11 * time.Second)
	sum = e.OnSignal(autoSignal("up", "100.5", "TSLA"), cfg)
	require.Len(t, sum.AllTrades, 3)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[2].Direction)
}

func TestTradingHoursGate(t *testing.T) {
	e, _ := newTestEngine(t)
	// testEpoch is a Tuesday, 10:00. Weekday convention is Monday=0.

	cfg := defaultOnly()
	cfg.Rule4Enabled = true
	cfg.TradingStart = "09:00"
	cfg.TradingEnd = "16:00"
	cfg.TradingDays = []int{1} // Tuesday

	sum := e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	// Outside the configured window: no new trades.
	cfg.TradingStart = "10:30"
	e.OnSignal(autoSignal("down", "99.0", "TSLA"), cfg)
	sum = e.OnSignal(autoSignal("up", "98.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)

	// Wrong weekday: gate closed all day.
	cfg.TradingStart = "09:00"
	cfg.TradingDays = []int{0}
	sum = e.OnSignal(autoSignal("up", "98.0", "TSLA"), cfg)
	assert.Len(t, sum.AllTrades, 1)
}

func TestTradingHoursGateNeverBlocksExitRules(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()
	cfg.Rule2Enabled = true
	cfg.StopLossAmount = 1.0

	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)

	// Close the gate completely, then drop the price.
	cfg.Rule4Enabled = true
	cfg.TradingDays = []int{6}
	sum := e.OnSignal(autoSignal("down", "98.0", "TSLA"), cfg)
	sell := lastTrade(t, sum)
	assert.Equal(t, models.WinReasonStopLoss, sell.WinReason)
}

func TestManualToggle(t *testing.T) {
	e, _ := newTestEngine(t)

	sum := e.ManualToggle("100.0", "tsla", "", "")
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, models.DirectionBuy, sum.AllTrades[0].Direction)
	assert.Equal(t, "TSLA", sum.AllTrades[0].Ticker)

	sum = e.ManualToggle("101.5", "TSLA", "", "")
	sell := lastTrade(t, sum)
	assert.Equal(t, models.DirectionSell, sell.Direction)
	assert.Empty(t, sell.WinReason)
	require.NotNil(t, sell.Profit)
	assert.InDelta(t, 1.5, *sell.Profit, 1e-9)

	// Bad price: pure summary read.
	sum = e.ManualToggle("??", "TSLA", "", "")
	assert.Len(t, sum.AllTrades, 2)
}

func TestTradePairingInvariant(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()

	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	e.OnSignal(autoSignal("down", "101.0", "TSLA"), cfg)
	e.OnSignal(autoSignal("up", "102.0", "TSLA"), cfg)
	sum := e.OnSignal(autoSignal("down", "101.5", "TSLA"), cfg)

	require.Len(t, sum.AllTrades, 4)
	open := make(map[string]models.TradeRecord)
	for _, tr := range sum.AllTrades {
		require.NotEmpty(t, tr.TradeID)
		if tr.Direction == models.DirectionBuy {
			_, dup := open[tr.TradeID]
			require.False(t, dup, "trade id reused for a second buy")
			open[tr.TradeID] = tr
		} else {
			buyRec, ok := open[tr.TradeID]
			require.True(t, ok, "sell without a matching buy")
			require.NotNil(t, tr.Profit)
			assert.InDelta(t, tr.Price-buyRec.Price, *tr.Profit, 1e-9)
			delete(open, tr.TradeID)
		}
	}
	assert.Empty(t, open)
}

func TestAtMostOnePosition(t *testing.T) {
	e, _ := newTestEngine(t)

	key := statemanager.DeriveKey("", "TSLA")
	st := e.states.GetOrCreate(key, "TSLA", "", "")

	e.Buy(key, 100.0, st)
	e.Buy(key, 101.0, st) // redundant; ignored
	require.NotNil(t, st.Position)
	assert.InDelta(t, 100.0, st.Position.Entry, 1e-9)
	assert.Len(t, e.history, 1)

	e.Sell(key, 102.0, st, "")
	e.Sell(key, 103.0, st, "") // flat; ignored
	assert.Nil(t, st.Position)
	assert.Len(t, e.history, 2)
}

func TestSummaryViewsAndStats(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()

	// One bare-ticker key, one bot-scoped key.
	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	e.OnSignal(autoSignal("down", "102.0", "TSLA"), cfg)

	botSig := models.Signal{Trend: "up", Price: "50.0", Ticker: "NVDA", BotID: "bot-1", BotName: "alpha", Auto: true}
	e.OnSignal(botSig, cfg)
	botSig.Trend = "down"
	botSig.Price = "49.0"
	sum := e.OnSignal(botSig, cfg)

	// The ticker view only carries bot-less keys.
	assert.Contains(t, sum.Tickers, "TSLA")
	assert.NotContains(t, sum.Tickers, "NVDA")
	assert.Contains(t, sum.Bots, "TSLA")
	require.Contains(t, sum.Bots, "bot-1")

	tsla := sum.Bots["TSLA"]
	assert.InDelta(t, 2.0, tsla.TotalPnL, 1e-9)
	assert.Equal(t, 1, tsla.Wins)
	assert.Equal(t, 0, tsla.Losses)
	assert.InDelta(t, 100.0, tsla.WinRate, 1e-9)

	nvda := sum.Bots["bot-1"]
	assert.Equal(t, "alpha", nvda.BotName)
	assert.InDelta(t, -1.0, nvda.TotalPnL, 1e-9)
	assert.InDelta(t, 0.0, nvda.WinRate, 1e-9)

	assert.InDelta(t, 1.0, sum.TotalPnLAllTickers, 1e-9)
	assert.Len(t, sum.AllTrades, 4)
}

func TestClearBotAndClearAll(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := defaultOnly()

	e.OnSignal(autoSignal("up", "100.0", "TSLA"), cfg)
	botSig := models.Signal{Trend: "up", Price: "50.0", Ticker: "NVDA", BotID: "bot-1", Auto: true}
	e.OnSignal(botSig, cfg)

	e.ClearBot("bot-1", "NVDA")
	sum := e.GenerateSummary()
	assert.NotContains(t, sum.Bots, "bot-1")
	assert.Contains(t, sum.Bots, "TSLA")
	// The bot's ledger entries are gone too.
	for _, tr := range sum.AllTrades {
		assert.NotEqual(t, "bot-1", tr.BotID)
	}

	e.ClearAll()
	sum = e.GenerateSummary()
	assert.Empty(t, sum.Bots)
	assert.Empty(t, sum.AllTrades)
}

func TestTradeCallbackFailureDoesNotAffectState(t *testing.T) {
	logger := zap.NewNop().Sugar()
	calls := 0
	e := New(statemanager.NewManager(logger), func(models.TradeRecord) error {
		calls++
		return assert.AnError
	}, logger)
	e.now = (&fakeClock{t: testEpoch}).Now

	sum := e.ManualToggle("100.0", "TSLA", "", "")
	assert.Equal(t, 1, calls)
	require.Len(t, sum.AllTrades, 1)
	assert.Equal(t, "long", sum.Bots["TSLA"].Position)
}
