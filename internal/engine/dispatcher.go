package engine

import (
	"strings"

	"chart-trade-bot-go/internal/models"
	"chart-trade-bot-go/internal/statemanager"
)

// OnSignal runs one chart signal through the full rule pipeline for its
// (bot, ticker) key and returns a fresh summary snapshot. The call is
// total: malformed input (empty ticker, unparsable price) degrades to a
// pure summary read, never an error. Evaluation order:
//
//	rules #1-#3  always, even for manual (non-auto) signals; a sell
//	             short-circuits the rest of the pipeline
//	auto gate    manual signals stop here
//	rule #4      trading-hours gate over everything below
//	rules #5-#9  priority order, first rule to claim the signal wins
//	default      momentum strategy, only when enabled
//
// Must be called from the single dispatch goroutine.
func (e *Engine) OnSignal(sig models.Signal, cfg models.RuleConfig) *models.Summary {
	ticker := statemanager.NormalizeTicker(sig.Ticker)
	price, ok := ParsePrice(sig.Price)
	if ticker == "" || !ok {
		return e.GenerateSummary()
	}

	key := statemanager.DeriveKey(sig.BotID, sig.Ticker)
	st := e.states.GetOrCreate(key, ticker, statemanager.NormalizeBotID(sig.BotID), strings.TrimSpace(sig.BotName))
	trend := strings.ToLower(strings.TrimSpace(sig.Trend))
	now := e.now()

	buy := func(p float64) { e.Buy(key, p, st) }
	sell := func(p float64, reason string) { e.Sell(key, p, st, reason) }

	// Exit rules run on every signal so a stop-loss is never delayed by
	// the auto flag or the trading-hours gate.
	if cfg.Rule1Enabled && maybeTakeProfitSell(st, price, cfg.TakeProfitAmount, sell) {
		return e.GenerateSummary()
	}
	if cfg.Rule2Enabled && maybeStopLossSell(st, price, cfg.StopLossAmount, sell) {
		return e.GenerateSummary()
	}
	if cfg.Rule3Enabled && maybeConsecutiveDropsSell(st, price, cfg.Rule3DropCount, sell) {
		return e.GenerateSummary()
	}

	if !sig.Auto {
		return e.GenerateSummary()
	}

	if cfg.Rule4Enabled && !e.IsTradingHours(cfg.TradingStart, cfg.TradingEnd, cfg.TradingDays) {
		return e.GenerateSummary()
	}

	claimed := false
	switch {
	case cfg.Rule5Enabled && maybeRule5Trade(st, trend, price, cfg.Rule5DownMinutes, cfg.Rule5ReversalAmount, cfg.Rule5ScalpAmount, now, buy, sell):
		claimed = true
	case cfg.Rule6Enabled && maybeRule6Trade(st, trend, price, cfg.Rule6DownMinutes, cfg.Rule6ProfitAmount, now, buy, sell):
		claimed = true
	case cfg.Rule7Enabled && maybeRule7Trade(st, trend, price, cfg.Rule7UpMinutes, now, buy):
		claimed = true
	case cfg.Rule8Enabled && maybeRule8Trade(st, price, cfg.Rule8BuyOffset, cfg.Rule8SellOffset, buy, sell):
		claimed = true
	case cfg.Rule9Enabled && maybeRule9Cooldown(st, cfg.Rule9WindowMinutes, now):
		claimed = true
	}

	if !claimed && cfg.DefaultTradeEnabled {
		e.runDefaultStrategy(key, st, trend, price)
	}

	return e.GenerateSummary()
}

// runDefaultStrategy is the baseline momentum strategy: buy on "up"
// while flat, sell on "down" while long. The very first cycle for a key
// bootstraps differently: a leading "down" buys immediately and waits
// for a second "down" to close, probing the trend before settling into
// the steady-state behavior.
func (e *Engine) runDefaultStrategy(key string, st *models.TickerState, trend string, price float64) {
	// A rule #7 position is opened by the rule but closed here, so the
	// closing record carries that rule's tag. Checked ahead of the
	// bootstrap: a momentum buy can land before the first cycle is done.
	if st.Rule7.Active && st.Long() && trend == "down" {
		e.Sell(key, price, st, models.WinReasonRule7)
		return
	}

	if !st.FirstCycleDone {
		switch {
		case trend == "down" && !st.Long():
			e.Buy(key, price, st)
			st.WaitingForSecondDown = true
		case trend == "up" && st.WaitingForSecondDown:
			// Holding through the bootstrap; ignored on purpose.
		case trend == "down" && st.WaitingForSecondDown:
			e.Sell(key, price, st, "")
			st.WaitingForSecondDown = false
			st.FirstCycleDone = true
		case trend == "up" && !st.Long():
			st.FirstCycleDone = true
			e.Buy(key, price, st)
		}
		return
	}

	switch {
	case trend == "up" && !st.Long():
		e.Buy(key, price, st)
	case trend == "down" && st.Long():
		e.Sell(key, price, st, "")
	}
}

// ManualToggle flips the position for a key: buy when flat, sell when
// long. Manual sells carry no win reason. An unparsable price or empty
// ticker is a no-op, matching OnSignal.
func (e *Engine) ManualToggle(priceRaw, ticker, botID, botName string) *models.Summary {
	normTicker := statemanager.NormalizeTicker(ticker)
	price, ok := ParsePrice(priceRaw)
	if normTicker == "" || !ok {
		return e.GenerateSummary()
	}

	key := statemanager.DeriveKey(botID, ticker)
	st := e.states.GetOrCreate(key, normTicker, statemanager.NormalizeBotID(botID), strings.TrimSpace(botName))

	if st.Long() {
		e.Sell(key, price, st, "")
	} else {
		e.Buy(key, price, st)
	}

	return e.GenerateSummary()
}
