package engine

import (
	"time"

	"chart-trade-bot-go/internal/models"
)

// The rule functions below are deliberately free functions over the
// typed per-rule state, with the engine passed in only through small
// buy/sell closures. Each returns true when it has taken control of the
// current signal, which tells the dispatcher to stop evaluating lower
// priority rules and the default strategy.

type buyFunc func(price float64)
type sellFunc func(price float64, winReason string)

// maybeTakeProfitSell (rule #1) sells as soon as an open position has
// gained at least amount. Returns true only when it sold.
func maybeTakeProfitSell(st *models.TickerState, price, amount float64, sell sellFunc) bool {
	if amount <= 0 {
		return false
	}
	if !st.Long() {
		return false
	}
	if price >= st.Position.Entry+amount {
		sell(price, models.WinReasonTakeProfit)
		return true
	}
	return false
}

// maybeStopLossSell (rule #2) sells once an open position has lost at
// least amount. A negative configured amount is clamped to zero, which
// turns the rule into "sell on any tick at or below entry".
func maybeStopLossSell(st *models.TickerState, price, amount float64, sell sellFunc) bool {
	if amount < 0 {
		amount = 0
	}
	if !st.Long() {
		return false
	}
	if price <= st.Position.Entry-amount {
		sell(price, models.WinReasonStopLoss)
		return true
	}
	return false
}

// maybeConsecutiveDropsSell (rule #3) counts strictly-lower ticks since
// entry and sells when the streak reaches required. Any tick that is not
// a drop resets the streak to zero. The counter state is re-seeded on
// every buy, so streaks never leak across positions.
func maybeConsecutiveDropsSell(st *models.TickerState, price float64, required int, sell sellFunc) bool {
	if required <= 0 {
		return false
	}
	if !st.Long() {
		return false
	}

	r := &st.Rule3
	if !r.Initialized {
		r.LastPrice = price
		r.Initialized = true
		return false
	}

	if price < r.LastPrice {
		r.DropCount++
	} else if price > r.LastPrice {
		r.DropCount = 0
	}
	r.LastPrice = price

	if r.DropCount >= required {
		sell(price, models.WinReasonConsecutiveDrops)
		r.DropCount = 0
		return true
	}
	return false
}

// maybeRule5Trade (rule #5) trades a downtrend reversal and then scalps
// the follow-through. Phases, in order:
//
//  1. sustained downtrend timer (downMinutes of uninterrupted "down")
//  2. buy on the first "up" after the timer elapsed; remember the
//     reversal price and block everything until the target prints
//  3. sell at reversalPrice+reversalAmount and enter scalp mode
//  4. while scalp mode holds and ticks stay "up", buy each tick and
//     immediately sell scalpAmount higher; any non-up tick ends the mode
//
// While the reversal position is waiting for its target this rule
// returns true unconditionally so no other rule can close it early.
func maybeRule5Trade(st *models.TickerState, trend string, price float64, downMinutes int, reversalAmount, scalpAmount float64, now time.Time, buy buyFunc, sell sellFunc) bool {
	if downMinutes <= 0 {
		downMinutes = 3
	}
	if reversalAmount <= 0 {
		reversalAmount = 2.0
	} else if reversalAmount < 0.1 {
		reversalAmount = 0.1
	}
	if scalpAmount <= 0 {
		scalpAmount = 0.25
	} else if scalpAmount < 0.01 {
		scalpAmount = 0.01
	}
	downDur := time.Duration(downMinutes) * time.Minute

	r := &st.Rule5

	if r.ReversalActive {
		if price >= r.ReversalPrice+reversalAmount {
			sell(price, models.WinReasonRule5)
			r.ReversalActive = false
			r.ReversalPrice = 0
			r.ScalpActive = true
		}
		return true
	}

	if r.ScalpActive {
		if trend == "up" {
			if !st.Long() {
				buy(price)
				sell(price+scalpAmount, models.WinReasonRule5)
			}
			return true
		}
		// Any non-up tick ends scalp mode; fall through so the same
		// tick can start a fresh downtrend timer.
		r.ScalpActive = false
	}

	if trend == "down" {
		if r.DownStart.IsZero() {
			r.DownStart = now
		} else if now.Sub(r.DownStart) >= downDur {
			r.ReadyForReversal = true
		}
	} else if !r.ReadyForReversal {
		// An up tick before the timer elapsed interrupts the downtrend.
		// Once armed, the flag survives until the reversal buy fires.
		r.DownStart = time.Time{}
	}

	if r.ReadyForReversal && trend == "up" {
		r.ReadyForReversal = false
		r.DownStart = time.Time{}
		r.ReversalPrice = price
		r.ReversalActive = true
		if !st.Long() {
			buy(price)
		}
		return true
	}

	return false
}

// maybeRule6Trade (rule #6) buys after a sustained downtrend, then holds
// until the position shows at least profitAmount of gain. While the
// position is active the rule blocks everything below it, so only
// rules #1-#3 (which run first) can exit early.
func maybeRule6Trade(st *models.TickerState, trend string, price float64, downMinutes int, profitAmount float64, now time.Time, buy buyFunc, sell sellFunc) bool {
	if downMinutes <= 0 {
		downMinutes = 3
	}
	if profitAmount <= 0 {
		profitAmount = 1.0
	}
	downDur := time.Duration(downMinutes) * time.Minute

	r := &st.Rule6

	if r.Active && st.Long() {
		if price >= st.Position.Entry+profitAmount {
			sell(price, models.WinReasonRule6)
			r.Active = false
		}
		return true
	}

	if trend == "down" {
		if r.DownStart.IsZero() {
			r.DownStart = now
		} else if now.Sub(r.DownStart) >= downDur {
			r.ReadyForBuy = true
		}
	} else if !r.ReadyForBuy {
		r.DownStart = time.Time{}
	}

	if r.ReadyForBuy && trend == "up" {
		r.ReadyForBuy = false
		r.DownStart = time.Time{}
		if !st.Long() {
			buy(price)
			r.Active = true
		}
		return true
	}

	return false
}

// maybeRule7Trade (rule #7) buys after upSeconds of uninterrupted "up"
// signals. The timer is strict: any non-up tick clears it completely.
// The rule returns true while counting, which suppresses the default
// strategy's buy-on-up: the countdown waits out the momentum
// confirmation instead of chasing the first green tick.
//
// After its buy the rule stays Active but returns false while the
// position is open; the default strategy's down-tick sell closes it and
// tags the pair with the rule's win reason.
func maybeRule7Trade(st *models.TickerState, trend string, price float64, upSeconds int, now time.Time, buy buyFunc) bool {
	if upSeconds <= 0 {
		upSeconds = 3
	}
	upDur := time.Duration(upSeconds) * time.Second

	r := &st.Rule7

	if r.Active {
		if st.Long() {
			return false
		}
		// Position closed: the cycle is over, reset everything so the
		// next streak starts clean.
		r.Active = false
		r.UpStart = time.Time{}
		r.ReadyForBuy = false
	}

	if trend != "up" {
		r.UpStart = time.Time{}
		r.ReadyForBuy = false
		return false
	}

	if r.UpStart.IsZero() {
		r.UpStart = now
		return true
	}

	if now.Sub(r.UpStart) >= upDur {
		r.ReadyForBuy = true
	}

	if r.ReadyForBuy {
		r.ReadyForBuy = false
		r.UpStart = time.Time{}
		if !st.Long() {
			buy(price)
		}
		r.Active = true
		return true
	}

	// Still counting.
	return true
}

// maybeRule8Trade (rule #8) owns the key outright while enabled: it
// tracks the rolling maximum seen while flat, buys on a pullback of
// buyOffset from that maximum, and sells at entry+sellOffset. It always
// returns true, so rule #9 and the default strategy never run.
func maybeRule8Trade(st *models.TickerState, price, buyOffset, sellOffset float64, buy buyFunc, sell sellFunc) bool {
	if buyOffset < 0 {
		buyOffset = 0.25
	}
	if sellOffset < 0 {
		sellOffset = 0.25
	}

	r := &st.Rule8

	if !st.Long() {
		if !r.Watching || price > r.WatchPrice {
			r.WatchPrice = price
			r.Watching = true
		}
		if price <= r.WatchPrice-buyOffset {
			buy(price)
			r.Watching = false
			r.WatchPrice = 0
		}
		return true
	}

	if price >= st.Position.Entry+sellOffset {
		sell(price, models.WinReasonRule8)
	}
	return true
}

// maybeRule9Cooldown (rule #9) suppresses re-entry for cooldownSeconds
// after any sell. It never trades; returning true simply blocks the
// default strategy from buying back in immediately.
func maybeRule9Cooldown(st *models.TickerState, cooldownSeconds int, now time.Time) bool {
	if cooldownSeconds <= 0 {
		return false
	}
	if st.Long() {
		return false
	}
	last := st.Rule9.LastSellTime
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < time.Duration(cooldownSeconds)*time.Second
}
