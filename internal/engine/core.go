package engine

import (
	"time"

	"chart-trade-bot-go/internal/models"
	"chart-trade-bot-go/internal/statemanager"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// TradeCallback receives every trade record the moment it is logged.
// Implementations are expected to be fallible (database writes, broadcast);
// a returned error is logged and discarded. From the engine's point of
// view the trade has already happened and in-memory state is never rolled
// back because persistence lagged.
type TradeCallback func(models.TradeRecord) error

// Engine executes buys and sells against per-key TickerStates, keeps the
// global trade ledger, and aggregates summaries.
//
// The engine performs no internal locking. Every mutating call (OnSignal,
// ManualToggle, Buy, Sell, ClearBot, ClearAll) must come from a single
// goroutine; see internal/server for the dispatch loop that enforces this.
type Engine struct {
	states  *statemanager.Manager
	history []models.TradeRecord
	onTrade TradeCallback
	logger  *zap.SugaredLogger

	// now is swappable so that timer rules (#5/#6/#7/#9) and the trading
	// hours gate are deterministic under test.
	now func() time.Time
}

// New creates an engine. onTrade may be nil when no collaborator wants
// trade events.
func New(states *statemanager.Manager, onTrade TradeCallback, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		states:  states,
		history: make([]models.TradeRecord, 0),
		onTrade: onTrade,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the engine's time source. Replay runs drive the
// clock from recorded timestamps so the timer rules behave exactly as
// they would have live. Must only be called while no signals are in
// flight.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// States exposes the state manager, mainly for tests and admin handlers.
func (e *Engine) States() *statemanager.Manager {
	return e.states
}

// newTradeID returns a compact unique id for a new buy. The sell that
// closes the position inherits the same id, which is what downstream
// persistence uses to pair the two events.
func (e *Engine) newTradeID() string {
	return string(base62.FormatInt(e.now().UnixNano()))
}

// Buy opens a position for key at price. Buying while already long is a
// no-op: upstream signal sources (OCR, chart vision) are noisy and the
// engine is deliberately forgiving about redundant requests.
func (e *Engine) Buy(key string, price float64, st *models.TickerState) {
	if key == "" || st == nil {
		return
	}
	if st.Position != nil {
		return
	}

	ts := e.now()
	tradeID := e.newTradeID()

	ticker := st.Ticker
	if ticker == "" {
		ticker = key
	}

	st.Position = &models.Position{
		Entry:   price,
		Ticker:  ticker,
		TS:      ts,
		TradeID: tradeID,
	}
	st.LastDirection = models.DirectionBuy

	// Rule #3 tracks drops only across the lifetime of one position.
	st.Rule3 = models.Rule3State{
		LastPrice:   price,
		PeakPrice:   price,
		DropCount:   0,
		Initialized: true,
	}

	e.logTrade(key, st, models.DirectionBuy, price, nil, "", tradeID)
}

// Sell closes the open position for key at price. Selling with no open
// position is a no-op. winReason tags which rule closed the position;
// it stays empty for default-strategy and manual sells.
func (e *Engine) Sell(key string, price float64, st *models.TickerState, winReason string) {
	if key == "" || st == nil {
		return
	}
	pos := st.Position
	if pos == nil {
		return
	}

	profit := price - pos.Entry
	tradeID := pos.TradeID

	st.Position = nil
	st.LastDirection = models.DirectionSell
	st.Rule3 = models.Rule3State{}
	// Every sell, whatever triggered it, re-arms the Rule #9 cooldown.
	st.Rule9.LastSellTime = e.now()

	e.logTrade(key, st, models.DirectionSell, price, &profit, winReason, tradeID)
}

// logTrade appends the record to the per-key history and the global
// ledger, in execution order, then notifies the collaborator callback.
func (e *Engine) logTrade(key string, st *models.TickerState, direction string, price float64, profit *float64, winReason, tradeID string) {
	ticker := st.Ticker
	if ticker == "" {
		ticker = key
	}

	rec := models.TradeRecord{
		Ticker:    ticker,
		BotID:     st.BotID,
		BotName:   st.BotName,
		Direction: direction,
		Price:     price,
		Profit:    profit,
		TS:        e.now(),
		TradeID:   tradeID,
		WinReason: winReason,
	}

	st.TradeHistory = append(st.TradeHistory, rec)
	e.history = append(e.history, rec)

	if e.onTrade != nil {
		if err := e.onTrade(rec); err != nil && e.logger != nil {
			// Persistence failures never affect in-memory state.
			e.logger.Warnf("Trade callback failed for %s %s @ %.4f: %v", key, direction, price, err)
		}
	}
}

// IsTradingHours reports whether trading is currently allowed.
//
// With no custom settings the check uses the exchange timezone
// (America/New_York), Mon–Fri 09:30–16:00. When the caller supplies any
// custom start/end/days, the comparison switches to the local wall clock.
// The asymmetry is historical behavior that downstream bots rely on, so it
// is preserved rather than unified.
func (e *Engine) IsTradingHours(start, end string, days []int) bool {
	now := e.now()

	if start == "" && end == "" && len(days) == 0 {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			// Matches historical behavior: if the zone database is
			// unavailable, fail open rather than freeze all trading.
			return true
		}
		now = now.In(loc)
		start, end = "09:30", "16:00"
		days = []int{0, 1, 2, 3, 4}
	} else {
		if start == "" {
			start = "09:30"
		}
		if end == "" {
			end = "16:00"
		}
		if len(days) == 0 {
			days = []int{0, 1, 2, 3, 4}
		}
	}

	// Monday=0 .. Sunday=6, matching the configuration convention.
	weekday := (int(now.Weekday()) + 6) % 7
	inDays := false
	for _, d := range days {
		if d == weekday {
			inDays = true
			break
		}
	}
	if !inDays {
		return false
	}

	startMin, ok1 := parseClockMinutes(start)
	endMin, ok2 := parseClockMinutes(end)
	if !ok1 || !ok2 {
		startMin, endMin = 9*60+30, 16*60
	}

	cur := now.Hour()*60 + now.Minute()
	return cur >= startMin && cur <= endMin
}

// GenerateSummary builds a read-only snapshot of every tracked key.
// The per-ticker view only contains keys without a bot id (backward
// compatible shape); the per-bot view contains everything.
func (e *Engine) GenerateSummary() *models.Summary {
	tickers := make(map[string]*models.BotSummary)
	bots := make(map[string]*models.BotSummary)

	for key, st := range e.states.All() {
		var totalPnL float64
		var wins, losses, closed int
		for _, t := range st.TradeHistory {
			if t.Profit == nil {
				continue
			}
			closed++
			totalPnL += *t.Profit
			if *t.Profit > 0 {
				wins++
			} else {
				losses++
			}
		}

		winRate := 0.0
		if closed > 0 {
			winRate = float64(wins) / float64(closed) * 100
		}

		var lastTrade *models.TradeRecord
		if n := len(st.TradeHistory); n > 0 {
			t := st.TradeHistory[n-1]
			lastTrade = &t
		}

		botID := st.BotID
		if botID == "" {
			botID = key
		}
		ticker := st.Ticker
		if ticker == "" {
			ticker = key
		}

		position := "flat"
		var entryPrice *float64
		if st.Position != nil {
			position = "long"
			entry := st.Position.Entry
			entryPrice = &entry
		}

		historyCopy := make([]models.TradeRecord, len(st.TradeHistory))
		copy(historyCopy, st.TradeHistory)

		sum := &models.BotSummary{
			BotID:          botID,
			BotName:        st.BotName,
			Ticker:         ticker,
			Position:       position,
			EntryPrice:     entryPrice,
			FirstCycleDone: st.FirstCycleDone,
			LastDirection:  st.LastDirection,
			LastTrade:      lastTrade,
			TotalPnL:       totalPnL,
			Wins:           wins,
			Losses:         losses,
			WinRate:        round2(winRate),
			TradeHistory:   historyCopy,
		}

		bots[botID] = sum
		if st.BotID == "" {
			tickers[ticker] = sum
		}
	}

	var totalAll float64
	for _, s := range bots {
		totalAll += s.TotalPnL
	}

	ledger := make([]models.TradeRecord, len(e.history))
	copy(ledger, e.history)

	return &models.Summary{
		Tickers:            tickers,
		Bots:               bots,
		TotalPnLAllTickers: totalAll,
		AllTrades:          ledger,
	}
}

// ClearBot removes one key's state and drops that bot's entries from the
// global ledger. Used when a bot/window is removed by the operator.
func (e *Engine) ClearBot(botID, ticker string) {
	key := statemanager.DeriveKey(botID, ticker)
	if key != "" {
		e.states.Delete(key)
	}

	botID = statemanager.NormalizeBotID(botID)
	if botID == "" {
		return
	}
	kept := e.history[:0]
	for _, t := range e.history {
		if t.BotID != botID {
			kept = append(kept, t)
		}
	}
	e.history = kept
}

// ClearAll wipes every state and the whole ledger.
func (e *Engine) ClearAll() {
	e.states.ClearAll()
	e.history = make([]models.TradeRecord, 0)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
