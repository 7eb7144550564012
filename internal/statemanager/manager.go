package statemanager

import (
	"strings"

	"chart-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// NormalizeTicker trims and upper-cases a ticker symbol. An empty or
// whitespace-only input normalizes to "".
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// NormalizeBotID trims a bot identifier.
func NormalizeBotID(botID string) string {
	return strings.TrimSpace(botID)
}

// DeriveKey builds the state key for a (bot, ticker) pair.
// With a bot id the key is "BOTID:TICKER"; without one it is the bare
// ticker, so unscoped positions from different sources share state.
// An empty ticker yields an empty key, which callers must treat as invalid.
func DeriveKey(botID, ticker string) string {
	b := NormalizeBotID(botID)
	t := NormalizeTicker(ticker)
	if t == "" {
		return ""
	}
	if b != "" {
		return b + ":" + t
	}
	return t
}

// Manager owns every TickerState in the process. It performs no locking:
// all mutations must come from the single dispatch goroutine. This is a
// hard precondition of the whole engine, not an implementation accident;
// none of the per-rule fields inside TickerState are protected.
type Manager struct {
	states map[string]*models.TickerState
	logger *zap.SugaredLogger
}

// NewManager creates an empty state manager.
func NewManager(logger *zap.SugaredLogger) *Manager {
	return &Manager{
		states: make(map[string]*models.TickerState),
		logger: logger,
	}
}

// GetOrCreate returns the state for key, creating it lazily on first use.
// For an existing state, missing identity fields are back-filled from the
// arguments; non-empty identity fields are never overwritten.
func (m *Manager) GetOrCreate(key, ticker, botID, botName string) *models.TickerState {
	if st, ok := m.states[key]; ok {
		if ticker != "" && st.Ticker == "" {
			st.Ticker = ticker
		}
		if botID != "" && st.BotID == "" {
			st.BotID = botID
		}
		if botName != "" && st.BotName == "" {
			st.BotName = botName
		}
		return st
	}

	st := models.NewTickerState(ticker, botID, botName)
	m.states[key] = st
	if m.logger != nil {
		m.logger.Infof("Tracking new state key %s (ticker=%s bot=%s)", key, ticker, botID)
	}
	return st
}

// Get returns the state for key, or nil when the key is unknown.
func (m *Manager) Get(key string) *models.TickerState {
	return m.states[key]
}

// Delete removes one key. Unknown keys are ignored.
func (m *Manager) Delete(key string) {
	delete(m.states, key)
}

// ClearAll drops every tracked state.
func (m *Manager) ClearAll() {
	m.states = make(map[string]*models.TickerState)
}

// All exposes the underlying map for read-only iteration (summary
// generation). Callers must not mutate it outside the dispatch goroutine.
func (m *Manager) All() map[string]*models.TickerState {
	return m.states
}
