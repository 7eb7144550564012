package persistence

import "chart-trade-bot-go/internal/models"

// TradeJournal defines the interface for the append-only trade event log.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application. Records are returned by LoadAll in the
// order they were appended.
type TradeJournal interface {
	// Append durably stores one trade event.
	Append(rec models.TradeRecord) error

	// LoadAll returns every journaled trade event in append order.
	// An empty journal returns (nil, nil).
	LoadAll() ([]models.TradeRecord, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
