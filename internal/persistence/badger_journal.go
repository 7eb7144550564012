package persistence

import (
	"encoding/json"
	"fmt"

	"chart-trade-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

const tradeKeyPrefix = "trade:"

// badgerJournal is the BadgerDB implementation of the TradeJournal.
type badgerJournal struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerJournal creates and returns a new journal instance backed by a
// BadgerDB database at dbPath.
func NewBadgerJournal(dbPath string) (TradeJournal, error) {
	opts := badger.DefaultOptions(dbPath)
	// For this use case, we can disable Badger's own logging to keep our
	// app's logs clean. Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	// A monotonic sequence gives keys that sort in append order, which is
	// what makes LoadAll's ordering guarantee hold.
	seq, err := db.GetSequence([]byte("trade_seq"), 128)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &badgerJournal{db: db, seq: seq}, nil
}

// Append durably stores one trade event under the next sequence key.
func (j *badgerJournal) Append(rec models.TradeRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	n, err := j.seq.Next()
	if err != nil {
		return err
	}
	// Fixed-width hex so lexicographic key order matches numeric order.
	key := []byte(fmt.Sprintf("%s%016x", tradeKeyPrefix, n))

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// LoadAll returns every journaled trade event in append order.
func (j *badgerJournal) LoadAll() ([]models.TradeRecord, error) {
	var records []models.TradeRecord

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tradeKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec models.TradeRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Close releases the key sequence and closes the database.
func (j *badgerJournal) Close() error {
	// Release hands unused sequence numbers back; gaps are harmless but
	// there is no reason to burn the whole lease on every restart.
	if err := j.seq.Release(); err != nil {
		j.db.Close()
		return err
	}
	return j.db.Close()
}
