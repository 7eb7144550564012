package storage

import (
	"database/sql"
	"fmt"

	"chart-trade-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Records table: one row per round trip. A buy inserts the row, the
	// paired sell back-fills the sell columns on the row with the same
	// trade_id. Rows with NULL sell_time are still-open positions.
	createRecordsTableSQL := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		bot_id TEXT NOT NULL DEFAULT '',
		bot_name TEXT NOT NULL DEFAULT '',
		buy_price REAL NOT NULL,
		buy_time DATETIME NOT NULL,
		sell_price REAL,
		sell_time DATETIME,
		win_reason TEXT NOT NULL DEFAULT '',
		profit REAL
	);`

	if _, err := db.Exec(createRecordsTableSQL); err != nil {
		return err
	}

	createTradeIDIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_records_trade_id ON records (trade_id);`
	if _, err := db.Exec(createTradeIDIndexSQL); err != nil {
		return err
	}

	return nil
}

// RecordTrade routes a trade event to the right statement by direction.
// This is the natural shape for an engine trade callback.
func RecordTrade(db *sql.DB, rec models.TradeRecord) error {
	if rec.Direction == models.DirectionSell {
		return CloseRecord(db, rec)
	}
	return OpenRecord(db, rec)
}

// OpenRecord inserts a new open row for a buy event.
func OpenRecord(db *sql.DB, rec models.TradeRecord) error {
	query := `
	INSERT INTO records (trade_id, ticker, bot_id, bot_name, buy_price, buy_time)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := db.Exec(query,
		rec.TradeID, rec.Ticker, rec.BotID, rec.BotName, rec.Price, rec.TS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.TradeID, err)
	}
	return nil
}

// CloseRecord back-fills the sell columns of the open row that shares the
// sell's trade_id. A sell without a matching open row is not an error at
// this layer; the journal still has the raw event.
func CloseRecord(db *sql.DB, rec models.TradeRecord) error {
	query := `
	UPDATE records
	SET sell_price = ?, sell_time = ?, win_reason = ?, profit = ?
	WHERE trade_id = ? AND sell_time IS NULL`

	var profit interface{}
	if rec.Profit != nil {
		profit = *rec.Profit
	}

	_, err := db.Exec(query, rec.Price, rec.TS, rec.WinReason, profit, rec.TradeID)
	if err != nil {
		return fmt.Errorf("failed to close record %s: %w", rec.TradeID, err)
	}
	return nil
}

// LoadRecords retrieves paired records, newest first. An empty botID
// returns every bot's records.
func LoadRecords(db *sql.DB, botID string) ([]models.PairedRecord, error) {
	query := `
	SELECT id, trade_id, ticker, bot_id, bot_name, buy_price, buy_time, sell_price, sell_time, win_reason, profit
	FROM records`
	args := []interface{}{}
	if botID != "" {
		query += ` WHERE bot_id = ?`
		args = append(args, botID)
	}
	query += ` ORDER BY id DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []models.PairedRecord
	for rows.Next() {
		var rec models.PairedRecord
		if err := rows.Scan(
			&rec.ID, &rec.TradeID, &rec.Ticker, &rec.BotID, &rec.BotName,
			&rec.BuyPrice, &rec.BuyTime, &rec.SellPrice, &rec.SellTime,
			&rec.WinReason, &rec.Profit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteBotRecords removes every record belonging to botID.
func DeleteBotRecords(db *sql.DB, botID string) error {
	_, err := db.Exec(`DELETE FROM records WHERE bot_id = ?`, botID)
	if err != nil {
		return fmt.Errorf("failed to delete records for bot %s: %w", botID, err)
	}
	return nil
}

// ClearRecords empties the records table.
func ClearRecords(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}
