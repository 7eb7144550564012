package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"chart-trade-bot-go/internal/engine"
	"chart-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// Run feeds a recorded signal file through the engine and returns the
// final summary. The file is CSV with columns
//
//	ts,ticker,trend,price[,bot_id,bot_name]
//
// where ts is RFC3339, unix seconds or unix milliseconds. The engine
// clock is driven from the recorded timestamps, so the timer rules
// replay with their original timing regardless of how fast the file is
// consumed. A header row and malformed rows are skipped with a warning.
func Run(path string, eng *engine.Engine, cfg models.RuleConfig, logger *zap.SugaredLogger) (*models.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var cur time.Time
	eng.SetClock(func() time.Time { return cur })
	defer eng.SetClock(time.Now)

	var sum *models.Summary
	line := 0
	fed := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read replay file: %w", err)
		}
		line++

		if len(rec) < 4 {
			logger.Warnf("Skipping row %d: expected at least 4 columns, got %d", line, len(rec))
			continue
		}

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			logger.Warnf("Skipping row %d: bad timestamp %q", line, rec[0])
			continue
		}
		cur = ts

		sig := models.Signal{
			Ticker: rec[1],
			Trend:  rec[2],
			Price:  rec[3],
			Auto:   true,
		}
		if len(rec) >= 5 {
			sig.BotID = rec[4]
		}
		if len(rec) >= 6 {
			sig.BotName = rec[5]
		}

		sum = eng.OnSignal(sig, cfg)
		fed++
	}

	logger.Infof("Replay finished: %d signals from %s", fed, path)

	if sum == nil {
		sum = eng.GenerateSummary()
	}
	return sum, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	return time.Parse(time.RFC3339, s)
}
