package persistence

import (
	"testing"
	"time"

	"chart-trade-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLoadAllPreservesOrder(t *testing.T) {
	journal, err := NewBadgerJournal(t.TempDir())
	require.NoError(t, err)
	defer journal.Close()

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		rec := models.TradeRecord{
			Ticker:    "TSLA",
			Direction: models.DirectionBuy,
			Price:     100.0 + float64(i),
			TS:        ts.Add(time.Duration(i) * time.Second),
			TradeID:   id,
		}
		require.NoError(t, journal.Append(rec))
	}

	records, err := journal.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "t1", records[0].TradeID)
	assert.Equal(t, "t2", records[1].TradeID)
	assert.Equal(t, "t3", records[2].TradeID)
	assert.InDelta(t, 102.0, records[2].Price, 1e-9)
}

func TestLoadAllEmptyJournal(t *testing.T) {
	journal, err := NewBadgerJournal(t.TempDir())
	require.NoError(t, err)
	defer journal.Close()

	records, err := journal.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	journal, err := NewBadgerJournal(dir)
	require.NoError(t, err)
	profit := 1.5
	require.NoError(t, journal.Append(models.TradeRecord{TradeID: "t1", Direction: models.DirectionBuy, Price: 100}))
	require.NoError(t, journal.Append(models.TradeRecord{TradeID: "t1", Direction: models.DirectionSell, Price: 101.5, Profit: &profit}))
	require.NoError(t, journal.Close())

	journal, err = NewBadgerJournal(dir)
	require.NoError(t, err)
	defer journal.Close()

	records, err := journal.LoadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.DirectionSell, records[1].Direction)
	require.NotNil(t, records[1].Profit)
	assert.InDelta(t, 1.5, *records[1].Profit, 1e-9)
}
