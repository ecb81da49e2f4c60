package report

import (
	"context"
	"testing"
	"time"

	"github.com/ranchhand/ranchhand/pkg/storage/storagemock"
	"github.com/ranchhand/ranchhand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 {
	return &f
}

func reading(deviceID, name string, ts time.Time, tempC *float64) types.Reading {
	return types.Reading{
		DeviceID:    deviceID,
		Name:        name,
		Type:        types.DeviceTypeTHSensor,
		Timestamp:   ts,
		Temperature: tempC,
		Online:      true,
	}
}

func TestGenerate(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	db := &storagemock.MockDatabase{}
	db.On("GetReadings", mock.Anything, "barn", start, end).Return([]types.Reading{
		reading("barn", "Barn", start.Add(1*time.Hour), floatPtr(4.0)),
		reading("barn", "Barn", start.Add(2*time.Hour), nil), // offline poll
		reading("barn", "Barn", start.Add(3*time.Hour), floatPtr(8.0)),
	}, nil)
	db.On("GetReadings", mock.Anything, "coop", start, end).Return([]types.Reading{
		reading("coop", "Coop", start.Add(30*time.Minute), floatPtr(10.0)),
	}, nil)

	g := NewGenerator(db)
	// device IDs deliberately out of order
	rep, err := g.Generate(context.Background(), []string{"coop", "barn"}, start, end)
	require.NoError(t, err)

	require.Len(t, rep.Rows, 3, "rows without a temperature should be skipped")
	assert.Equal(t, "barn", rep.Rows[0].DeviceID)
	assert.Equal(t, "barn", rep.Rows[1].DeviceID)
	assert.Equal(t, "coop", rep.Rows[2].DeviceID)
	assert.True(t, rep.Rows[0].Timestamp.Before(rep.Rows[1].Timestamp))

	assert.InDelta(t, 39.2, rep.Rows[0].TemperatureF, 0.0001)

	require.Len(t, rep.Summaries, 2)
	barn := rep.Summaries[0]
	assert.Equal(t, "barn", barn.DeviceID)
	assert.Equal(t, 2, barn.Count)
	assert.Equal(t, 4.0, barn.MinC)
	assert.Equal(t, 8.0, barn.MaxC)
	assert.Equal(t, 6.0, barn.AvgC)
}

func TestGenerateEmpty(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	db := &storagemock.MockDatabase{}
	db.On("GetReadings", mock.Anything, "barn", start, end).Return([]types.Reading(nil), nil)

	g := NewGenerator(db)
	rep, err := g.Generate(context.Background(), []string{"barn"}, start, end)
	require.NoError(t, err, "an empty window is not an error")
	assert.Empty(t, rep.Rows)
	assert.Empty(t, rep.Summaries)
}

func TestGenerateStorageError(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	db := &storagemock.MockDatabase{}
	db.On("GetReadings", mock.Anything, "barn", start, end).Return([]types.Reading(nil), assert.AnError)

	g := NewGenerator(db)
	_, err := g.Generate(context.Background(), []string{"barn"}, start, end)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCSVDeterministic(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	db := &storagemock.MockDatabase{}
	db.On("GetReadings", mock.Anything, "barn", start, end).Return([]types.Reading{
		reading("barn", "Barn", start.Add(1*time.Hour), floatPtr(5)),
	}, nil)
	db.On("GetReadings", mock.Anything, "coop", start, end).Return([]types.Reading{
		{
			DeviceID:    "coop",
			Name:        "Coop",
			Type:        types.DeviceTypeTHSensor,
			Timestamp:   start.Add(30 * time.Minute),
			Temperature: floatPtr(10),
			Humidity:    floatPtr(55.5),
			Online:      true,
		},
	}, nil)

	g := NewGenerator(db)

	first, err := g.Generate(context.Background(), []string{"coop", "barn"}, start, end)
	require.NoError(t, err)
	firstCSV, err := first.CSV()
	require.NoError(t, err)

	second, err := g.Generate(context.Background(), []string{"barn", "coop"}, start, end)
	require.NoError(t, err)
	secondCSV, err := second.CSV()
	require.NoError(t, err)

	assert.Equal(t, firstCSV, secondCSV, "same data should produce identical bytes")

	assert.Equal(t,
		"deviceID,name,timestamp,temperatureC,temperatureF,humidity\n"+
			"barn,Barn,2026-08-01T01:00:00Z,5.00,41.00,\n"+
			"coop,Coop,2026-08-01T00:30:00Z,10.00,50.00,55.5\n",
		string(firstCSV))
}
