package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ranchhand/ranchhand/pkg/storage"
	"github.com/ranchhand/ranchhand/pkg/units"
)

// Row is one temperature observation in a report.
type Row struct {
	DeviceID     string    `json:"deviceID"`
	Name         string    `json:"name"`
	Timestamp    time.Time `json:"timestamp"`
	TemperatureC float64   `json:"temperatureC"`
	TemperatureF float64   `json:"temperatureF"`
	Humidity     *float64  `json:"humidity,omitempty"`
}

// DeviceSummary aggregates one device's rows.
type DeviceSummary struct {
	DeviceID string  `json:"deviceID"`
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	MinC     float64 `json:"minC"`
	MaxC     float64 `json:"maxC"`
	AvgC     float64 `json:"avgC"`
}

// Report is a temperature report over a time window. Rows are sorted by
// device then timestamp, so the same stored data always produces the same
// report bytes.
type Report struct {
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Rows      []Row           `json:"rows"`
	Summaries []DeviceSummary `json:"summaries"`
}

// Generator builds reports from stored readings.
type Generator struct {
	db storage.Database
}

// NewGenerator returns a Generator backed by db.
func NewGenerator(db storage.Database) *Generator {
	return &Generator{db: db}
}

// Generate builds a report for the given devices over [start, end). Readings
// without a temperature (offline polls, hubs) are skipped. An empty window
// produces an empty report, not an error.
func (g *Generator) Generate(ctx context.Context, deviceIDs []string, start, end time.Time) (Report, error) {
	// sort device IDs so row order doesn't depend on caller order
	ids := append([]string(nil), deviceIDs...)
	sort.Strings(ids)

	report := Report{
		Start: start.UTC(),
		End:   end.UTC(),
		Rows:  []Row{},
	}

	for _, id := range ids {
		readings, err := g.db.GetReadings(ctx, id, start, end)
		if err != nil {
			return Report{}, fmt.Errorf("failed to load readings for %s: %w", id, err)
		}

		var sum float64
		summary := DeviceSummary{DeviceID: id}
		for _, r := range readings {
			if r.Temperature == nil {
				continue
			}
			c := *r.Temperature
			report.Rows = append(report.Rows, Row{
				DeviceID:     r.DeviceID,
				Name:         r.Name,
				Timestamp:    r.Timestamp.UTC(),
				TemperatureC: c,
				TemperatureF: units.DisplayTemperature(c, false),
				Humidity:     r.Humidity,
			})

			if summary.Count == 0 || c < summary.MinC {
				summary.MinC = c
			}
			if summary.Count == 0 || c > summary.MaxC {
				summary.MaxC = c
			}
			sum += c
			summary.Count++
			summary.Name = r.Name
		}
		if summary.Count > 0 {
			summary.AvgC = sum / float64(summary.Count)
			report.Summaries = append(report.Summaries, summary)
		}
	}
	return report, nil
}

// CSV renders the report rows with a fixed column set and fixed number
// formatting.
func (r Report) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"deviceID", "name", "timestamp", "temperatureC", "temperatureF", "humidity"}); err != nil {
		return nil, err
	}
	for _, row := range r.Rows {
		humidity := ""
		if row.Humidity != nil {
			humidity = strconv.FormatFloat(*row.Humidity, 'f', 1, 64)
		}
		err := w.Write([]string{
			row.DeviceID,
			row.Name,
			row.Timestamp.Format(time.RFC3339),
			strconv.FormatFloat(row.TemperatureC, 'f', 2, 64),
			strconv.FormatFloat(row.TemperatureF, 'f', 2, 64),
			humidity,
		})
		if err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
