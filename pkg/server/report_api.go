package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/types"
)

// maxReportDays caps report lookback at one year.
const maxReportDays = 365

func (s *Server) handleTemperatureReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	days := settings.ReportDefaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			writeJSONError(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
	}
	if days > maxReportDays {
		days = maxReportDays
	}

	var deviceIDs []string
	if raw := r.URL.Query().Get("devices"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				deviceIDs = append(deviceIDs, id)
			}
		}
	} else {
		// default to every cached sensor
		for _, gs := range s.poller.GroupStates() {
			if gs.Vendor != types.VendorYoLink {
				continue
			}
			for _, d := range gs.Devices {
				if d.Type == types.DeviceTypeTHSensor {
					deviceIDs = append(deviceIDs, d.DeviceID)
				}
			}
		}
	}

	// align the window to day boundaries so repeated requests for the same
	// days produce the same report
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -days)

	rep, err := s.reports.Generate(ctx, deviceIDs, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate report", slog.Any("error", err))
		writeJSONError(w, "failed to generate report", http.StatusInternalServerError)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Cache-Control", "private, max-age=60")
		writeJSON(w, rep)
	case "csv":
		csvBytes, err := rep.CSV()
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to render csv", slog.Any("error", err))
			writeJSONError(w, "failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="temperature-report.csv"`)
		w.Header().Set("Cache-Control", "private, max-age=60")
		if _, err := w.Write(csvBytes); err != nil {
			panic(http.ErrAbortHandler)
		}
	default:
		writeJSONError(w, "format must be json or csv", http.StatusBadRequest)
	}
}
