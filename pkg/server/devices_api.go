package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ranchhand/ranchhand/pkg/devices"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/poller"
	"github.com/ranchhand/ranchhand/pkg/types"
)

// maxHistoryHours caps history queries at one week.
const maxHistoryHours = 168

type devicesResponse struct {
	Groups      []poller.GroupState `json:"groups"`
	DisplayUnit string              `json:"displayUnit"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	unit := settings.DisplayUnit
	if raw := r.URL.Query().Get("unit"); raw != "" {
		if raw != types.UnitCelsius && raw != types.UnitFahrenheit {
			writeJSONError(w, "unit must be C or F", http.StatusBadRequest)
			return
		}
		unit = raw
	}

	var groups []poller.GroupState
	if groupID := r.URL.Query().Get("group"); groupID != "" {
		gs, ok := s.poller.GroupState(groupID)
		if !ok {
			writeJSONError(w, "unknown group", http.StatusNotFound)
			return
		}
		groups = []poller.GroupState{gs}
	} else {
		groups = s.poller.GroupStates()
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, devicesResponse{
		Groups:      groups,
		DisplayUnit: unit,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	group := r.URL.Query().Get("group")

	if group == "" {
		s.poller.RefreshAll(ctx)
		s.poller.RefreshCatalog(ctx)
		writeJSON(w, devicesResponse{Groups: s.poller.GroupStates()})
		return
	}

	gs, err := s.poller.TriggerRefresh(ctx, group)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "refresh failed", slog.String("group", group), slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, gs)
}

// parseHours returns the lookback window from the hours query param,
// defaulting to 24 and capped at a week.
func parseHours(r *http.Request) (time.Duration, error) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		var err error
		hours, err = strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return 0, fmt.Errorf("hours must be a positive integer")
		}
	}
	if hours > maxHistoryHours {
		hours = maxHistoryHours
	}
	return time.Duration(hours) * time.Hour, nil
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := r.PathValue("deviceID")

	window, err := parseHours(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	end := time.Now().UTC()
	start := end.Add(-window)
	readings, err := s.storage.GetReadings(ctx, deviceID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get readings", slog.String("deviceID", deviceID), slog.Any("error", err))
		writeJSONError(w, "failed to get readings", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		// no history is an empty list, not an error
		readings = []types.Reading{}
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, readings)
}

func (s *Server) handlePowerHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serialNumber := r.PathValue("sn")

	window, err := parseHours(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	end := time.Now().UTC()
	start := end.Add(-window)
	readings, err := s.storage.GetPowerReadings(ctx, serialNumber, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get power readings", slog.String("sn", serialNumber), slog.Any("error", err))
		writeJSONError(w, "failed to get power readings", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []types.PowerReading{}
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, readings)
}

func (s *Server) handleACControl(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}
	serialNumber := r.PathValue("sn")

	var req struct {
		Enabled bool `json:"enabled"`
		XBoost  bool `json:"xboost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.poller.SetACEnabled(ctx, serialNumber, req.Enabled, req.XBoost); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to toggle ac", slog.String("sn", serialNumber), slog.Any("error", err))
		writeVendorError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, s.poller.Catalog())
}

// writeVendorError maps a vendor error to an HTTP status and includes the
// error kind so the dashboard can explain what went wrong.
func writeVendorError(w http.ResponseWriter, err error) {
	kind := devices.ErrorKind(err)
	status := http.StatusBadGateway
	switch kind {
	case devices.KindNotConfigured:
		status = http.StatusNotFound
	case devices.KindStorageError:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encErr := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}{Error: err.Error(), Kind: kind})
	if encErr != nil {
		panic(http.ErrAbortHandler)
	}
}
