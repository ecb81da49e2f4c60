package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/types"
)

func (s *Server) getSettingsWithMigration(ctx context.Context) (types.Settings, int, error) {
	settings, version, err := s.storage.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, 0, err
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			settings = newSettings
			version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}

	return settings, version, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	var req types.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.DisplayUnit != types.UnitCelsius && req.DisplayUnit != types.UnitFahrenheit {
		writeJSONError(w, "displayUnit must be C or F", http.StatusBadRequest)
		return
	}
	if req.ReportDefaultDays < 1 || req.ReportDefaultDays > maxReportDays {
		writeJSONError(w, "reportDefaultDays out of range", http.StatusBadRequest)
		return
	}

	if err := s.storage.SetSettings(ctx, req, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated", slog.Bool("pause", req.Pause))

	writeJSON(w, req)
}
