package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/poller"
	"github.com/ranchhand/ranchhand/pkg/types"
)

// Vendor config responses never echo secrets back; they only report whether
// a secret is stored. Posting an empty secret keeps the stored one, so the
// dashboard can edit the non-secret fields without re-entering keys.

type yolinkConfigResponse struct {
	Configured   bool   `json:"configured"`
	UAID         string `json:"uaID"`
	HasSecretKey bool   `json:"hasSecretKey"`
}

func (s *Server) handleGetYoLinkConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	cfg, err := s.storage.GetYoLinkConfig(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get yolink config", slog.Any("error", err))
		writeJSONError(w, "failed to get config", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, yolinkConfigResponse{
		Configured:   !cfg.Empty(),
		UAID:         cfg.UAID,
		HasSecretKey: cfg.SecretKey != "",
	})
}

func (s *Server) handleSetYoLinkConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	var req struct {
		UAID      string `json:"uaID"`
		SecretKey string `json:"secretKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.UAID = strings.TrimSpace(req.UAID)
	if req.UAID == "" {
		writeJSONError(w, "uaID is required", http.StatusBadRequest)
		return
	}

	existing, err := s.storage.GetYoLinkConfig(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get yolink config", slog.Any("error", err))
		writeJSONError(w, "failed to get config", http.StatusInternalServerError)
		return
	}

	cfg := types.YoLinkConfig{
		UAID:      req.UAID,
		SecretKey: req.SecretKey,
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = existing.SecretKey
	}
	if cfg.SecretKey == "" {
		writeJSONError(w, "secretKey is required", http.StatusBadRequest)
		return
	}
	// credentials changed, any cached token is no longer valid

	if err := s.storage.SetYoLinkConfig(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save yolink config", slog.Any("error", err))
		writeJSONError(w, "failed to save config", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "yolink config updated")

	// poll right away so the operator sees whether the credentials work
	gs, err := s.poller.TriggerRefresh(ctx, poller.YoLinkGroupID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh after config update", slog.Any("error", err))
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, gs)
}

type ecoflowConfigResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serialNumber"`
	HasAccessKey bool   `json:"hasAccessKey"`
	HasSecretKey bool   `json:"hasSecretKey"`
}

func (s *Server) handleListEcoFlowConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	configs, err := s.storage.ListEcoFlowConfigs(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list ecoflow configs", slog.Any("error", err))
		writeJSONError(w, "failed to list configs", http.StatusInternalServerError)
		return
	}

	resp := make([]ecoflowConfigResponse, 0, len(configs))
	for _, cfg := range configs {
		resp = append(resp, ecoflowConfigResponse{
			ID:           cfg.ID,
			Name:         cfg.Name,
			SerialNumber: cfg.SerialNumber,
			HasAccessKey: cfg.AccessKey != "",
			HasSecretKey: cfg.SecretKey != "",
		})
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

func (s *Server) handleSetEcoFlowConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	var req struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		SerialNumber string `json:"serialNumber"`
		AccessKey    string `json:"accessKey"`
		SecretKey    string `json:"secretKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	if req.SerialNumber == "" {
		writeJSONError(w, "serialNumber is required", http.StatusBadRequest)
		return
	}

	cfg := types.EcoFlowConfig{
		ID:           req.ID,
		Name:         req.Name,
		SerialNumber: req.SerialNumber,
		AccessKey:    req.AccessKey,
		SecretKey:    req.SecretKey,
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	} else {
		existing, err := s.storage.GetEcoFlowConfig(ctx, cfg.ID)
		if err == nil {
			if cfg.AccessKey == "" {
				cfg.AccessKey = existing.AccessKey
			}
			if cfg.SecretKey == "" {
				cfg.SecretKey = existing.SecretKey
			}
		}
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		writeJSONError(w, "accessKey and secretKey are required", http.StatusBadRequest)
		return
	}

	if err := s.storage.SetEcoFlowConfig(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save ecoflow config", slog.Any("error", err))
		writeJSONError(w, "failed to save config", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "ecoflow config updated", slog.String("id", cfg.ID), slog.String("sn", cfg.SerialNumber))

	gs, err := s.poller.TriggerRefresh(ctx, "ecoflow:"+cfg.SerialNumber)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to refresh after config update", slog.Any("error", err))
		writeJSON(w, ecoflowConfigResponse{
			ID:           cfg.ID,
			Name:         cfg.Name,
			SerialNumber: cfg.SerialNumber,
			HasAccessKey: true,
			HasSecretKey: true,
		})
		return
	}
	writeJSON(w, gs)
}

func (s *Server) handleDeleteEcoFlowConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}
	id := r.PathValue("id")

	if err := s.storage.DeleteEcoFlowConfig(ctx, id); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete ecoflow config", slog.String("id", id), slog.Any("error", err))
		writeJSONError(w, "failed to delete config", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "ecoflow config deleted", slog.String("id", id))

	// drop the station's cached group
	s.poller.RefreshAll(ctx)
	w.WriteHeader(http.StatusOK)
}

type squareConfigResponse struct {
	Configured     bool   `json:"configured"`
	LocationID     string `json:"locationID"`
	Environment    string `json:"environment"`
	HasAccessToken bool   `json:"hasAccessToken"`
}

func (s *Server) handleGetSquareConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	cfg, err := s.storage.GetSquareConfig(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get square config", slog.Any("error", err))
		writeJSONError(w, "failed to get config", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, squareConfigResponse{
		Configured:     !cfg.Empty(),
		LocationID:     cfg.LocationID,
		Environment:    cfg.Environment,
		HasAccessToken: cfg.AccessToken != "",
	})
}

func (s *Server) handleSetSquareConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.requireAdmin(w, r) {
		return
	}

	var req struct {
		AccessToken string `json:"accessToken"`
		LocationID  string `json:"locationID"`
		Environment string `json:"environment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Environment == "" {
		req.Environment = types.SquareEnvironmentProduction
	}
	if req.Environment != types.SquareEnvironmentProduction && req.Environment != types.SquareEnvironmentSandbox {
		writeJSONError(w, "environment must be production or sandbox", http.StatusBadRequest)
		return
	}

	existing, err := s.storage.GetSquareConfig(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get square config", slog.Any("error", err))
		writeJSONError(w, "failed to get config", http.StatusInternalServerError)
		return
	}

	cfg := types.SquareConfig{
		AccessToken: req.AccessToken,
		LocationID:  req.LocationID,
		Environment: req.Environment,
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = existing.AccessToken
	}
	if cfg.AccessToken == "" {
		writeJSONError(w, "accessToken is required", http.StatusBadRequest)
		return
	}

	if err := s.storage.SetSquareConfig(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save square config", slog.Any("error", err))
		writeJSONError(w, "failed to save config", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "square config updated")

	s.poller.RefreshCatalog(ctx)
	writeJSON(w, s.poller.Catalog())
}
