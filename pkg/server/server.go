package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/ranchhand/ranchhand/pkg/log"
	"github.com/ranchhand/ranchhand/pkg/metrics"
	"github.com/ranchhand/ranchhand/pkg/poller"
	"github.com/ranchhand/ranchhand/pkg/report"
	"github.com/ranchhand/ranchhand/pkg/storage"
)

const authTokenCookie = "auth_token"

type contextKey string

const userContextKey contextKey = "user"

// tokenVerifier is a function that validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// DevicePoller is the poller surface the API uses. It is an interface so
// tests can fake the cache.
type DevicePoller interface {
	GroupStates() []poller.GroupState
	GroupState(groupID string) (poller.GroupState, bool)
	Catalog() poller.CatalogState
	RefreshAll(ctx context.Context)
	RefreshCatalog(ctx context.Context)
	TriggerRefresh(ctx context.Context, groupID string) (poller.GroupState, error)
	SetACEnabled(ctx context.Context, serialNumber string, enabled, xboost bool) error
}

// Server handles the HTTP API for the RanchHand dashboard. It reads device
// state from the poller cache and history from storage.
type Server struct {
	poller  DevicePoller
	storage storage.Database
	reports *report.Generator

	listenAddr string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(p DevicePoller, s storage.Database) *Server {
	srv := &Server{
		poller:     p,
		storage:    s,
		reports:    report.NewGenerator(s),
		serverName: "ranchhand",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to change configs and settings")
	oidcAudience := lflag.String("oidc-audience", "", "audience/client ID to validate id tokens against")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable authentication entirely (local development only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				var issuer string
				switch n {
				case "google":
					issuer = "https://accounts.google.com"
				case "apple":
					issuer = "https://appleid.apple.com"
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
				srv.oidcAudiences[n] = a
			}
		} else if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				"google": provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify,
			}
			srv.oidcAudiences = map[string]string{
				"google": *oidcAudience,
			}
		}

		srv.bypassAuth = *bypassAuth
		if srv.bypassAuth && len(srv.oidcAudiences) > 0 {
			log.Ctx(context.Background()).Error("bypass-auth cannot be combined with oidc audiences")
			os.Exit(1)
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/devices", s.handleListDevices)
	apiMux.HandleFunc("POST /api/devices/refresh", s.handleRefresh)
	apiMux.HandleFunc("GET /api/devices/{deviceID}/history", s.handleDeviceHistory)
	apiMux.HandleFunc("GET /api/power/{sn}/history", s.handlePowerHistory)
	apiMux.HandleFunc("POST /api/power/{sn}/ac", s.handleACControl)
	apiMux.HandleFunc("GET /api/catalog", s.handleCatalog)
	apiMux.HandleFunc("GET /api/reports/temperature", s.handleTemperatureReport)
	apiMux.HandleFunc("GET /api/config/yolink", s.handleGetYoLinkConfig)
	apiMux.HandleFunc("POST /api/config/yolink", s.handleSetYoLinkConfig)
	apiMux.HandleFunc("GET /api/config/ecoflow", s.handleListEcoFlowConfigs)
	apiMux.HandleFunc("POST /api/config/ecoflow", s.handleSetEcoFlowConfig)
	apiMux.HandleFunc("DELETE /api/config/ecoflow/{id}", s.handleDeleteEcoFlowConfig)
	apiMux.HandleFunc("GET /api/config/square", s.handleGetSquareConfig)
	apiMux.HandleFunc("POST /api/config/square", s.handleSetSquareConfig)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	handler := s.securityHeadersMiddleware(mux)
	handler = gziphandler.GzipHandler(handler)
	handler = metrics.Middleware(handler)
	return s.revisionMiddleware(s.requestIDMiddleware(handler))
}

func (s *Server) getUser(r *http.Request) authUser {
	if user, ok := r.Context().Value(userContextKey).(authUser); ok {
		return user
	}
	return authUser{}
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// isAdmin returns true if the user may change configs and settings. With no
// admin-emails configured every authenticated user is an admin, which fits a
// single-operator deployment.
func (s *Server) isAdmin(user authUser) bool {
	if s.bypassAuth {
		return true
	}
	if user.Email == "" {
		return false
	}
	if len(s.adminEmails) == 0 {
		return true
	}
	for _, adminEmail := range s.adminEmails {
		if user.Email == adminEmail {
			return true
		}
	}
	return false
}
