package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rowpledge/internal/auth"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/validation"
	"github.com/rowpledge/internal/webhook"
	"github.com/rowpledge/internal/websocket"
)

const (
	// maxWebhookBody bounds inbound webhook payloads
	maxWebhookBody = 1 << 20

	defaultSyncTimeout = 10 * time.Minute
)

// LeaderboardReader serves the campaign leaderboard
type LeaderboardReader interface {
	Current(ctx context.Context) (*domain.Leaderboard, error)
	Window() domain.Window
}

// EventHandler applies decoded webhook events
type EventHandler interface {
	Handle(ctx context.Context, event webhook.Event) (webhook.Outcome, error)
}

// CredentialInstaller completes the OAuth callback
type CredentialInstaller interface {
	Install(ctx context.Context, state, code string) (*domain.Account, error)
}

// SyncRunner triggers a batch sync
type SyncRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// ClaimVerifier verifies a claimed activity
type ClaimVerifier interface {
	VerifyClaim(ctx context.Context, chatID string, meters int64) (*domain.Activity, error)
}

// ConnectNotifier tells a participant their logbook is connected
type ConnectNotifier interface {
	AccountConnected(ctx context.Context, account *domain.Account)
}

// Pinger reports backend health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the handler's collaborators. Notifier, Hub and Cache are
// optional.
type Options struct {
	Leaderboard   LeaderboardReader
	Events        EventHandler
	Credentials   CredentialInstaller
	Sync          SyncRunner
	Verifier      ClaimVerifier
	Notifier      ConnectNotifier
	Hub           *websocket.Hub
	Store         Pinger
	Cache         Pinger
	Auth          auth.Config
	WebhookPath   string
	WebhookSecret string
	CampaignName  string
	SyncTimeout   time.Duration
}

// Handler provides HTTP handlers for the pledge tracker
type Handler struct {
	opts      Options
	validator *validation.Validator
	logger    *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options, logger *slog.Logger) *Handler {
	return &Handler{
		opts:      opts,
		validator: validation.New(),
		logger:    logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Webhook-Secret"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	// Live leaderboard
	r.Get("/ws", h.HandleWebSocket)

	// Concept2 integration
	r.Get("/callback", h.OAuthCallback)
	r.Post(h.opts.WebhookPath, h.ReceiveWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/config", h.GetConfig)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.NewMiddleware(h.opts.Auth).RequireScope(auth.ScopeAdmin))
			r.Post("/sync", h.TriggerSync)
			r.Post("/verify", h.VerifyClaim)
		})
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.opts.Hub == nil {
		h.writeError(w, http.StatusNotFound, errors.New("live updates disabled"))
		return
	}
	websocket.ServeWs(h.opts.Hub, h.logger, w, r)
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns the readiness status. An unreachable cache degrades
// reads to direct computation, so it is reported but does not fail the check.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.opts.Store != nil {
		if err := h.opts.Store.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, errors.New("store unavailable"))
			return
		}
	}

	status := map[string]string{"status": "ready"}
	if h.opts.Cache != nil {
		status["cache"] = "ok"
		if err := h.opts.Cache.Ping(ctx); err != nil {
			h.logger.Warn("leaderboard cache unreachable", "error", err)
			status["cache"] = "unavailable"
		}
	}
	h.writeSuccess(w, status)
}

// GetLeaderboard returns the campaign leaderboard
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.opts.Leaderboard.Current(r.Context())
	if err != nil {
		h.logger.Error("failed to compute leaderboard", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.writeSuccess(w, lb)
}

// GetConfig returns the campaign window for the frontend
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	window := h.opts.Leaderboard.Window()
	h.writeSuccess(w, map[string]string{
		"name":     h.opts.CampaignName,
		"start":    window.Start.Format(time.RFC3339),
		"end":      window.LastDay(),
		"timezone": window.Location().String(),
	})
}

// OAuthCallback installs credentials returned by the Concept2 authorisation flow
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		h.writeError(w, http.StatusBadRequest, errors.New("authorisation failed: "+errParam))
		return
	}
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("missing code or state"))
		return
	}

	acct, err := h.opts.Credentials.Install(r.Context(), state, code)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrInvalidRequest) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("oauth callback failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, errors.New("error exchanging token"))
		return
	}

	if h.opts.Notifier != nil {
		h.opts.Notifier.AccountConnected(r.Context(), acct)
	}
	h.writeSuccess(w, map[string]string{
		"status":  "connected",
		"message": "Your Concept2 account has been connected. Workouts you log during the campaign will count toward your pledge.",
	})
}

// ReceiveWebhook ingests a pushed Concept2 result event
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	if h.opts.WebhookSecret != "" &&
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Secret")), []byte(h.opts.WebhookSecret)) != 1 {
		h.writeError(w, http.StatusUnauthorized, errors.New("invalid webhook secret"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	event, err := webhook.Decode(body)
	if err != nil {
		h.logger.Warn("rejected webhook payload", "error", err)
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.opts.Events.Handle(r.Context(), event)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("failed to process webhook", "type", event.Type(), "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]string{"outcome": string(outcome)})
}

// TriggerSync runs a batch sync and reports how many accounts were processed.
// The run is detached from the request so a dropped client or the server's
// write timeout does not abort it partway through.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	timeout := h.opts.SyncTimeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
	defer cancel()

	processed, err := h.opts.Sync.RunOnce(ctx)
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.writeSuccess(w, map[string]int{"processed": processed})
}

// VerifyClaimRequest is the body of a manual verification
type VerifyClaimRequest struct {
	ChatID string `json:"chat_id" validate:"required"`
	Meters int64  `json:"meters" validate:"required,gt=0"`
}

// VerifyClaim verifies a participant's latest unverified activity of a given distance
func (h *Handler) VerifyClaim(w http.ResponseWriter, r *http.Request) {
	var req VerifyClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	act, err := h.opts.Verifier.VerifyClaim(r.Context(), req.ChatID, req.Meters)
	if err != nil {
		switch {
		case domain.IsNotFoundError(err):
			h.writeError(w, http.StatusNotFound, err)
		case errors.Is(err, domain.ErrValidation):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.logger.Error("failed to verify claim", "error", err)
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		}
		return
	}
	h.writeSuccess(w, act)
}
