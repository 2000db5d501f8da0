package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aaronwang/coin-auction/internal/auction"
	"github.com/aaronwang/coin-auction/internal/gateway"
	"github.com/aaronwang/coin-auction/internal/models"
	"github.com/aaronwang/coin-auction/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Auctions is the read and admin side of the bidding service
type Auctions interface {
	GetAuction(ctx context.Context, auctionID string) (*models.Auction, error)
	ListActive(ctx context.Context) ([]*models.Auction, error)
	CreateAuction(ctx context.Context, req *models.CreateAuctionRequest) (*models.Auction, error)
	Now() time.Time
}

// BidSubmitter places bids on behalf of a credential
type BidSubmitter interface {
	PlaceBid(ctx context.Context, auctionID string, amount decimal.Decimal, credential string) (*gateway.Outcome, error)
}

// Reconciler closes expired auctions on demand
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (int, error)
}

// RouteRegistrar adds extra routes, such as the WebSocket endpoints
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Handler contains HTTP request handlers
type Handler struct {
	auctions   Auctions
	bids       BidSubmitter
	reconciler Reconciler
	validate   *validator.Validate
	adminToken string
	extra      []RouteRegistrar
	log        zerolog.Logger
}

// NewHandler creates a new HTTP handler. An empty adminToken disables the admin routes.
func NewHandler(auctions Auctions, bids BidSubmitter, reconciler Reconciler, adminToken string, log zerolog.Logger, extra ...RouteRegistrar) *Handler {
	return &Handler{
		auctions:   auctions,
		bids:       bids,
		reconciler: reconciler,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		adminToken: adminToken,
		extra:      extra,
		log:        log.With().Str("component", "http").Logger(),
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.ListAuctions).Methods("GET")
	api.HandleFunc("/auctions/{id}", h.GetAuction).Methods("GET")
	api.HandleFunc("/auctions/{id}/bids", h.PlaceBid).Methods("POST", "OPTIONS")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.adminMiddleware)
	admin.HandleFunc("/auctions", h.CreateAuction).Methods("POST")
	admin.HandleFunc("/reconcile", h.Reconcile).Methods("POST")

	for _, r := range h.extra {
		r.RegisterRoutes(router)
	}

	// Middleware
	router.Use(loggingMiddleware(h.log))
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "api-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// ListAuctions returns the auctions currently open for bidding
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.auctions.ListActive(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list auctions")
		respondError(w, http.StatusInternalServerError, "Failed to list auctions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"auctions": auctions,
		"count":    len(auctions),
	})
}

// GetAuction returns the public state of one auction
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	a, err := h.auctions.GetAuction(r.Context(), auctionID)
	if err != nil {
		if errors.Is(err, service.ErrAuctionNotFound) {
			respondError(w, http.StatusNotFound, "Auction not found")
			return
		}
		h.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to get auction")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve auction")
		return
	}

	respondJSON(w, http.StatusOK, a)
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	credential, ok := bearerToken(r)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, (&gateway.Outcome{Reason: auction.ReasonInvalidCredential}).Response())
		return
	}

	var bidReq models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&bidReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	out, err := h.bids.PlaceBid(r.Context(), auctionID, bidReq.Amount, credential)
	if err != nil {
		if errors.Is(err, service.ErrAuctionNotFound) {
			respondError(w, http.StatusNotFound, "Auction not found")
			return
		}
		h.log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to place bid")
		respondError(w, http.StatusInternalServerError, "Failed to place bid")
		return
	}

	// Return appropriate status code
	statusCode := http.StatusOK
	switch {
	case out.OK:
		statusCode = http.StatusCreated
	case out.Reason == auction.ReasonInvalidCredential:
		statusCode = http.StatusUnauthorized
	}

	respondJSON(w, statusCode, out.Response())
}

// CreateAuction opens a new auction
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	a, err := h.auctions.CreateAuction(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAuction):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrProductNotFound):
			respondError(w, http.StatusNotFound, "Product not found")
		default:
			h.log.Error().Err(err).Msg("failed to create auction")
			respondError(w, http.StatusInternalServerError, "Failed to create auction")
		}
		return
	}

	respondJSON(w, http.StatusCreated, a)
}

// Reconcile runs one expiry sweep immediately
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	closed, err := h.reconciler.Reconcile(r.Context(), h.auctions.Now())

	failed := 0
	if err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			h.log.Error().Err(err).Msg("reconcile failed")
			respondError(w, http.StatusInternalServerError, "Reconcile failed")
			return
		}
		failed = len(merr.Errors)
	}

	respondJSON(w, http.StatusOK, map[string]int{
		"closed": closed,
		"failed": failed,
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return "Invalid request: " + strings.Join(fields, ", ")
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
