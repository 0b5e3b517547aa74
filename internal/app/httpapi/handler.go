// Package httpapi exposes the market views over HTTP.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/marketpulse/internal/app"
	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/metrics"
	marketsvc "github.com/R3E-Network/marketpulse/internal/app/services/market"
	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/internal/httputil"
	"github.com/R3E-Network/marketpulse/internal/middleware"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	log    *logger.Logger
	health *healthReporter
}

// NewHandler returns a router exposing the market API wrapped in the
// middleware chain configured on application.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	h := &handler{
		app:    application,
		log:    log,
		health: newHealthReporter(),
	}

	server := application.Config.Server
	r := mux.NewRouter()
	outer := []mux.MiddlewareFunc{
		middleware.Recovery(log),
		middleware.NewTracingMiddleware(log).Handler,
		middleware.MetricsMiddleware(),
		middleware.NewCORSMiddleware(server.CORSOrigins).Handler,
	}
	r.Use(outer...)
	if server.RateLimitRPS > 0 {
		// Validated at config load.
		proxies, _ := httputil.ParseTrustedProxies(server.TrustedProxies)
		limiter := middleware.NewRateLimiter(server.RateLimitRPS, server.RateLimitBurst, log.Named("ratelimit"))
		r.Use(limiter.WithTrustedProxies(proxies).Handler)
	}
	r.Use(middleware.NewWorkerLimiter(server.Workers).Handler)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/market-status", h.marketStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/top-gainers", h.topGainers).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/top-gainers/history", h.gainersHistory).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// mux skips Use middleware for unmatched requests.
	r.NotFoundHandler = wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "not found")
	}), outer)
	r.MethodNotAllowedHandler = wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}), outer)
	return r
}

// wrap applies mws with the first one outermost, as Router.Use does.
func wrap(h http.Handler, mws []mux.MiddlewareFunc) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// marketStatus always answers with {"status", "time"}; failures use 500.
func (h *handler) marketStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Market.MarketStatus(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, view)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) topGainers(w http.ResponseWriter, r *http.Request) {
	gainers, err := h.app.Market.TopGainers(r.Context())
	if err != nil {
		if svcerrors.Is(err, svcerrors.CodeNotConfigured) {
			httputil.InternalError(w, marketsvc.GainersNotConfigured)
			return
		}
		httputil.InternalError(w, marketsvc.GainersFetchFailed)
		return
	}
	if gainers == nil {
		gainers = []market.Gainer{}
	}
	httputil.WriteJSON(w, http.StatusOK, gainers)
}

func (h *handler) gainersHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteServiceError(w, svcerrors.InvalidInput("limit", "must be an integer"))
			return
		}
		limit = n
		if limit == 0 {
			limit = -1
		}
	}

	snaps, err := h.app.Market.History(r.Context(), limit)
	if err != nil {
		if se, ok := svcerrors.As(err); ok && se.Code == svcerrors.CodeInternal {
			h.log.WithContext(r.Context()).WithError(err).Error("list gainers history")
		}
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snaps)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.health.report(h.app))
}
