package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"RegimeDuel/internal/domain/models"
	domrepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/internal/service/metrics"
	"RegimeDuel/internal/service/ratelimit"
	"RegimeDuel/internal/usecase"
	xhttp "RegimeDuel/pkg/http"
	xlogger "RegimeDuel/pkg/logger"
)

// Engine is the part of the decision engine the console drives.
type Engine interface {
	Status() usecase.EngineStatus
	ManualRelease(code string) bool
	SetEquity(equity float64) error
}

// HealthCheck reports the reachability of one dependency.
type HealthCheck func(ctx context.Context) error

// ConsoleHandler serves the operator console.
type ConsoleHandler struct {
	logger  *xlogger.Logger
	engine  Engine
	journal domrepo.TradeJournal
	rl      *ratelimit.Limiter
	checks  map[string]HealthCheck
}

type ConsoleOption func(*ConsoleHandler)

// WithHealthCheck adds a dependency checked by /api/health.
func WithHealthCheck(name string, check HealthCheck) ConsoleOption {
	return func(h *ConsoleHandler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

// NewConsoleHandler creates the console. journal may be nil when ClickHouse is disabled.
func NewConsoleHandler(logger *xlogger.Logger, engine Engine, journal domrepo.TradeJournal, rl *ratelimit.Limiter, opts ...ConsoleOption) *ConsoleHandler {
	metrics.Register()
	h := &ConsoleHandler{logger: logger, engine: engine, journal: journal, rl: rl, checks: make(map[string]HealthCheck)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ConsoleHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)
	g.GET("/status", h.Status)
	g.GET("/trades", h.Trades)
	g.POST("/release", h.Release)
	g.POST("/equity", h.Equity)
}

func observe(endpoint string, start time.Time) {
	metrics.ConsoleLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// Health runs every registered check with a short deadline.
func (h *ConsoleHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	report := map[string]string{"engine": "ok"}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			healthy = false
			report[name] = err.Error()
			h.logger.Warn("health check failed", xlogger.String("dependency", name), xlogger.Error(err))
			continue
		}
		report[name] = "ok"
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, report)
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *ConsoleHandler) Status(c echo.Context) error {
	defer observe("status", time.Now())
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.engine.Status())
}

func (h *ConsoleHandler) Trades(c echo.Context) error {
	defer observe("trades", time.Now())
	req := &models.TradesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.journal == nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_JOURNAL_DISABLED", "", "trade journal is disabled", http.StatusServiceUnavailable))
	}
	rows, err := h.journal.Recent(c.Request().Context(), req.Instrument, req.Limit)
	if err != nil {
		metrics.ConsoleErrors.WithLabelValues("trades").Inc()
		h.logger.Error("journal query failed", xlogger.String("instrument", req.Instrument), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Release attempts a manual release of a PENDING circuit. Attempts are rate
// limited per remote address.
func (h *ConsoleHandler) Release(c echo.Context) error {
	defer observe("release", time.Now())
	if !h.rl.Allow(c.RealIP() + ":release") {
		metrics.ReleaseAttempts.WithLabelValues("limited").Inc()
		h.logger.Warn("console.release rate_limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many release attempts", http.StatusTooManyRequests))
	}
	req := &models.ReleaseRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		metrics.ReleaseAttempts.WithLabelValues("invalid").Inc()
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.engine.ManualRelease(req.Code) {
		metrics.ReleaseAttempts.WithLabelValues("rejected").Inc()
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RELEASE_REJECTED", "code", "release rejected", http.StatusConflict))
	}
	metrics.ReleaseAttempts.WithLabelValues("accepted").Inc()
	h.logger.Info("circuit released by operator", xlogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, h.engine.Status().Circuit)
}

func (h *ConsoleHandler) Equity(c echo.Context) error {
	defer observe("equity", time.Now())
	req := &models.EquityRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.SetEquity(req.Equity); err != nil {
		metrics.ConsoleErrors.WithLabelValues("equity").Inc()
		if errors.Is(err, models.ErrInvalidInput) {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_INVALID_EQUITY", "equity", err.Error(), http.StatusBadRequest))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err))
	}
	h.logger.Info("equity set by operator", xlogger.Float64("equity", req.Equity))
	return xhttp.SuccessResponse(c, map[string]float64{"equity": req.Equity})
}

var _ xhttp.Handler = (*ConsoleHandler)(nil)
