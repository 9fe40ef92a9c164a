// Package api exposes the automation runtime over HTTP: event ingress,
// run queries, bundle import, dead letter inspection, and scheduled
// trigger management. Authentication maps API keys to tenants; every
// route below /v1 is tenant-scoped.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/engine"
	"github.com/Nine-Minds/alga-psa-sub020/scope"
)

// API wires the HTTP handlers for the automation system.
type API struct {
	eng *engine.Engine

	// keys maps API keys to tenant identifiers.
	keys     map[string]string
	limiters *tenantLimiters
}

// Option configures an API.
type Option func(*API)

// WithAPIKey authorizes an API key for a tenant. A key submitted via the
// X-API-Key header scopes the request to that tenant.
func WithAPIKey(key, tenant string) Option {
	return func(a *API) {
		a.keys[key] = tenant
	}
}

// WithRateLimit bounds each tenant to rps requests per second with the
// given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *API) {
		a.limiters = newTenantLimiters(rps, burst)
	}
}

// New creates an API from an automation Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:  eng,
		keys: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	a.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers all automation API routes into the given echo
// instance.
func (a *API) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1", a.authenticate, a.rateLimit)

	g.POST("/workflow/events", a.submitEvent)
	g.GET("/workflow/runs", a.listRuns)
	g.GET("/workflow/runs/:runId", a.getRun)
	g.GET("/workflow/runs/:runId/steps", a.listSteps)
	g.POST("/workflow/bundles", a.importBundle)
	g.POST("/schemas", a.registerSchema)
	g.GET("/dlq", a.listDeadLetters)
	g.POST("/dlq/:entryId/replay", a.replayDeadLetter)
	g.POST("/triggers", a.createTrigger)
	g.GET("/triggers", a.listTriggers)
	g.DELETE("/triggers/:entryId", a.deleteTrigger)
}

// authenticate resolves the X-API-Key header to a tenant and stores it
// on the request context.
func (a *API) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-API-Key")
		tenant, ok := a.keys[key]
		if !ok {
			return jsonError(c, http.StatusUnauthorized, "UNAUTHORIZED", "unknown API key", nil)
		}
		ctx := scope.WithTenant(c.Request().Context(), tenant)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// rateLimit enforces the per-tenant request budget, when configured.
func (a *API) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if a.limiters != nil {
			tenant := scope.Tenant(c.Request().Context())
			if !a.limiters.allow(tenant) {
				return jsonError(c, http.StatusTooManyRequests, "RATE_LIMITED", "tenant request budget exhausted", nil)
			}
		}
		return next(c)
	}
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// jsonError writes the uniform error envelope.
func jsonError(c echo.Context, status int, code, message string, details map[string]any) error {
	return c.JSON(status, errorResponse{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// storeError maps store sentinel errors onto HTTP responses.
func storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, automation.ErrRunNotFound),
		errors.Is(err, automation.ErrDefinitionNotFound),
		errors.Is(err, automation.ErrDLQNotFound),
		errors.Is(err, automation.ErrTriggerNotFound):
		return jsonError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, automation.ErrVersionConflict),
		errors.Is(err, automation.ErrDuplicateTrigger):
		return jsonError(c, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		return jsonError(c, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
