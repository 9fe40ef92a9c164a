package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/scope"
	"github.com/Nine-Minds/alga-psa-sub020/trigger"
)

// CreateTriggerRequest registers a scheduled trigger.
type CreateTriggerRequest struct {
	Name     string         `json:"name"`
	Schedule string         `json:"schedule"`
	Event    event.Envelope `json:"event"`
	Enabled  *bool          `json:"enabled,omitempty"`
}

// createTrigger registers a scheduled trigger for the tenant. Triggers
// default to enabled.
func (a *API) createTrigger(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateTriggerRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed trigger: "+err.Error(), nil)
	}
	if req.Name == "" || req.Schedule == "" || req.Event.Name == "" {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "name, schedule and event.eventName are required", nil)
	}
	if _, err := trigger.ParseSchedule(req.Schedule); err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_SCHEDULE", err.Error(), nil)
	}

	entry := &trigger.Entry{
		Entity:   automation.NewEntity(),
		ID:       id.NewTriggerID(),
		Tenant:   scope.Tenant(ctx),
		Name:     req.Name,
		Schedule: req.Schedule,
		Event:    req.Event,
		Enabled:  req.Enabled == nil || *req.Enabled,
	}

	if err := a.eng.Scheduler().Register(ctx, entry); err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// listTriggers returns the tenant's trigger entries.
func (a *API) listTriggers(c echo.Context) error {
	ctx := c.Request().Context()

	entries, err := a.eng.TriggerStore().ListTriggers(ctx, scope.Tenant(ctx))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// deleteTrigger removes a trigger entry.
func (a *API) deleteTrigger(c echo.Context) error {
	ctx := c.Request().Context()

	entryID, err := id.ParseTriggerID(c.Param("entryId"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid trigger ID: "+err.Error(), nil)
	}

	if err := a.eng.TriggerStore().DeleteTrigger(ctx, scope.Tenant(ctx), entryID); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
