package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Nine-Minds/alga-psa-sub020/dlq"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/scope"
)

// listDeadLetters returns the tenant's dead letter entries, oldest first.
func (a *API) listDeadLetters(c echo.Context) error {
	ctx := c.Request().Context()

	opts := dlq.ListOpts{
		Tenant:      scope.Tenant(ctx),
		WorkflowKey: c.QueryParam("workflowKey"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
		}
		opts.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "offset must be an integer", nil)
		}
		opts.Offset = n
	}

	entries, err := a.eng.DLQService().Store().ListDLQ(ctx, opts)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// replayDeadLetter resubmits an entry's envelope through the normal
// ingress path and marks it replayed.
func (a *API) replayDeadLetter(c echo.Context) error {
	ctx := c.Request().Context()

	entryID, err := id.ParseDLQID(c.Param("entryId"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid dlq entry ID: "+err.Error(), nil)
	}

	if err := a.eng.ReplayDeadLetter(ctx, scope.Tenant(ctx), entryID); err != nil {
		return storeError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
