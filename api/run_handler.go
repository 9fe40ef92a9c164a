package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/scope"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// listRuns returns runs matching the query filters. A non-zero `wait`
// duration turns the query into a bounded wait for a matching terminal
// run; a timeout surfaces as 408 with code AWAIT_TIMEOUT, which is how
// paused and unmatched workflows are distinguished from failures.
func (a *API) listRuns(c echo.Context) error {
	ctx := c.Request().Context()

	filter := workflow.RunFilter{
		Tenant:         scope.Tenant(ctx),
		WorkflowKey:    c.QueryParam("workflowKey"),
		CorrelationKey: c.QueryParam("correlationKey"),
		Status:         workflow.Status(c.QueryParam("status")),
	}
	if v := c.QueryParam("startedAfter"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "startedAfter must be RFC3339: "+err.Error(), nil)
		}
		filter.StartedAfter = t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "offset must be an integer", nil)
		}
		filter.Offset = n
	}

	if v := c.QueryParam("wait"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "wait must be a duration: "+err.Error(), nil)
		}
		run, err := a.eng.AwaitRun(ctx, filter, timeout)
		if err != nil {
			if errors.Is(err, automation.ErrAwaitTimeout) {
				return jsonError(c, http.StatusRequestTimeout, "AWAIT_TIMEOUT", "no matching run within wait window", nil)
			}
			return storeError(c, err)
		}
		return c.JSON(http.StatusOK, []*workflow.Run{run})
	}

	runs, err := a.eng.WorkflowStore().ListRuns(ctx, filter)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}

// getRun returns a single run by ID.
func (a *API) getRun(c echo.Context) error {
	ctx := c.Request().Context()

	runID, err := id.ParseRunID(c.Param("runId"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid run ID: "+err.Error(), nil)
	}

	run, err := a.eng.WorkflowStore().GetRun(ctx, scope.Tenant(ctx), runID)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// listSteps returns a run's step audit records in execution order.
func (a *API) listSteps(c echo.Context) error {
	ctx := c.Request().Context()

	runID, err := id.ParseRunID(c.Param("runId"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid run ID: "+err.Error(), nil)
	}

	steps, err := a.eng.WorkflowStore().ListSteps(ctx, scope.Tenant(ctx), runID)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusOK, steps)
}
