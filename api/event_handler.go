package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Nine-Minds/alga-psa-sub020/event"
	"github.com/Nine-Minds/alga-psa-sub020/schema"
	"github.com/Nine-Minds/alga-psa-sub020/scope"
)

// SubmitEventResponse reports the runs a submission created. Duplicate
// and paused submissions are accepted with an empty run list.
type SubmitEventResponse struct {
	RunIDs []string `json:"runIds"`
}

// submitEvent accepts an event envelope, validates its payload against
// the referenced schema, and schedules matching workflows. Execution is
// asynchronous; the 202 response only acknowledges acceptance.
func (a *API) submitEvent(c echo.Context) error {
	ctx := c.Request().Context()
	tenant := scope.Tenant(ctx)

	var env event.Envelope
	if err := c.Bind(&env); err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed event envelope: "+err.Error(), nil)
	}
	if env.Name == "" {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "eventName is required", nil)
	}
	if env.CorrelationKey == "" {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "correlationKey is required", nil)
	}
	if env.SchemaRef == "" {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "payloadSchemaRef is required", nil)
	}

	runs, err := a.eng.HandleEvent(ctx, tenant, env)
	if err != nil {
		if serr, ok := schema.AsSchemaError(err); ok {
			return jsonError(c, http.StatusBadRequest, "INVALID_EVENT_PAYLOAD", serr.Message,
				map[string]any{"schemaRef": serr.SchemaRef})
		}
		return storeError(c, err)
	}

	resp := SubmitEventResponse{RunIDs: make([]string, 0, len(runs))}
	for _, run := range runs {
		resp.RunIDs = append(resp.RunIDs, run.ID.String())
	}
	return c.JSON(http.StatusAccepted, resp)
}
