package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	"github.com/Nine-Minds/alga-psa-sub020/scope"
	"github.com/Nine-Minds/alga-psa-sub020/workflow"
)

// ImportBundleRequest carries a set of workflow definitions published as
// one unit.
type ImportBundleRequest struct {
	Workflows []*workflow.Definition `json:"workflows"`
}

// ImportBundleResponse reports what was imported.
type ImportBundleResponse struct {
	Imported int `json:"imported"`
}

// importBundle validates and persists a definition bundle. The `force`
// query parameter overwrites existing (key, version) pairs instead of
// failing with a conflict.
func (a *API) importBundle(c echo.Context) error {
	ctx := c.Request().Context()
	tenant := scope.Tenant(ctx)
	force := c.QueryParam("force") == "true"

	var req ImportBundleRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed bundle: "+err.Error(), nil)
	}
	if len(req.Workflows) == 0 {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "bundle contains no workflows", nil)
	}

	// The authenticated tenant owns everything in the bundle regardless
	// of what the payload claims.
	for _, def := range req.Workflows {
		def.Tenant = tenant
		if def.ID.IsNil() {
			def.ID = id.NewWorkflowID()
		}
		if def.CreatedAt.IsZero() {
			def.Entity = automation.NewEntity()
		}
	}

	if err := a.eng.ImportBundle(ctx, req.Workflows, force); err != nil {
		return storeError(c, err)
	}
	return c.JSON(http.StatusCreated, ImportBundleResponse{Imported: len(req.Workflows)})
}

// RegisterSchemaRequest registers one payload schema under its ref.
type RegisterSchemaRequest struct {
	Ref    string          `json:"ref"`
	Schema json.RawMessage `json:"schema"`
}

// registerSchema compiles and registers a payload schema. Subsequent
// event submissions referencing the ref are validated against it.
func (a *API) registerSchema(c echo.Context) error {
	var req RegisterSchemaRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed schema registration: "+err.Error(), nil)
	}
	if req.Ref == "" {
		return jsonError(c, http.StatusBadRequest, "INVALID_REQUEST", "ref is required", nil)
	}

	if err := a.eng.RegisterSchema(req.Ref, string(req.Schema)); err != nil {
		return jsonError(c, http.StatusBadRequest, "INVALID_SCHEMA", err.Error(),
			map[string]any{"schemaRef": req.Ref})
	}
	return c.NoContent(http.StatusCreated)
}
