package schema_test

import (
	"testing"

	"github.com/Nine-Minds/alga-psa-sub020/schema"
)

const ticketCreatedSchema = `{
	"type": "object",
	"properties": {
		"ticketId": {"type": "string"},
		"updatedFields": {"type": "array"},
		"changes": {"type": "object"}
	},
	"required": ["ticketId"]
}`

func TestValidateOK(t *testing.T) {
	r := schema.NewRegistry()
	if err := r.Register("payload.TicketCreated.v1", ticketCreatedSchema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Validate("payload.TicketCreated.v1", map[string]any{
		"ticketId":      "tkt_1",
		"updatedFields": []any{},
		"changes":       map[string]any{},
	})
	if err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateMismatch(t *testing.T) {
	r := schema.NewRegistry()
	if err := r.Register("payload.TicketCreated.v1", ticketCreatedSchema); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Validate("payload.TicketCreated.v1", map[string]any{
		"updatedFields": []any{},
	})
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}

	se, ok := schema.AsSchemaError(err)
	if !ok {
		t.Fatalf("error is %T, want *SchemaError", err)
	}
	if se.SchemaRef != "payload.TicketCreated.v1" {
		t.Errorf("SchemaRef = %q, want the ref verbatim", se.SchemaRef)
	}
	if se.Err == nil {
		t.Error("expected underlying validation error")
	}
}

func TestValidateUnknownRef(t *testing.T) {
	r := schema.NewRegistry()

	err := r.Validate("payload.DoesNotExist.v1", map[string]any{"x": 1})
	if err == nil {
		t.Fatal("expected error for unknown ref")
	}

	se, ok := schema.AsSchemaError(err)
	if !ok {
		t.Fatalf("error is %T, want *SchemaError", err)
	}
	if se.SchemaRef != "payload.DoesNotExist.v1" {
		t.Errorf("SchemaRef = %q, want %q", se.SchemaRef, "payload.DoesNotExist.v1")
	}
}

func TestRegisterInvalidSchema(t *testing.T) {
	r := schema.NewRegistry()
	if err := r.Register("payload.Broken.v1", `{"type": 42}`); err == nil {
		t.Error("expected compile error for invalid schema document")
	}
}

func TestNilPayload(t *testing.T) {
	r := schema.NewRegistry()
	if err := r.Register("payload.Empty.v1", `{"type": "object"}`); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate("payload.Empty.v1", nil); err != nil {
		t.Errorf("nil payload against plain object schema: %v", err)
	}
}
