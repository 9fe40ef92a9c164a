package event

// Envelope is the business event submitted to the ingress. It is immutable
// and never persisted standalone; when a run is created the envelope is
// embedded into the run record. The tenant is implicit from caller context
// and travels alongside the envelope, not inside it.
type Envelope struct {
	// Name identifies the business event (e.g. "TICKET_CREATED").
	Name string `json:"eventName"`
	// CorrelationKey scopes idempotency and groups related runs,
	// including child runs spawned by call-workflow steps.
	CorrelationKey string `json:"correlationKey"`
	// SchemaRef names the expected payload shape
	// (e.g. "payload.TicketCreated.v1").
	SchemaRef string `json:"payloadSchemaRef"`
	// Payload is the structured event body.
	Payload map[string]any `json:"payload,omitempty"`
}
