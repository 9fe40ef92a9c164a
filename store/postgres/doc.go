// Package postgres provides a PostgreSQL-backed store for the automation
// runtime, built on pgx/v5 with embedded SQL migrations.
//
// Compound documents (definition step trees, event envelopes, step
// input/output) are stored as JSONB. Idempotency claims rely on
// INSERT ... ON CONFLICT DO NOTHING so admission is decided by a single
// statement, and run updates guard the terminal states in the WHERE
// clause so a finished run can never transition again.
package postgres
