package redis

import "strconv"

// Redis key naming conventions for automation data.
// All keys are prefixed with "automation:" to avoid collisions.

const keyPrefix = "automation:"

// ── Workflow definition keys ──

// definitionKey returns the key for one definition version:
// automation:wf:{tenant}:{key}:{version}
func definitionKey(tenant, key string, version int) string {
	return keyPrefix + "wf:" + tenant + ":" + key + ":" + strconv.Itoa(version)
}

// definitionVersionsKey returns the Sorted Set of versions for one
// workflow key, scored by version number.
func definitionVersionsKey(tenant, key string) string {
	return keyPrefix + "wf_versions:" + tenant + ":" + key
}

// triggerIndexKey returns the Set of workflow keys bound to an event
// name within a tenant.
func triggerIndexKey(tenant, eventName string) string {
	return keyPrefix + "wf_trigger:" + tenant + ":" + eventName
}

// ── Run keys ──

// runKey returns the key for a run entity: automation:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runsByTenantKey returns the Sorted Set of a tenant's run IDs, scored
// by creation time.
func runsByTenantKey(tenant string) string { return keyPrefix + "runs:" + tenant }

// ── Step keys ──

// stepKey returns the key for a step record entity: automation:step:{id}
func stepKey(id string) string { return keyPrefix + "step:" + id }

// stepsByRunKey returns the List of a run's step record IDs in
// execution order.
func stepsByRunKey(runID string) string { return keyPrefix + "steps:" + runID }

// ── Idempotency claim keys ──

// claimKey returns the key holding the admission claim for a tuple:
// automation:claim:{tenant}:{workflowKey}:{correlationKey}
func claimKey(tenant, workflowKey, correlationKey string) string {
	return keyPrefix + "claim:" + tenant + ":" + workflowKey + ":" + correlationKey
}

// ── Event keys ──

// eventKey returns the key for an event entity: automation:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventStreamKey returns the Stream key for an event name:
// automation:events:{name}
func eventStreamKey(name string) string { return keyPrefix + "events:" + name }

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: automation:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqByTenantKey returns the Sorted Set of a tenant's DLQ entry IDs,
// scored by failure time.
func dlqByTenantKey(tenant string) string { return keyPrefix + "dlqs:" + tenant }

// ── Trigger keys ──

// schedTriggerKey returns the key for a trigger entry entity:
// automation:trig:{id}
func schedTriggerKey(id string) string { return keyPrefix + "trig:" + id }

// triggerIDsKey is the Set tracking all trigger IDs across tenants; the
// scheduler enumerates it on start.
const triggerIDsKey = keyPrefix + "trig_ids"

// triggerNamesKey returns the Hash mapping a tenant's trigger names to
// IDs for duplicate detection.
func triggerNamesKey(tenant string) string { return keyPrefix + "trig_names:" + tenant }
