// Package keys is the single source of truth for the coordination key
// namespace and its TTL policy. Every key is colon-delimited; run and
// instance ids are opaque and must not contain colons.
//
// The response list key and the notify channel deliberately share the name
// returned by Responses: Redis keeps key and pub/sub channel namespaces
// separate, so the overlap is unambiguous.
package keys

import (
	"strings"
	"time"
)

// TTL policy. Every coordination key has a bounded lifetime so that a crash
// never leaves permanent state behind.
const (
	// LockTTL is the safety ceiling on a run lock. A crashed owner frees the
	// run only when this expires, trading exactly-once for at-least-once.
	LockTTL = 24 * time.Hour

	// ResponseRetention is how long a finished run's buffer stays readable.
	ResponseRetention = 24 * time.Hour

	// InstanceActiveTTL bounds the liveness hint; it is refreshed while a
	// run is in progress.
	InstanceActiveTTL = 24 * time.Hour

	// ActiveRunTTL bounds the discovery keys used for cancel fan-out and
	// shutdown cleanup.
	ActiveRunTTL = 24 * time.Hour

	// CacheTTL is the default expiry of cache entries.
	CacheTTL = 15 * time.Minute

	// HealthTTL bounds health-probe keys.
	HealthTTL = 60 * time.Second
)

// Lock returns the run ownership key. Value is the owning instance id.
func Lock(runID string) string { return "run-lock:" + runID }

// InstanceActive returns the per-instance liveness key.
func InstanceActive(instanceID string) string { return "instance-active:" + instanceID }

// Responses returns both the response list key and the notify channel name
// for a run.
func Responses(runID string) string { return "run-responses:" + runID }

// Control returns the global control channel for a run.
func Control(runID string) string { return "run-control:" + runID }

// InstanceControl returns the instance-targeted control channel for a run.
func InstanceControl(runID, instanceID string) string {
	return "run-control:" + runID + ":" + instanceID
}

// ActiveRun returns the discovery key marking that instanceID is executing
// runID.
func ActiveRun(instanceID, runID string) string {
	return "active-run:" + instanceID + ":" + runID
}

// ActiveRunsByRun returns the scan pattern matching every instance's
// discovery key for runID.
func ActiveRunsByRun(runID string) string { return "active-run:*:" + runID }

// ActiveRunsByInstance returns the scan pattern matching every run the given
// instance is executing.
func ActiveRunsByInstance(instanceID string) string { return "active-run:" + instanceID + ":*" }

// SplitActiveRun parses an active-run discovery key back into its instance
// and run ids. ok is false for keys that are not in the active-run namespace.
func SplitActiveRun(key string) (instanceID, runID string, ok bool) {
	rest, found := strings.CutPrefix(key, "active-run:")
	if !found {
		return "", "", false
	}
	instanceID, runID, ok = strings.Cut(rest, ":")
	if !ok || instanceID == "" || runID == "" {
		return "", "", false
	}
	return instanceID, runID, true
}

// Cache returns the key for a cache entry.
func Cache(key string) string { return "cache:" + key }

// Health returns the key written by the health-check job.
func Health(token string) string { return "health-check:" + token }
