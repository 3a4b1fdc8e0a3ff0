// Package api defines the public contracts of the irisrun coordination core:
// run output items and their terminal kinds, run parameters, the executor
// state machine states, the Producer contract implemented by callers, and
// the Observer used for lifecycle logging and metrics.
//
// Implementations live under internal/; applications normally construct
// everything through the root irisrun package.
package api
