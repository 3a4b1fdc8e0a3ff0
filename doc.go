// Package irisrun coordinates long-running, streaming agent runs across a
// pool of stateless worker processes that share nothing but a Redis-style
// key/value + pub/sub store.
//
// Any HTTP-facing process can enqueue a run; any worker can pick it up; any
// process can stop it. The core guarantees:
//
//   - at most one active executor per run, enforced by a TTL-bounded lock
//     whose value is the owning instance id (the fencing value);
//   - incremental output delivered to late-joining and reconnecting readers
//     without loss or duplication, via an append-only response list plus a
//     best-effort change-notification channel;
//   - cancellation that reaches the actual owning worker, via a global
//     per-run control channel fanned out to instance-scoped channels
//     discovered through active-run keys.
//
// # Components
//
//  1. Coordinator: the facade wiring everything together.
//  2. Producer: the caller-supplied streaming computation (pkg/api).
//  3. Worker: the queue consumer (pkg/worker).
//  4. Observer: lifecycle callbacks for logging and metrics (pkg/api).
//
// A typical worker process:
//
//	coord, err := irisrun.NewFromEnv(ctx, myProducer)
//	if err != nil {
//	    ...
//	}
//	defer coord.Close(ctx)
//	go coord.RunWorker(ctx)
//
// An HTTP process enqueues and follows runs:
//
//	_ = coord.Enqueue(ctx, api.RunParams{RunID: id, ThreadID: thread})
//	items, _ := coord.Follow(ctx, id, 0)
//	for it := range items { ... }
//
// and stops one from anywhere:
//
//	_ = coord.Stop(ctx, id, "user requested stop")
//
// # Failure model
//
// The store is assumed unreliable and processes can crash mid-run. Every
// coordination key carries a bounded TTL as a crash-safety net; a crashed
// owner's lock expires and a fresh attempt may run the job again, so
// execution is at-least-once under crash, with the append-only buffer
// keeping reruns safe. Readers treat the response list, never the
// notification channel, as the source of truth.
package irisrun
