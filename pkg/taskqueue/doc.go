// Package taskqueue implements the task lifecycle engine: a
// Redis-backed queue of outbound HTTP calls executed asynchronously,
// either immediately, after a countdown, at an absolute eta, or on a
// recurring interval/cron schedule, with success/failure/complete
// callback chaining.
//
// # Data layout
//
// Each (app, queue) namespace owns an independent id sequence and a
// set of deterministic keys:
//
//	AX:INC                          per-queue id counters (hash)
//	AX:META:{app}:{queue}:{id}      task metadata (hash of JSON values)
//	AX:CNAME:{app}:{queue}:{cname}  custom-name index (string -> id)
//	AX:UUID:{app}:{queue}           uuid index (zset, score = id)
//
// The uuid index is the authoritative enumeration set: listing and
// counting are driven by it, in id order. The key shapes are a stable
// contract shared with other implementations of the same service.
//
// # Lifecycle
//
// Add allocates an id from the atomic counter (never rolled back, so
// id gaps are normal), writes the metadata hash and the optional cname
// index under an optimistic transaction, then submits a dispatch job
// to the broker. The broker's job identifier becomes the task's uuid.
//
// A worker delivers (app, queue, id) back into Runner.Run, which
// claims the task by transitioning enqueued/delayed to running,
// performs the HTTP request, fires callbacks, and finally deletes the
// task or, for recurring tasks, computes the next eta and re-enqueues.
//
// # Concurrency
//
// The engine holds no in-process locks. Uniqueness of cnames, status
// claims and deletes are all enforced with watched transactions over
// the store; two racing writers resolve by the loser's commit failing
// against the modified watch.
//
// Basic usage:
//
//	q := taskqueue.New(client, "myapp",
//	    taskqueue.WithQueue("default"),
//	    taskqueue.WithBroker(b),
//	)
//	task, err := q.Add(ctx, &taskqueue.Descriptor{
//	    Request: taskqueue.Request{Method: "GET", URL: "https://example.com/ping"},
//	})
package taskqueue
