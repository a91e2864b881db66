// Package taskloop is a cooperative periodic-callback scheduler for
// single-threaded control loops.
//
// A host constructs a Scheduler with a fixed task capacity and a time unit,
// registers zero-argument callbacks with independent periods, and then calls
// Poll from its own loop as often as it can:
//
//	sch, _ := taskloop.New(4, taskloop.Milliseconds)
//	blink, _ := sch.AddTask(toggleLED, 500, true)
//	for {
//		sch.Poll()
//	}
//
// Each Poll pass checks every registered task once, in registration order,
// and runs the ones that are due. A task is due when it is enabled and either
// its period is zero (run on every pass) or the time elapsed since its timer
// baseline is strictly greater than its period.
//
// There is no preemption and no priority. Callbacks run to completion on the
// polling goroutine, so a slow callback delays the due-check of every task
// registered after it. Panics raised by callbacks are not recovered; they
// propagate out of Poll, CallTask or EnableTask.
//
// A Scheduler has no internal locking. It must be owned by one goroutine;
// tasks may be registered before the first Poll without synchronization.
//
// Timestamps are 32-bit tick counters (milliseconds or microseconds) and all
// elapsed-time arithmetic wraps, so schedules keep working across counter
// overflow.
package taskloop
