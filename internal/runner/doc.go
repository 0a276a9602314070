// Package runner is the traffic engine shared by edge and standalone modes.
//
// A [Runner] starts a fixed number of workers. Each worker loops until the
// run deadline: it takes a token from the shared [Gate], picks a target by
// weight, performs one attempt through an [attempt.Executor], appends a
// [metrics.Record] to the configured recorder and sleeps for the pace
// interval.
//
//	gate := runner.NewGate(200, 200)
//	r := runner.New(runner.Options{
//		Concurrency: 8,
//		Duration:    time.Minute,
//		Targets:     targets,
//		Gate:        gate,
//		NewExecutor: attempt.NewFactory(dialer, false, logger),
//		Recorder:    buffer,
//	})
//	result := r.Run(ctx)
//
// # Admission
//
// [AdmissionBlocking] waits for a token before every attempt and is used by
// edge workers. [AdmissionTry] never waits: a worker that finds the bucket
// empty sleeps one pace interval and tries again. Standalone mode uses it.
//
// # Connection reuse
//
// With Options.Reuse set, each worker picks its target once at start and
// hands the executor the same target for every attempt.
package runner
