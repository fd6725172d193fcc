// Package pedal provides an approval-gated artifact pipeline engine.
//
// A pipeline is a strictly linear chain of stages; each stage invokes an
// external generator command and is followed by a manual approval gate,
// except the last which runs unguarded. The engine persists run state
// synchronously at every transition, retries failed stages a bounded number
// of times, and waits on gates without holding a worker: a waiting gate is
// parked and re-polled on a declared interval until it is approved or its
// window expires.
//
// End-users interact via the high-level Service facade exposed by this
// package:
//
//	srv := pedal.New()
//	rt := srv.Runtime()
//	rt.Start(ctx)
//	p, _ := rt.LoadPipeline(ctx, "pipeline.yaml")
//	_, wait, _ := rt.StartRun(ctx, p)
//	rt.Grant(ctx, "manifest_build")
//	out, _ := wait(ctx, time.Minute)
//
// For more details see the README and individual sub-packages.
package pedal
