// Package observability provides OpenTelemetry tracing and metrics for the
// routing plane, plus SLI/SLO tracking and an in-memory audit timeline.
//
// # Tracing and metrics
//
// Initialize the provider at application startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Track an operation end-to-end (span + RED metrics):
//
//	ctx, done := p.TrackOperation(ctx, "pipeline.admit")
//	defer done(err)
//
// # SLOs
//
// Register targets and record observations against the router's
// availability and latency commitments:
//
//	tracker := observability.NewSLOTracker()
//	tracker.RegisterTarget(observability.SLOTarget{Name: "pipeline-availability", ...})
//	tracker.Record(observability.SLOObservation{Target: "pipeline-availability", ...})
package observability
