// Package logging provides structured, context-correlated logging on zap.
//
// Every entry picks up correlation fields from the context:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithStage(ctx, "BUILD")
//	ctx = logging.WithIteration(ctx, 2)
//	logger.Info(ctx, "stage finished", zap.Duration("duration", d))
//
// produces run.id, pipeline.stage and pipeline.iteration alongside the
// OpenTelemetry trace_id and span_id when a span is active.
//
// # Outputs
//
// Console output (json or console format) goes to stderr. When enabled,
// entries are also bridged to an OpenTelemetry LoggerProvider.
//
// # Redaction
//
// The console encoder masks values of sensitive keys (api_key, token,
// authorization, ...) and rewrites pattern matches such as bearer tokens
// inside messages and string fields. config.Secret values should be logged
// with Secret, which records only their length.
//
// # Sampling
//
// Each level below Error has its own sampler:
//   - Trace: first 1 per tick
//   - Debug: first 10 per tick
//   - Info: first 100, then every 10th
//   - Warn: first 100, then every 100th
//
// Error and above are never sampled.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "stage finished")
package logging
