// Package logging provides structured, context-aware logging on top of zap.
//
// Every method takes a context so that correlation data travels with the
// log line without call sites repeating it:
//
//	ctx = logging.WithCorrelationID(ctx, res.CorrelationID)
//	ctx = logging.WithProposalID(ctx, p.ID)
//	logger.Info(ctx, "proposal approved", zap.String("actor", actor))
//
// produces
//
//	{"ts":"2026-03-02T10:15:30Z","level":"info","msg":"proposal approved",
//	 "correlation_id":"...","proposal_id":"...","actor":"alice"}
//
// Trace and span IDs are added automatically when the context carries an
// OpenTelemetry span. Output goes to stdout and, optionally, to an OTEL log
// provider through the otelzap bridge. Levels below error are sampled;
// errors never are.
//
// Tests use NewTestLogger, which records entries in memory and offers
// assertion helpers.
package logging
