// Package chatlog provides a small leveled logging interface shared by every
// component of the chat fabric — gateway, backend, and status service.
//
// All components depend on the Logger interface, never a concrete type, so a
// backend wired for production logs through GologLogger (a thin wrapper over
// github.com/kataras/golog) while a unit test can pass NoOpLogger or a custom
// stub without pulling in real I/O.
//
// # Levels
//
//   - LogLevelDebug: per-frame / per-RPC tracing
//   - LogLevelInfo: lifecycle events (session verified, backend registered)
//   - LogLevelWarn: recoverable faults (mirror push retry, best-effort cache miss)
//   - LogLevelError: surfaced failures
//   - LogLevelNone: silence, used in tests that assert on behavior, not logs
package chatlog
