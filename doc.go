// SPDX-License-Identifier: GPL-3.0-or-later

// Package oncp implements the transport core of a Juniper/Pulse "Oncp"
// SSL/DTLS VPN client: a cancellable TCP transport, sticky-peer DNS
// resolution, and an HTTPS transport with an ordered cookie jar. The
// authentication state machine, HTML form parsing, TNCC helper, token
// generation, and ESP datapath live in the internal/ subpackages built
// on top of these primitives.
//
// # Core Abstraction
//
// The package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic network operation with exactly one success
// mode and one failure mode. This design enables type-safe composition via
// [Compose2], [Compose3], etc., where the compiler verifies that outputs
// match inputs across pipeline stages.
//
// # Available Primitives
//
// Connection establishment:
//   - [ConnectFunc]: dials TCP endpoints
//   - [TLSHandshakeFunc]: performs TLS handshake over an existing connection
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//   - [CancelWatchFunc]: closes connection on context cancellation
//   - [CmdWatch]: derives a cancellable context from a [*CmdChannel]
//
// Cancellable transport:
//   - [*CmdChannel]: external control channel carrying CANCEL/PAUSE/DETACH/STATS
//   - [*CancellableIO]: connect/send/recv/gets over a [net.Conn], every
//     operation interruptible by the owning [*CmdChannel]
//   - [*PeerResolver]: sticky-peer DNS resolution across DynDNS flaps
//
// HTTP:
//   - [HTTPConn]: wraps a connection with an HTTP transport, performs round trips
//     with structured logging and transparent body observation (created via [NewHTTPConnFunc])
//   - [*CookieJar]: ordered, last-write-wins cookie store
//   - [*HttpsTransport]: a GET/POST request/response cycle over the
//     connect→TLS→HTTP pipeline, threading the cookie jar and redirects
//
// Composition utilities:
//   - [Compose2] through [Compose8]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func for ad-hoc custom behavior
//   - [Apply]: bind a fixed input to a Func
//   - [ConstFunc]: lift a pure value into a Func
//
// # Connection Lifecycle
//
// This package uses two ownership patterns for connection management:
//
// Dial operations ([ConnectFunc], [TLSHandshakeFunc]) create connections and
// transfer ownership to the next stage on success. On error, they close the connection.
//
// Wrapper types ([HTTPConn], [*HttpsTransport]) OWN their underlying connection.
// The caller must call Close() when done, which closes the underlying connection.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with [log/slog]).
//
// By default, logging is disabled. Set the Logger field to a custom [*slog.Logger]
// to enable logging. Error classification is configurable via [ErrClassifier]; by
// default, the POSIX errno classifier in package errclass is used.
//
// Primitives emit two kinds of structured log events:
//
//   - Span events (*Start/*Done pairs): Record operation lifecycle including
//     timing and success/failure. Used for latency analysis and error tracking.
//
//   - Wire observations: capture protocol-level messages for debugging.
//
// The spec this client implements calls for three log levels (DEBUG, INFO,
// ERR); [SLogger] exposes only Debug/Info (as in its ancestor), so
// ERR-worthy events are logged via [LogErr], which emits at Info with an
// attached "err" attribute and a distinguishing "level":"ERR" field.
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for each
// operation, then attach it to the logger with [*slog.Logger.With]. All log entries
// from that operation will share the same spanID, enabling correlation across
// pipeline stages and simplifying log analysis.
//
// # Timeout and Cancellation Philosophy
//
// This package is context-transparent: operations never modify the context
// they receive. [*CmdChannel] is the single source of external control —
// CANCEL and DETACH derive a cancelled context via [CmdWatch]; PAUSE is
// surfaced separately since a paused session should suspend, not fail.
// There is no process-global state: all capabilities ([Dialer],
// [ErrClassifier], [SLogger], the reconnected/stats callbacks) are injected
// through [*Config] and [*SessionContext] at construction.
//
// # Design Boundaries
//
// This package provides the transport core only. Parallel execution,
// retry/backoff policy beyond the bounded ESP reconnect loop, and
// multi-step login orchestration belong to the higher-level packages under
// internal/ that depend on it.
package oncp
