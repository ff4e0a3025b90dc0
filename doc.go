// Package authcore is the authentication, session, and security-audit
// subsystem of the SiKu backend: it issues and validates HS256 bearer tokens,
// gates inbound HTTP requests, runs the one-time verification-code and captcha
// machinery, and records a security audit trail asynchronously.
//
// The package is the public surface. It exposes [Engine], [Builder], [Config],
// and re-exported sentinel errors. Token signing lives in the token
// subpackage, the derived identity value type in session, the HTTP gate in
// middleware, one-time codes in verification and captcha, and the audit
// pipeline in audit (with a bundled SQLite store under audit/sqlite). Redis
// plumbing and rate-limit windows live under internal/ and are never exported.
//
// # Architecture boundaries
//
//   - User rows, password hashing, and HTTP routing are external
//     collaborators, consumed through [UserProvider], the channel sender
//     interfaces, and [audit.Store].
//   - Engine methods are safe to call from multiple goroutines after
//     initialization through [Builder.Build].
//   - Audit recording is best-effort: a storage failure never propagates to
//     the request that triggered the event.
package authcore
