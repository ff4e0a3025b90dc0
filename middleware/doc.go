// Package middleware exposes the HTTP request gate and role guards built on
// top of token validation.
//
// # Guards
//
//   - [Gate] — validates the bearer token (header or ?token= fallback) and
//     attaches the session plus a request snapshot to the context.
//   - [RequireRole] / [RequireAnyRole] — reject requests whose session lacks
//     the required role.
//
// The gate is deliberately lenient about absent credentials: a request with
// no token at all passes through unauthenticated, and the role guards (or the
// handler itself) decide whether anonymity is acceptable. A token that is
// present but fails validation is always rejected.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into token.Authority calls. It does
// NOT implement authentication logic itself and never touches the backing
// stores.
package middleware
