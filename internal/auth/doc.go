// Package auth provides bearer-token authorisation for the cmdbroker API.
//
// Tokens are HS256 JWTs carrying a subject and a role. Each role maps to a
// fixed set of permissions (compile-time, no database lookup):
//
//   - producer: submit commands, read the queue
//   - consumer: take and complete commands, read the queue
//   - viewer: read the queue and command history
//   - admin: everything, including system metrics
//
// Operators mint tokens with `cmdbroker -token <subject> -role <role>`.
package auth
