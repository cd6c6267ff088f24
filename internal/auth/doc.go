// Package auth verifies bearer tokens for the HTTP API and the viewer
// socket.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles
// (viewer, clinician, admin). Permissions are a static role mapping with
// no database lookup. Issuing tokens is left to the clinic's identity
// service.
package auth
