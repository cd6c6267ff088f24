// Package session maps live device connections to device ids.
//
// The registry holds no durable state and knows nothing about presence.
// The presence reconciler decides what a bind or unbind means; the
// registry only guarantees a single live connection per device.
package session
