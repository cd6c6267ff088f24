// Package presence reconciles device presence across the session
// registry, the shared cache and the durable device record.
//
// The Reconciler applies connect, heartbeat and disconnect frames and
// forced offline transitions. Two periodic sweeps repair state the frames
// alone cannot:
//
//   - HeartbeatSweep forces offline devices whose cached heartbeat has
//     expired or aged past the timeout.
//   - LivenessSweep forces offline devices believed online that have no
//     open session in this process.
//
// Every transition emits one Event to the configured Notifier.
package presence
