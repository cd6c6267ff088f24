// Package device holds the durable record of each therapy device.
//
// A device has two identifiers:
//
//   - ID, the primary key used by the session channel and the shared cache
//   - DeviceNo, the small integer that addresses it on the broker channel
//
// A device number maps to at most one device in intent, but the store does
// not enforce it. Lookups by number that match several records fail with
// ErrAmbiguousDeviceNo and must not update anything.
//
// Repository is the SQLite-backed persistence layer. Directory caches the
// id/number mapping for topic resolution.
package device
