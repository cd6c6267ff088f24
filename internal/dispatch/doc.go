// Package dispatch sends command envelopes to devices over the broker
// channel and tracks their acknowledgements.
//
// Envelope wire format:
//
//	{"msgId": "<uuid>", "ts": "2026-10-14T09:00:00Z", "ver": "1.0", "resultcode": 0, "data": {...}}
//
// A negative resultcode carries {"reason": "<token>"} as its data. Commands
// are published at QoS 2, never retained, and every attempt is audited.
package dispatch
