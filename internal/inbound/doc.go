// Package inbound handles messages devices publish on the broker channel.
//
// Topics have the form {deviceType}/{deviceNo}/{msgType}. The router
// parses the topic, classifies msgType into a closed set of kinds,
// suppresses duplicate message ids and routes the message:
//
//   - patient_info: answered with a prescription envelope
//   - threshold_result: stored as a device-sourced threshold
//   - ack: matched to a dispatched command; may carry a treatment flag
//   - treatment_status: recorded on the device and broadcast
//
// Copies of our own prescription and cancel commands, which arrive on the
// wildcard subscription, are audited and ignored. Anything else is audited
// as unknown.
package inbound
