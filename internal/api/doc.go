// Package api serves the HTTP and websocket surface of therapy-core.
//
// Routes:
//
//	GET    /api/v1/health                       dependency health, no auth
//	GET    /api/v1/devices                      device records with liveness
//	GET    /api/v1/devices/{id}                 one device
//	GET    /api/v1/devices/{id}/commands            recent commands and their ack state
//	POST   /api/v1/devices/{id}/prescriptions   send the patient's prescription
//	DELETE /api/v1/devices/{id}/prescriptions   send a cancel command
//	GET    /api/v1/audit                        message audit trail
//	GET    /ws/device                           device session channel
//	GET    /ws/viewer                           presence broadcast
//
// Business routes and the viewer socket require a bearer JWT. Devices
// identify themselves on the session channel with their first frame.
package api
