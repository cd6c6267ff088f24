// Package mqtt provides the broker channel used to exchange commands and
// reports with therapy devices.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees (commands use QoS 2)
//   - Wildcard subscriptions restored after reconnect
//   - Last Will and Testament on StatusTopic
//   - Device topic building and parsing
//
// # Topics
//
// Device traffic uses three levels:
//
//	{deviceType}/{deviceNo}/{msgType}    e.g. fes/3/prescription
//
// ParseTopic rejects anything shorter, so callers can route unparseable
// topics to the unknown-message audit path.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("+/+/+", 2, router.HandleMessage)
//	err = client.Publish(mqtt.DeviceTopic("fes", 3, "prescription"), envelope, 2, false)
package mqtt
