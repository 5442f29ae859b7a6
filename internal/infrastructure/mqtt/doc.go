// Package mqtt provides MQTT client connectivity for the tunnel bridge.
//
// This package manages:
//   - Connection to a broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge publishes each datapoint's decoded value to a retained state
// topic whenever a write or response telegram arrives, and subscribes to
// a command topic per datapoint to turn inbound MQTT messages into
// tunnelling writes.
//
//	KNX gateway ↔ tunnel Connection ↔ MQTT broker ↔ other services
//
// # Security Considerations
//
//   - TLS is used when cfg.Broker has an ssl:// scheme
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.Command("1/2/3"), 1,
//	    func(topic string, payload []byte) error {
//	        return dp.Write(ctx, parsePayload(payload))
//	    })
//
//	topic := mqtt.Topics{}.State("1/2/3")
//	client.PublishRetained(topic, []byte(`{"on":true}`))
package mqtt
