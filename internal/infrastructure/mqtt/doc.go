// Package mqtt provides MQTT client connectivity for the instance watcher.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The MQTT store backend reads the ioBroker object/state database through a
// broker mirror. States and objects are published as retained JSON messages,
// one topic per id:
//
//	ioBroker ↔ MQTT Broker ↔ instance watcher
//
// # Security Considerations
//
//   - Enable TLS when the broker is reachable beyond localhost (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: "iobroker"}
//	err = client.Subscribe(topics.AllStates(), 1,
//	    func(topic string, payload []byte) error {
//	        key, _ := topics.StateKey(topic)
//	        log.Printf("state %s = %s", key, payload)
//	        return nil
//	    })
package mqtt
