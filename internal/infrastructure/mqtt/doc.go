// Package mqtt provides the broker connection used by the hub.
//
// The hub uses MQTT for three things:
//   - receiving state from external bridges (devolo PLC overview, Kodi player state)
//   - mirroring bus events between hubs (graylogic/event/{type})
//   - publishing device commands from automation actions
//
//	Gray Logic Hub ↔ MQTT Broker ↔ Bridges / other hubs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        eventType, _ := mqtt.EventTypeFromTopic(topic)
//	        log.Printf("event %s: %s", eventType, payload)
//	        return nil
//	    })
//
// TLS should be enabled for any broker outside the local host.
package mqtt
