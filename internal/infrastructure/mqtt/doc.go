// Package mqtt provides MQTT client connectivity for the protector bridge.
//
// Connect dials once and then leaves reconnection to paho. Subscriptions
// are remembered and restored after every reconnect, and an offline LWT on
// protector/system/status marks the bridge down if it dies without Close.
// Stats exposes connects, losses and handler failures for the metrics
// registry and the observer API.
//
// # Architecture
//
// The bridge republishes normalized door events from the dispatch bus onto
// MQTT so automation hosts can consume them without linking this code:
//
//	Vendor hub → protector bridge → MQTT broker → automation host
//
// Door status and hub snapshots are retained; door log lines are not.
// Presentation layers may publish optimistic echoes on the echo topics,
// which are fed back into the dispatch bus.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DoorStatus("hq", 12)
//	client.Publish(topic, []byte(`{"strike":true}`), 1, true)
//
//	err = client.Subscribe(mqtt.Topics{}.AllDoorEchoes("hq"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("echo: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
