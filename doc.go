// Package losantmqtt connects a device to the Losant IoT platform over MQTT.
//
// The package layers a small, fixed convention on top of the Eclipse Paho
// MQTT client: two topics per device (losant/{device_id}/command and
// losant/{device_id}/state), a JSON state envelope, extended-JSON command
// decoding, an ordered observer registry for lifecycle and command events,
// and a single-attempt reconnect policy for non-blocking operation. All
// wire-protocol work (control packets, QoS, keep-alive, TLS, WebSocket
// framing) is performed by the underlying library.
//
// # Usage
//
//	device := losantmqtt.New("my-device-id", "my-access-key", "my-access-secret")
//
//	device.AddEventObserver(losantmqtt.EventCommand, func(d *losantmqtt.Device, data any) {
//	    log.Printf("command received: %v", data)
//	})
//
//	if err := device.Connect(false); err != nil {
//	    log.Fatal(err)
//	}
//	defer device.Close()
//
//	device.SendState(losantmqtt.State{"temperature": 22.5}, losantmqtt.StateTimeNow())
//
//	for {
//	    if err := device.Loop(time.Second); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Driving modes
//
// Connect(true) enters a blocking mode in which the underlying library
// services the network and retries lost connections internally; the call
// does not return until the connection is closed. Connect(false) returns
// once the broker accepts the connection and the caller drives Loop, which
// triggers the device's own reconnect policy after failures.
//
// # Observers
//
// Observers fire synchronously, in registration order, on the goroutine
// that services the network connection. A long-running observer blocks
// further network servicing.
package losantmqtt
