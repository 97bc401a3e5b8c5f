// Package mqtt forwards operational events to an MQTT broker.
//
// The [Forwarder] subscribes to the event bus and publishes each event
// as JSON to "<prefix>/<source>/<kind>". It also keeps a retained
// availability topic ("online"/"offline", with a will message for
// unexpected disconnects) and periodically publishes a retained daily
// token counter fed by completed turns.
//
// Connection management uses Eclipse Paho v2's [autopaho] package,
// which reconnects automatically in the background.
package mqtt
