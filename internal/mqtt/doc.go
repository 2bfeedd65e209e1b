// Package mqtt owns the broker connection and the Home Assistant MQTT
// discovery protocol. Sensors are announced with retained discovery
// config payloads, state values flow to the per-sensor state topics
// recorded at registration time, and a retained availability topic
// (backed by a will message) tracks process liveness.
//
// The client uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. A registration table maps
// sensor id to its discovery config and state topic; it is the source
// of truth for what has been announced to the hub, and a state publish
// for an id without a table entry fails rather than fabricating a
// topic. On every (re-)connect, and whenever the hub announces its own
// birth on <discovery_prefix>/status, the full table is replayed so
// sensors survive broker and hub restarts.
package mqtt
