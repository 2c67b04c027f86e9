// Package relay maintains the agent's connection to the HiveAuth relay.
//
// The Manager dials the relay, drives the handshake
// (connected → key_req → key_ack → register_req), keeps the link alive with
// pings and reconnects after any failure. Inbound frames are handed, in
// order, to a single consumer that calls the protocol dispatcher.
//
// Connection states:
//
//	Disconnected → Connecting → AwaitingProtocolInfo → Registering → Ready
//
// Any failure returns to Disconnected, and the manager dials again after
// relay.reconnect_delay until its context is cancelled.
//
// @design DS-0108
package relay
