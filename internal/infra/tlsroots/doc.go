// Package tlsroots builds the trust store used to verify the relay.
//
// By default the agent trusts the system roots. relay.ca_file adds a PEM
// bundle on top, for relays behind a private CA.
package tlsroots
