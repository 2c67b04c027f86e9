// Package main provides the entry point for pksa-agent.
//
// pksa-agent holds Hive private keys and answers HiveAuth requests that
// arrive over a relay, so apps can authenticate and sign on behalf of the
// managed accounts without ever receiving the keys.
//
// Usage:
//
//	pksa-agent --config /etc/pksa-agent/agent.yaml
//	pksa-agent -c agent.yaml sessions list --account alice
//	pksa-agent -c agent.yaml config check
//
// @design DS-0501
package main
