// Package connection talks to the admin API of a running pksa-agent.
//
// The agent holds an exclusive lock on its credential store while it runs,
// so the session commands go through the admin listener instead of opening
// the store themselves.
//
// @design DS-0602
package connection
