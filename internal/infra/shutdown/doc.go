// Package shutdown coordinates graceful termination of the agent.
//
// A Handler owns a context that is cancelled on SIGINT/SIGTERM (or
// Trigger). Long-running components run on that context; Wait then calls
// the registered hooks in reverse order under a deadline.
//
// @design DS-0501
package shutdown
