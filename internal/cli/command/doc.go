// Package command defines the pksa-agent command line.
//
// It uses urfave/cli/v2. The default command, run, starts the agent in
// service mode. The remaining commands inspect configuration offline or
// manage sessions of a running agent through its admin API:
//
//   - root.go: application, global flags, shared helpers
//   - run.go: agent wiring and lifecycle
//   - accounts.go: accounts subcommand group
//   - sessions.go: sessions subcommand group
//   - status.go: liveness and readiness of a running agent
//   - config.go: configuration check
//   - version.go: build information
//
// @design DS-0601
package command
