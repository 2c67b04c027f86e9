// Package output renders command results for pksa-agent.
//
// Results print as an aligned table by default, or as JSON or YAML for
// scripting. Table columns come from `table:"HEADER"` struct tags.
//
// @design DS-0601
package output
