// Package config defines the pksa-agent configuration.
//
//   - spec.go: AgentConfig struct definition
//   - default.go: default values, also exported as a koanf defaults map
//   - verify.go: semantic validation
//   - sanitize.go: secret masking for logs and `config check`
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and PKSA_* environment variables.
//
// @design DS-0502
package config
