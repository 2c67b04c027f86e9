package config

import "time"

// Default configuration values.
const (
	DefaultAgentName = "pksa-go"

	DefaultRelayAddress         = "wss://hive-auth.arcange.eu"
	DefaultPingInterval         = 60 * time.Second
	DefaultPingTimeoutIntervals = 5
	DefaultReconnectDelay       = time.Second
	DefaultHandshakeTimeout     = 30 * time.Second

	DefaultAddressing  = "trial"
	DefaultAuthTimeout = 24 * time.Hour
	DefaultRateLimit   = 10.0
	DefaultRateBurst   = 20

	DefaultStorageEngine = "badger"
	DefaultDataDir       = "/var/lib/pksa-agent"
	DefaultKeysFile      = "/etc/pksa-agent/keys.yaml"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultAdminAddress = "127.0.0.1:9480"
)

// Default returns the default agent configuration.
func Default() *AgentConfig {
	return &AgentConfig{
		Agent: AgentSection{Name: DefaultAgentName},
		Relay: RelaySection{
			Address:              DefaultRelayAddress,
			PingInterval:         DefaultPingInterval,
			PingTimeoutIntervals: DefaultPingTimeoutIntervals,
			ReconnectDelay:       DefaultReconnectDelay,
			HandshakeTimeout:     DefaultHandshakeTimeout,
		},
		Session: SessionSection{Addressing: DefaultAddressing},
		Policy: PolicySection{
			AuthTimeout: DefaultAuthTimeout,
			RateLimit:   DefaultRateLimit,
			RateBurst:   DefaultRateBurst,
		},
		Storage: StorageSection{
			Engine:  DefaultStorageEngine,
			DataDir: DefaultDataDir,
		},
		Keys: KeysSection{File: DefaultKeysFile},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Admin: AdminSection{Address: DefaultAdminAddress},
	}
}

// DefaultMap returns the defaults keyed by dotted path, for
// confloader.WithDefaults.
func DefaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"agent.name":                   d.Agent.Name,
		"relay.address":                d.Relay.Address,
		"relay.ping_interval":          d.Relay.PingInterval.String(),
		"relay.ping_timeout_intervals": d.Relay.PingTimeoutIntervals,
		"relay.reconnect_delay":        d.Relay.ReconnectDelay.String(),
		"relay.handshake_timeout":      d.Relay.HandshakeTimeout.String(),
		"session.addressing":           d.Session.Addressing,
		"policy.auth_timeout":          d.Policy.AuthTimeout.String(),
		"policy.rate_limit":            d.Policy.RateLimit,
		"policy.rate_burst":            d.Policy.RateBurst,
		"storage.engine":               d.Storage.Engine,
		"storage.data_dir":             d.Storage.DataDir,
		"keys.file":                    d.Keys.File,
		"log.level":                    d.Log.Level,
		"log.format":                   d.Log.Format,
		"admin.address":                d.Admin.Address,
	}
}
