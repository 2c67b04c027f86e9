package config

import "time"

// AgentConfig is the root configuration of pksa-agent.
type AgentConfig struct {
	Agent    AgentSection    `koanf:"agent" json:"agent" yaml:"agent"`
	Relay    RelaySection    `koanf:"relay" json:"relay" yaml:"relay"`
	Session  SessionSection  `koanf:"session" json:"session" yaml:"session"`
	Policy   PolicySection   `koanf:"policy" json:"policy" yaml:"policy"`
	Security SecuritySection `koanf:"security" json:"security" yaml:"security"`
	Storage  StorageSection  `koanf:"storage" json:"storage" yaml:"storage"`
	Keys     KeysSection     `koanf:"keys" json:"keys" yaml:"keys"`
	Log      LogSection      `koanf:"log" json:"log" yaml:"log"`
	Admin    AdminSection    `koanf:"admin" json:"admin" yaml:"admin"`
	Chain    ChainSection    `koanf:"chain" json:"chain" yaml:"chain"`
}

// AgentSection identifies the agent on the relay.
type AgentSection struct {
	// Name is announced in register_req.
	Name string `koanf:"name" json:"name" yaml:"name"`
}

// RelaySection configures the relay connection.
type RelaySection struct {
	Address              string        `koanf:"address" json:"address" yaml:"address"`
	PingInterval         time.Duration `koanf:"ping_interval" json:"ping_interval" yaml:"ping_interval"`
	PingTimeoutIntervals int           `koanf:"ping_timeout_intervals" json:"ping_timeout_intervals" yaml:"ping_timeout_intervals"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay" json:"reconnect_delay" yaml:"reconnect_delay"`
	HandshakeTimeout     time.Duration `koanf:"handshake_timeout" json:"handshake_timeout" yaml:"handshake_timeout"`

	// CAFile is an optional PEM bundle trusted in addition to the system
	// roots when dialing a wss relay.
	CAFile string `koanf:"ca_file" json:"ca_file" yaml:"ca_file"`
}

// SessionSection configures how requests are matched to sessions.
type SessionSection struct {
	// Addressing is "trial" or "token". A deployment uses one scheme only.
	Addressing string `koanf:"addressing" json:"addressing" yaml:"addressing"`
}

// PolicySection holds the operator switches. The boolean flags are
// reloaded when the config file changes.
type PolicySection struct {
	AuthReqApprove     bool          `koanf:"auth_req_approve" json:"auth_req_approve" yaml:"auth_req_approve"`
	AuthReqReject      bool          `koanf:"auth_req_reject" json:"auth_req_reject" yaml:"auth_req_reject"`
	SignReqReject      bool          `koanf:"sign_req_reject" json:"sign_req_reject" yaml:"sign_req_reject"`
	ChallengeReqReject bool          `koanf:"challenge_req_reject" json:"challenge_req_reject" yaml:"challenge_req_reject"`
	AuthTimeout        time.Duration `koanf:"auth_timeout" json:"auth_timeout" yaml:"auth_timeout"`

	// RateLimit is requests per second per account. Zero disables it.
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `koanf:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
}

// SecuritySection holds shared secrets.
type SecuritySection struct {
	// AuthReqSecret decrypts the auth_key of auth_req. Empty disables that
	// path.
	AuthReqSecret string `koanf:"auth_req_secret" json:"auth_req_secret" yaml:"auth_req_secret"`
}

// StorageSection configures the credential store.
type StorageSection struct {
	Engine  string `koanf:"engine" json:"engine" yaml:"engine"`
	DataDir string `koanf:"data_dir" json:"data_dir" yaml:"data_dir"`

	// EncryptionKey enables at-rest encryption of account records.
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key" yaml:"encryption_key"`
}

// KeysSection locates the key store file.
type KeysSection struct {
	File string `koanf:"file" json:"file" yaml:"file"`
}

// LogSection configures logging.
type LogSection struct {
	Level             string `koanf:"level" json:"level" yaml:"level"`
	Format            string `koanf:"format" json:"format" yaml:"format"`
	HideEncryptedData bool   `koanf:"hide_encrypted_data" json:"hide_encrypted_data" yaml:"hide_encrypted_data"`
}

// AdminSection configures the local admin HTTP server.
type AdminSection struct {
	// Address is the listen address. Empty disables the server.
	Address string `koanf:"address" json:"address" yaml:"address"`

	// AllowList restricts admin clients by IP or CIDR. Empty allows any
	// client that can reach the listener.
	AllowList []string `koanf:"allow_list" json:"allow_list" yaml:"allow_list"`
}

// ChainSection configures the ledger client.
type ChainSection struct {
	API string `koanf:"api" json:"api" yaml:"api"`
}
