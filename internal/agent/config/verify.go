package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Verify validates the configuration.
func Verify(cfg *AgentConfig) error {
	var errs []error
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		errs = append(errs, errors.New("agent.name is required"))
	}
	errs = append(errs, verifyRelay(&cfg.Relay)...)
	errs = append(errs, verifyPolicy(&cfg.Policy)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)

	switch cfg.Session.Addressing {
	case "trial", "token":
	default:
		errs = append(errs, fmt.Errorf("session.addressing must be trial or token, got %q", cfg.Session.Addressing))
	}
	if cfg.Keys.File == "" {
		errs = append(errs, errors.New("keys.file is required"))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}
	if cfg.Admin.Address != "" {
		if _, _, err := net.SplitHostPort(cfg.Admin.Address); err != nil {
			errs = append(errs, fmt.Errorf("admin.address: %w", err))
		}
	}
	for _, entry := range cfg.Admin.AllowList {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				errs = append(errs, fmt.Errorf("admin.allow_list: invalid entry %q", entry))
			}
		}
	}
	return errors.Join(errs...)
}

func verifyRelay(cfg *RelaySection) []error {
	var errs []error
	u, err := url.Parse(cfg.Address)
	switch {
	case cfg.Address == "":
		errs = append(errs, errors.New("relay.address is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("relay.address: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("relay.address must use ws or wss, got %q", u.Scheme))
	}
	if cfg.PingInterval <= 0 {
		errs = append(errs, errors.New("relay.ping_interval must be positive"))
	}
	if cfg.PingTimeoutIntervals < 1 {
		errs = append(errs, errors.New("relay.ping_timeout_intervals must be at least 1"))
	}
	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("relay.reconnect_delay must be positive"))
	}
	if cfg.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("relay.handshake_timeout must not be negative"))
	}
	return errs
}

func verifyPolicy(cfg *PolicySection) []error {
	var errs []error
	if cfg.AuthTimeout <= 0 {
		errs = append(errs, errors.New("policy.auth_timeout must be positive"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, errors.New("policy.rate_limit must not be negative"))
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		errs = append(errs, errors.New("policy.rate_burst must be at least 1 when rate_limit is set"))
	}
	return errs
}

func verifyStorage(cfg *StorageSection) []error {
	var errs []error
	switch cfg.Engine {
	case "badger":
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required for the badger engine"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.engine must be badger or memory, got %q", cfg.Engine))
	}
	if cfg.EncryptionKey != "" && len(cfg.EncryptionKey) < 8 {
		errs = append(errs, errors.New("storage.encryption_key must be at least 8 characters"))
	}
	return errs
}
