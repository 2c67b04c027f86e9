package domain

import (
	"bytes"
	"encoding/json"
)

// AppInfo describes the requesting application.
type AppInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// AuthChallenge is an optional challenge embedded in an auth request.
type AuthChallenge struct {
	KeyType   string `json:"key_type"`
	Challenge string `json:"challenge"`
}

// AuthRequestData is the decrypted payload of auth_req.
type AuthRequestData struct {
	App       AppInfo        `json:"app"`
	Challenge *AuthChallenge `json:"challenge,omitempty"`
}

// Validate checks the optional challenge. An auth request without one is valid.
func (d *AuthRequestData) Validate() (Tier, error) {
	if d.Challenge == nil {
		return 0, nil
	}
	tier, err := ParseTier(d.Challenge.KeyType)
	if err != nil {
		return 0, err
	}
	if d.Challenge.Challenge == "" {
		return 0, ErrInvalidPayload.WithDetails("missing challenge")
	}
	return tier, nil
}

// SignRequestData is the decrypted payload of sign_req.
type SignRequestData struct {
	KeyType   string          `json:"key_type"`
	Ops       json.RawMessage `json:"ops"`
	Broadcast *bool           `json:"broadcast"`
	Nonce     json.Number     `json:"nonce"`
}

// Validate checks key_type, ops and broadcast and returns the requested tier.
func (d *SignRequestData) Validate() (Tier, error) {
	tier, err := ParseTier(d.KeyType)
	if err != nil {
		return 0, err
	}
	var ops []json.RawMessage
	if len(bytes.TrimSpace(d.Ops)) == 0 || json.Unmarshal(d.Ops, &ops) != nil || len(ops) == 0 {
		return 0, ErrInvalidPayload.WithDetails("ops must be a non-empty array")
	}
	if d.Broadcast == nil {
		return 0, ErrInvalidPayload.WithDetails("missing broadcast")
	}
	return tier, nil
}

// ChallengeRequestData is the decrypted payload of challenge_req.
type ChallengeRequestData struct {
	KeyType   string      `json:"key_type"`
	Challenge string      `json:"challenge"`
	Decrypt   bool        `json:"decrypt,omitempty"`
	Nonce     json.Number `json:"nonce"`
}

// Validate checks key_type and challenge and returns the requested tier.
func (d *ChallengeRequestData) Validate() (Tier, error) {
	tier, err := ParseTier(d.KeyType)
	if err != nil {
		return 0, err
	}
	if d.Challenge == "" {
		return 0, ErrInvalidPayload.WithDetails("missing challenge")
	}
	return tier, nil
}

// ChallengeResult is a signed or decrypted challenge.
type ChallengeResult struct {
	PubKey    string `json:"pubkey"`
	Challenge string `json:"challenge"`
}

// AuthAckData is sealed into the data field of auth_ack.
type AuthAckData struct {
	Expire    int64            `json:"expire"`
	Challenge *ChallengeResult `json:"challenge,omitempty"`
	Token     string           `json:"token,omitempty"`
}

// ExtractNonce reads the nonce of a decrypted request payload. A missing or
// non-numeric nonce reads as 0, which never passes the replay check.
func ExtractNonce(payload map[string]json.RawMessage) int64 {
	raw, ok := payload["nonce"]
	if !ok {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	v, err := numberToInt(n)
	if err != nil {
		return 0
	}
	return v
}
