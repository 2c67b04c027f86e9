package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Command names carried in the cmd field.
const (
	CmdConnected     = "connected"
	CmdError         = "error"
	CmdKeyReq        = "key_req"
	CmdKeyAck        = "key_ack"
	CmdRegisterReq   = "register_req"
	CmdRegisterAck   = "register_ack"
	CmdAuthReq       = "auth_req"
	CmdAuthAck       = "auth_ack"
	CmdAuthNack      = "auth_nack"
	CmdAuthErr       = "auth_err"
	CmdSignReq       = "sign_req"
	CmdSignAck       = "sign_ack"
	CmdSignNack      = "sign_nack"
	CmdSignErr       = "sign_err"
	CmdChallengeReq  = "challenge_req"
	CmdChallengeAck  = "challenge_ack"
	CmdChallengeNack = "challenge_nack"
	CmdChallengeErr  = "challenge_err"
)

// Envelope is a relay wire message, inbound or outbound.
//
// @design DS-0103
type Envelope struct {
	Cmd       string              `json:"cmd"`
	UUID      string              `json:"uuid,omitempty"`
	Account   string              `json:"account,omitempty"`
	Expire    int64               `json:"expire,omitempty"`
	Data      string              `json:"data,omitempty"`
	AuthKey   string              `json:"auth_key,omitempty"`
	Token     string              `json:"token,omitempty"`
	POK       string              `json:"pok,omitempty"`
	Protocol  *int                `json:"protocol,omitempty"`
	Key       string              `json:"key,omitempty"`
	Error     string              `json:"error,omitempty"`
	Broadcast *bool               `json:"broadcast,omitempty"`
	App       string              `json:"app,omitempty"`
	Accounts  []RegisteredAccount `json:"accounts,omitempty"`

	hasExpire bool
}

// RegisteredAccount is one entry of a register_req.
type RegisteredAccount struct {
	Name string `json:"name"`
	POK  string `json:"pok"`
}

// IsAppRequest reports whether the envelope was originated by an app and
// relayed verbatim (it carries a uuid).
func (e *Envelope) IsAppRequest() bool {
	return e.UUID != ""
}

// ParseEnvelope decodes a raw frame. Every known field is type-checked; a
// field of the wrong type fails the whole frame rather than being ignored.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, ErrEnvelopeMalformed.WithCause(err)
	}
	if fields == nil {
		return nil, ErrEnvelopeMalformed.WithDetails("not an object")
	}

	env := &Envelope{}
	cmd, ok, err := stringField(fields, "cmd")
	if err != nil || !ok || cmd == "" {
		return nil, ErrMissingCommand
	}
	env.Cmd = cmd

	for name, dst := range map[string]*string{
		"uuid":     &env.UUID,
		"account":  &env.Account,
		"data":     &env.Data,
		"auth_key": &env.AuthKey,
		"token":    &env.Token,
		"key":      &env.Key,
		"error":    &env.Error,
	} {
		v, _, err := stringField(fields, name)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	if expire, ok, err := intField(fields, "expire"); err != nil {
		return nil, err
	} else if ok {
		env.Expire = expire
		env.hasExpire = true
	}

	if protocol, ok, err := intField(fields, "protocol"); err != nil {
		return nil, err
	} else if ok {
		p := int(protocol)
		env.Protocol = &p
	}

	if _, present := fields["uuid"]; present && env.UUID == "" && !isNull(fields["uuid"]) {
		return nil, ErrMissingField.WithDetails("invalid uuid")
	}
	return env, nil
}

// ValidateRequest enforces the app-request invariants: a uuid-bearing
// envelope must name an account and carry an expiry later than now.
func (e *Envelope) ValidateRequest(now time.Time) error {
	if !e.IsAppRequest() {
		return nil
	}
	if e.Account == "" {
		return ErrMissingField.WithDetails("invalid account")
	}
	if !e.hasExpire {
		return ErrMissingField.WithDetails("invalid expire")
	}
	if now.UnixMilli() >= e.Expire {
		return ErrRequestExpired
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, ErrEnvelopeMalformed.WithDetails(fmt.Sprintf("%s must be a string", name))
	}
	return s, true, nil
}

func intField(fields map[string]json.RawMessage, name string) (int64, bool, error) {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return 0, false, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false, ErrEnvelopeMalformed.WithDetails(fmt.Sprintf("%s must be a number", name))
	}
	v, err := numberToInt(n)
	if err != nil {
		return 0, false, ErrEnvelopeMalformed.WithDetails(fmt.Sprintf("%s must be a number", name))
	}
	return v, true, nil
}

// numberToInt accepts integral JSON numbers, including the float form
// (1.7e12) some JavaScript clients produce for timestamps.
func numberToInt(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %s", n)
	}
	return int64(f), nil
}
