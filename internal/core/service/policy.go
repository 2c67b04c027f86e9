package service

import (
	"context"
	"sync/atomic"

	"github.com/yndnr/pksa-go/internal/core/domain"
)

// RequestKind is the kind of app request being decided.
type RequestKind string

const (
	KindAuth      RequestKind = "auth"
	KindSign      RequestKind = "sign"
	KindChallenge RequestKind = "challenge"
)

// PolicyFlags are the operator switches of service mode.
type PolicyFlags struct {
	// AuthReqApprove grants new sessions automatically.
	AuthReqApprove bool

	// *Reject send a nack on denial; otherwise denial is silent.
	AuthReqReject      bool
	SignReqReject      bool
	ChallengeReqReject bool
}

// PolicyRequest holds the inputs of one decision.
type PolicyRequest struct {
	Kind    RequestKind
	Account string
	App     string

	// UsesKey is set when the request needs a signature, decryption or
	// broadcast with the key of Tier.
	UsesKey      bool
	Tier         domain.Tier
	KeyAvailable bool

	// ExistingSession is set when an unexpired session already backs the request.
	ExistingSession bool
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Approve bool
	Reason  string
}

// Approver is the operator-facing approval hook. It is the only way a
// request for the active tier can be approved.
type Approver interface {
	Approve(ctx context.Context, req *PolicyRequest) bool
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req *PolicyRequest) bool

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, req *PolicyRequest) bool {
	return f(ctx, req)
}

// Policy decides app requests. Flags can be swapped at runtime.
//
// @design DS-0110
type Policy struct {
	flags    atomic.Pointer[PolicyFlags]
	approver Approver
}

// NewPolicy creates a Policy. approver may be nil, in which case active-tier
// requests are always denied.
func NewPolicy(flags PolicyFlags, approver Approver) *Policy {
	p := &Policy{approver: approver}
	p.flags.Store(&flags)
	return p
}

// SetFlags replaces the flags, e.g. after a config reload.
func (p *Policy) SetFlags(flags PolicyFlags) {
	p.flags.Store(&flags)
}

// Flags returns the current flags.
func (p *Policy) Flags() PolicyFlags {
	return *p.flags.Load()
}

// Decide applies, in order: the active-tier gate, session continuity, the
// fresh-grant flag, and finally key availability, which can only turn an
// approval into a denial.
func (p *Policy) Decide(ctx context.Context, req *PolicyRequest) Decision {
	flags := p.Flags()

	var d Decision
	switch {
	case req.UsesKey && req.Tier == domain.TierActive:
		d.Approve = p.approver != nil && p.approver.Approve(ctx, req)
		d.Reason = "active tier requires operator approval"
	case req.ExistingSession:
		d = Decision{Approve: true, Reason: "existing session"}
	default:
		d = Decision{Approve: flags.AuthReqApprove, Reason: "new session"}
	}

	// Same outcome as any other denial so key inventory cannot be probed.
	if req.UsesKey && !req.KeyAvailable {
		d = Decision{Approve: false, Reason: "key not held"}
	}
	return d
}

// ReplyOnDeny reports whether a denial of kind is answered with a nack.
func (p *Policy) ReplyOnDeny(kind RequestKind) bool {
	flags := p.Flags()
	switch kind {
	case KindAuth:
		return flags.AuthReqReject
	case KindSign:
		return flags.SignReqReject
	case KindChallenge:
		return flags.ChallengeReqReject
	}
	return false
}
