package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
	"github.com/yndnr/pksa-go/pkg/token"
)

// Request outcomes reported to the Observer.
const (
	OutcomeAck      = "ack"
	OutcomeNack     = "nack"
	OutcomeSilent   = "silent"
	OutcomeErr      = "err"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
	OutcomeReplay   = "replay"
)

// DispatcherConfig holds the static settings of the Dispatcher.
type DispatcherConfig struct {
	// AgentName is announced in register_req.
	AgentName string

	// AuthTimeout is the lifetime of a newly granted session.
	AuthTimeout time.Duration

	// AuthReqSecret decrypts the optional auth_key of auth_req. Empty
	// disables that path.
	AuthReqSecret string
}

// DispatcherDeps are the collaborators of the Dispatcher.
type DispatcherDeps struct {
	Store    CredentialStore
	Keys     KeyStore
	Crypto   Crypto
	Resolver SessionResolver
	Policy   *Policy
	Chain    Broadcaster
	Limiter  *RateLimiterRegistry
	Observer Observer
	Logger   logger.Logger
	Now      func() time.Time
}

// Dispatcher validates relay frames, routes them by command and emits replies.
//
// @design DS-0109
type Dispatcher struct {
	cfg      DispatcherConfig
	store    CredentialStore
	keys     KeyStore
	crypto   Crypto
	resolver SessionResolver
	policy   *Policy
	chain    Broadcaster
	limiter  *RateLimiterRegistry
	prover   *Prover
	observer Observer
	log      logger.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, deps DispatcherDeps) *Dispatcher {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 24 * time.Hour
	}
	d := &Dispatcher{
		cfg:      cfg,
		store:    deps.Store,
		keys:     deps.Keys,
		crypto:   deps.Crypto,
		resolver: deps.Resolver,
		policy:   deps.Policy,
		chain:    deps.Chain,
		limiter:  deps.Limiter,
		prover:   NewProver(deps.Keys, deps.Crypto),
		observer: deps.Observer,
		log:      deps.Logger,
		now:      deps.Now,
	}
	if d.observer == nil {
		d.observer = nopObserver{}
	}
	if d.log == nil {
		d.log = logger.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Handle processes one inbound frame and sends zero or more replies on link.
// The returned error is for logging only; the caller keeps the stream going.
func (d *Dispatcher) Handle(ctx context.Context, link Link, raw []byte) error {
	env, err := domain.ParseEnvelope(raw)
	if err != nil {
		return d.replyError(ctx, link, nil, err)
	}
	if err := env.ValidateRequest(d.now()); err != nil {
		d.observer.ObserveRequest(env.Cmd, OutcomeRejected)
		return d.replyError(ctx, link, env, err)
	}

	switch env.Cmd {
	case domain.CmdConnected:
		protocol := 0
		if env.Protocol != nil {
			protocol = *env.Protocol
		}
		link.Handshake().SetProtocol(protocol)
		d.log.Info("relay connected", "protocol", protocol)
		return nil
	case domain.CmdError:
		d.log.Warn("relay reported error", "error", env.Error)
		return nil
	case domain.CmdRegisterAck:
		d.log.Info("accounts registered on relay")
		return nil
	case domain.CmdKeyAck:
		return d.register(ctx, link, env)
	case domain.CmdAuthReq:
		return d.handleAppRequest(ctx, link, env, KindAuth, d.handleAuth)
	case domain.CmdSignReq:
		return d.handleAppRequest(ctx, link, env, KindSign, d.handleSign)
	case domain.CmdChallengeReq:
		return d.handleAppRequest(ctx, link, env, KindChallenge, d.handleChallenge)
	default:
		d.observer.ObserveRequest(env.Cmd, OutcomeRejected)
		return d.replyError(ctx, link, env, domain.ErrUnsupportedCommand.WithDetails(env.Cmd))
	}
}

// register answers key_ack with register_req for every account the key store
// holds a key for.
func (d *Dispatcher) register(ctx context.Context, link Link, env *domain.Envelope) error {
	if env.Key == "" {
		d.log.Warn("key_ack without relay key")
		return nil
	}
	hs := link.Handshake()
	hs.SetRelayKey(env.Key)

	stamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	req := &domain.Envelope{Cmd: domain.CmdRegisterReq, App: d.cfg.AgentName, Accounts: []domain.RegisteredAccount{}}
	for _, name := range d.keys.Accounts() {
		if err := domain.ValidateAccountName(name); err != nil {
			d.log.Warn("skipping account", "account", name, "error", err)
			continue
		}
		if tier, _, ok := LowestKey(d.keys, name); ok && tier == domain.TierActive {
			d.log.Warn("proof of key uses the active key", "account", name)
		}
		pok, err := d.prover.Prove(name, env.Key, stamp)
		if err != nil {
			d.log.Warn("skipping account", "account", name, "error", err)
			continue
		}
		req.Accounts = append(req.Accounts, domain.RegisteredAccount{Name: name, POK: pok})
	}

	if err := link.Send(ctx, req); err != nil {
		return err
	}
	hs.MarkRegistered()
	d.log.Info("registration sent", "accounts", len(req.Accounts))
	return nil
}

type appHandler func(ctx context.Context, r *replier) error

// handleAppRequest applies the checks common to app requests and maps the
// handler's error onto the failure taxonomy.
func (d *Dispatcher) handleAppRequest(ctx context.Context, link Link, env *domain.Envelope, kind RequestKind, h appHandler) error {
	if !env.IsAppRequest() {
		return d.replyError(ctx, link, env, domain.ErrMissingField.WithDetails("invalid uuid"))
	}
	if env.Account == "" {
		return d.replyError(ctx, link, env, domain.ErrMissingField.WithDetails("invalid account"))
	}
	if env.Data == "" {
		return d.replyError(ctx, link, env, domain.ErrMissingField.WithDetails("invalid data"))
	}

	ctx = logger.WithRequestID(ctx, env.UUID)
	ctx = logger.WithCorrelationID(ctx, uuid.NewString())
	ctx = logger.WithLogger(ctx, d.log.With("cmd", env.Cmd, "account", env.Account))
	log := logger.L(ctx)

	// Budgets are only kept for held accounts so the relay cannot grow the
	// limiter table with invented names.
	if _, _, held := LowestKey(d.keys, env.Account); !held {
		log.Debug("request for unmanaged account dropped")
		d.observer.ObserveRequest(env.Cmd, OutcomeDropped)
		return nil
	}
	if d.limiter != nil && !d.limiter.Allow(env.Account) {
		log.Warn("request dropped", "reason", domain.ErrRateLimited.Message)
		d.observer.ObserveRequest(env.Cmd, OutcomeDropped)
		return nil
	}

	r := &replier{d: d, link: link, env: env, kind: kind, log: log}
	err := h(ctx, r)
	switch {
	case err == nil:
		d.observer.ObserveRequest(env.Cmd, r.outcome)
		return nil
	case errors.Is(err, domain.ErrReplay):
		log.Warn("replayed request dropped", "error", err)
		d.observer.ObserveRequest(env.Cmd, OutcomeReplay)
		return nil
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrNoSession),
		errors.Is(err, domain.ErrTokenUnknown):
		log.Debug("unauthenticated request dropped", "error", err)
		d.observer.ObserveRequest(env.Cmd, OutcomeDropped)
		return nil
	default:
		// Failures before a session key is known (storage, proof of key)
		// can only be answered unauthenticated.
		log.Error("request failed", "error", err)
		d.observer.ObserveRequest(env.Cmd, OutcomeErr)
		return d.replyError(ctx, link, env, domain.ErrInternal)
	}
}

// ============================================================================
// auth_req
// ============================================================================

func (d *Dispatcher) handleAuth(ctx context.Context, r *replier) error {
	env := r.env
	now := d.now()

	acc, err := d.store.FindAccount(ctx, env.Account)
	if err != nil {
		return err
	}

	key := d.authKey(acc, env, now)
	if key == "" {
		return domain.ErrNoSession
	}
	r.key = key

	plain, err := d.crypto.Open(env.Data, key)
	if err != nil {
		return r.fail(ctx, domain.ErrInvalidPayload.WithDetails("cannot decrypt data"))
	}
	var data domain.AuthRequestData
	if err := json.Unmarshal(plain, &data); err != nil {
		return r.fail(ctx, domain.ErrInvalidPayload.WithCause(err))
	}
	tier, err := data.Validate()
	if err != nil {
		return r.fail(ctx, err)
	}

	req := &PolicyRequest{
		Kind:            KindAuth,
		Account:         acc.Name,
		App:             data.App.Name,
		ExistingSession: acc.SessionByKey(key, now) != nil,
	}
	var wif string
	if data.Challenge != nil {
		req.UsesKey = true
		req.Tier = tier
		wif, req.KeyAvailable = d.keys.PrivateKey(acc.Name, tier)
	}

	decision := d.policy.Decide(ctx, req)
	if !decision.Approve {
		return r.deny(ctx, decision)
	}

	ack := domain.AuthAckData{}
	if data.Challenge != nil {
		sig, pub, err := d.crypto.SignBuffer([]byte(data.Challenge.Challenge), wif)
		if err != nil {
			return r.fail(ctx, err)
		}
		ack.Challenge = &domain.ChallengeResult{PubKey: pub, Challenge: sig}
	}

	issueToken := d.resolver.Addressing() == AddressingToken
	_, err = d.store.Update(ctx, acc.Name, func(a *domain.Account) error {
		s := a.SessionByKey(key, now)
		if s == nil {
			created, err := domain.NewAuthSession(key, data.App.Name, now, d.cfg.AuthTimeout)
			if err != nil {
				return err
			}
			s = created
			a.Upsert(s)
		} else {
			s.Touch(now)
		}
		if issueToken {
			tok, err := token.Generate()
			if err != nil {
				return domain.ErrInternal.WithCause(err)
			}
			s.TokenHash = token.Hash(tok)
			ack.Token = tok
		}
		ack.Expire = s.Expire
		return nil
	})
	if err != nil {
		return r.fail(ctx, err)
	}

	return r.ack(ctx, domain.CmdAuthAck, ack, nil)
}

// authKey finds the session key of an auth request: first the auth_key sent
// under the pre-shared secret, then the configured session lookup.
func (d *Dispatcher) authKey(acc *domain.Account, env *domain.Envelope, now time.Time) string {
	if env.AuthKey != "" && d.cfg.AuthReqSecret != "" {
		if plain, err := d.crypto.Open(env.AuthKey, d.cfg.AuthReqSecret); err == nil && len(plain) > 0 {
			return string(plain)
		}
	}
	if s := d.resolver.Identify(acc, env, now); s != nil {
		return s.Key
	}
	return ""
}

// ============================================================================
// sign_req
// ============================================================================

func (d *Dispatcher) handleSign(ctx context.Context, r *replier) error {
	res, err := d.resolver.Resolve(ctx, r.env, d.now())
	if err != nil {
		return err
	}
	r.key = res.Session.Key

	var data domain.SignRequestData
	if err := json.Unmarshal(res.Plaintext, &data); err != nil {
		return r.fail(ctx, domain.ErrInvalidPayload.WithCause(err))
	}
	tier, err := data.Validate()
	if err != nil {
		return r.fail(ctx, err)
	}

	wif, held := d.keys.PrivateKey(r.env.Account, tier)
	decision := d.policy.Decide(ctx, &PolicyRequest{
		Kind:            KindSign,
		Account:         r.env.Account,
		App:             res.Session.App,
		UsesKey:         true,
		Tier:            tier,
		KeyAvailable:    held,
		ExistingSession: true,
	})
	if !decision.Approve {
		return r.deny(ctx, decision)
	}

	if !*data.Broadcast {
		return r.fail(ctx, domain.ErrSignOnlyDisabled)
	}
	txID, err := d.chain.Broadcast(ctx, data.Ops, wif)
	if err != nil {
		return r.fail(ctx, domain.ErrBroadcastFailed.WithCause(err))
	}
	broadcast := true
	return r.ack(ctx, domain.CmdSignAck, txID, &broadcast)
}

// ============================================================================
// challenge_req
// ============================================================================

func (d *Dispatcher) handleChallenge(ctx context.Context, r *replier) error {
	res, err := d.resolver.Resolve(ctx, r.env, d.now())
	if err != nil {
		return err
	}
	r.key = res.Session.Key

	var data domain.ChallengeRequestData
	if err := json.Unmarshal(res.Plaintext, &data); err != nil {
		return r.fail(ctx, domain.ErrInvalidPayload.WithCause(err))
	}
	tier, err := data.Validate()
	if err != nil {
		return r.fail(ctx, err)
	}

	wif, held := d.keys.PrivateKey(r.env.Account, tier)
	decision := d.policy.Decide(ctx, &PolicyRequest{
		Kind:            KindChallenge,
		Account:         r.env.Account,
		App:             res.Session.App,
		UsesKey:         true,
		Tier:            tier,
		KeyAvailable:    held,
		ExistingSession: true,
	})
	if !decision.Approve {
		return r.deny(ctx, decision)
	}

	pub, err := d.crypto.PublicKey(wif)
	if err != nil {
		return r.fail(ctx, err)
	}
	result := domain.ChallengeResult{PubKey: pub}
	if data.Decrypt {
		result.Challenge, err = d.crypto.DecodeMemo(wif, data.Challenge)
	} else {
		result.Challenge, _, err = d.crypto.SignBuffer([]byte(data.Challenge), wif)
	}
	if err != nil {
		return r.fail(ctx, err)
	}
	return r.ack(ctx, domain.CmdChallengeAck, result, nil)
}

// ============================================================================
// Replies
// ============================================================================

// replyError sends an unauthenticated error reply. It never carries a proof
// of key or any session-encrypted content.
func (d *Dispatcher) replyError(ctx context.Context, link Link, env *domain.Envelope, cause error) error {
	reply := &domain.Envelope{Cmd: domain.CmdError, Error: wireMessage(cause)}
	if env != nil {
		reply.UUID = env.UUID
	}
	d.log.Warn("rejecting frame", "error", cause)
	if err := link.Send(ctx, reply); err != nil {
		return err
	}
	return cause
}

// wireMessage renders an error for the relay without internal codes or causes.
func wireMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		if de.Details != "" {
			return de.Message + ": " + de.Details
		}
		return de.Message
	}
	return domain.ErrInternal.Message
}

// replier builds the replies of one app request. Every reply it sends is
// sealed with the session key and carries a proof of key.
type replier struct {
	d       *Dispatcher
	link    Link
	env     *domain.Envelope
	kind    RequestKind
	key     string
	log     logger.Logger
	outcome string
}

func (r *replier) send(ctx context.Context, reply *domain.Envelope) error {
	pok, err := r.d.prover.Prove(r.env.Account, r.link.Handshake().RelayKey(), r.env.UUID)
	if err != nil {
		return err
	}
	reply.UUID = r.env.UUID
	reply.POK = pok
	return r.link.Send(ctx, reply)
}

// ack seals payload (JSON-encoded unless it is a string) into data.
func (r *replier) ack(ctx context.Context, cmd string, payload any, broadcast *bool) error {
	var plain []byte
	switch v := payload.(type) {
	case string:
		plain = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return r.fail(ctx, domain.ErrInternal.WithCause(err))
		}
		plain = b
	}
	data, err := r.d.crypto.Seal(plain, r.key)
	if err != nil {
		return err
	}
	r.outcome = OutcomeAck
	return r.send(ctx, &domain.Envelope{Cmd: cmd, Data: data, Broadcast: broadcast})
}

// deny sends a nack only when the reject flag of the request kind is set.
func (r *replier) deny(ctx context.Context, decision Decision) error {
	r.log.Info("request denied", "reason", decision.Reason)
	if !r.d.policy.ReplyOnDeny(r.kind) {
		r.outcome = OutcomeSilent
		return nil
	}
	data, err := r.d.crypto.Seal([]byte(r.env.UUID), r.key)
	if err != nil {
		return err
	}
	r.outcome = OutcomeNack
	return r.send(ctx, &domain.Envelope{Cmd: string(r.kind) + "_nack", Data: data})
}

// fail answers with the *_err variant, the message sealed with the session key.
func (r *replier) fail(ctx context.Context, cause error) error {
	r.log.Warn("request failed", "error", cause)
	sealed, err := r.d.crypto.Seal([]byte(wireMessage(cause)), r.key)
	if err != nil {
		return err
	}
	r.outcome = OutcomeErr
	return r.send(ctx, &domain.Envelope{Cmd: string(r.kind) + "_err", Error: sealed})
}
