package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/pkg/crypto/hive"
	"github.com/yndnr/pksa-go/pkg/token"
)

type harness struct {
	d      *Dispatcher
	store  *mockStore
	keys   mockKeys
	link   *mockLink
	chain  *mockChain
	policy *Policy
	relay  *hive.PrivateKey
}

func newHarness(t *testing.T, flags PolicyFlags, mode Addressing, keys mockKeys, accounts ...*domain.Account) *harness {
	t.Helper()
	relay := hive.PrivateKeyFromSeed("relay")
	store := newMockStore(fixedNow, accounts...)
	crypto := NewHiveCrypto()
	resolver, err := NewSessionResolver(mode, store, crypto)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		store:  store,
		keys:   keys,
		link:   newMockLink(relay.PublicKey().String()),
		chain:  &mockChain{txID: "tx-0001"},
		policy: NewPolicy(flags, nil),
		relay:  relay,
	}
	h.d = NewDispatcher(DispatcherConfig{
		AgentName:     "pksa-test",
		AuthTimeout:   24 * time.Hour,
		AuthReqSecret: "pre-shared",
	}, DispatcherDeps{
		Store:    store,
		Keys:     keys,
		Crypto:   crypto,
		Resolver: resolver,
		Policy:   h.policy,
		Chain:    h.chain,
		Now:      fixedNow,
	})
	return h
}

func (h *harness) handle(t *testing.T, frame map[string]any) []*domain.Envelope {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	before := len(h.link.messages())
	_ = h.d.Handle(context.Background(), h.link, raw)
	return h.link.messages()[before:]
}

func appFrame(cmd, account, data string) map[string]any {
	return map[string]any{
		"cmd":     cmd,
		"uuid":    "u-1",
		"account": account,
		"expire":  testNow.Add(time.Minute).UnixMilli(),
		"data":    data,
	}
}

func (h *harness) assertPOK(t *testing.T, env *domain.Envelope) {
	t.Helper()
	if env.POK == "" {
		t.Fatalf("%s without pok", env.Cmd)
	}
	decoded, err := hive.DecodeMemo(h.relay, env.POK)
	if err != nil {
		t.Fatalf("relay cannot decode pok: %v", err)
	}
	if decoded != "#"+env.UUID {
		t.Errorf("pok = %q, want #%s", decoded, env.UUID)
	}
}

func onlyMessage(t *testing.T, msgs []*domain.Envelope, cmd string) *domain.Envelope {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 %s", len(msgs), cmd)
	}
	if msgs[0].Cmd != cmd {
		t.Fatalf("sent %s (error=%q), want %s", msgs[0].Cmd, msgs[0].Error, cmd)
	}
	return msgs[0]
}

func signData(keyType string, nonce int64, broadcast bool) map[string]any {
	return map[string]any{
		"key_type":  keyType,
		"ops":       []any{[]any{"vote", map[string]any{"voter": "alice"}}},
		"broadcast": broadcast,
		"nonce":     nonce,
	}
}

// ============================================================================
// Envelope handling
// ============================================================================

func TestDispatcher_EnvelopeErrors(t *testing.T) {
	h := newHarness(t, PolicyFlags{}, AddressingTrial, mockKeys{}.add("alice", domain.TierPosting))

	tests := []struct {
		name    string
		raw     string
		wantMsg string
	}{
		{"not json", `hello`, "malformed envelope"},
		{"missing cmd", `{"uuid":"u"}`, "missing or invalid cmd"},
		{"numeric cmd", `{"cmd":1}`, "missing or invalid cmd"},
		{"expired", `{"cmd":"auth_req","uuid":"u","account":"alice","expire":1,"data":"x"}`, "request expired"},
		{"no account", `{"cmd":"auth_req","uuid":"u","expire":9999999999999,"data":"x"}`, "invalid account"},
		{"no data", `{"cmd":"sign_req","uuid":"u","account":"alice","expire":9999999999999}`, "invalid data"},
		{"app command without uuid", `{"cmd":"sign_req","account":"alice","data":"x"}`, "invalid uuid"},
		{"unknown command", `{"cmd":"wipe_keys"}`, "unsupported command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(h.link.messages())
			if err := h.d.Handle(context.Background(), h.link, []byte(tt.raw)); err == nil {
				t.Error("Handle() should report the envelope error")
			}
			msg := onlyMessage(t, h.link.messages()[before:], domain.CmdError)
			if !strings.Contains(msg.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", msg.Error, tt.wantMsg)
			}
			if msg.POK != "" || msg.Data != "" {
				t.Error("error replies must be unauthenticated")
			}
		})
	}
}

func TestDispatcher_ConnectedAndRegistration(t *testing.T) {
	keys := mockKeys{}.add("alice", domain.TierPosting, domain.TierActive).add("Bob", domain.TierPosting)
	h := newHarness(t, PolicyFlags{}, AddressingTrial, keys)
	h.link = newMockLink("")

	if msgs := h.handle(t, map[string]any{"cmd": "connected", "protocol": 1}); len(msgs) != 0 {
		t.Fatalf("connected must not be answered, sent %v", msgs)
	}
	if v, known := h.link.Handshake().Protocol(); !known || v != 1 {
		t.Fatalf("protocol = %d, %v", v, known)
	}

	msg := onlyMessage(t, h.handle(t, map[string]any{"cmd": "key_ack", "key": h.relay.PublicKey().String()}), domain.CmdRegisterReq)
	if msg.App != "pksa-test" {
		t.Errorf("app = %q", msg.App)
	}
	if len(msg.Accounts) != 1 || msg.Accounts[0].Name != "alice" {
		t.Fatalf("accounts = %+v, want only alice", msg.Accounts)
	}
	decoded, err := hive.DecodeMemo(h.relay, msg.Accounts[0].POK)
	if err != nil {
		t.Fatalf("DecodeMemo(pok) error = %v", err)
	}
	if decoded != "#"+strconv.FormatInt(testNow.UnixMilli(), 10) {
		t.Errorf("pok = %q", decoded)
	}
	if !h.link.Handshake().Registered() || h.link.Handshake().RelayKey() == "" {
		t.Error("handshake should hold the relay key and be registered")
	}
}

// ============================================================================
// auth_req
// ============================================================================

func TestDispatcher_AuthReusesExistingSession(t *testing.T) {
	existing := sessionWithKey(t, "K", testNow.Add(-time.Minute), time.Hour)
	h := newHarness(t, PolicyFlags{}, AddressingTrial,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice", existing))

	msgs := h.handle(t, appFrame("auth_req", "alice", mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "K")))
	msg := onlyMessage(t, msgs, domain.CmdAuthAck)
	h.assertPOK(t, msg)

	var ack domain.AuthAckData
	if err := json.Unmarshal([]byte(mustOpen(t, msg.Data, "K")), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Expire != existing.Expire {
		t.Errorf("ack expire = %d, want existing %d", ack.Expire, existing.Expire)
	}

	acc := h.store.account(t, "alice")
	if len(acc.Sessions) != 1 {
		t.Fatalf("sessions = %d, want exactly 1", len(acc.Sessions))
	}
	if acc.Sessions[0].LastUsed != testNow.UnixMilli() {
		t.Errorf("ts_lastused = %d, want %d", acc.Sessions[0].LastUsed, testNow.UnixMilli())
	}
}

func TestDispatcher_AuthFreshGrant(t *testing.T) {
	tests := []struct {
		name     string
		flags    PolicyFlags
		wantCmd  string
		sessions int
	}{
		{"auto approve", PolicyFlags{AuthReqApprove: true}, domain.CmdAuthAck, 1},
		{"silent deny", PolicyFlags{}, "", 0},
		{"nack on deny", PolicyFlags{AuthReqReject: true}, domain.CmdAuthNack, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.flags, AddressingTrial,
				mockKeys{}.add("alice", domain.TierPosting),
				accountWithSessions(t, "alice"))

			frame := appFrame("auth_req", "alice", mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "new-key"))
			frame["auth_key"] = mustSeal(t, "new-key", "pre-shared")
			msgs := h.handle(t, frame)

			if tt.wantCmd == "" {
				if len(msgs) != 0 {
					t.Fatalf("denial must be silent, sent %s", msgs[0].Cmd)
				}
			} else {
				msg := onlyMessage(t, msgs, tt.wantCmd)
				h.assertPOK(t, msg)
				if tt.wantCmd == domain.CmdAuthNack && mustOpen(t, msg.Data, "new-key") != "u-1" {
					t.Error("nack data should be the sealed uuid")
				}
			}

			acc := h.store.account(t, "alice")
			if len(acc.Sessions) != tt.sessions {
				t.Fatalf("sessions = %d, want %d", len(acc.Sessions), tt.sessions)
			}
			if tt.sessions == 1 {
				s := acc.Sessions[0]
				if s.Key != "new-key" || s.App != "demo" || s.Expire != testNow.Add(24*time.Hour).UnixMilli() {
					t.Errorf("unexpected session %+v", s)
				}
			}
		})
	}
}

func TestDispatcher_AuthChallenge(t *testing.T) {
	existing := sessionWithKey(t, "K", testNow, time.Hour)
	keys := mockKeys{}.add("alice", domain.TierPosting)

	t.Run("signed with held key", func(t *testing.T) {
		h := newHarness(t, PolicyFlags{}, AddressingTrial, keys, accountWithSessions(t, "alice", existing))
		data := map[string]any{"app": map[string]any{"name": "demo"}, "challenge": map[string]any{"key_type": "posting", "challenge": "prove-it"}}
		msg := onlyMessage(t, h.handle(t, appFrame("auth_req", "alice", mustSeal(t, data, "K"))), domain.CmdAuthAck)

		var ack domain.AuthAckData
		if err := json.Unmarshal([]byte(mustOpen(t, msg.Data, "K")), &ack); err != nil {
			t.Fatal(err)
		}
		want := keys["alice"][domain.TierPosting].PublicKey()
		if ack.Challenge == nil || ack.Challenge.PubKey != want.String() {
			t.Fatalf("challenge = %+v", ack.Challenge)
		}
		signer, err := hive.RecoverBuffer([]byte("prove-it"), ack.Challenge.Challenge)
		if err != nil || !signer.Equal(want) {
			t.Errorf("signature does not recover to the posting key: %v", err)
		}
	})

	t.Run("tier not held is a silent denial", func(t *testing.T) {
		h := newHarness(t, PolicyFlags{}, AddressingTrial, keys, accountWithSessions(t, "alice", existing))
		data := map[string]any{"app": map[string]any{"name": "demo"}, "challenge": map[string]any{"key_type": "memo", "challenge": "x"}}
		if msgs := h.handle(t, appFrame("auth_req", "alice", mustSeal(t, data, "K"))); len(msgs) != 0 {
			t.Fatalf("sent %s, want nothing", msgs[0].Cmd)
		}
	})

	t.Run("invalid key type is an encrypted error", func(t *testing.T) {
		h := newHarness(t, PolicyFlags{}, AddressingTrial, keys, accountWithSessions(t, "alice", existing))
		data := map[string]any{"app": map[string]any{"name": "demo"}, "challenge": map[string]any{"key_type": "owner", "challenge": "x"}}
		msg := onlyMessage(t, h.handle(t, appFrame("auth_req", "alice", mustSeal(t, data, "K"))), domain.CmdAuthErr)
		h.assertPOK(t, msg)
		if got := mustOpen(t, msg.Error, "K"); !strings.Contains(got, "invalid key_type") {
			t.Errorf("error = %q", got)
		}
	})
}

func TestDispatcher_AuthIgnoresUnknownAccountAndKey(t *testing.T) {
	h := newHarness(t, PolicyFlags{AuthReqApprove: true, AuthReqReject: true}, AddressingTrial,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))

	data := mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "K")
	if msgs := h.handle(t, appFrame("auth_req", "carol", data)); len(msgs) != 0 {
		t.Errorf("unknown account must be ignored, sent %s", msgs[0].Cmd)
	}

	other := mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "unknown-key")
	if msgs := h.handle(t, appFrame("auth_req", "alice", other)); len(msgs) != 0 {
		t.Errorf("undecryptable auth must be ignored, sent %s", msgs[0].Cmd)
	}
}

func TestDispatcher_AuthPersistFailureIsEncryptedError(t *testing.T) {
	h := newHarness(t, PolicyFlags{AuthReqApprove: true}, AddressingTrial,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
	h.store.failErr = domain.ErrStorage

	msg := onlyMessage(t, h.handle(t, appFrame("auth_req", "alice", mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "K"))), domain.CmdAuthErr)
	if got := mustOpen(t, msg.Error, "K"); got != "storage error" {
		t.Errorf("error = %q", got)
	}
}

func TestDispatcher_ProofOfKeyIsMandatory(t *testing.T) {
	h := newHarness(t, PolicyFlags{}, AddressingTrial,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
	h.link = newMockLink("") // key_ack never received

	msgs := h.handle(t, appFrame("auth_req", "alice", mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "K")))
	msg := onlyMessage(t, msgs, domain.CmdError)
	if msg.Error != "internal error" {
		t.Errorf("error = %q", msg.Error)
	}
}

func TestDispatcher_TokenAddressing(t *testing.T) {
	h := newHarness(t, PolicyFlags{AuthReqApprove: true}, AddressingToken,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice"))

	frame := appFrame("auth_req", "alice", mustSeal(t, map[string]any{"app": map[string]any{"name": "demo"}}, "tok-key"))
	frame["auth_key"] = mustSeal(t, "tok-key", "pre-shared")
	msg := onlyMessage(t, h.handle(t, frame), domain.CmdAuthAck)

	var ack domain.AuthAckData
	if err := json.Unmarshal([]byte(mustOpen(t, msg.Data, "tok-key")), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Token == "" {
		t.Fatal("token addressing must issue a token")
	}
	if stored := h.store.account(t, "alice").Sessions[0].TokenHash; stored != token.Hash(ack.Token) {
		t.Error("only the token hash should be stored")
	}

	sign := appFrame("sign_req", "alice", mustSeal(t, signData("posting", 1, true), "tok-key"))
	if msgs := h.handle(t, sign); len(msgs) != 0 {
		t.Fatalf("sign_req without token must be dropped, sent %s", msgs[0].Cmd)
	}
	sign["token"] = ack.Token
	onlyMessage(t, h.handle(t, sign), domain.CmdSignAck)
}

// ============================================================================
// sign_req
// ============================================================================

func TestDispatcher_SignActiveNeverAutoApproved(t *testing.T) {
	for _, approve := range []bool{false, true} {
		for _, reject := range []bool{false, true} {
			flags := PolicyFlags{AuthReqApprove: approve, SignReqReject: reject}
			h := newHarness(t, flags, AddressingTrial,
				mockKeys{}.add("alice", domain.TierPosting, domain.TierActive),
				accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))

			msgs := h.handle(t, appFrame("sign_req", "alice", mustSeal(t, signData("active", 1, true), "K")))
			for _, m := range msgs {
				if m.Cmd == domain.CmdSignAck {
					t.Fatalf("active sign approved with flags %+v", flags)
				}
			}
			if reject {
				onlyMessage(t, msgs, domain.CmdSignNack)
			} else if len(msgs) != 0 {
				t.Errorf("flags %+v: denial must be silent, sent %s", flags, msgs[0].Cmd)
			}
			if h.chain.calls != 0 {
				t.Errorf("flags %+v: broadcaster called", flags)
			}
		}
	}
}

func TestDispatcher_SignBroadcast(t *testing.T) {
	keys := mockKeys{}.add("alice", domain.TierPosting)
	h := newHarness(t, PolicyFlags{}, AddressingTrial, keys,
		accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))

	msg := onlyMessage(t, h.handle(t, appFrame("sign_req", "alice", mustSeal(t, signData("posting", 1, true), "K"))), domain.CmdSignAck)
	h.assertPOK(t, msg)
	if got := mustOpen(t, msg.Data, "K"); got != "tx-0001" {
		t.Errorf("sign_ack data = %q", got)
	}
	if msg.Broadcast == nil || !*msg.Broadcast {
		t.Error("sign_ack should report broadcast=true")
	}
	if h.chain.wif != keys["alice"][domain.TierPosting].WIF() {
		t.Error("broadcast should use the requested tier's key")
	}
	if h.store.account(t, "alice").Sessions[0].Nonce != 1 {
		t.Error("watermark should be persisted")
	}
}

func TestDispatcher_SignErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		chainErr error
		wantErr  string
	}{
		{"sign only", signData("posting", 1, false), nil, "transaction signing only is not enabled"},
		{"broadcast failure", signData("posting", 1, true), errBroadcast, "broadcast failed"},
		{"bad key type", signData("owner", 1, true), nil, "invalid key_type"},
		{"empty ops", map[string]any{"key_type": "posting", "ops": []any{}, "broadcast": true, "nonce": 1}, nil, "ops must be a non-empty array"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, PolicyFlags{}, AddressingTrial,
				mockKeys{}.add("alice", domain.TierPosting),
				accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
			h.chain.err = tt.chainErr

			msg := onlyMessage(t, h.handle(t, appFrame("sign_req", "alice", mustSeal(t, tt.data, "K"))), domain.CmdSignErr)
			h.assertPOK(t, msg)
			if got := mustOpen(t, msg.Error, "K"); !strings.Contains(got, tt.wantErr) {
				t.Errorf("error = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestDispatcher_ReplayedRequestDropped(t *testing.T) {
	h := newHarness(t, PolicyFlags{SignReqReject: true}, AddressingTrial,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))

	frame := appFrame("sign_req", "alice", mustSeal(t, signData("posting", 7, true), "K"))
	onlyMessage(t, h.handle(t, frame), domain.CmdSignAck)

	if msgs := h.handle(t, frame); len(msgs) != 0 {
		t.Fatalf("replay answered with %s", msgs[0].Cmd)
	}
	if h.chain.calls != 1 {
		t.Errorf("broadcast calls = %d, want 1", h.chain.calls)
	}
}

// ============================================================================
// challenge_req
// ============================================================================

func TestDispatcher_ChallengeForUnheldActiveKey(t *testing.T) {
	for _, reject := range []bool{false, true} {
		h := newHarness(t, PolicyFlags{ChallengeReqReject: reject, AuthReqApprove: true}, AddressingTrial,
			mockKeys{}.add("alice", domain.TierPosting),
			accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))

		data := map[string]any{"key_type": "active", "challenge": "hello", "nonce": 1}
		msgs := h.handle(t, appFrame("challenge_req", "alice", mustSeal(t, data, "K")))

		if reject {
			msg := onlyMessage(t, msgs, domain.CmdChallengeNack)
			h.assertPOK(t, msg)
		} else if len(msgs) != 0 {
			t.Fatalf("challenge_req_reject=false: sent %s, want nothing", msgs[0].Cmd)
		}
	}
}

func TestDispatcher_ChallengeAck(t *testing.T) {
	keys := mockKeys{}.add("alice", domain.TierPosting)
	posting := keys["alice"][domain.TierPosting]

	t.Run("sign", func(t *testing.T) {
		h := newHarness(t, PolicyFlags{}, AddressingTrial, keys,
			accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
		data := map[string]any{"key_type": "posting", "challenge": "hello", "nonce": 1}
		msg := onlyMessage(t, h.handle(t, appFrame("challenge_req", "alice", mustSeal(t, data, "K"))), domain.CmdChallengeAck)
		h.assertPOK(t, msg)

		var res domain.ChallengeResult
		if err := json.Unmarshal([]byte(mustOpen(t, msg.Data, "K")), &res); err != nil {
			t.Fatal(err)
		}
		if res.PubKey != posting.PublicKey().String() {
			t.Errorf("pubkey = %q", res.PubKey)
		}
		signer, err := hive.RecoverBuffer([]byte("hello"), res.Challenge)
		if err != nil || !signer.Equal(posting.PublicKey()) {
			t.Errorf("challenge signature invalid: %v", err)
		}
	})

	t.Run("decrypt", func(t *testing.T) {
		h := newHarness(t, PolicyFlags{}, AddressingTrial, keys,
			accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
		memo, err := hive.EncodeMemo(hive.PrivateKeyFromSeed("app"), posting.PublicKey(), "#secret")
		if err != nil {
			t.Fatal(err)
		}
		data := map[string]any{"key_type": "posting", "challenge": memo, "decrypt": true, "nonce": 1}
		msg := onlyMessage(t, h.handle(t, appFrame("challenge_req", "alice", mustSeal(t, data, "K"))), domain.CmdChallengeAck)

		var res domain.ChallengeResult
		if err := json.Unmarshal([]byte(mustOpen(t, msg.Data, "K")), &res); err != nil {
			t.Fatal(err)
		}
		if res.Challenge != "#secret" {
			t.Errorf("decrypted challenge = %q", res.Challenge)
		}
	})

	t.Run("missing challenge", func(t *testing.T) {
		h := newHarness(t, PolicyFlags{}, AddressingTrial, keys,
			accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
		data := map[string]any{"key_type": "posting", "challenge": "", "nonce": 1}
		msg := onlyMessage(t, h.handle(t, appFrame("challenge_req", "alice", mustSeal(t, data, "K"))), domain.CmdChallengeErr)
		if got := mustOpen(t, msg.Error, "K"); !strings.Contains(got, "missing challenge") {
			t.Errorf("error = %q", got)
		}
	})
}

func TestDispatcher_RateLimitOnlyTracksHeldAccounts(t *testing.T) {
	h := newHarness(t, PolicyFlags{}, AddressingTrial,
		mockKeys{}.add("alice", domain.TierPosting),
		accountWithSessions(t, "alice", sessionWithKey(t, "K", testNow, time.Hour)))
	limiter := NewRateLimiterRegistry(1, 1)
	h.d.limiter = limiter

	for i := 0; i < 500; i++ {
		if msgs := h.handle(t, appFrame("sign_req", "nobody"+strconv.Itoa(i), "x")); len(msgs) != 0 {
			t.Fatalf("unmanaged account answered with %s", msgs[0].Cmd)
		}
	}
	if got := limiter.size(); got != 0 {
		t.Errorf("limiters after unmanaged traffic = %d, want 0", got)
	}

	h.handle(t, appFrame("sign_req", "alice", mustSeal(t, signData("posting", 1, true), "K")))
	if got := limiter.size(); got != 1 {
		t.Errorf("limiters after alice = %d, want 1", got)
	}
}
