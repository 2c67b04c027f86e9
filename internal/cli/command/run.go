package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/pksa-go/internal/agent/config"
	"github.com/yndnr/pksa-go/internal/chain"
	"github.com/yndnr/pksa-go/internal/core/domain"
	"github.com/yndnr/pksa-go/internal/core/service"
	"github.com/yndnr/pksa-go/internal/infra/buildinfo"
	"github.com/yndnr/pksa-go/internal/infra/confloader"
	"github.com/yndnr/pksa-go/internal/infra/shutdown"
	"github.com/yndnr/pksa-go/internal/infra/tlsroots"
	"github.com/yndnr/pksa-go/internal/keystore"
	"github.com/yndnr/pksa-go/internal/relay"
	"github.com/yndnr/pksa-go/internal/server/httpserver"
	"github.com/yndnr/pksa-go/internal/server/httpserver/handler"
	"github.com/yndnr/pksa-go/internal/storage"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
	"github.com/yndnr/pksa-go/internal/telemetry/metric"
)

// shutdownTimeout bounds all shutdown hooks together.
const shutdownTimeout = 30 * time.Second

// RunCommand runs the agent in service mode.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the agent (default)",
		Action: runAgent,
	}
}

func runAgent(c *cli.Context) error {
	configPath := ParseGlobalFlags(c).Config
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log.Info("starting pksa-agent",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", configPath)

	sh := shutdown.NewHandler(shutdownTimeout, log)
	a, err := newAgent(sh.Context(), cfg, log, metric.Global())
	if err != nil {
		return err
	}
	if err := a.start(sh, configPath); err != nil {
		log.Error("startup failed", "error", err)
		sh.Trigger()
		return errors.Join(err, sh.Wait())
	}

	log.Info("agent started, press Ctrl+C to stop")
	if err := sh.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("agent stopped gracefully")
	return nil
}

// initLogger builds the process logger and installs it as the default.
func initLogger(cfg *config.AgentConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:             cfg.Log.Level,
		Format:            cfg.Log.Format,
		Output:            os.Stdout,
		HideEncryptedData: cfg.Log.HideEncryptedData,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// agent holds the wired components of a running agent.
type agent struct {
	cfg     *config.AgentConfig
	log     logger.Logger
	metrics *metric.Registry

	store      *storage.CredentialStore
	keys       *keystore.Store
	policy     *service.Policy
	dispatcher *service.Dispatcher
	relay      *relay.Manager
	admin      *httpserver.Server
}

// newAgent opens the store, loads keys and wires the request pipeline. It
// starts no goroutines.
func newAgent(ctx context.Context, cfg *config.AgentConfig, log logger.Logger, reg *metric.Registry) (*agent, error) {
	a := &agent{cfg: cfg, log: log, metrics: reg}

	keys, err := keystore.Load(cfg.Keys.File)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	a.keys = keys

	store, err := storage.Open(ctx, storage.Config{
		Engine:        cfg.Storage.Engine,
		DataDir:       cfg.Storage.DataDir,
		EncryptionKey: cfg.Storage.EncryptionKey,
		Badger:        storage.DefaultBadgerConfig(),
		Registerer:    reg.Registerer(),
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	a.store = store

	if err := reg.Registerer().Register(metric.NewCollector(store)); err != nil {
		log.Warn("credential store collector not registered", "error", err)
	}

	if err := a.seedAccounts(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	crypto := service.NewHiveCrypto()
	resolver, err := service.NewSessionResolver(service.Addressing(cfg.Session.Addressing), store, crypto)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.policy = service.NewPolicy(policyFlags(cfg), nil)
	a.dispatcher = service.NewDispatcher(service.DispatcherConfig{
		AgentName:     cfg.Agent.Name,
		AuthTimeout:   cfg.Policy.AuthTimeout,
		AuthReqSecret: cfg.Security.AuthReqSecret,
	}, service.DispatcherDeps{
		Store:    store,
		Keys:     keys,
		Crypto:   crypto,
		Resolver: resolver,
		Policy:   a.policy,
		Chain:    newBroadcaster(cfg, log),
		Limiter:  service.NewRateLimiterRegistry(cfg.Policy.RateLimit, cfg.Policy.RateBurst),
		Observer: reg,
		Logger:   log.With("component", "dispatcher"),
	})

	relayTLS, err := tlsroots.ClientConfig(cfg.Relay.CAFile)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("relay.ca_file: %w", err)
	}
	a.relay = relay.NewManager(relay.Config{
		Address:              cfg.Relay.Address,
		PingInterval:         cfg.Relay.PingInterval,
		PingTimeoutIntervals: cfg.Relay.PingTimeoutIntervals,
		ReconnectDelay:       cfg.Relay.ReconnectDelay,
		HandshakeTimeout:     cfg.Relay.HandshakeTimeout,
	}, relay.NewWebSocketDialer(cfg.Relay.HandshakeTimeout, relayTLS), a.dispatcher,
		relay.WithLogger(log.With("component", "relay")),
		relay.WithObserver(reg),
	)

	if cfg.Admin.Address != "" {
		h := handler.New(handler.Deps{
			Store:      store,
			RelayState: func() string { return a.relay.State().String() },
			Logger:     log.With("component", "admin"),
		})
		a.admin = httpserver.New(cfg.Admin.Address, httpserver.NewRouter(&httpserver.RouterConfig{
			Handler:   h,
			Metrics:   reg.Handler(),
			AllowList: cfg.Admin.AllowList,
			Logger:    log.With("component", "admin"),
		}))
	}
	return a, nil
}

// seedAccounts creates an empty record for every account in the key file.
// Names the ledger would reject are skipped with a warning.
func (a *agent) seedAccounts(ctx context.Context) error {
	for _, name := range a.keys.Accounts() {
		if err := domain.ValidateAccountName(name); err != nil {
			a.log.Warn("skipping account with invalid name", "account", name, "error", err)
			continue
		}
		if _, err := a.store.EnsureAccount(ctx, name); err != nil {
			return fmt.Errorf("seed account %s: %w", name, err)
		}
	}
	return nil
}

// start launches the admin server, the config watcher and the relay
// session. Shutdown hooks are registered in startup order.
func (a *agent) start(sh *shutdown.Handler, configPath string) error {
	sh.OnShutdown("credential store", func(context.Context) error {
		a.log.Info("closing credential store")
		return a.store.Close()
	})

	if a.admin != nil {
		ln, err := net.Listen("tcp", a.cfg.Admin.Address)
		if err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}
		go func() {
			a.log.Info("admin server listening", "addr", ln.Addr().String())
			if err := a.admin.Serve(ln); err != nil {
				a.log.Error("admin server error", "error", err)
			}
		}()
		sh.OnShutdown("admin server", func(ctx context.Context) error {
			a.log.Info("shutting down admin server")
			return a.admin.Shutdown(ctx)
		})
	}

	if configPath != "" {
		w, err := a.watchConfig(configPath)
		if err != nil {
			a.log.Warn("config hot-reload disabled", "error", err)
		} else {
			sh.OnShutdown("config watcher", func(context.Context) error { return w.Stop() })
		}
	}

	relayDone := make(chan error, 1)
	go func() {
		err := a.relay.Run(sh.Context())
		if err != nil {
			a.log.Error("relay manager stopped", "error", err)
			sh.Trigger()
		}
		relayDone <- err
	}()
	sh.OnShutdown("relay session", func(ctx context.Context) error {
		select {
		case err := <-relayDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return nil
}

// watchConfig reloads the policy switches and log level when the config
// file changes. Other settings need a restart.
func (a *agent) watchConfig(path string) (*confloader.Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(a.log.With("component", "config")))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(abs); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) { a.reload(abs) })
	w.StartAsync()
	return w, nil
}

func (a *agent) reload(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		a.log.Warn("config reload rejected, keeping current settings", "error", err)
		return
	}
	a.policy.SetFlags(policyFlags(cfg))
	logger.SetLevel(cfg.Log.Level)
	a.log.Info("config reloaded",
		"auth_req_approve", cfg.Policy.AuthReqApprove,
		"auth_req_reject", cfg.Policy.AuthReqReject,
		"sign_req_reject", cfg.Policy.SignReqReject,
		"challenge_req_reject", cfg.Policy.ChallengeReqReject,
		"log_level", cfg.Log.Level)
}

// newBroadcaster returns the ledger broadcaster. The agent ships without a
// ledger client, so every approved broadcast ends in sign_err.
func newBroadcaster(cfg *config.AgentConfig, log logger.Logger) service.Broadcaster {
	log.Warn("no ledger client available, approved sign requests will be answered with sign_err",
		"chain_api", cfg.Chain.API)
	return chain.New(cfg.Chain.API)
}

func policyFlags(cfg *config.AgentConfig) service.PolicyFlags {
	return service.PolicyFlags{
		AuthReqApprove:     cfg.Policy.AuthReqApprove,
		AuthReqReject:      cfg.Policy.AuthReqReject,
		SignReqReject:      cfg.Policy.SignReqReject,
		ChallengeReqReject: cfg.Policy.ChallengeReqReject,
	}
}
