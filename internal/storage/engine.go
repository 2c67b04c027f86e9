package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/pksa-go/internal/storage/memory"
	"github.com/yndnr/pksa-go/internal/telemetry/logger"
)

// Config configures the credential store.
type Config struct {
	// Engine is "badger" (default) or "memory".
	Engine string

	// DataDir is the base directory; Badger files go to DataDir/credentials.
	DataDir string

	// EncryptionKey enables at-rest sealing of account records when set.
	EncryptionKey string

	// Badger tuning.
	Badger BadgerConfig

	// Registerer receives engine metrics. Optional.
	Registerer prometheus.Registerer

	// Logger is the structured logger.
	Logger logger.Logger
}

// Open creates the configured engine and the CredentialStore on top of it.
func Open(ctx context.Context, cfg Config, opts ...Option) (*CredentialStore, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	log := cfg.Logger.With("component", "storage")

	kv, err := openEngine(cfg, log)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithLogger(log)}, opts...)
	if cfg.EncryptionKey != "" {
		sealer, err := NewRecordSealer(ctx, kv, cfg.EncryptionKey)
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		opts = append(opts, WithSealer(sealer))
		log.Info("at-rest encryption enabled")
	}

	return NewCredentialStore(kv, opts...), nil
}

func openEngine(cfg Config, log logger.Logger) (KVEngine, error) {
	switch cfg.Engine {
	case "", EngineBadger:
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("storage: data_dir is required for the badger engine")
		}
		kvCfg := DefaultKVConfig(filepath.Join(cfg.DataDir, "credentials"))
		if cfg.Badger != (BadgerConfig{}) {
			kvCfg.Badger = cfg.Badger
		}
		engine, err := NewBadgerEngine(kvCfg, log)
		if err != nil {
			return nil, err
		}
		if cfg.Registerer != nil {
			engine.RegisterMetrics(cfg.Registerer)
		}
		return engine, nil
	case EngineMemory:
		log.Warn("memory engine selected, sessions will not survive a restart")
		return &memoryKV{Engine: memory.New()}, nil
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}

// memoryKV adds Stats to the memory engine.
type memoryKV struct {
	*memory.Engine
}

func (m *memoryKV) Stats(context.Context) (*KVStats, error) {
	return &KVStats{
		TotalKeys: uint64(m.Len()),
		TotalSize: m.Size(),
	}, nil
}
