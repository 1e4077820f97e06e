package main

import (
	"context"
	"fmt"

	"github.com/opscore/orchestrator/internal/artifacts"
	"github.com/opscore/orchestrator/internal/barrier"
	"github.com/opscore/orchestrator/internal/config"
	"github.com/opscore/orchestrator/internal/events"
	"github.com/opscore/orchestrator/internal/jobs"
	"github.com/opscore/orchestrator/internal/orchestrator"
	"github.com/opscore/orchestrator/internal/react"
)

// stores bundles every persistence-layer dependency the daemon wires into
// the engine, runtime, runner and stream gateway. Each store opens and owns
// its own *sql.DB, one store package per *sql.DB.
type stores struct {
	jobs     jobs.Store
	barriers barrier.Store
	events   events.Store
	runs     orchestrator.RunStore
	threads  react.ThreadStore
	artifact artifacts.Store
}

// buildStores wires in-memory stores when cfg.Database.URL is empty
// (embedded / development mode) and Cockroach-backed stores otherwise.
func buildStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.URL == "" {
		jobStore := jobs.NewMemoryStore()
		return &stores{
			jobs:     jobStore,
			barriers: barrier.NewMemoryStore(jobStore),
			events:   events.NewMemoryStore(),
			runs:     orchestrator.NewMemoryRunStore(),
			threads:  react.NewMemoryThreadStore(),
			artifact: mustLocalArtifactStore(cfg.Artifacts.LocalPath),
		}, nil
	}

	jobStore, err := jobs.NewCockroachStoreFromDSN(cfg.Database.URL, &jobs.CockroachConfig{
		MaxOpenConns: cfg.Database.MaxConnections, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	barrierStore, err := barrier.NewCockroachStoreFromDSN(cfg.Database.URL, &barrier.CockroachConfig{
		MaxOpenConns: cfg.Database.MaxConnections, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open barrier store: %w", err)
	}

	eventStore, err := events.NewCockroachStoreFromDSN(cfg.Database.URL, events.CockroachConfig{
		MaxOpenConns: cfg.Database.MaxConnections, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	runStore, err := orchestrator.NewCockroachRunStoreFromDSN(cfg.Database.URL, orchestrator.CockroachConfig{
		MaxOpenConns: cfg.Database.MaxConnections, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	threadStore, err := react.NewCockroachThreadStoreFromDSN(cfg.Database.URL, react.CockroachConfig{
		MaxOpenConns: cfg.Database.MaxConnections, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime, ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}

	artifactStore, err := buildArtifactStore(ctx, cfg.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	return &stores{jobs: jobStore, barriers: barrierStore, events: eventStore, runs: runStore, threads: threadStore, artifact: artifactStore}, nil
}

func mustLocalArtifactStore(path string) artifacts.Store {
	if path == "" {
		path = "./artifacts"
	}
	store, err := artifacts.NewLocalStore(path)
	if err != nil {
		// Embedded mode has no caller ready to handle this; the local path
		// is always creatable unless the filesystem itself is unwritable.
		panic(fmt.Sprintf("orchestratord: open local artifact store: %v", err))
	}
	return store
}

// buildRetentionSweeper returns nil when the artifact store isn't a
// *artifacts.LocalStore (the S3 backend relies on a bucket lifecycle policy
// instead of an in-process sweep) or when no worker id is known yet.
func buildRetentionSweeper(store artifacts.Store, cfg config.ArtifactConfig, workerID string) *artifacts.RetentionSweeper {
	local, ok := store.(*artifacts.LocalStore)
	if !ok || workerID == "" {
		return nil
	}
	sweeper := artifacts.NewRetentionSweeper(local, cfg.TTLs["worker"], cfg.PruneInterval, nil)
	sweeper.SetWorkers([]string{workerID})
	return sweeper
}

func buildArtifactStore(ctx context.Context, cfg config.ArtifactConfig) (artifacts.Store, error) {
	switch cfg.Backend {
	case "s3":
		return artifacts.NewS3Store(ctx, &artifacts.S3StoreConfig{
			Bucket: cfg.S3Bucket, Region: cfg.S3Region, Endpoint: cfg.S3Endpoint, Prefix: cfg.S3Prefix,
			AccessKeyID: cfg.S3AccessKeyID, SecretAccessKey: cfg.S3SecretAccessKey, UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		path := cfg.LocalPath
		if path == "" {
			path = "./artifacts"
		}
		return artifacts.NewLocalStore(path)
	}
}
