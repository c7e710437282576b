package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/caldavpod/podmigrate/internal/config"
	"github.com/caldavpod/podmigrate/internal/conduit"
	"github.com/caldavpod/podmigrate/internal/directory"
	"github.com/caldavpod/podmigrate/internal/migratelog"
	"github.com/caldavpod/podmigrate/internal/migration"
	"github.com/caldavpod/podmigrate/internal/migration/checkpoint"
	"github.com/caldavpod/podmigrate/internal/store/memory"
)

// app bundles the collaborators every subcommand needs, built once
// from the resolved config instead of scattering globals across
// subcommands.
type app struct {
	cfg        *config.Config
	store      *memory.Store
	directory  *directory.Service
	logger     *log.Logger
	checkpoint *checkpoint.Store
}

func newApp(configPath string) (*app, error) {
	if err := config.Initialize(configPath); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	dir, err := directory.Load(cfg.DirectoryEndpoint)
	if err != nil {
		return nil, err
	}

	cp, err := checkpoint.NewStore(cfg.LockDir)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		store:      memory.New(),
		directory:  dir,
		logger:     migratelog.New(migratelog.DefaultOptions(filepath.Join(cfg.LockDir, "migrate.log"))),
		checkpoint: cp,
	}, nil
}

// dialConduit connects to the source pod's conduit.Server for diruid.
// ConduitAddresses is keyed by directory uid rather than pod id: this
// reference directory (internal/directory) does not model multiple
// users sharing one source pod's conduit socket.
func (a *app) dialConduit(ctx context.Context, diruid string) (*conduit.Client, error) {
	addr, ok := a.cfg.ConduitAddresses[diruid]
	if !ok || addr == "" {
		return nil, fmt.Errorf("no conduit address configured for %q", diruid)
	}
	return conduit.Dial(ctx, addr)
}

// lockFor acquires the per-diruid migration lock, refusing a second
// concurrent run for the same user.
func (a *app) lockFor(diruid string) (*flock.Flock, error) {
	lockPath := filepath.Join(a.cfg.LockDir, diruid+".lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring migration lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("a migration is already running for %s", diruid)
	}
	return lock, nil
}

// orchestratorFor builds an Orchestrator wired to this app's store,
// directory, and logger, plus a conduit.Client for the record's pod.
func (a *app) orchestratorFor(ctx context.Context, diruid string) (*migration.Orchestrator, *conduit.Client, error) {
	record, err := a.directory.RecordWithUID(ctx, diruid)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving directory record: %w", err)
	}
	if record == nil {
		return nil, nil, migration.ErrDirectoryRecordNotFound
	}

	client, err := a.dialConduit(ctx, diruid)
	if err != nil {
		return nil, nil, err
	}

	ext := migration.ExtensionPoints{}
	o := migration.NewOrchestrator(a.store, client, a.directory, diruid, a.logger, ext)
	return o, client, nil
}
