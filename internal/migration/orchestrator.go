package migration

import (
	"context"
	"fmt"
)

// Phase is one state of the migration state machine.
type Phase string

const (
	PhaseInit              Phase = "INIT"
	PhaseBulkSync          Phase = "BULK_SYNC"
	PhaseWarmSync          Phase = "WARM_SYNC"
	PhaseDisableSource     Phase = "DISABLE_SOURCE"
	PhaseFinalSync         Phase = "FINAL_SYNC"
	PhaseReconcile         Phase = "RECONCILE"
	PhaseEnableDestination Phase = "ENABLE_DESTINATION"
	PhasePurgeSource       Phase = "PURGE_SOURCE"
)

// orderedPhases is the sequence migrateHere drives, in order.
var orderedPhases = []Phase{
	PhaseInit,
	PhaseBulkSync,
	PhaseWarmSync,
	PhaseDisableSource,
	PhaseFinalSync,
	PhaseReconcile,
	PhaseEnableDestination,
	PhasePurgeSource,
}

// Orchestrator is the top-level state machine sequencing calendar
// list, attachment, and delegate reconciliation, and enforcing the
// downtime contract.
type Orchestrator struct {
	store     Store
	conduit   Conduit
	directory DirectoryService
	diruid    string
	logger    Logger
	scope     *Scope
	extensions ExtensionPoints

	// Transient, in-memory state populated as phases run.
	record *DirectoryRecord
	homeID int64
}

// NewOrchestrator builds an Orchestrator for migrating the given
// directory uid's home onto this pod.
func NewOrchestrator(store Store, conduit Conduit, directory DirectoryService, diruid string, logger Logger, extensions ExtensionPoints) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		conduit:    conduit,
		directory:  directory,
		diruid:     diruid,
		logger:     logger,
		extensions: extensions,
	}
	o.scope = NewScope(store, o.label, logger)
	return o
}

// label formats a step name as "Cross-pod Migration Sync for {diruid}:
// {detail}", used for created transactions and log lines.
func (o *Orchestrator) label(detail string) string {
	return fmt.Sprintf("Cross-pod Migration Sync for %s: %s", o.diruid, detail)
}

// MigratingUID is the synthetic Migrating-<diruid> owner key used to
// address the local home until switchover.
func (o *Orchestrator) MigratingUID() string {
	return "Migrating-" + o.diruid
}

// OrderedPhases returns the full phase sequence MigrateHere drives, in
// order. Exposed for callers (the CLI, checkpoint.RemainingPhases)
// that need to resume a partially completed run.
func OrderedPhases() []Phase {
	out := make([]Phase, len(orderedPhases))
	copy(out, orderedPhases)
	return out
}

// MigrateHere runs the full, serialized eight-phase migration designed
// to minimize downtime for the migrating user.
func (o *Orchestrator) MigrateHere(ctx context.Context) error {
	for _, phase := range orderedPhases {
		if err := o.runPhase(ctx, phase); err != nil {
			o.logger.Printf("%s", (&PhaseError{Phase: phase, Err: err}).Error())
			return &PhaseError{Phase: phase, Err: err}
		}
	}
	return nil
}

// RunPhase runs a single phase and returns, without advancing further.
// Used by `podmigrate migrate --step` to let an operator watch each
// phase.
func (o *Orchestrator) RunPhase(ctx context.Context, phase Phase) error {
	return o.runPhase(ctx, phase)
}

func (o *Orchestrator) runPhase(ctx context.Context, phase Phase) error {
	switch phase {
	case PhaseInit:
		return o.init(ctx)
	case PhaseBulkSync, PhaseWarmSync, PhaseFinalSync:
		return o.sync(ctx)
	case PhaseDisableSource:
		return o.disableRemoteHome(ctx)
	case PhaseReconcile:
		return o.reconcile(ctx)
	case PhaseEnableDestination:
		return o.enableLocalHome(ctx)
	case PhasePurgeSource:
		return o.removeRemoteHome(ctx)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// init loads the directory record and validates the migration target.
func (o *Orchestrator) init(ctx context.Context) error {
	record, err := o.directory.RecordWithUID(ctx, o.diruid)
	if err != nil {
		return fmt.Errorf("looking up directory record: %w", err)
	}
	if record == nil {
		return ErrDirectoryRecordNotFound
	}
	if record.ThisServer {
		return ErrInvalidTarget
	}
	o.record = record
	return nil
}

// sync is the simple data sync shared by BULK_SYNC, WARM_SYNC, and
// FINAL_SYNC: ensure the local migrating home exists, then reconcile
// calendars, home metadata, and attachments. It does not touch sharing
// state - linkAttachments/delegate reconcile run separately in
// RECONCILE.
func (o *Orchestrator) sync(ctx context.Context) error {
	if o.record == nil {
		return fmt.Errorf("sync called before init")
	}

	homeID, err := o.prepareCalendarHome(ctx)
	if err != nil {
		return err
	}
	o.homeID = homeID

	calendars := NewCalendarListReconciler(o.scope, o.conduit, o.record, o.MigratingUID(), o.homeID)
	if err := calendars.Sync(ctx); err != nil {
		return fmt.Errorf("syncing calendar list: %w", err)
	}

	if err := o.syncCalendarHomeMetaData(ctx); err != nil {
		return fmt.Errorf("syncing home metadata: %w", err)
	}

	attachments := NewAttachmentReconciler(o.scope, o.conduit, o.record, o.MigratingUID(), o.homeID)
	if _, _, err := attachments.Sync(ctx); err != nil {
		return fmt.Errorf("syncing attachments: %w", err)
	}

	return nil
}

// prepareCalendarHome ensures the inactive local home to migrate into
// exists, creating it under the Migrating-<diruid> owner key if
// necessary.
func (o *Orchestrator) prepareCalendarHome(ctx context.Context) (int64, error) {
	return Run(ctx, o.scope, nil, "prepareCalendarHome", func(ctx context.Context, txn Txn) (int64, error) {
		home, err := txn.CalendarHomeWithUID(ctx, o.MigratingUID(), false, "")
		if err != nil {
			return 0, err
		}
		if home == nil {
			home, err = txn.CalendarHomeWithUID(ctx, o.MigratingUID(), true, o.diruid)
			if err != nil {
				return 0, err
			}
		}
		return home.ID(), nil
	})
}

// syncCalendarHomeMetaData copies home-level metadata (alarms, default
// calendars) from the remote home.
func (o *Orchestrator) syncCalendarHomeMetaData(ctx context.Context) error {
	return RunE(ctx, o.scope, nil, "syncCalendarHomeMetaData", func(ctx context.Context, txn Txn) error {
		remoteHome, err := NewRemoteHome(ctx, o.conduit, o.record)
		if err != nil || remoteHome == nil {
			return err
		}
		localHome, err := txn.CalendarHomeWithUID(ctx, o.MigratingUID(), false, "")
		if err != nil {
			return err
		}
		if localHome == nil {
			return nil
		}
		return remoteHome.CopyMetadata(ctx, localHome)
	})
}

// disableRemoteHome marks the remote home disabled. Any failure from
// this point forward requires the operator to run the compensating
// Rollback, which re-enables the remote home. Neither disabling nor
// Rollback changes the remote home's sharing state.
func (o *Orchestrator) disableRemoteHome(ctx context.Context) error {
	remoteHome, err := NewRemoteHome(ctx, o.conduit, o.record)
	if err != nil {
		return err
	}
	if remoteHome == nil {
		return ErrRemoteUnavailable
	}
	return o.conduit.DisableHome(ctx, remoteHome.ID())
}

// Rollback reverses disableRemoteHome; the compensating action
// required for a failure in phases DISABLE_SOURCE through
// ENABLE_DESTINATION.
func (o *Orchestrator) Rollback(ctx context.Context) error {
	if o.record == nil {
		if err := o.init(ctx); err != nil {
			return err
		}
	}
	remoteHome, err := NewRemoteHome(ctx, o.conduit, o.record)
	if err != nil {
		return err
	}
	if remoteHome == nil {
		return ErrRemoteUnavailable
	}
	return o.conduit.EnableHome(ctx, remoteHome.ID())
}

// reconcile does the final, additional data sync-up: rebind attachment
// links, reconcile delegates, and run any registered extension points.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	attachments := NewAttachmentReconciler(o.scope, o.conduit, o.record, o.MigratingUID(), o.homeID)
	if _, err := attachments.LinkAttachments(ctx); err != nil {
		return fmt.Errorf("linking attachments: %w", err)
	}

	delegates := NewDelegateReconciler(o.scope, o.conduit, o.record)
	if err := delegates.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciling delegates: %w", err)
	}

	if err := o.extensions.run(ctx, o.record); err != nil {
		return fmt.Errorf("running extensions: %w", err)
	}

	return nil
}

// enableLocalHome marks the local home enabled: renames its owner key
// from Migrating-<diruid> to <diruid> and flips its status column -
// the second half of switchover.
func (o *Orchestrator) enableLocalHome(ctx context.Context) error {
	return RunE(ctx, o.scope, nil, "enableLocalHome", func(ctx context.Context, txn Txn) error {
		home, err := txn.CalendarHomeWithUID(ctx, o.MigratingUID(), false, "")
		if err != nil {
			return err
		}
		if home == nil {
			return fmt.Errorf("enableLocalHome: local migrating home not found")
		}
		if err := home.SetOwnerKey(ctx, o.diruid); err != nil {
			return err
		}
		return home.SetStatus(ctx, HomeStatusNormal)
	})
}

// removeRemoteHome purges all data for the migrated home on the remote
// pod. A failure here leaves stale remote data for an operator to
// purge later.
func (o *Orchestrator) removeRemoteHome(ctx context.Context) error {
	remoteHome, err := NewRemoteHome(ctx, o.conduit, o.record)
	if err != nil {
		return err
	}
	if remoteHome == nil {
		return ErrRemoteUnavailable
	}
	return o.conduit.PurgeHome(ctx, remoteHome.ID())
}
