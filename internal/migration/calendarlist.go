package migration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CalendarListReconciler diffs the set of owned calendars between
// source and destination and drives per-calendar sync.
type CalendarListReconciler struct {
	scope        *Scope
	conduit      Conduit
	record       *DirectoryRecord
	migratingUID string
	homeID       int64
}

// NewCalendarListReconciler builds a reconciler for one migration's
// home. migratingUID is the synthetic Migrating-<diruid> owner key
// used to look up the local (destination) home; record is the
// migrating user's directory record, re-sent to the conduit on every
// remote lookup.
func NewCalendarListReconciler(scope *Scope, conduit Conduit, record *DirectoryRecord, migratingUID string, homeID int64) *CalendarListReconciler {
	return &CalendarListReconciler{scope: scope, conduit: conduit, record: record, migratingUID: migratingUID, homeID: homeID}
}

// Sync runs the full calendar-list reconciliation: fetch remote/local
// state, purge locally-orphaned calendars, then sync every remaining
// remote calendar. Purge-of-missing must precede per-calendar sync so
// freed names are available.
func (r *CalendarListReconciler) Sync(ctx context.Context) error {
	remoteState, err := r.getCalendarSyncList(ctx)
	if err != nil {
		return err
	}
	if remoteState == nil {
		// No remote home - treat the whole step as a no-op.
		return nil
	}

	localState, err := r.getSyncState(ctx)
	if err != nil {
		return err
	}

	if err := r.purgeLocal(ctx, localState, remoteState); err != nil {
		return err
	}

	for remoteID := range remoteState {
		if err := r.syncCalendar(ctx, remoteID, localState, remoteState); err != nil {
			return fmt.Errorf("syncing calendar %d: %w", remoteID, err)
		}
	}
	return nil
}

// getCalendarSyncList fetches, for every owned remote calendar, a
// CalendarMigrationRecord describing its current remote state. Shared
// (not-owned) calendars are excluded.
func (r *CalendarListReconciler) getCalendarSyncList(ctx context.Context) (calendarSyncState, error) {
	return Run(ctx, r.scope, nil, "getCalendarSyncList", func(ctx context.Context, txn Txn) (calendarSyncState, error) {
		home, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil {
			return nil, err
		}
		if home == nil {
			return nil, nil
		}
		calendars, err := home.LoadChildren(ctx)
		if err != nil {
			return nil, err
		}
		results := make(calendarSyncState, len(calendars))
		for _, cal := range calendars {
			if !cal.Owned() {
				continue
			}
			results[cal.ID()] = &CalendarMigrationRecord{
				CalendarHomeResourceID: home.ID(),
				RemoteResourceID:       cal.ID(),
				LocalResourceID:        0,
				LastSyncToken:          cal.SyncToken(),
			}
		}
		return results, nil
	})
}

// getSyncState loads the local migration-record state for this home,
// keyed by remote id.
func (r *CalendarListReconciler) getSyncState(ctx context.Context) (calendarSyncState, error) {
	return Run(ctx, r.scope, nil, "getSyncState", func(ctx context.Context, txn Txn) (calendarSyncState, error) {
		return loadCalendarSyncState(ctx, txn.CalendarMigrationRecords(), r.homeID)
	})
}

// purgeLocal silently removes local calendars that are no longer
// present on the remote side; no scheduling side effects.
func (r *CalendarListReconciler) purgeLocal(ctx context.Context, localState, remoteState calendarSyncState) error {
	return RunE(ctx, r.scope, nil, "purgeLocal", func(ctx context.Context, txn Txn) error {
		home, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return err
		}
		if home == nil {
			return nil
		}
		for remoteID, rec := range localState {
			if _, stillRemote := remoteState[remoteID]; stillRemote {
				continue
			}
			calendar, err := home.ChildWithID(ctx, rec.LocalResourceID)
			if err != nil {
				return err
			}
			if calendar != nil {
				objects, err := calendar.ObjectResourcesWithNames(ctx, nil)
				if err != nil {
					return err
				}
				for _, obj := range objects {
					if err := txn.CalendarObjectMigrationRecords().DeleteByLocalObjectID(ctx, r.homeID, obj.ID()); err != nil {
						return err
					}
				}
				if err := calendar.Purge(ctx); err != nil {
					return err
				}
			}
			if err := txn.CalendarMigrationRecords().DeleteByRemoteID(ctx, r.homeID, remoteID); err != nil {
				return err
			}
			delete(localState, remoteID)
		}
		return nil
	})
}

// syncCalendar syncs the contents of one calendar from the remote
// side, creating the local calendar on first observation. Sync tokens
// short-circuit calendars with no remote changes.
func (r *CalendarListReconciler) syncCalendar(ctx context.Context, remoteID int64, localState, remoteState calendarSyncState) error {
	localRecord, exists := localState[remoteID]
	if !exists {
		localID, err := r.newCalendar(ctx)
		if err != nil {
			return err
		}
		localRecord = &CalendarMigrationRecord{
			CalendarHomeResourceID: r.homeID,
			RemoteResourceID:       remoteID,
			LocalResourceID:        localID,
		}
		localRecord.isNew = true
		localState[remoteID] = localRecord
	}

	remoteToken := remoteState[remoteID].LastSyncToken
	if localRecord.LastSyncToken != remoteToken {
		if err := r.syncCalendarMetaData(ctx, localRecord); err != nil {
			return err
		}

		objects := NewObjectReconciler(r.scope, r.conduit, r.record, r.migratingUID, r.homeID)
		changed, deleted, err := objects.FindObjectsToSync(ctx, localRecord)
		if err != nil {
			return err
		}
		if err := objects.PurgeDeletedObjectsInBatches(ctx, localRecord, deleted); err != nil {
			return err
		}
		if err := objects.UpdateChangedObjectsInBatches(ctx, localRecord, changed); err != nil {
			return err
		}
	}

	return r.updateSyncState(ctx, localRecord, remoteToken)
}

// newCalendar creates a new, initially-empty local calendar with a
// random name; metadata sync overwrites the name shortly after.
func (r *CalendarListReconciler) newCalendar(ctx context.Context) (int64, error) {
	return Run(ctx, r.scope, nil, "newCalendar", func(ctx context.Context, txn Txn) (int64, error) {
		home, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, true, r.record.UID)
		if err != nil {
			return 0, err
		}
		calendar, err := home.CreateChildWithName(ctx, uuid.New().String())
		if err != nil {
			return 0, err
		}
		return calendar.ID(), nil
	})
}

// syncCalendarMetaData copies name, alarms, supported-components,
// transparency etc. from the remote calendar onto the local one.
func (r *CalendarListReconciler) syncCalendarMetaData(ctx context.Context, rec *CalendarMigrationRecord) error {
	return RunE(ctx, r.scope, nil, "syncCalendarMetaData", func(ctx context.Context, txn Txn) error {
		remoteHome, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil || remoteHome == nil {
			return err
		}
		remoteCalendar, err := remoteHome.ChildWithID(ctx, rec.RemoteResourceID)
		if err != nil {
			return err
		}
		if remoteCalendar == nil {
			return nil
		}

		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return err
		}
		localCalendar, err := localHome.ChildWithID(ctx, rec.LocalResourceID)
		if err != nil {
			return err
		}
		if localCalendar == nil {
			return nil
		}
		return remoteCalendar.CopyMetadataInto(ctx, localCalendar)
	})
}

// updateSyncState inserts a brand new record or advances the stored
// token on an existing one - only ever advanced after its object
// batches have committed.
func (r *CalendarListReconciler) updateSyncState(ctx context.Context, rec *CalendarMigrationRecord, newToken string) error {
	return RunE(ctx, r.scope, nil, "updateSyncState", func(ctx context.Context, txn Txn) error {
		store := txn.CalendarMigrationRecords()
		if rec.IsNew() {
			rec.LastSyncToken = newToken
			rec.isNew = false
			return store.Insert(ctx, rec)
		}
		// The record we're holding may have been loaded in another
		// transaction; duplicate it before mutating against this one.
		dup := rec.Duplicate()
		return store.UpdateSyncToken(ctx, dup, newToken)
	})
}
