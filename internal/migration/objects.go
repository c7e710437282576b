package migration

import (
	"context"
)

// BatchSize bounds how many object purges or updates share a
// transaction.
const BatchSize = 50

// ObjectReconciler reconciles one calendar's object resources:
// additions, updates, and deletions, driven by the calendar's sync
// token.
type ObjectReconciler struct {
	scope        *Scope
	conduit      Conduit
	record       *DirectoryRecord
	migratingUID string
	homeID       int64
	batchSize    int
}

// NewObjectReconciler builds a reconciler for objects within one home.
func NewObjectReconciler(scope *Scope, conduit Conduit, record *DirectoryRecord, migratingUID string, homeID int64) *ObjectReconciler {
	return &ObjectReconciler{scope: scope, conduit: conduit, record: record, migratingUID: migratingUID, homeID: homeID, batchSize: BatchSize}
}

// FindObjectsToSync determines which object names changed or were
// deleted since the migration record's last sync token, then narrows
// "changed" to the subset whose content hash actually differs (or is
// entirely new) locally.
func (r *ObjectReconciler) FindObjectsToSync(ctx context.Context, rec *CalendarMigrationRecord) (changed, deleted []string, err error) {
	type result struct {
		changed, deleted []string
	}
	res, err := Run(ctx, r.scope, nil, "findObjectsToSync", func(ctx context.Context, txn Txn) (result, error) {
		remoteHome, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil || remoteHome == nil {
			return result{}, err
		}
		remoteCalendar, err := remoteHome.ChildWithID(ctx, rec.RemoteResourceID)
		if err != nil {
			return result{}, err
		}
		if remoteCalendar == nil {
			return result{}, nil
		}

		candidateChanged, candidateDeleted, invalid, err := remoteCalendar.ResourceNamesSinceToken(ctx, rec.LastSyncToken)
		if err != nil {
			return result{}, err
		}
		if invalid {
			// The token could not be honored: diff every object by content
			// hash instead of trusting the returned sets (nil names = all).
			candidateChanged, candidateDeleted = nil, nil
		}

		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return result{}, err
		}
		if localHome == nil {
			return result{}, nil
		}
		localCalendar, err := localHome.ChildWithID(ctx, rec.LocalResourceID)
		if err != nil {
			return result{}, err
		}
		if localCalendar == nil {
			return result{}, nil
		}

		remoteObjs, err := remoteCalendar.ObjectResourcesWithNames(ctx, candidateChanged)
		if err != nil {
			return result{}, err
		}
		remoteByName := make(map[string]*RemoteCalendarObject, len(remoteObjs))
		for _, o := range remoteObjs {
			remoteByName[o.Name()] = o
		}

		localObjs, err := localCalendar.ObjectResourcesWithNames(ctx, candidateChanged)
		if err != nil {
			return result{}, err
		}
		localByName := make(map[string]CalendarObject, len(localObjs))
		for _, o := range localObjs {
			localByName[o.Name()] = o
		}
		if invalid {
			for name := range localByName {
				if _, ok := remoteByName[name]; !ok {
					candidateDeleted = append(candidateDeleted, name)
				}
			}
		}

		actualChanges := make([]string, 0, len(remoteByName))
		for name, remoteObj := range remoteByName {
			localObj, ok := localByName[name]
			if !ok || remoteObj.MD5() != localObj.MD5() {
				actualChanges = append(actualChanges, name)
			}
		}

		return result{changed: actualChanges, deleted: candidateDeleted}, nil
	})
	return res.changed, res.deleted, err
}

// PurgeDeletedObjectsInBatches purges the given object names in
// windows of BatchSize, each window in its own transaction, so deletes
// already applied survive a failure partway through.
func (r *ObjectReconciler) PurgeDeletedObjectsInBatches(ctx context.Context, rec *CalendarMigrationRecord, names []string) error {
	remaining := names
	for len(remaining) > 0 {
		n := r.batchSize
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := r.purgeBatch(ctx, rec.LocalResourceID, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
	}
	return nil
}

func (r *ObjectReconciler) purgeBatch(ctx context.Context, localCalendarID int64, names []string) error {
	return RunE(ctx, r.scope, nil, "purgeBatch", func(ctx context.Context, txn Txn) error {
		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return err
		}
		if localHome == nil {
			return nil
		}
		localCalendar, err := localHome.ChildWithID(ctx, localCalendarID)
		if err != nil {
			return err
		}
		if localCalendar == nil {
			return nil
		}
		objects, err := localCalendar.ObjectResourcesWithNames(ctx, names)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			if err := obj.Purge(ctx); err != nil {
				return err
			}
			if err := txn.CalendarObjectMigrationRecords().DeleteByLocalObjectID(ctx, r.homeID, obj.ID()); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateChangedObjectsInBatches updates the given object names in
// windows of BatchSize, each window in its own transaction.
func (r *ObjectReconciler) UpdateChangedObjectsInBatches(ctx context.Context, rec *CalendarMigrationRecord, names []string) error {
	remaining := names
	for len(remaining) > 0 {
		n := r.batchSize
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := r.updateBatch(ctx, rec.LocalResourceID, rec.RemoteResourceID, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
	}
	return nil
}

// updateBatch upserts one window of remote objects into the local
// calendar, using the raw internal write path and stamping the remote
// md5 onto the stored component so the local hash matches the remote
// one exactly. Any local object in the window absent from the remote
// response (a deletion that slipped past the token window) is purged.
func (r *ObjectReconciler) updateBatch(ctx context.Context, localCalendarID, remoteCalendarID int64, names []string) error {
	return RunE(ctx, r.scope, nil, "updateBatch", func(ctx context.Context, txn Txn) error {
		remoteHome, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil || remoteHome == nil {
			return err
		}
		remoteCalendar, err := remoteHome.ChildWithID(ctx, remoteCalendarID)
		if err != nil {
			return err
		}
		if remoteCalendar == nil {
			return nil
		}
		remoteObjs, err := remoteCalendar.ObjectResourcesWithNames(ctx, names)
		if err != nil {
			return err
		}
		remoteByName := make(map[string]*RemoteCalendarObject, len(remoteObjs))
		for _, o := range remoteObjs {
			remoteByName[o.Name()] = o
		}

		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return err
		}
		if localHome == nil {
			return nil
		}
		localCalendar, err := localHome.ChildWithID(ctx, localCalendarID)
		if err != nil {
			return err
		}
		if localCalendar == nil {
			return nil
		}
		localObjs, err := localCalendar.ObjectResourcesWithNames(ctx, names)
		if err != nil {
			return err
		}
		localByName := make(map[string]CalendarObject, len(localObjs))
		for _, o := range localObjs {
			localByName[o.Name()] = o
		}

		txn.SetMigrating(true)
		defer txn.SetMigrating(false)

		for name, remoteObj := range remoteByName {
			component, err := remoteObj.Component(ctx)
			if err != nil {
				return err
			}
			component.MD5 = remoteObj.MD5()

			if localObj, exists := localByName[name]; exists {
				if err := localObj.SetComponentRaw(ctx, component); err != nil {
					return err
				}
				if err := localObj.CopyMetadata(ctx, remoteObj); err != nil {
					return err
				}
				delete(localByName, name)
				continue
			}

			localObj, err := localCalendar.CreateObjectWithNameRaw(ctx, name, component)
			if err != nil {
				return err
			}
			if err := txn.CalendarObjectMigrationRecords().Insert(ctx, &CalendarObjectMigrationRecord{
				CalendarHomeResourceID: r.homeID,
				RemoteResourceID:       remoteObj.ID(),
				LocalResourceID:        localObj.ID(),
			}); err != nil {
				return err
			}
			if err := localObj.CopyMetadata(ctx, remoteObj); err != nil {
				return err
			}
		}

		// Anything left in localByName was in this batch's name window
		// but absent from the remote response - a deletion the token
		// window missed.
		for _, localObj := range localByName {
			if err := localObj.Purge(ctx); err != nil {
				return err
			}
			if err := txn.CalendarObjectMigrationRecords().DeleteByLocalObjectID(ctx, r.homeID, localObj.ID()); err != nil {
				return err
			}
		}
		return nil
	})
}
