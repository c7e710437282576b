package migration

import "context"

// CalendarMigrationRecord is the per-calendar sync cursor, keyed by
// (homeId, remoteCalendarId).
type CalendarMigrationRecord struct {
	CalendarHomeResourceID int64
	RemoteResourceID       int64
	LocalResourceID        int64
	LastSyncToken          string // empty means "never synced"

	isNew bool
}

// IsNew reports whether this record has not yet been inserted, used to
// decide insert vs. update in updateSyncState.
func (r *CalendarMigrationRecord) IsNew() bool { return r.isNew }

// Duplicate returns a copy suitable for use against a different
// transaction than the one it was loaded under, needed because a
// record loaded in one transaction carries that transaction's identity
// and cannot simply be reused against another.
func (r *CalendarMigrationRecord) Duplicate() *CalendarMigrationRecord {
	cp := *r
	return &cp
}

// CalendarObjectMigrationRecord is the stable remote->local object id
// map, keyed by (homeId, remoteObjectId).
type CalendarObjectMigrationRecord struct {
	CalendarHomeResourceID int64
	RemoteResourceID       int64
	LocalResourceID        int64
}

// AttachmentMigrationRecord is the stable remote->local attachment id
// map, keyed by (homeId, remoteAttachmentId).
type AttachmentMigrationRecord struct {
	CalendarHomeResourceID int64
	RemoteResourceID       int64
	LocalResourceID        int64
}

// CalendarMigrationRecordStore persists CalendarMigrationRecord rows
// for one home. Rows are deleted only through DeleteByRemoteID, when
// their local calendar is purged.
type CalendarMigrationRecordStore interface {
	ByHome(ctx context.Context, homeID int64) ([]*CalendarMigrationRecord, error)
	Insert(ctx context.Context, r *CalendarMigrationRecord) error
	UpdateSyncToken(ctx context.Context, r *CalendarMigrationRecord, newToken string) error
	DeleteByRemoteID(ctx context.Context, homeID, remoteID int64) error
}

// CalendarObjectMigrationRecordStore persists
// CalendarObjectMigrationRecord rows for one home.
type CalendarObjectMigrationRecordStore interface {
	ByHome(ctx context.Context, homeID int64) ([]*CalendarObjectMigrationRecord, error)
	Insert(ctx context.Context, r *CalendarObjectMigrationRecord) error
	// DeleteByLocalObjectID removes the mapping row for a local object
	// that has just been purged, for stores that do not enforce that
	// cascade at the schema level.
	DeleteByLocalObjectID(ctx context.Context, homeID, localObjectID int64) error
}

// AttachmentMigrationRecordStore persists AttachmentMigrationRecord
// rows for one home.
type AttachmentMigrationRecordStore interface {
	ByHome(ctx context.Context, homeID int64) ([]*AttachmentMigrationRecord, error)
	Insert(ctx context.Context, r *AttachmentMigrationRecord) error
	DeleteByRemoteID(ctx context.Context, homeID, remoteID int64) error
}

// calendarSyncState indexes CalendarMigrationRecord by remote id, the
// shape getSyncState/getCalendarSyncList work with.
type calendarSyncState map[int64]*CalendarMigrationRecord

func loadCalendarSyncState(ctx context.Context, store CalendarMigrationRecordStore, homeID int64) (calendarSyncState, error) {
	records, err := store.ByHome(ctx, homeID)
	if err != nil {
		return nil, err
	}
	state := make(calendarSyncState, len(records))
	for _, r := range records {
		state[r.RemoteResourceID] = r
	}
	return state, nil
}
