// Package migration implements the cross-pod calendar home migration core:
// the staged orchestrator and the incremental-sync reconcilers it drives.
//
// The package does not implement a calendar/attachment store, a conduit
// transport, or a directory service. It consumes narrow interfaces for
// each (defined in this file) so the real store, conduit, and directory
// live outside the core as external collaborators.
package migration

import "context"

// HomeStatus is the enabled/disabled state of a calendar home, flipped
// during disableRemoteHome / enableLocalHome (the DISABLE_SOURCE and
// ENABLE_DESTINATION phases).
type HomeStatus int

const (
	HomeStatusNormal HomeStatus = iota
	HomeStatusDisabled
	HomeStatusExternal
)

// Store is the destination data store consumed by the core.
type Store interface {
	// NewTransaction starts a transaction labeled for logging/diagnostics.
	NewTransaction(ctx context.Context, label string) (Txn, error)
}

// Txn is a single destination-store transaction. Every reconciler step
// that touches the destination runs inside one, supplied either by the
// caller or by Scope (txscope.go).
type Txn interface {
	// CalendarHomeWithUID looks up (or, if create is true, creates) the
	// local calendar home for ownerUID. migratingUID is threaded through
	// to the store so a freshly created home can record which directory
	// uid it is being populated for prior to switchover.
	CalendarHomeWithUID(ctx context.Context, ownerUID string, create bool, migratingUID string) (Home, error)

	// GroupByUID resolves (creating locally if necessary) the local group
	// record for a directory group UID, used by the delegate reconciler
	// to remap remote group ids to local ones.
	GroupByUID(ctx context.Context, groupUID string) (*Group, error)

	// SetMigrating sets the per-transaction hint that suppresses
	// scheduling, validation, and hash recomputation on store writes
	// made through this transaction.
	SetMigrating(migrating bool)
	Migrating() bool

	CalendarMigrationRecords() CalendarMigrationRecordStore
	CalendarObjectMigrationRecords() CalendarObjectMigrationRecordStore
	AttachmentMigrationRecords() AttachmentMigrationRecordStore
	DelegateStore() DelegateStore

	Commit() error
	Abort() error
}

// Home is the subset of a calendar home's behavior the core needs,
// implemented by the local (destination) store and mimicked by
// RemoteHome for the source side.
type Home interface {
	ID() int64
	LoadChildren(ctx context.Context) ([]Calendar, error)
	ChildWithID(ctx context.Context, id int64) (Calendar, error)
	CreateChildWithName(ctx context.Context, name string) (Calendar, error)
	CopyMetadata(ctx context.Context, source Home) error

	GetAllAttachments(ctx context.Context) ([]Attachment, error)
	GetAttachmentByID(ctx context.Context, id int64) (Attachment, error)
	GetAttachmentLinks(ctx context.Context) ([]AttachmentLink, error)

	// SetOwnerKey renames the owner-key column; used for the
	// Migrating-<diruid> <-> <diruid> swap at switchover and for
	// disabling the remote home.
	SetOwnerKey(ctx context.Context, ownerKey string) error
	SetStatus(ctx context.Context, status HomeStatus) error
	Status() HomeStatus

	// HomeMetadata returns the copyable home-level metadata (alarms,
	// default calendars, etc).
	HomeMetadata(ctx context.Context) (HomeMetadata, error)
	ApplyHomeMetadata(ctx context.Context, m HomeMetadata) error
}

// HomeMetadata is the set of home-level fields copied during
// syncCalendarHomeMetaData.
type HomeMetadata struct {
	DefaultCalendarID      int64
	DefaultTasksCalendarID int64
	Alarms                 map[string]string
}

// Calendar is an owned or shared collection within a home.
type Calendar interface {
	ID() int64
	Name() string
	Owned() bool
	SyncToken(ctx context.Context) (string, error)

	// ResourceNamesSinceToken returns names changed/deleted since token.
	// invalid is true when the server could not honor the token (e.g. it
	// expired), meaning the caller should treat this as a full re-diff by
	// content hash rather than trusting the (likely incomplete) sets.
	ResourceNamesSinceToken(ctx context.Context, token string) (changed, deleted []string, invalid bool, err error)

	ObjectResourcesWithNames(ctx context.Context, names []string) ([]CalendarObject, error)

	Purge(ctx context.Context) error
	CopyMetadata(ctx context.Context, source Calendar) error

	// CreateObjectWithNameRaw creates a calendar object using the raw
	// internal write path: bypasses validation and scheduling side
	// effects.
	CreateObjectWithNameRaw(ctx context.Context, name string, component Component) (CalendarObject, error)
}

// CalendarObject is one event/task/etc identified by name within its
// calendar.
type CalendarObject interface {
	ID() int64
	Name() string
	MD5() string
	Component(ctx context.Context) (Component, error)
	Purge(ctx context.Context) error
	CopyMetadata(ctx context.Context, source CalendarObject) error

	// SetComponentRaw overwrites this object's component using the raw
	// internal write path, bypassing validation, scheduling, and hash
	// recomputation (the md5 on Component is trusted as-is).
	SetComponentRaw(ctx context.Context, component Component) error
}

// Component is an object's calendar-data payload plus the content hash
// it should be stored under. During migration the md5 is stamped from
// the remote object so the local store records an identical hash,
// avoiding a bulk client resync after cutover.
type Component struct {
	Data []byte
	MD5  string
}

// Attachment is a managed binary blob owned by a home.
type Attachment interface {
	ID() int64
	MD5() string
	Remove(ctx context.Context, adjustQuota bool) error
	// CopyRemote overwrites this attachment's metadata from a remote
	// attachment's metadata (not the blob bytes - see ReadData/WriteData).
	CopyRemote(ctx context.Context, source Attachment) error

	// ReadData returns this attachment's blob bytes, for the source side
	// of a blob transfer.
	ReadData(ctx context.Context) ([]byte, error)
	// WriteData stores blob bytes onto this attachment, for the
	// destination side of a blob transfer.
	WriteData(ctx context.Context, data []byte) error
}

// AttachmentLink binds an attachment to the calendar object that
// references it (the ATTACHMENT_CALENDAR_OBJECT join row).
type AttachmentLink struct {
	AttachmentID     int64
	CalendarObjectID int64
}

// Group is a local directory group record, keyed by the directory's
// group UID.
type Group struct {
	GroupID  int64
	GroupUID string
}

// DirectoryRecord is the minimal directory-service record the core
// needs: the migrating user's uid and whether they already live on
// this pod.
type DirectoryRecord struct {
	UID        string
	ThisServer bool
}

// DirectoryService resolves directory records. The real directory
// service (user lookup, home-server determination) is an external
// collaborator out of scope for this package; this interface is all
// the core consumes of it.
type DirectoryService interface {
	RecordWithUID(ctx context.Context, uid string) (*DirectoryRecord, error)
}

// DelegateAssignment is one delegator->delegate row, for the three
// delegate kinds (individual, group, external).
type DelegateAssignment struct {
	DelegatorUID string
	DelegateUID  string // empty for group assignments
	GroupUID     string // set only for group assignments
	ReadOnly     bool
}

// DelegateStore is the subset of delegate persistence the core needs
// on the destination transaction.
type DelegateStore interface {
	InsertIndividual(ctx context.Context, a DelegateAssignment) error
	InsertGroup(ctx context.Context, a DelegateAssignment, localGroupID int64) error
	InsertExternal(ctx context.Context, a DelegateAssignment) error
}
