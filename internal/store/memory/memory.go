// Package memory provides in-memory fakes of every narrow interface
// the migration core (internal/migration) consumes: Store/Txn/Home/
// Calendar/CalendarObject/Attachment/DirectoryService. It exists to
// exercise the orchestrator and reconcilers end to end in tests
// without a real calendar store or conduit transport.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/caldavpod/podmigrate/internal/migration"
)

var (
	_ migration.Store           = (*Store)(nil)
	_ migration.Txn             = (*txn)(nil)
	_ migration.Home            = (*home)(nil)
	_ migration.Calendar        = (*calendar)(nil)
	_ migration.CalendarObject  = (*object)(nil)
	_ migration.Attachment      = (*attachment)(nil)
	_ migration.DirectoryService = (*Directory)(nil)
	_ migration.DelegateStore   = (*delegateStore)(nil)
)

// Store is an in-memory migration.Store. Every Txn it hands out shares
// the same underlying homes/ids/records, as if they were rows in one
// database. Writes go straight to those shared maps, so they are
// visible to the next transaction at once; Commit and Abort only mark
// the Txn done, and writes made before an Abort are not rolled back.
type Store struct {
	mu sync.Mutex

	nextID int64

	homesByOwner map[string]*home
	homesByID    map[int64]*home
	groupsByUID  map[string]*migration.Group

	calendarRecords       []*migration.CalendarMigrationRecord
	calendarObjectRecords []*migration.CalendarObjectMigrationRecord
	attachmentRecords     []*migration.AttachmentMigrationRecord

	individualDelegates []migration.DelegateAssignment
	groupDelegates      []delegateGroupRow
	externalDelegates   []migration.DelegateAssignment
}

type delegateGroupRow struct {
	assignment   migration.DelegateAssignment
	localGroupID int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		homesByOwner: make(map[string]*home),
		homesByID:    make(map[int64]*home),
		groupsByUID:  make(map[string]*migration.Group),
	}
}

func (s *Store) nextResourceID() int64 {
	return atomic.AddInt64(&s.nextID, 1)
}

// NewTransaction returns a Txn over this store's shared state (no
// snapshot is taken). label is accepted (for parity with migration.Store) and
// otherwise ignored - there is nowhere to log it without a Logger.
func (s *Store) NewTransaction(ctx context.Context, label string) (migration.Txn, error) {
	return &txn{store: s}, nil
}

// txn is a migration.Txn that reads/writes the Store directly, behind
// its mutex, and tracks whether it was ever committed so Scope's
// deferred Abort-if-uncommitted is a safe no-op after a real Commit.
type txn struct {
	store     *Store
	migrating bool
	done      bool
}

func (t *txn) SetMigrating(m bool) { t.migrating = m }
func (t *txn) Migrating() bool     { return t.migrating }

func (t *txn) Commit() error {
	t.done = true
	return nil
}

func (t *txn) Abort() error {
	t.done = true
	return nil
}

func (t *txn) CalendarHomeWithUID(ctx context.Context, ownerUID string, create bool, migratingUID string) (migration.Home, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if h, ok := t.store.homesByOwner[ownerUID]; ok {
		return h, nil
	}
	if !create {
		return nil, nil
	}

	h := &home{
		store:        t.store,
		id:           t.store.nextResourceID(),
		ownerUID:     ownerUID,
		migratingUID: migratingUID,
		children:     make(map[int64]*calendar),
		attachments:  make(map[int64]*attachment),
	}
	t.store.homesByOwner[ownerUID] = h
	t.store.homesByID[h.id] = h
	return h, nil
}

func (t *txn) GroupByUID(ctx context.Context, groupUID string) (*migration.Group, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if g, ok := t.store.groupsByUID[groupUID]; ok {
		return g, nil
	}
	g := &migration.Group{GroupID: t.store.nextResourceID(), GroupUID: groupUID}
	t.store.groupsByUID[groupUID] = g
	return g, nil
}

func (t *txn) CalendarMigrationRecords() migration.CalendarMigrationRecordStore {
	return calendarRecordStore{store: t.store}
}

func (t *txn) CalendarObjectMigrationRecords() migration.CalendarObjectMigrationRecordStore {
	return calendarObjectRecordStore{store: t.store}
}

func (t *txn) AttachmentMigrationRecords() migration.AttachmentMigrationRecordStore {
	return attachmentRecordStore{store: t.store}
}

func (t *txn) DelegateStore() migration.DelegateStore {
	return delegateStore{store: t.store}
}

// home is the in-memory migration.Home.
type home struct {
	store        *Store
	id           int64
	ownerUID     string
	migratingUID string
	status       migration.HomeStatus
	metadata     migration.HomeMetadata

	mu          sync.Mutex
	children    map[int64]*calendar
	attachments map[int64]*attachment
	links       []migration.AttachmentLink
}

func (h *home) ID() int64 { return h.id }

func (h *home) LoadChildren(ctx context.Context) ([]migration.Calendar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]migration.Calendar, 0, len(h.children))
	for _, c := range h.children {
		out = append(out, c)
	}
	return out, nil
}

func (h *home) ChildWithID(ctx context.Context, id int64) (migration.Calendar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.children[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (h *home) CreateChildWithName(ctx context.Context, name string) (migration.Calendar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &calendar{
		home:    h,
		id:      h.store.nextResourceID(),
		name:    name,
		owned:   true,
		objects: make(map[int64]*object),
	}
	h.children[c.id] = c
	return c, nil
}

func (h *home) CopyMetadata(ctx context.Context, source migration.Home) error {
	m, err := source.HomeMetadata(ctx)
	if err != nil {
		return err
	}
	return h.ApplyHomeMetadata(ctx, m)
}

func (h *home) GetAllAttachments(ctx context.Context) ([]migration.Attachment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]migration.Attachment, 0, len(h.attachments))
	for _, a := range h.attachments {
		out = append(out, a)
	}
	return out, nil
}

func (h *home) GetAttachmentByID(ctx context.Context, id int64) (migration.Attachment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.attachments[id]
	if !ok {
		return nil, fmt.Errorf("store/memory: attachment %d not found", id)
	}
	return a, nil
}

func (h *home) GetAttachmentLinks(ctx context.Context) ([]migration.AttachmentLink, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]migration.AttachmentLink, len(h.links))
	copy(out, h.links)
	return out, nil
}

// InsertAttachmentLink implements migration.AttachmentLinkInserter.
func (h *home) InsertAttachmentLink(ctx context.Context, link migration.AttachmentLink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.links = append(h.links, link)
	return nil
}

// CreateAttachmentPlaceholder implements migration.AttachmentCreator.
func (h *home) CreateAttachmentPlaceholder(ctx context.Context, homeID int64) (migration.Attachment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a := &attachment{id: h.store.nextResourceID()}
	h.attachments[a.id] = a
	return a, nil
}

func (h *home) SetOwnerKey(ctx context.Context, ownerKey string) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	delete(h.store.homesByOwner, h.ownerUID)
	h.ownerUID = ownerKey
	h.store.homesByOwner[ownerKey] = h
	return nil
}

func (h *home) SetStatus(ctx context.Context, status migration.HomeStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
	return nil
}

func (h *home) Status() migration.HomeStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *home) HomeMetadata(ctx context.Context) (migration.HomeMetadata, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metadata, nil
}

func (h *home) ApplyHomeMetadata(ctx context.Context, m migration.HomeMetadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = m
	return nil
}

// calendar is the in-memory migration.Calendar.
type calendar struct {
	home  *home
	id    int64
	name  string
	owned bool
	token int

	mu      sync.Mutex
	objects map[int64]*object
	deleted []string // names deleted since the calendar was created or last reset
}

func (c *calendar) ID() int64    { return c.id }
func (c *calendar) Name() string { return c.name }
func (c *calendar) Owned() bool  { return c.owned }

func (c *calendar) SyncToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("token-%d", c.token), nil
}

func (c *calendar) bumpToken() {
	c.token++
}

func (c *calendar) ResourceNamesSinceToken(ctx context.Context, token string) (changed, deleted []string, invalid bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.objects {
		changed = append(changed, o.name)
	}
	deleted = append(deleted, c.deleted...)
	return changed, deleted, false, nil
}

func (c *calendar) ObjectResourcesWithNames(ctx context.Context, names []string) ([]migration.CalendarObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wantAll := names == nil
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []migration.CalendarObject
	for _, o := range c.objects {
		if wantAll || want[o.name] {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *calendar) Purge(ctx context.Context) error {
	c.home.mu.Lock()
	delete(c.home.children, c.id)
	c.home.mu.Unlock()
	return nil
}

func (c *calendar) CopyMetadata(ctx context.Context, source migration.Calendar) error {
	// Name/supported-components/transp/alarms copy would live here
	// against a real calendar store; the in-memory fake has nothing
	// further to copy beyond what ObjectResourcesWithNames exercises.
	return nil
}

func (c *calendar) CreateObjectWithNameRaw(ctx context.Context, name string, component migration.Component) (migration.CalendarObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &object{
		calendar:  c,
		id:        c.home.store.nextResourceID(),
		name:      name,
		component: component,
	}
	c.objects[o.id] = o
	c.bumpToken()
	return o, nil
}

// object is the in-memory migration.CalendarObject.
type object struct {
	calendar  *calendar
	id        int64
	name      string
	component migration.Component
}

func (o *object) ID() int64    { return o.id }
func (o *object) Name() string { return o.name }
func (o *object) MD5() string  { return o.component.MD5 }

func (o *object) Component(ctx context.Context) (migration.Component, error) {
	return o.component, nil
}

func (o *object) Purge(ctx context.Context) error {
	o.calendar.mu.Lock()
	delete(o.calendar.objects, o.id)
	o.calendar.deleted = append(o.calendar.deleted, o.name)
	o.calendar.mu.Unlock()
	return nil
}

func (o *object) CopyMetadata(ctx context.Context, source migration.CalendarObject) error {
	return nil
}

func (o *object) SetComponentRaw(ctx context.Context, component migration.Component) error {
	o.calendar.mu.Lock()
	defer o.calendar.mu.Unlock()
	o.component = component
	o.calendar.bumpToken()
	return nil
}

// attachment is the in-memory migration.Attachment.
type attachment struct {
	mu   sync.Mutex
	id   int64
	md5  string
	data []byte
}

func (a *attachment) ID() int64 { return a.id }
func (a *attachment) MD5() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.md5
}

func (a *attachment) Remove(ctx context.Context, adjustQuota bool) error {
	return nil
}

func (a *attachment) CopyRemote(ctx context.Context, source migration.Attachment) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.md5 = source.MD5()
	return nil
}

func (a *attachment) ReadData(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data, nil
}

func (a *attachment) WriteData(ctx context.Context, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = data
	return nil
}

// Directory is an in-memory migration.DirectoryService.
type Directory struct {
	mu      sync.Mutex
	records map[string]*migration.DirectoryRecord
}

func NewDirectory() *Directory {
	return &Directory{records: make(map[string]*migration.DirectoryRecord)}
}

func (d *Directory) Put(r *migration.DirectoryRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[r.UID] = r
}

func (d *Directory) RecordWithUID(ctx context.Context, uid string) (*migration.DirectoryRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.records[uid], nil
}

type calendarRecordStore struct{ store *Store }

func (s calendarRecordStore) ByHome(ctx context.Context, homeID int64) ([]*migration.CalendarMigrationRecord, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var out []*migration.CalendarMigrationRecord
	for _, r := range s.store.calendarRecords {
		if r.CalendarHomeResourceID == homeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s calendarRecordStore) Insert(ctx context.Context, r *migration.CalendarMigrationRecord) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.calendarRecords = append(s.store.calendarRecords, r)
	return nil
}

func (s calendarRecordStore) UpdateSyncToken(ctx context.Context, r *migration.CalendarMigrationRecord, newToken string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, existing := range s.store.calendarRecords {
		if existing.CalendarHomeResourceID == r.CalendarHomeResourceID && existing.RemoteResourceID == r.RemoteResourceID {
			existing.LastSyncToken = newToken
		}
	}
	return nil
}

func (s calendarRecordStore) DeleteByRemoteID(ctx context.Context, homeID, remoteID int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	out := s.store.calendarRecords[:0]
	for _, r := range s.store.calendarRecords {
		if r.CalendarHomeResourceID == homeID && r.RemoteResourceID == remoteID {
			continue
		}
		out = append(out, r)
	}
	s.store.calendarRecords = out
	return nil
}

type calendarObjectRecordStore struct{ store *Store }

func (s calendarObjectRecordStore) ByHome(ctx context.Context, homeID int64) ([]*migration.CalendarObjectMigrationRecord, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var out []*migration.CalendarObjectMigrationRecord
	for _, r := range s.store.calendarObjectRecords {
		if r.CalendarHomeResourceID == homeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s calendarObjectRecordStore) Insert(ctx context.Context, r *migration.CalendarObjectMigrationRecord) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.calendarObjectRecords = append(s.store.calendarObjectRecords, r)
	return nil
}

func (s calendarObjectRecordStore) DeleteByLocalObjectID(ctx context.Context, homeID, localObjectID int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	out := s.store.calendarObjectRecords[:0]
	for _, r := range s.store.calendarObjectRecords {
		if r.CalendarHomeResourceID == homeID && r.LocalResourceID == localObjectID {
			continue
		}
		out = append(out, r)
	}
	s.store.calendarObjectRecords = out
	return nil
}

type attachmentRecordStore struct{ store *Store }

func (s attachmentRecordStore) ByHome(ctx context.Context, homeID int64) ([]*migration.AttachmentMigrationRecord, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	var out []*migration.AttachmentMigrationRecord
	for _, r := range s.store.attachmentRecords {
		if r.CalendarHomeResourceID == homeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s attachmentRecordStore) Insert(ctx context.Context, r *migration.AttachmentMigrationRecord) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.attachmentRecords = append(s.store.attachmentRecords, r)
	return nil
}

func (s attachmentRecordStore) DeleteByRemoteID(ctx context.Context, homeID, remoteID int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	out := s.store.attachmentRecords[:0]
	for _, r := range s.store.attachmentRecords {
		if r.CalendarHomeResourceID == homeID && r.RemoteResourceID == remoteID {
			continue
		}
		out = append(out, r)
	}
	s.store.attachmentRecords = out
	return nil
}

type delegateStore struct{ store *Store }

func (s delegateStore) InsertIndividual(ctx context.Context, a migration.DelegateAssignment) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.individualDelegates = append(s.store.individualDelegates, a)
	return nil
}

func (s delegateStore) InsertGroup(ctx context.Context, a migration.DelegateAssignment, localGroupID int64) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.groupDelegates = append(s.store.groupDelegates, delegateGroupRow{assignment: a, localGroupID: localGroupID})
	return nil
}

func (s delegateStore) InsertExternal(ctx context.Context, a migration.DelegateAssignment) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.externalDelegates = append(s.store.externalDelegates, a)
	return nil
}
