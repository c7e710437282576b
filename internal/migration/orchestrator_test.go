package migration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/caldavpod/podmigrate/internal/migration"
	"github.com/caldavpod/podmigrate/internal/store/memory"
)

// fakeConduit answers migration.Conduit directly off an in-memory
// migration.Home, the same way cmd/podmigrate's storeConduit backs a
// real conduit.Server - except here it's wired straight into the
// orchestrator under test, with no socket or wire codec in between.
type fakeConduit struct {
	home   migration.Home
	diruid string

	individual []migration.DelegateAssignment
	group      []delegateGroupFixture
	external   []migration.DelegateAssignment
}

type delegateGroupFixture struct {
	assignment migration.DelegateAssignment
}

func newFakeConduit(home migration.Home, diruid string) *fakeConduit {
	return &fakeConduit{home: home, diruid: diruid}
}

func (c *fakeConduit) HomeResourceID(ctx context.Context, record *migration.DirectoryRecord) (int64, error) {
	if c.home == nil || record == nil || record.UID != c.diruid {
		return 0, nil
	}
	return c.home.ID(), nil
}

func (c *fakeConduit) HomeMetadata(ctx context.Context, homeID int64) (migration.HomeMetadata, error) {
	return c.home.HomeMetadata(ctx)
}

func (c *fakeConduit) LoadChildren(ctx context.Context, homeID int64) ([]migration.RemoteCalendarInfo, error) {
	calendars, err := c.home.LoadChildren(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]migration.RemoteCalendarInfo, 0, len(calendars))
	for _, cal := range calendars {
		token, err := cal.SyncToken(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, migration.RemoteCalendarInfo{ID: cal.ID(), Name: cal.Name(), Owned: cal.Owned(), SyncToken: token})
	}
	return out, nil
}

func (c *fakeConduit) ChildWithID(ctx context.Context, homeID, calendarID int64) (*migration.RemoteCalendarInfo, error) {
	cal, err := c.home.ChildWithID(ctx, calendarID)
	if err != nil || cal == nil {
		return nil, err
	}
	token, err := cal.SyncToken(ctx)
	if err != nil {
		return nil, err
	}
	return &migration.RemoteCalendarInfo{ID: cal.ID(), Name: cal.Name(), Owned: cal.Owned(), SyncToken: token}, nil
}

func (c *fakeConduit) ResourceNamesSinceToken(ctx context.Context, homeID, calendarID int64, token string) (changed, deleted []string, invalid bool, err error) {
	cal, err := c.home.ChildWithID(ctx, calendarID)
	if err != nil || cal == nil {
		return nil, nil, false, err
	}
	return cal.ResourceNamesSinceToken(ctx, token)
}

func (c *fakeConduit) ObjectResourcesWithNames(ctx context.Context, homeID, calendarID int64, names []string) ([]migration.RemoteObjectInfo, error) {
	cal, err := c.home.ChildWithID(ctx, calendarID)
	if err != nil || cal == nil {
		return nil, err
	}
	objs, err := cal.ObjectResourcesWithNames(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make([]migration.RemoteObjectInfo, 0, len(objs))
	for _, o := range objs {
		out = append(out, migration.RemoteObjectInfo{ID: o.ID(), Name: o.Name(), MD5: o.MD5()})
	}
	return out, nil
}

func (c *fakeConduit) ObjectComponent(ctx context.Context, homeID, calendarID int64, objectID int64) (migration.Component, error) {
	cal, err := c.home.ChildWithID(ctx, calendarID)
	if err != nil || cal == nil {
		return migration.Component{}, err
	}
	objs, err := cal.ObjectResourcesWithNames(ctx, nil)
	if err != nil {
		return migration.Component{}, err
	}
	for _, o := range objs {
		if o.ID() == objectID {
			return o.Component(ctx)
		}
	}
	return migration.Component{}, fmt.Errorf("fakeConduit: object %d not found", objectID)
}

func (c *fakeConduit) AllAttachments(ctx context.Context, homeID int64) ([]migration.RemoteAttachmentInfo, error) {
	atts, err := c.home.GetAllAttachments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]migration.RemoteAttachmentInfo, 0, len(atts))
	for _, a := range atts {
		out = append(out, migration.RemoteAttachmentInfo{ID: a.ID(), MD5: a.MD5()})
	}
	return out, nil
}

func (c *fakeConduit) AttachmentLinks(ctx context.Context, homeID int64) ([]migration.AttachmentLink, error) {
	return c.home.GetAttachmentLinks(ctx)
}

func (c *fakeConduit) ReadAttachmentData(ctx context.Context, homeID int64, remoteAttachmentID int64, into migration.Attachment) error {
	source, err := c.home.GetAttachmentByID(ctx, remoteAttachmentID)
	if err != nil {
		return err
	}
	if err := into.CopyRemote(ctx, source); err != nil {
		return err
	}
	data, err := source.ReadData(ctx)
	if err != nil {
		return err
	}
	return into.WriteData(ctx, data)
}

func (c *fakeConduit) DumpIndividualDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return c.individual, nil
}

func (c *fakeConduit) DumpGroupDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	out := make([]migration.DelegateAssignment, len(c.group))
	for i, g := range c.group {
		out[i] = g.assignment
	}
	return out, nil
}

func (c *fakeConduit) DumpExternalDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return c.external, nil
}

func (c *fakeConduit) DisableHome(ctx context.Context, homeID int64) error {
	if err := c.home.SetOwnerKey(ctx, "Migrating-"+c.diruid); err != nil {
		return err
	}
	return c.home.SetStatus(ctx, migration.HomeStatusDisabled)
}

func (c *fakeConduit) EnableHome(ctx context.Context, homeID int64) error {
	if err := c.home.SetOwnerKey(ctx, c.diruid); err != nil {
		return err
	}
	return c.home.SetStatus(ctx, migration.HomeStatusNormal)
}

func (c *fakeConduit) PurgeHome(ctx context.Context, homeID int64) error {
	calendars, err := c.home.LoadChildren(ctx)
	if err != nil {
		return err
	}
	for _, cal := range calendars {
		if err := cal.Purge(ctx); err != nil {
			return err
		}
	}
	return nil
}

var _ migration.Conduit = (*fakeConduit)(nil)

// fixture builds a remote store with one owned calendar holding one
// object and one linked attachment, plus a destination store and
// directory pointed at the same diruid.
type fixture struct {
	diruid      string
	remoteStore *memory.Store
	remoteHome  migration.Home
	destStore   *memory.Store
	directory   *memory.Directory
	conduit     *fakeConduit
}

func newFixture(t *testing.T, ctx context.Context) *fixture {
	t.Helper()
	const diruid = "user-42"

	remoteStore := memory.New()
	rtxn, err := remoteStore.NewTransaction(ctx, "seed remote")
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	remoteHome, err := rtxn.CalendarHomeWithUID(ctx, diruid, true, "")
	if err != nil {
		t.Fatalf("CalendarHomeWithUID: %v", err)
	}
	cal, err := remoteHome.CreateChildWithName(ctx, "home")
	if err != nil {
		t.Fatalf("CreateChildWithName: %v", err)
	}
	obj, err := cal.CreateObjectWithNameRaw(ctx, "event1.ics", migration.Component{Data: []byte("BEGIN:VEVENT\nEND:VEVENT"), MD5: "md5-1"})
	if err != nil {
		t.Fatalf("CreateObjectWithNameRaw: %v", err)
	}
	creator := remoteHome.(interface {
		CreateAttachmentPlaceholder(ctx context.Context, homeID int64) (migration.Attachment, error)
	})
	att, err := creator.CreateAttachmentPlaceholder(ctx, remoteHome.ID())
	if err != nil {
		t.Fatalf("CreateAttachmentPlaceholder: %v", err)
	}
	// Attachment.MD5 has no direct setter; stamp one through CopyRemote
	// from a throwaway source, same as a real attachment store would
	// receive it from ReadAttachmentData during sync.
	if err := att.CopyRemote(ctx, stubAttachment{md5: "att-md5-1"}); err != nil {
		t.Fatalf("seeding attachment md5: %v", err)
	}
	if err := att.WriteData(ctx, []byte("attachment payload bytes")); err != nil {
		t.Fatalf("seeding attachment data: %v", err)
	}
	linker := remoteHome.(migration.AttachmentLinkInserter)
	if err := linker.InsertAttachmentLink(ctx, migration.AttachmentLink{AttachmentID: att.ID(), CalendarObjectID: obj.ID()}); err != nil {
		t.Fatalf("InsertAttachmentLink: %v", err)
	}
	if err := rtxn.Commit(); err != nil {
		t.Fatalf("commit remote seed: %v", err)
	}

	destStore := memory.New()
	directory := memory.NewDirectory()
	directory.Put(&migration.DirectoryRecord{UID: diruid, ThisServer: false})

	return &fixture{
		diruid:      diruid,
		remoteStore: remoteStore,
		remoteHome:  remoteHome,
		destStore:   destStore,
		directory:   directory,
		conduit:     newFakeConduit(remoteHome, diruid),
	}
}

type stubAttachment struct{ md5 string }

func (stubAttachment) ID() int64                                             { return 0 }
func (s stubAttachment) MD5() string                                        { return s.md5 }
func (stubAttachment) Remove(context.Context, bool) error                    { return nil }
func (stubAttachment) CopyRemote(context.Context, migration.Attachment) error { return nil }
func (stubAttachment) ReadData(context.Context) ([]byte, error)              { return nil, nil }
func (stubAttachment) WriteData(context.Context, []byte) error               { return nil }

func TestMigrateHereFullRun(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, ctx)

	orch := migration.NewOrchestrator(fx.destStore, fx.conduit, fx.directory, fx.diruid, nil, migration.ExtensionPoints{})
	if err := orch.MigrateHere(ctx); err != nil {
		t.Fatalf("MigrateHere: %v", err)
	}

	txn, err := fx.destStore.NewTransaction(ctx, "verify")
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	defer txn.Abort()

	home, err := txn.CalendarHomeWithUID(ctx, fx.diruid, false, "")
	if err != nil {
		t.Fatalf("CalendarHomeWithUID: %v", err)
	}
	if home == nil {
		t.Fatal("destination home not found under the real diruid after switchover")
	}
	if home.Status() != migration.HomeStatusNormal {
		t.Fatalf("destination home status = %v, want HomeStatusNormal", home.Status())
	}

	calendars, err := home.LoadChildren(ctx)
	if err != nil {
		t.Fatalf("LoadChildren: %v", err)
	}
	if len(calendars) != 1 {
		t.Fatalf("len(calendars) = %d, want 1", len(calendars))
	}
	objs, err := calendars[0].ObjectResourcesWithNames(ctx, nil)
	if err != nil {
		t.Fatalf("ObjectResourcesWithNames: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("len(objs) = %d, want 1", len(objs))
	}
	if objs[0].MD5() != "md5-1" {
		t.Fatalf("objs[0].MD5() = %q, want %q", objs[0].MD5(), "md5-1")
	}

	links, err := home.GetAttachmentLinks(ctx)
	if err != nil {
		t.Fatalf("GetAttachmentLinks: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("len(links) = %d, want 1 (attachment link rebound during RECONCILE)", len(links))
	}
	if links[0].CalendarObjectID != objs[0].ID() {
		t.Fatalf("link.CalendarObjectID = %d, want %d", links[0].CalendarObjectID, objs[0].ID())
	}

	localAtt, err := home.GetAttachmentByID(ctx, links[0].AttachmentID)
	if err != nil {
		t.Fatalf("GetAttachmentByID: %v", err)
	}
	if localAtt.MD5() != "att-md5-1" {
		t.Fatalf("localAtt.MD5() = %q, want %q", localAtt.MD5(), "att-md5-1")
	}
	data, err := localAtt.ReadData(ctx)
	if err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if string(data) != "attachment payload bytes" {
		t.Fatalf("localAtt blob bytes = %q, want %q", data, "attachment payload bytes")
	}

	// Source home was purged in PURGE_SOURCE: its calendar is gone.
	remoteChildren, err := fx.remoteHome.LoadChildren(ctx)
	if err != nil {
		t.Fatalf("remote LoadChildren: %v", err)
	}
	if len(remoteChildren) != 0 {
		t.Fatalf("remote still has %d calendars after PURGE_SOURCE, want 0", len(remoteChildren))
	}
}

func TestInitRejectsAlreadyResident(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, ctx)
	fx.directory.Put(&migration.DirectoryRecord{UID: fx.diruid, ThisServer: true})

	orch := migration.NewOrchestrator(fx.destStore, fx.conduit, fx.directory, fx.diruid, nil, migration.ExtensionPoints{})
	err := orch.MigrateHere(ctx)
	if err == nil {
		t.Fatal("expected an error for a user already resident on this pod")
	}
	var phaseErr *migration.PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("error %v is not a *migration.PhaseError", err)
	}
	if phaseErr.Phase != migration.PhaseInit {
		t.Fatalf("phaseErr.Phase = %v, want PhaseInit", phaseErr.Phase)
	}
	if !errors.Is(err, migration.ErrInvalidTarget) {
		t.Fatalf("error %v does not wrap migration.ErrInvalidTarget", err)
	}
}

func TestInitMissingDirectoryRecord(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, ctx)
	emptyDirectory := memory.NewDirectory()

	orch := migration.NewOrchestrator(fx.destStore, fx.conduit, emptyDirectory, fx.diruid, nil, migration.ExtensionPoints{})
	err := orch.MigrateHere(ctx)
	if err == nil {
		t.Fatal("expected an error for a missing directory record")
	}
	var phaseErr *migration.PhaseError
	if !errors.As(err, &phaseErr) {
		t.Fatalf("error %v is not a *migration.PhaseError", err)
	}
	if phaseErr.Phase != migration.PhaseInit {
		t.Fatalf("phaseErr.Phase = %v, want PhaseInit", phaseErr.Phase)
	}
}

func TestPhaseErrorRetriable(t *testing.T) {
	cases := []struct {
		phase migration.Phase
		want  bool
	}{
		{migration.PhaseInit, true},
		{migration.PhaseBulkSync, true},
		{migration.PhaseWarmSync, true},
		{migration.PhaseDisableSource, false},
		{migration.PhaseFinalSync, false},
		{migration.PhaseReconcile, false},
		{migration.PhaseEnableDestination, false},
		{migration.PhasePurgeSource, false},
	}
	for _, c := range cases {
		err := &migration.PhaseError{Phase: c.phase, Err: fmt.Errorf("boom")}
		if got := err.Retriable(); got != c.want {
			t.Errorf("PhaseError{Phase: %s}.Retriable() = %v, want %v", c.phase, got, c.want)
		}
	}
}

func TestRollbackReenablesRemoteHome(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, ctx)

	orch := migration.NewOrchestrator(fx.destStore, fx.conduit, fx.directory, fx.diruid, nil, migration.ExtensionPoints{})
	if err := orch.RunPhase(ctx, migration.PhaseInit); err != nil {
		t.Fatalf("RunPhase(INIT): %v", err)
	}
	if err := orch.RunPhase(ctx, migration.PhaseDisableSource); err != nil {
		t.Fatalf("RunPhase(DISABLE_SOURCE): %v", err)
	}
	if fx.remoteHome.Status() != migration.HomeStatusDisabled {
		t.Fatalf("remote home status = %v, want HomeStatusDisabled", fx.remoteHome.Status())
	}

	if err := orch.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if fx.remoteHome.Status() != migration.HomeStatusNormal {
		t.Fatalf("remote home status after rollback = %v, want HomeStatusNormal", fx.remoteHome.Status())
	}
}

func TestOrderedPhasesSequence(t *testing.T) {
	want := []migration.Phase{
		migration.PhaseInit,
		migration.PhaseBulkSync,
		migration.PhaseWarmSync,
		migration.PhaseDisableSource,
		migration.PhaseFinalSync,
		migration.PhaseReconcile,
		migration.PhaseEnableDestination,
		migration.PhasePurgeSource,
	}
	got := migration.OrderedPhases()
	if len(got) != len(want) {
		t.Fatalf("len(OrderedPhases()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("OrderedPhases()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	// Mutating the returned slice must not affect the next call.
	got[0] = "TAMPERED"
	again := migration.OrderedPhases()
	if again[0] != migration.PhaseInit {
		t.Fatalf("OrderedPhases() leaked its backing array: got %s after caller mutation", again[0])
	}
}

func TestNoRemoteHomeIsNoOp(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, ctx)
	// A directory record for a uid the conduit has never heard of: the
	// fakeConduit's HomeResourceID returns (0, nil), the "no such home"
	// contract RemoteHome construction relies on.
	const unknownUID = "user-does-not-exist"
	fx.directory.Put(&migration.DirectoryRecord{UID: unknownUID, ThisServer: false})

	orch := migration.NewOrchestrator(fx.destStore, fx.conduit, fx.directory, unknownUID, nil, migration.ExtensionPoints{})
	if err := orch.RunPhase(ctx, migration.PhaseInit); err != nil {
		t.Fatalf("RunPhase(INIT): %v", err)
	}
	if err := orch.RunPhase(ctx, migration.PhaseBulkSync); err != nil {
		t.Fatalf("RunPhase(BULK_SYNC) with no remote home should be a no-op, got: %v", err)
	}

	if err := orch.RunPhase(ctx, migration.PhaseDisableSource); err == nil {
		t.Fatal("expected ErrRemoteUnavailable from DISABLE_SOURCE with no remote home")
	}
}
