package conduit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/caldavpod/podmigrate/internal/conduit"
	"github.com/caldavpod/podmigrate/internal/migration"
	"github.com/caldavpod/podmigrate/internal/store/memory"
)

func TestCompatible(t *testing.T) {
	cases := []struct {
		peer string
		want bool
	}{
		{conduit.ProtocolVersion, true},
		{"v1.4.2", true},
		{"v2.0.0", false},
		{"not-a-version", false},
	}
	for _, c := range cases {
		if got := conduit.Compatible(c.peer); got != c.want {
			t.Errorf("Compatible(%q) = %v, want %v", c.peer, got, c.want)
		}
	}
}

func startServer(t *testing.T, ctx context.Context) (socketPath string, home migration.Home, attachmentID int64) {
	t.Helper()
	store := memory.New()
	txn, err := store.NewTransaction(ctx, "seed")
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	home, err = txn.CalendarHomeWithUID(ctx, "user-1", true, "")
	if err != nil {
		t.Fatalf("CalendarHomeWithUID: %v", err)
	}
	if _, err := home.CreateChildWithName(ctx, "home"); err != nil {
		t.Fatalf("CreateChildWithName: %v", err)
	}

	creator := home.(interface {
		CreateAttachmentPlaceholder(ctx context.Context, homeID int64) (migration.Attachment, error)
	})
	att, err := creator.CreateAttachmentPlaceholder(ctx, home.ID())
	if err != nil {
		t.Fatalf("CreateAttachmentPlaceholder: %v", err)
	}
	if err := att.WriteData(ctx, []byte("wire transfer payload")); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	attachmentID = att.ID()

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	dir := memory.NewDirectory()
	dir.Put(&migration.DirectoryRecord{UID: "user-1", ThisServer: false})

	socketPath = filepath.Join(t.TempDir(), "conduit.sock")
	srv := conduit.NewServer(socketPath, home, dir, loopbackDelegate{home: home})

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(serveCtx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the listener a moment to come up before the client dials.
	deadline := time.Now().Add(2 * time.Second)
	for {
		client, err := conduit.Dial(ctx, socketPath)
		if err == nil {
			client.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up at %s: %v", socketPath, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	return socketPath, home, attachmentID
}

// loopbackDelegate answers the Conduit-shaped delegate surface the
// same way cmd/podmigrate's storeConduit does, directly off the home
// under test - just enough for the round-trip test below.
type loopbackDelegate struct{ home migration.Home }

func (d loopbackDelegate) HomeResourceID(ctx context.Context, record *migration.DirectoryRecord) (int64, error) {
	return d.home.ID(), nil
}
func (d loopbackDelegate) HomeMetadata(ctx context.Context, homeID int64) (migration.HomeMetadata, error) {
	return d.home.HomeMetadata(ctx)
}
func (d loopbackDelegate) LoadChildren(ctx context.Context, homeID int64) ([]migration.RemoteCalendarInfo, error) {
	return nil, nil
}
func (d loopbackDelegate) ChildWithID(ctx context.Context, homeID, calendarID int64) (*migration.RemoteCalendarInfo, error) {
	return nil, nil
}
func (d loopbackDelegate) ResourceNamesSinceToken(ctx context.Context, homeID, calendarID int64, token string) ([]string, []string, bool, error) {
	return nil, nil, false, nil
}
func (d loopbackDelegate) ObjectResourcesWithNames(ctx context.Context, homeID, calendarID int64, names []string) ([]migration.RemoteObjectInfo, error) {
	return nil, nil
}
func (d loopbackDelegate) ObjectComponent(ctx context.Context, homeID, calendarID, objectID int64) (migration.Component, error) {
	return migration.Component{}, nil
}
func (d loopbackDelegate) AllAttachments(ctx context.Context, homeID int64) ([]migration.RemoteAttachmentInfo, error) {
	return nil, nil
}
func (d loopbackDelegate) AttachmentLinks(ctx context.Context, homeID int64) ([]migration.AttachmentLink, error) {
	return nil, nil
}
func (d loopbackDelegate) ReadAttachmentData(ctx context.Context, homeID, remoteAttachmentID int64, into migration.Attachment) error {
	source, err := d.home.GetAttachmentByID(ctx, remoteAttachmentID)
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
func (d loopbackDelegate) DumpIndividualDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return nil, nil
}
func (d loopbackDelegate) DumpGroupDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return nil, nil
}
func (d loopbackDelegate) DumpExternalDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return nil, nil
}
func (d loopbackDelegate) DisableHome(ctx context.Context, homeID int64) error {
	return d.home.SetStatus(ctx, migration.HomeStatusDisabled)
}
func (d loopbackDelegate) EnableHome(ctx context.Context, homeID int64) error {
	return d.home.SetStatus(ctx, migration.HomeStatusNormal)
}
func (d loopbackDelegate) PurgeHome(ctx context.Context, homeID int64) error { return nil }

var _ migration.Conduit = loopbackDelegate{}

func TestClientServerRoundTrip(t *testing.T) {
	ctx := context.Background()
	socketPath, home, _ := startServer(t, ctx)

	client, err := conduit.Dial(ctx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	id, err := client.HomeResourceID(ctx, &migration.DirectoryRecord{UID: "user-1"})
	if err != nil {
		t.Fatalf("HomeResourceID: %v", err)
	}
	if id != home.ID() {
		t.Fatalf("HomeResourceID = %d, want %d", id, home.ID())
	}

	children, err := client.LoadChildren(ctx, id)
	if err != nil {
		t.Fatalf("LoadChildren: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(LoadChildren) = %d, want 1", len(children))
	}

	if err := client.DisableHome(ctx, id); err != nil {
		t.Fatalf("DisableHome: %v", err)
	}
	if home.Status() != migration.HomeStatusDisabled {
		t.Fatalf("home.Status() after DisableHome = %v, want HomeStatusDisabled", home.Status())
	}
}

// stubLocalAttachment is the destination-side placeholder ReadAttachmentData
// writes into, standing in for a real store's newly-allocated attachment row.
type stubLocalAttachment struct {
	md5  string
	data []byte
}

func (a *stubLocalAttachment) ID() int64 { return 0 }
func (a *stubLocalAttachment) MD5() string { return a.md5 }
func (a *stubLocalAttachment) Remove(context.Context, bool) error { return nil }
func (a *stubLocalAttachment) CopyRemote(ctx context.Context, source migration.Attachment) error {
	a.md5 = source.MD5()
	return nil
}
func (a *stubLocalAttachment) ReadData(context.Context) ([]byte, error) { return a.data, nil }
func (a *stubLocalAttachment) WriteData(ctx context.Context, data []byte) error {
	a.data = data
	return nil
}

func TestReadAttachmentDataTransfersBlobBytes(t *testing.T) {
	ctx := context.Background()
	socketPath, home, attachmentID := startServer(t, ctx)

	client, err := conduit.Dial(ctx, socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	local := &stubLocalAttachment{}
	if err := client.ReadAttachmentData(ctx, home.ID(), attachmentID, local); err != nil {
		t.Fatalf("ReadAttachmentData: %v", err)
	}
	if string(local.data) != "wire transfer payload" {
		t.Fatalf("transferred blob bytes = %q, want %q", local.data, "wire transfer payload")
	}
}

func TestDialRefusedOnMissingSocket(t *testing.T) {
	ctx := context.Background()
	_, err := conduit.Dial(ctx, filepath.Join(t.TempDir(), "no-such.sock"))
	if err == nil {
		t.Fatal("Dial on a socket nothing is listening on should fail")
	}
}
