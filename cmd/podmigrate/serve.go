package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caldavpod/podmigrate/internal/conduit"
	"github.com/caldavpod/podmigrate/internal/migration"
	"github.com/caldavpod/podmigrate/internal/store/memory"
)

var serveSocket string

var serveCmd = &cobra.Command{
	Use:   "serve <diruid>",
	Short: "Run a reference conduit.Server over a local in-memory home",
	Long: `serve stands up a conduit.Server backed by an in-memory home
for diruid, so a destination pod's migrate command has something real
to dial in local multi-pod demos and manual testing. A production
source pod exposes its own conduit.Server wired to its real calendar
store instead of this in-memory one.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "unix socket path to listen on (required)")
	_ = serveCmd.MarkFlagRequired("socket")
}

func runServe(cmd *cobra.Command, args []string) error {
	diruid := args[0]
	ctx := cmd.Context()

	store := memory.New()
	txn, err := store.NewTransaction(ctx, "serve: seed home for "+diruid)
	if err != nil {
		return err
	}
	home, err := txn.CalendarHomeWithUID(ctx, diruid, true, "")
	if err != nil {
		txn.Abort()
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	dir := memory.NewDirectory()
	dir.Put(&migration.DirectoryRecord{UID: diruid, ThisServer: false})

	srv := conduit.NewServer(serveSocket, home, dir, &storeConduit{store: store, home: home, diruid: diruid})

	fmt.Fprintf(cmd.OutOrStdout(), "serving conduit for %s on %s\n", diruid, serveSocket)
	return srv.Serve(ctx)
}

// storeConduit answers the handful of migration.Conduit operations
// that don't fit the read-only Home/Calendar surface (home-resource-id
// resolution, delegate dumps, disable/enable/purge), backed directly
// by an in-memory home. Delegate dumps return no rows: this in-memory
// reference store has no delegate assignments to report, unlike a real
// source pod's calendar store.
type storeConduit struct {
	store  *memory.Store
	home   migration.Home
	diruid string
}

func (c *storeConduit) HomeResourceID(_ context.Context, record *migration.DirectoryRecord) (int64, error) {
	if record == nil || record.UID != c.diruid {
		return 0, nil
	}
	return c.home.ID(), nil
}

func (c *storeConduit) HomeMetadata(ctx context.Context, homeID int64) (migration.HomeMetadata, error) {
	return c.home.HomeMetadata(ctx)
}

func (c *storeConduit) LoadChildren(ctx context.Context, homeID int64) ([]migration.RemoteCalendarInfo, error) {
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

func (c *storeConduit) ChildWithID(ctx context.Context, homeID, calendarID int64) (*migration.RemoteCalendarInfo, error) {
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

func (c *storeConduit) ResourceNamesSinceToken(ctx context.Context, homeID, calendarID int64, token string) (changed, deleted []string, invalid bool, err error) {
	cal, err := c.home.ChildWithID(ctx, calendarID)
	if err != nil || cal == nil {
		return nil, nil, false, err
	}
	return cal.ResourceNamesSinceToken(ctx, token)
}

func (c *storeConduit) ObjectResourcesWithNames(ctx context.Context, homeID, calendarID int64, names []string) ([]migration.RemoteObjectInfo, error) {
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

func (c *storeConduit) ObjectComponent(ctx context.Context, homeID, calendarID int64, objectID int64) (migration.Component, error) {
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
	return migration.Component{}, fmt.Errorf("storeConduit: object %d not found", objectID)
}

func (c *storeConduit) AllAttachments(ctx context.Context, homeID int64) ([]migration.RemoteAttachmentInfo, error) {
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

func (c *storeConduit) AttachmentLinks(ctx context.Context, homeID int64) ([]migration.AttachmentLink, error) {
	return c.home.GetAttachmentLinks(ctx)
}

func (c *storeConduit) ReadAttachmentData(ctx context.Context, homeID int64, remoteAttachmentID int64, into migration.Attachment) error {
	source, err := c.home.GetAttachmentByID(ctx, remoteAttachmentID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("storeConduit: attachment %d not found", remoteAttachmentID)
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

func (c *storeConduit) DumpIndividualDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return nil, nil
}

func (c *storeConduit) DumpGroupDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return nil, nil
}

func (c *storeConduit) DumpExternalDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return nil, nil
}

func (c *storeConduit) DisableHome(ctx context.Context, homeID int64) error {
	if err := c.home.SetOwnerKey(ctx, "Migrating-"+c.diruid); err != nil {
		return err
	}
	return c.home.SetStatus(ctx, migration.HomeStatusDisabled)
}

func (c *storeConduit) EnableHome(ctx context.Context, homeID int64) error {
	if err := c.home.SetOwnerKey(ctx, c.diruid); err != nil {
		return err
	}
	return c.home.SetStatus(ctx, migration.HomeStatusNormal)
}

func (c *storeConduit) PurgeHome(ctx context.Context, homeID int64) error {
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

var _ migration.Conduit = (*storeConduit)(nil)
