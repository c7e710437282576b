package migration

import (
	"context"
	"fmt"
)

// Conduit is the pod-to-pod RPC capability the core consumes for
// source-side reads. The wire protocol, authentication, and transport
// are out of scope for this package; internal/conduit provides a
// concrete implementation.
type Conduit interface {
	// HomeResourceID resolves the migrating user's home id on the
	// remote pod. A zero id with a nil error means "no such home" -
	// RemoteHome construction must treat that as unusable rather than
	// erroring.
	HomeResourceID(ctx context.Context, record *DirectoryRecord) (int64, error)

	HomeMetadata(ctx context.Context, homeID int64) (HomeMetadata, error)

	LoadChildren(ctx context.Context, homeID int64) ([]RemoteCalendarInfo, error)
	ChildWithID(ctx context.Context, homeID, calendarID int64) (*RemoteCalendarInfo, error)
	ResourceNamesSinceToken(ctx context.Context, homeID, calendarID int64, token string) (changed, deleted []string, invalid bool, err error)
	ObjectResourcesWithNames(ctx context.Context, homeID, calendarID int64, names []string) ([]RemoteObjectInfo, error)
	ObjectComponent(ctx context.Context, homeID, calendarID int64, objectID int64) (Component, error)

	AllAttachments(ctx context.Context, homeID int64) ([]RemoteAttachmentInfo, error)
	AttachmentLinks(ctx context.Context, homeID int64) ([]AttachmentLink, error)
	ReadAttachmentData(ctx context.Context, homeID int64, remoteAttachmentID int64, into Attachment) error

	DumpIndividualDelegates(ctx context.Context, record *DirectoryRecord) ([]DelegateAssignment, error)
	DumpGroupDelegates(ctx context.Context, record *DirectoryRecord) ([]DelegateAssignment, error)
	DumpExternalDelegates(ctx context.Context, record *DirectoryRecord) ([]DelegateAssignment, error)

	// DisableHome marks the remote home disabled: renames its owner key
	// and flips its status column so it rejects further user writes.
	DisableHome(ctx context.Context, homeID int64) error
	// EnableHome reverses DisableHome; used only by the compensating
	// rollback a failure partway through sync/disable/reconcile requires.
	EnableHome(ctx context.Context, homeID int64) error
	// PurgeHome removes all data for the given home on the remote pod,
	// without scheduling or sharing side effects.
	PurgeHome(ctx context.Context, homeID int64) error
}

// RemoteCalendarInfo is the wire-shaped summary of one remote calendar.
type RemoteCalendarInfo struct {
	ID        int64
	Name      string
	Owned     bool
	SyncToken string
}

// RemoteObjectInfo is the wire-shaped summary of one remote calendar
// object - enough to diff by name and content hash without fetching
// the full component.
type RemoteObjectInfo struct {
	ID   int64
	Name string
	MD5  string
}

// RemoteAttachmentInfo is the wire-shaped summary of one remote
// attachment.
type RemoteAttachmentInfo struct {
	ID  int64
	MD5 string
}

// RemoteHome is a synthetic handle that exposes the migrating user's
// remote home, calendars, and attachments through the same shape the
// local Home/Calendar interfaces use, by dispatching every read over
// the conduit.
type RemoteHome struct {
	conduit    Conduit
	resourceID int64
}

// NewRemoteHome resolves the remote home resource id over the conduit
// for the migrating user's directory record. It returns (nil, nil) -
// not an error - when the conduit reports no such home: callers must
// treat a nil RemoteHome as meaning the step is a no-op.
func NewRemoteHome(ctx context.Context, conduit Conduit, record *DirectoryRecord) (*RemoteHome, error) {
	id, err := conduit.HomeResourceID(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("resolving remote home resource id: %w", errJoin(ErrRemoteUnavailable, err))
	}
	if id == 0 {
		return nil, nil
	}
	return &RemoteHome{conduit: conduit, resourceID: id}, nil
}

func (h *RemoteHome) ID() int64 { return h.resourceID }

func (h *RemoteHome) LoadChildren(ctx context.Context) ([]*RemoteCalendar, error) {
	infos, err := h.conduit.LoadChildren(ctx, h.resourceID)
	if err != nil {
		return nil, err
	}
	out := make([]*RemoteCalendar, 0, len(infos))
	for _, info := range infos {
		out = append(out, &RemoteCalendar{conduit: h.conduit, homeID: h.resourceID, info: info})
	}
	return out, nil
}

func (h *RemoteHome) ChildWithID(ctx context.Context, id int64) (*RemoteCalendar, error) {
	info, err := h.conduit.ChildWithID(ctx, h.resourceID, id)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	return &RemoteCalendar{conduit: h.conduit, homeID: h.resourceID, info: *info}, nil
}

func (h *RemoteHome) GetAllAttachments(ctx context.Context) ([]RemoteAttachmentInfo, error) {
	return h.conduit.AllAttachments(ctx, h.resourceID)
}

func (h *RemoteHome) GetAttachmentLinks(ctx context.Context) ([]AttachmentLink, error) {
	return h.conduit.AttachmentLinks(ctx, h.resourceID)
}

func (h *RemoteHome) ReadAttachmentData(ctx context.Context, remoteAttachmentID int64, local Attachment) error {
	return h.conduit.ReadAttachmentData(ctx, h.resourceID, remoteAttachmentID, local)
}

// CopyMetadata copies home-level metadata (alarms, default calendars)
// from the remote home into a local one.
func (h *RemoteHome) CopyMetadata(ctx context.Context, into Home) error {
	m, err := h.conduit.HomeMetadata(ctx, h.resourceID)
	if err != nil {
		return err
	}
	return into.ApplyHomeMetadata(ctx, m)
}

// RemoteCalendar mimics Calendar, backed by the conduit.
type RemoteCalendar struct {
	conduit Conduit
	homeID  int64
	info    RemoteCalendarInfo
}

func (c *RemoteCalendar) ID() int64    { return c.info.ID }
func (c *RemoteCalendar) Name() string { return c.info.Name }
func (c *RemoteCalendar) Owned() bool  { return c.info.Owned }
func (c *RemoteCalendar) SyncToken() string {
	return c.info.SyncToken
}

func (c *RemoteCalendar) ResourceNamesSinceToken(ctx context.Context, token string) (changed, deleted []string, invalid bool, err error) {
	return c.conduit.ResourceNamesSinceToken(ctx, c.homeID, c.info.ID, token)
}

func (c *RemoteCalendar) ObjectResourcesWithNames(ctx context.Context, names []string) ([]*RemoteCalendarObject, error) {
	infos, err := c.conduit.ObjectResourcesWithNames(ctx, c.homeID, c.info.ID, names)
	if err != nil {
		return nil, err
	}
	out := make([]*RemoteCalendarObject, 0, len(infos))
	for _, info := range infos {
		out = append(out, &RemoteCalendarObject{conduit: c.conduit, homeID: c.homeID, calendarID: c.info.ID, info: info})
	}
	return out, nil
}

// CopyMetadataInto copies this calendar's name/supported-components/
// transp/alarms metadata onto a local calendar.
func (c *RemoteCalendar) CopyMetadataInto(ctx context.Context, local Calendar) error {
	return local.CopyMetadata(ctx, remoteCalendarAdapter{c})
}

// remoteCalendarAdapter lets *RemoteCalendar satisfy the local
// Calendar interface well enough to be passed to CopyMetadata, without
// implementing the write-side methods a remote calendar can never
// support.
type remoteCalendarAdapter struct{ c *RemoteCalendar }

func (a remoteCalendarAdapter) ID() int64   { return a.c.info.ID }
func (a remoteCalendarAdapter) Name() string { return a.c.info.Name }
func (a remoteCalendarAdapter) Owned() bool  { return a.c.info.Owned }
func (a remoteCalendarAdapter) SyncToken(context.Context) (string, error) {
	return a.c.info.SyncToken, nil
}
func (a remoteCalendarAdapter) ResourceNamesSinceToken(ctx context.Context, token string) ([]string, []string, bool, error) {
	return a.c.ResourceNamesSinceToken(ctx, token)
}
func (a remoteCalendarAdapter) ObjectResourcesWithNames(ctx context.Context, names []string) ([]CalendarObject, error) {
	remote, err := a.c.ObjectResourcesWithNames(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make([]CalendarObject, len(remote))
	for i, r := range remote {
		out[i] = r
	}
	return out, nil
}
func (a remoteCalendarAdapter) Purge(context.Context) error { return fmt.Errorf("remote calendar is read-only") }
func (a remoteCalendarAdapter) CopyMetadata(context.Context, Calendar) error {
	return fmt.Errorf("remote calendar is read-only")
}
func (a remoteCalendarAdapter) CreateObjectWithNameRaw(context.Context, string, Component) (CalendarObject, error) {
	return nil, fmt.Errorf("remote calendar is read-only")
}

// RemoteCalendarObject mimics CalendarObject, backed by the conduit.
type RemoteCalendarObject struct {
	conduit    Conduit
	homeID     int64
	calendarID int64
	info       RemoteObjectInfo
}

func (o *RemoteCalendarObject) ID() int64     { return o.info.ID }
func (o *RemoteCalendarObject) Name() string  { return o.info.Name }
func (o *RemoteCalendarObject) MD5() string   { return o.info.MD5 }
func (o *RemoteCalendarObject) Component(ctx context.Context) (Component, error) {
	return o.conduit.ObjectComponent(ctx, o.homeID, o.calendarID, o.info.ID)
}
func (o *RemoteCalendarObject) Purge(context.Context) error { return fmt.Errorf("remote object is read-only") }
func (o *RemoteCalendarObject) CopyMetadata(context.Context, CalendarObject) error {
	return fmt.Errorf("remote object is read-only")
}
func (o *RemoteCalendarObject) SetComponentRaw(context.Context, Component) error {
	return fmt.Errorf("remote object is read-only")
}
