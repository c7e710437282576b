package conduit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/caldavpod/podmigrate/internal/migration"
)

// Client is a migration.Conduit implementation that dials a peer pod's
// conduit.Server over a Unix domain socket and speaks one-JSON-object-
// per-line request/response.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to a conduit.Server listening on socketPath and
// performs the version handshake.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("conduit: dialing %s: %w", socketPath, err)
	}
	c := &Client{conn: conn, reader: bufio.NewReader(conn), timeout: 30 * time.Second}
	if err := c.handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	resp, err := c.call(opPing, struct{}{})
	if err != nil {
		return err
	}
	var result pingResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("conduit: unmarshal handshake reply: %w", err)
	}
	if !Compatible(result.ProtocolVersion) {
		return fmt.Errorf("conduit: incompatible peer protocol version %s (local %s)", result.ProtocolVersion, ProtocolVersion)
	}
	return nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) call(op string, args interface{}) (*response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("conduit: marshal args for %s: %w", op, err)
	}
	req := request{Operation: op, ProtocolVersion: ProtocolVersion, Args: argsJSON}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("conduit: marshal request for %s: %w", op, err)
	}

	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if _, err := c.conn.Write(append(reqJSON, '\n')); err != nil {
		return nil, fmt.Errorf("conduit: writing %s request: %w", op, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("conduit: reading %s response: %w", op, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("conduit: unmarshal %s response: %w", op, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("conduit: %s failed: %s", op, resp.Error)
	}
	return &resp, nil
}

func (c *Client) HomeResourceID(ctx context.Context, record *migration.DirectoryRecord) (int64, error) {
	resp, err := c.call(opHomeResourceID, directoryRecordToArgs(record))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(resp.Data, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *Client) HomeMetadata(ctx context.Context, homeID int64) (migration.HomeMetadata, error) {
	resp, err := c.call(opHomeMetadata, homeIDArgs{HomeID: homeID})
	if err != nil {
		return migration.HomeMetadata{}, err
	}
	var m migration.HomeMetadata
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		return migration.HomeMetadata{}, err
	}
	return m, nil
}

func (c *Client) LoadChildren(ctx context.Context, homeID int64) ([]migration.RemoteCalendarInfo, error) {
	resp, err := c.call(opLoadChildren, homeIDArgs{HomeID: homeID})
	if err != nil {
		return nil, err
	}
	var infos []migration.RemoteCalendarInfo
	if err := json.Unmarshal(resp.Data, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) ChildWithID(ctx context.Context, homeID, calendarID int64) (*migration.RemoteCalendarInfo, error) {
	resp, err := c.call(opChildWithID, childWithIDArgs{HomeID: homeID, CalendarID: calendarID})
	if err != nil {
		return nil, err
	}
	var info *migration.RemoteCalendarInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) ResourceNamesSinceToken(ctx context.Context, homeID, calendarID int64, token string) (changed, deleted []string, invalid bool, err error) {
	resp, err := c.call(opResourceNamesSinceToken, resourceNamesSinceTokenArgs{HomeID: homeID, CalendarID: calendarID, Token: token})
	if err != nil {
		return nil, nil, false, err
	}
	var result resourceNamesSinceTokenResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, nil, false, err
	}
	return result.Changed, result.Deleted, result.Invalid, nil
}

func (c *Client) ObjectResourcesWithNames(ctx context.Context, homeID, calendarID int64, names []string) ([]migration.RemoteObjectInfo, error) {
	resp, err := c.call(opObjectResourcesWithNames, objectResourcesWithNamesArgs{HomeID: homeID, CalendarID: calendarID, Names: names})
	if err != nil {
		return nil, err
	}
	var infos []migration.RemoteObjectInfo
	if err := json.Unmarshal(resp.Data, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) ObjectComponent(ctx context.Context, homeID, calendarID int64, objectID int64) (migration.Component, error) {
	resp, err := c.call(opObjectComponent, objectComponentArgs{HomeID: homeID, CalendarID: calendarID, ObjectID: objectID})
	if err != nil {
		return migration.Component{}, err
	}
	var comp migration.Component
	if err := json.Unmarshal(resp.Data, &comp); err != nil {
		return migration.Component{}, err
	}
	return comp, nil
}

func (c *Client) AllAttachments(ctx context.Context, homeID int64) ([]migration.RemoteAttachmentInfo, error) {
	resp, err := c.call(opAllAttachments, homeIDArgs{HomeID: homeID})
	if err != nil {
		return nil, err
	}
	var infos []migration.RemoteAttachmentInfo
	if err := json.Unmarshal(resp.Data, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) AttachmentLinks(ctx context.Context, homeID int64) ([]migration.AttachmentLink, error) {
	resp, err := c.call(opAttachmentLinks, homeIDArgs{HomeID: homeID})
	if err != nil {
		return nil, err
	}
	var links []migration.AttachmentLink
	if err := json.Unmarshal(resp.Data, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Client) ReadAttachmentData(ctx context.Context, homeID int64, remoteAttachmentID int64, into migration.Attachment) error {
	resp, err := c.call(opReadAttachmentData, readAttachmentDataArgs{HomeID: homeID, RemoteAttachmentID: remoteAttachmentID})
	if err != nil {
		return err
	}
	var result readAttachmentDataResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return err
	}
	// The wire payload carries metadata and the blob bytes separately;
	// CopyRemote applies the former, WriteData the latter, onto the
	// local placeholder.
	if err := into.CopyRemote(ctx, remoteAttachmentStub{md5: result.MD5}); err != nil {
		return err
	}
	return into.WriteData(ctx, result.Data)
}

// remoteAttachmentStub lets ReadAttachmentData hand CopyRemote a
// migration.Attachment carrying only the MD5 the wire reply reported.
type remoteAttachmentStub struct{ md5 string }

func (r remoteAttachmentStub) ID() int64           { return 0 }
func (r remoteAttachmentStub) MD5() string         { return r.md5 }
func (r remoteAttachmentStub) Remove(context.Context, bool) error {
	return fmt.Errorf("conduit: remote attachment stub is read-only")
}
func (r remoteAttachmentStub) CopyRemote(context.Context, migration.Attachment) error {
	return fmt.Errorf("conduit: remote attachment stub is read-only")
}
func (r remoteAttachmentStub) ReadData(context.Context) ([]byte, error) {
	return nil, fmt.Errorf("conduit: remote attachment stub is read-only")
}
func (r remoteAttachmentStub) WriteData(context.Context, []byte) error {
	return fmt.Errorf("conduit: remote attachment stub is read-only")
}

func (c *Client) DumpIndividualDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return c.dumpDelegates(opDumpIndividualDelegates, record)
}

func (c *Client) DumpGroupDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return c.dumpDelegates(opDumpGroupDelegates, record)
}

func (c *Client) DumpExternalDelegates(ctx context.Context, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	return c.dumpDelegates(opDumpExternalDelegates, record)
}

func (c *Client) dumpDelegates(op string, record *migration.DirectoryRecord) ([]migration.DelegateAssignment, error) {
	resp, err := c.call(op, directoryRecordToArgs(record))
	if err != nil {
		return nil, err
	}
	var assignments []migration.DelegateAssignment
	if err := json.Unmarshal(resp.Data, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (c *Client) DisableHome(ctx context.Context, homeID int64) error {
	_, err := c.call(opDisableHome, homeIDArgs{HomeID: homeID})
	return err
}

func (c *Client) EnableHome(ctx context.Context, homeID int64) error {
	_, err := c.call(opEnableHome, homeIDArgs{HomeID: homeID})
	return err
}

func (c *Client) PurgeHome(ctx context.Context, homeID int64) error {
	_, err := c.call(opPurgeHome, homeIDArgs{HomeID: homeID})
	return err
}

var _ migration.Conduit = (*Client)(nil)
