package conduit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/caldavpod/podmigrate/internal/migration"
)

// Server is a reference conduit responder a source pod runs so a
// destination pod's Client has something real to dial: it answers
// every migration.Conduit operation against a single migration.Home.
type Server struct {
	socketPath string
	home       migration.Home
	conduit    migration.Conduit // delegates disable/enable/purge + reads when home alone can't answer
	directory  migration.DirectoryService

	mu       sync.Mutex
	listener net.Listener
}

// NewServer wires a Server that answers conduit requests against the
// given home, directory, and a Conduit-shaped delegate used for the
// handful of operations (delegate dumps, home-enable/disable/purge)
// that don't fit the Home/Calendar read surface.
func NewServer(socketPath string, home migration.Home, directory migration.DirectoryService, delegate migration.Conduit) *Server {
	return &Server{socketPath: socketPath, home: home, directory: directory, conduit: delegate}
}

// Serve listens on the Unix socket and answers connections until ctx
// is canceled.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("conduit: listening on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("conduit: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(conn, response{Success: false, Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}
		resp := s.dispatch(ctx, &req)
		writeResponse(conn, resp)
	}
}

func writeResponse(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(response{Success: false, Error: "failed to marshal response"})
	}
	_, _ = conn.Write(append(data, '\n'))
}

func (s *Server) dispatch(ctx context.Context, req *request) response {
	if !Compatible(req.ProtocolVersion) && req.Operation != opPing {
		return response{Success: false, Error: fmt.Sprintf("incompatible protocol version %s", req.ProtocolVersion)}
	}

	switch req.Operation {
	case opPing:
		return ok(pingResult{ProtocolVersion: ProtocolVersion})
	case opHomeResourceID:
		var args directoryRecordArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		id, err := s.conduit.HomeResourceID(ctx, args.toRecord())
		if err != nil {
			return errResp(err)
		}
		return ok(id)
	case opHomeMetadata:
		var args homeIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		m, err := s.home.HomeMetadata(ctx)
		if err != nil {
			return errResp(err)
		}
		return ok(m)
	case opLoadChildren:
		children, err := s.home.LoadChildren(ctx)
		if err != nil {
			return errResp(err)
		}
		infos := make([]migration.RemoteCalendarInfo, 0, len(children))
		for _, c := range children {
			token, err := c.SyncToken(ctx)
			if err != nil {
				return errResp(err)
			}
			infos = append(infos, migration.RemoteCalendarInfo{ID: c.ID(), Name: c.Name(), Owned: c.Owned(), SyncToken: token})
		}
		return ok(infos)
	case opChildWithID:
		var args childWithIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		child, err := s.home.ChildWithID(ctx, args.CalendarID)
		if err != nil {
			return errResp(err)
		}
		if child == nil {
			return ok((*migration.RemoteCalendarInfo)(nil))
		}
		token, err := child.SyncToken(ctx)
		if err != nil {
			return errResp(err)
		}
		return ok(&migration.RemoteCalendarInfo{ID: child.ID(), Name: child.Name(), Owned: child.Owned(), SyncToken: token})
	case opResourceNamesSinceToken:
		var args resourceNamesSinceTokenArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		calendar, err := s.home.ChildWithID(ctx, args.CalendarID)
		if err != nil {
			return errResp(err)
		}
		if calendar == nil {
			return errResp(fmt.Errorf("calendar %d not found", args.CalendarID))
		}
		changed, deleted, invalid, err := calendar.ResourceNamesSinceToken(ctx, args.Token)
		if err != nil {
			return errResp(err)
		}
		return ok(resourceNamesSinceTokenResult{Changed: changed, Deleted: deleted, Invalid: invalid})
	case opObjectResourcesWithNames:
		var args objectResourcesWithNamesArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		calendar, err := s.home.ChildWithID(ctx, args.CalendarID)
		if err != nil {
			return errResp(err)
		}
		if calendar == nil {
			return errResp(fmt.Errorf("calendar %d not found", args.CalendarID))
		}
		objects, err := calendar.ObjectResourcesWithNames(ctx, args.Names)
		if err != nil {
			return errResp(err)
		}
		infos := make([]migration.RemoteObjectInfo, 0, len(objects))
		for _, o := range objects {
			infos = append(infos, migration.RemoteObjectInfo{ID: o.ID(), Name: o.Name(), MD5: o.MD5()})
		}
		return ok(infos)
	case opObjectComponent:
		var args objectComponentArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		calendar, err := s.home.ChildWithID(ctx, args.CalendarID)
		if err != nil {
			return errResp(err)
		}
		if calendar == nil {
			return errResp(fmt.Errorf("calendar %d not found", args.CalendarID))
		}
		objects, err := calendar.ObjectResourcesWithNames(ctx, nil)
		if err != nil {
			return errResp(err)
		}
		for _, o := range objects {
			if o.ID() == args.ObjectID {
				comp, err := o.Component(ctx)
				if err != nil {
					return errResp(err)
				}
				return ok(comp)
			}
		}
		return errResp(fmt.Errorf("object %d not found", args.ObjectID))
	case opAllAttachments:
		attachments, err := s.home.GetAllAttachments(ctx)
		if err != nil {
			return errResp(err)
		}
		infos := make([]migration.RemoteAttachmentInfo, 0, len(attachments))
		for _, a := range attachments {
			infos = append(infos, migration.RemoteAttachmentInfo{ID: a.ID(), MD5: a.MD5()})
		}
		return ok(infos)
	case opAttachmentLinks:
		links, err := s.home.GetAttachmentLinks(ctx)
		if err != nil {
			return errResp(err)
		}
		return ok(links)
	case opReadAttachmentData:
		var args readAttachmentDataArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		a, err := s.home.GetAttachmentByID(ctx, args.RemoteAttachmentID)
		if err != nil {
			return errResp(err)
		}
		if a == nil {
			return errResp(fmt.Errorf("attachment %d not found", args.RemoteAttachmentID))
		}
		data, err := a.ReadData(ctx)
		if err != nil {
			return errResp(err)
		}
		return ok(readAttachmentDataResult{MD5: a.MD5(), Data: data})
	case opDumpIndividualDelegates:
		var args directoryRecordArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		assignments, err := s.conduit.DumpIndividualDelegates(ctx, args.toRecord())
		if err != nil {
			return errResp(err)
		}
		return ok(assignments)
	case opDumpGroupDelegates:
		var args directoryRecordArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		assignments, err := s.conduit.DumpGroupDelegates(ctx, args.toRecord())
		if err != nil {
			return errResp(err)
		}
		return ok(assignments)
	case opDumpExternalDelegates:
		var args directoryRecordArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		assignments, err := s.conduit.DumpExternalDelegates(ctx, args.toRecord())
		if err != nil {
			return errResp(err)
		}
		return ok(assignments)
	case opDisableHome:
		var args homeIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		if err := s.conduit.DisableHome(ctx, args.HomeID); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case opEnableHome:
		var args homeIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		if err := s.conduit.EnableHome(ctx, args.HomeID); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case opPurgeHome:
		var args homeIDArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errResp(err)
		}
		if err := s.conduit.PurgeHome(ctx, args.HomeID); err != nil {
			return errResp(err)
		}
		return ok(nil)
	default:
		return response{Success: false, Error: fmt.Sprintf("unknown operation %q", req.Operation)}
	}
}

func ok(v interface{}) response {
	data, err := json.Marshal(v)
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}
	return response{Success: true, Data: data}
}

func errResp(err error) response {
	return response{Success: false, Error: err.Error()}
}
