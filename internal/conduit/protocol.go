// Package conduit provides the pod-to-pod transport the migration core
// consumes through the migration.Conduit interface: a
// JSON-over-Unix-socket client/server pair speaking one envelope per
// line, with a reference server a source pod runs against its own
// migration.Home so the client has something real to dial.
package conduit

import (
	"encoding/json"

	"golang.org/x/mod/semver"

	"github.com/caldavpod/podmigrate/internal/migration"
)

// ProtocolVersion is this build's conduit wire version. Server and
// Client exchange it on connect and refuse to talk further on a
// major-version mismatch.
const ProtocolVersion = "v1.0.0"

// Compatible reports whether a peer's advertised protocol version can
// be served by this one: same major version, any minor/patch.
func Compatible(peerVersion string) bool {
	if !semver.IsValid(peerVersion) || !semver.IsValid(ProtocolVersion) {
		return false
	}
	return semver.Major(peerVersion) == semver.Major(ProtocolVersion)
}

// Operation names for every migration.Conduit method.
const (
	opPing                    = "ping"
	opHomeResourceID          = "home_resource_id"
	opHomeMetadata            = "home_metadata"
	opLoadChildren            = "load_children"
	opChildWithID             = "child_with_id"
	opResourceNamesSinceToken = "resource_names_since_token"
	opObjectResourcesWithNames = "object_resources_with_names"
	opObjectComponent         = "object_component"
	opAllAttachments          = "all_attachments"
	opAttachmentLinks         = "attachment_links"
	opReadAttachmentData      = "read_attachment_data"
	opDumpIndividualDelegates = "dump_individual_delegates"
	opDumpGroupDelegates      = "dump_group_delegates"
	opDumpExternalDelegates   = "dump_external_delegates"
	opDisableHome             = "disable_home"
	opEnableHome              = "enable_home"
	opPurgeHome               = "purge_home"
)

// request is the envelope carried one-per-line over the socket.
type request struct {
	Operation       string          `json:"operation"`
	ProtocolVersion string          `json:"protocol_version"`
	Args            json.RawMessage `json:"args,omitempty"`
}

// response is the matching reply envelope.
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type pingResult struct {
	ProtocolVersion string `json:"protocol_version"`
}

type homeIDArgs struct {
	HomeID int64 `json:"home_id"`
}

type childWithIDArgs struct {
	HomeID     int64 `json:"home_id"`
	CalendarID int64 `json:"calendar_id"`
}

type resourceNamesSinceTokenArgs struct {
	HomeID     int64  `json:"home_id"`
	CalendarID int64  `json:"calendar_id"`
	Token      string `json:"token"`
}

type resourceNamesSinceTokenResult struct {
	Changed []string `json:"changed"`
	Deleted []string `json:"deleted"`
	Invalid bool     `json:"invalid"`
}

type objectResourcesWithNamesArgs struct {
	HomeID     int64    `json:"home_id"`
	CalendarID int64    `json:"calendar_id"`
	Names      []string `json:"names"`
}

type objectComponentArgs struct {
	HomeID     int64 `json:"home_id"`
	CalendarID int64 `json:"calendar_id"`
	ObjectID   int64 `json:"object_id"`
}

type readAttachmentDataArgs struct {
	HomeID               int64 `json:"home_id"`
	RemoteAttachmentID   int64 `json:"remote_attachment_id"`
}

type readAttachmentDataResult struct {
	MD5  string `json:"md5"`
	Data []byte `json:"data"`
}

type directoryRecordArgs struct {
	UID        string `json:"uid"`
	ThisServer bool   `json:"this_server"`
}

func directoryRecordToArgs(r *migration.DirectoryRecord) directoryRecordArgs {
	return directoryRecordArgs{UID: r.UID, ThisServer: r.ThisServer}
}

func (a directoryRecordArgs) toRecord() *migration.DirectoryRecord {
	return &migration.DirectoryRecord{UID: a.UID, ThisServer: a.ThisServer}
}
