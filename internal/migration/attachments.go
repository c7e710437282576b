package migration

import "context"

// AttachmentReconciler diffs attachment rows by remote id, allocates
// local rows, transfers blob bytes, then rebinds attachment->object
// links using the id maps.
type AttachmentReconciler struct {
	scope        *Scope
	conduit      Conduit
	record       *DirectoryRecord
	migratingUID string
	homeID       int64
	batchSize    int
}

func NewAttachmentReconciler(scope *Scope, conduit Conduit, record *DirectoryRecord, migratingUID string, homeID int64) *AttachmentReconciler {
	return &AttachmentReconciler{scope: scope, conduit: conduit, record: record, migratingUID: migratingUID, homeID: homeID, batchSize: BatchSize}
}

// Sync runs the two-step attachment sync: the table reconcile (in one
// transaction) followed by per-attachment blob transfer (each its own
// transaction). Table reconcile must complete first because blob
// transfer needs local ids already allocated.
func (r *AttachmentReconciler) Sync(ctx context.Context) (needsBlob, removed []int64, err error) {
	needsBlob, removed, err = r.syncAttachmentTable(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, localID := range needsBlob {
		if err := r.syncAttachmentData(ctx, localID); err != nil {
			return needsBlob, removed, err
		}
	}
	return needsBlob, removed, nil
}

// syncAttachmentTable reconciles the ATTACHMENT table rows: removed
// rows are deleted without quota adjustment, added rows get a new
// local placeholder row plus a migration record, and rows whose remote
// md5 changed get their metadata re-copied. Returns the local ids that
// need a blob transfer and the remote ids that were removed.
func (r *AttachmentReconciler) syncAttachmentTable(ctx context.Context) (needsBlob, removed []int64, err error) {
	type result struct{ needsBlob, removed []int64 }
	res, err := Run(ctx, r.scope, nil, "syncAttachmentTable", func(ctx context.Context, txn Txn) (result, error) {
		remoteHome, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil || remoteHome == nil {
			return result{}, err
		}
		rattachments, err := remoteHome.GetAllAttachments(ctx)
		if err != nil {
			return result{}, err
		}
		rmap := make(map[int64]RemoteAttachmentInfo, len(rattachments))
		for _, a := range rattachments {
			rmap[a.ID] = a
		}

		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return result{}, err
		}
		if localHome == nil {
			return result{}, nil
		}
		lattachments, err := localHome.GetAllAttachments(ctx)
		if err != nil {
			return result{}, err
		}
		lmap := make(map[int64]Attachment, len(lattachments))
		for _, a := range lattachments {
			lmap[a.ID()] = a
		}

		attStore := txn.AttachmentMigrationRecords()
		records, err := attStore.ByHome(ctx, r.homeID)
		if err != nil {
			return result{}, err
		}
		mapping := make(map[int64]*AttachmentMigrationRecord, len(records))
		for _, rec := range records {
			mapping[rec.RemoteResourceID] = rec
		}

		var removedIDs []int64
		for remoteID, rec := range mapping {
			if _, stillRemote := rmap[remoteID]; stillRemote {
				continue
			}
			removedIDs = append(removedIDs, remoteID)
			if att, ok := lmap[rec.LocalResourceID]; ok {
				if err := att.Remove(ctx, false); err != nil {
					return result{}, err
				}
			}
			if err := attStore.DeleteByRemoteID(ctx, r.homeID, remoteID); err != nil {
				return result{}, err
			}
		}

		var needsBlobIDs []int64
		for remoteID := range rmap {
			if _, already := mapping[remoteID]; already {
				continue
			}
			localHomeAgain, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
			if err != nil {
				return result{}, err
			}
			newAttachment, err := createPlaceholderAttachment(ctx, localHomeAgain, r.homeID)
			if err != nil {
				return result{}, err
			}
			if err := attStore.Insert(ctx, &AttachmentMigrationRecord{
				CalendarHomeResourceID: r.homeID,
				RemoteResourceID:       remoteID,
				LocalResourceID:        newAttachment.ID(),
			}); err != nil {
				return result{}, err
			}
			needsBlobIDs = append(needsBlobIDs, newAttachment.ID())
		}

		for remoteID, rec := range mapping {
			remoteAtt, stillRemote := rmap[remoteID]
			if !stillRemote {
				continue
			}
			localAtt, ok := lmap[rec.LocalResourceID]
			if !ok {
				continue
			}
			if remoteAtt.MD5 != localAtt.MD5() {
				if err := localAtt.CopyRemote(ctx, remoteAttachmentAdapter{remoteAtt}); err != nil {
					return result{}, err
				}
				needsBlobIDs = append(needsBlobIDs, localAtt.ID())
			}
		}

		return result{needsBlob: needsBlobIDs, removed: removedIDs}, nil
	})
	return res.needsBlob, res.removed, err
}

// syncAttachmentData streams one attachment's bytes from the source
// pod through the conduit into local storage, in its own transaction.
func (r *AttachmentReconciler) syncAttachmentData(ctx context.Context, localID int64) error {
	return RunE(ctx, r.scope, nil, "syncAttachmentData", func(ctx context.Context, txn Txn) error {
		remoteHome, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil || remoteHome == nil {
			return err
		}
		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return err
		}
		if localHome == nil {
			return nil
		}
		attachment, err := localHome.GetAttachmentByID(ctx, localID)
		if err != nil {
			return err
		}
		if attachment == nil {
			return nil
		}

		records, err := txn.AttachmentMigrationRecords().ByHome(ctx, r.homeID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.LocalResourceID == localID {
				return remoteHome.ReadAttachmentData(ctx, rec.RemoteResourceID, attachment)
			}
		}
		return nil
	})
}

// LinkAttachments rebinds attachment->object links from the source
// home, remapping both ids through the migration-record maps, in
// windows of BatchSize. This must run only after object sync and
// attachment sync have completed on all calendars, since it consumes
// both id maps.
func (r *AttachmentReconciler) LinkAttachments(ctx context.Context) (int, error) {
	links, err := r.getAttachmentLinks(ctx)
	if err != nil {
		return 0, err
	}
	attachmentIDMap, objectIDMap, err := r.getAttachmentMappings(ctx)
	if err != nil {
		return 0, err
	}

	total := len(links)
	remaining := links
	for len(remaining) > 0 {
		n := r.batchSize
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := r.makeAttachmentLinks(ctx, remaining[:n], attachmentIDMap, objectIDMap); err != nil {
			return total, err
		}
		remaining = remaining[n:]
	}
	return total, nil
}

func (r *AttachmentReconciler) getAttachmentLinks(ctx context.Context) ([]AttachmentLink, error) {
	return Run(ctx, r.scope, nil, "getAttachmentLinks", func(ctx context.Context, txn Txn) ([]AttachmentLink, error) {
		remoteHome, err := NewRemoteHome(ctx, r.conduit, r.record)
		if err != nil || remoteHome == nil {
			return nil, err
		}
		return remoteHome.GetAttachmentLinks(ctx)
	})
}

func (r *AttachmentReconciler) getAttachmentMappings(ctx context.Context) (map[int64]*AttachmentMigrationRecord, map[int64]*CalendarObjectMigrationRecord, error) {
	type result struct {
		attachments map[int64]*AttachmentMigrationRecord
		objects     map[int64]*CalendarObjectMigrationRecord
	}
	res, err := Run(ctx, r.scope, nil, "getAttachmentMappings", func(ctx context.Context, txn Txn) (result, error) {
		attRecords, err := txn.AttachmentMigrationRecords().ByHome(ctx, r.homeID)
		if err != nil {
			return result{}, err
		}
		attachmentIDMap := make(map[int64]*AttachmentMigrationRecord, len(attRecords))
		for _, rec := range attRecords {
			attachmentIDMap[rec.RemoteResourceID] = rec
		}

		objRecords, err := txn.CalendarObjectMigrationRecords().ByHome(ctx, r.homeID)
		if err != nil {
			return result{}, err
		}
		objectIDMap := make(map[int64]*CalendarObjectMigrationRecord, len(objRecords))
		for _, rec := range objRecords {
			objectIDMap[rec.RemoteResourceID] = rec
		}

		return result{attachments: attachmentIDMap, objects: objectIDMap}, nil
	})
	return res.attachments, res.objects, err
}

func (r *AttachmentReconciler) makeAttachmentLinks(ctx context.Context, links []AttachmentLink, attachmentIDMap map[int64]*AttachmentMigrationRecord, objectIDMap map[int64]*CalendarObjectMigrationRecord) error {
	return RunE(ctx, r.scope, nil, "makeAttachmentLinks", func(ctx context.Context, txn Txn) error {
		localHome, err := txn.CalendarHomeWithUID(ctx, r.migratingUID, false, "")
		if err != nil {
			return err
		}
		if localHome == nil {
			return nil
		}
		linkStore, ok := localHome.(AttachmentLinkInserter)
		if !ok {
			return nil
		}
		for _, link := range links {
			attRec, ok := attachmentIDMap[link.AttachmentID]
			if !ok {
				continue
			}
			objRec, ok := objectIDMap[link.CalendarObjectID]
			if !ok {
				continue
			}
			local := AttachmentLink{AttachmentID: attRec.LocalResourceID, CalendarObjectID: objRec.LocalResourceID}
			if err := linkStore.InsertAttachmentLink(ctx, local); err != nil {
				return err
			}
		}
		return nil
	})
}

// AttachmentLinkInserter is implemented by Home implementations that
// support inserting ATTACHMENT_CALENDAR_OBJECT rows directly. It is
// separate from the core Home interface because linking is the only
// place the core needs raw link-row insertion, not general link
// enumeration.
type AttachmentLinkInserter interface {
	InsertAttachmentLink(ctx context.Context, link AttachmentLink) error
}

// createPlaceholderAttachment creates a new, empty managed attachment
// row ready to receive blob data via syncAttachmentData.
func createPlaceholderAttachment(ctx context.Context, home Home, homeID int64) (Attachment, error) {
	creator, ok := home.(AttachmentCreator)
	if !ok {
		return nil, errAttachmentCreatorUnsupported
	}
	return creator.CreateAttachmentPlaceholder(ctx, homeID)
}

// AttachmentCreator is implemented by Home implementations that
// support allocating a new, blob-less managed attachment row.
type AttachmentCreator interface {
	CreateAttachmentPlaceholder(ctx context.Context, homeID int64) (Attachment, error)
}

// remoteAttachmentAdapter lets a RemoteAttachmentInfo stand in as the
// Attachment passed to Attachment.CopyRemote, exposing only what that
// call needs (id, md5).
type remoteAttachmentAdapter struct{ info RemoteAttachmentInfo }

func (a remoteAttachmentAdapter) ID() int64   { return a.info.ID }
func (a remoteAttachmentAdapter) MD5() string { return a.info.MD5 }
func (a remoteAttachmentAdapter) Remove(context.Context, bool) error {
	return errRemoteAttachmentReadOnly
}
func (a remoteAttachmentAdapter) CopyRemote(context.Context, Attachment) error {
	return errRemoteAttachmentReadOnly
}
func (a remoteAttachmentAdapter) ReadData(context.Context) ([]byte, error) {
	return nil, errRemoteAttachmentReadOnly
}
func (a remoteAttachmentAdapter) WriteData(context.Context, []byte) error {
	return errRemoteAttachmentReadOnly
}
