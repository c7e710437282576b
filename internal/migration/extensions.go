package migration

import "context"

// Extension is a named, optional reconcile step that the orchestrator
// runs during RECONCILE after attachments and delegates. Shared
// collections, group attendee/sharee records, notifications, and work
// items each reconcile differently enough across deployments that
// their exact semantics are left to the operator rather than invented
// here. Extensions let an operator register real implementations later
// without changing the orchestrator's phase sequencing.
type Extension interface {
	Name() string
	Reconcile(ctx context.Context, record *DirectoryRecord) error
}

// ExtensionPoints holds the reserved, by-default-empty reconcile slots
// run during RECONCILE. Each is a named hook so a future implementer
// has somewhere concrete to attach work instead of bolting it onto the
// orchestrator.
type ExtensionPoints struct {
	SharedCollections   Extension // shared-collection reconcile
	GroupAttendeeSharee Extension // group attendee/sharee reconcile
	Notifications       Extension // notification reconcile
	WorkItems           Extension // work-item reconcile
}

// run invokes every registered extension in a fixed order, skipping
// unregistered (nil) slots. Returns on the first error.
func (e ExtensionPoints) run(ctx context.Context, record *DirectoryRecord) error {
	for _, ext := range []Extension{e.SharedCollections, e.GroupAttendeeSharee, e.Notifications, e.WorkItems} {
		if ext == nil {
			continue
		}
		if err := ext.Reconcile(ctx, record); err != nil {
			return err
		}
	}
	return nil
}
