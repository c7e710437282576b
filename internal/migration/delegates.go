package migration

import "context"

// DelegateReconciler copies individual, group, and external delegate
// assignments from the source home to the destination.
// No fake directory uid is ever used locally - the real diruid is
// bound in at switchover, so these writes go straight onto the real
// delegate tables rather than anything keyed by Migrating-<diruid>.
type DelegateReconciler struct {
	scope   *Scope
	conduit Conduit
	record  *DirectoryRecord
}

func NewDelegateReconciler(scope *Scope, conduit Conduit, record *DirectoryRecord) *DelegateReconciler {
	return &DelegateReconciler{scope: scope, conduit: conduit, record: record}
}

// Reconcile runs all three delegate sub-steps, each in its own
// transaction.
func (r *DelegateReconciler) Reconcile(ctx context.Context) error {
	if err := r.individual(ctx); err != nil {
		return err
	}
	if err := r.group(ctx); err != nil {
		return err
	}
	return r.external(ctx)
}

func (r *DelegateReconciler) individual(ctx context.Context) error {
	return RunE(ctx, r.scope, nil, "individualDelegateReconcile", func(ctx context.Context, txn Txn) error {
		assignments, err := r.conduit.DumpIndividualDelegates(ctx, r.record)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if err := txn.DelegateStore().InsertIndividual(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DelegateReconciler) group(ctx context.Context) error {
	return RunE(ctx, r.scope, nil, "groupDelegateReconcile", func(ctx context.Context, txn Txn) error {
		assignments, err := r.conduit.DumpGroupDelegates(ctx, r.record)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			localGroup, err := txn.GroupByUID(ctx, a.GroupUID)
			if err != nil {
				return err
			}
			if err := txn.DelegateStore().InsertGroup(ctx, a, localGroup.GroupID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DelegateReconciler) external(ctx context.Context) error {
	return RunE(ctx, r.scope, nil, "externalDelegateReconcile", func(ctx context.Context, txn Txn) error {
		assignments, err := r.conduit.DumpExternalDelegates(ctx, r.record)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if err := txn.DelegateStore().InsertExternal(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}
