package checkpoint_test

import (
	"testing"

	"github.com/caldavpod/podmigrate/internal/migration"
	"github.com/caldavpod/podmigrate/internal/migration/checkpoint"
)

func TestLoadMissingReturnsNilRecord(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec, err := store.Load("no-such-diruid")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("Load on a fresh store = %+v, want nil", rec)
	}
}

func TestAdvanceThenLoadRoundTrips(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	const diruid = "user-1"

	if err := store.Advance(diruid, migration.PhaseInit); err != nil {
		t.Fatalf("Advance(INIT): %v", err)
	}
	rec, err := store.Load(diruid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec == nil {
		t.Fatal("Load after Advance = nil, want a record")
	}
	if rec.LastPhase != string(migration.PhaseInit) {
		t.Fatalf("rec.LastPhase = %q, want %q", rec.LastPhase, migration.PhaseInit)
	}
	if rec.Attempts != 1 {
		t.Fatalf("rec.Attempts = %d, want 1", rec.Attempts)
	}

	if err := store.Advance(diruid, migration.PhaseBulkSync); err != nil {
		t.Fatalf("Advance(BULK_SYNC): %v", err)
	}
	rec, err = store.Load(diruid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.LastPhase != string(migration.PhaseBulkSync) {
		t.Fatalf("rec.LastPhase = %q, want %q", rec.LastPhase, migration.PhaseBulkSync)
	}
	if rec.Attempts != 2 {
		t.Fatalf("rec.Attempts = %d, want 2 (incremented on each Advance call)", rec.Attempts)
	}
}

func TestClearRemovesCheckpoint(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	const diruid = "user-2"
	if err := store.Advance(diruid, migration.PhasePurgeSource); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := store.Clear(diruid); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	rec, err := store.Load(diruid)
	if err != nil {
		t.Fatalf("Load after Clear: %v", err)
	}
	if rec != nil {
		t.Fatalf("Load after Clear = %+v, want nil", rec)
	}

	// Clearing an already-clear checkpoint is not an error.
	if err := store.Clear(diruid); err != nil {
		t.Fatalf("Clear on an already-cleared diruid: %v", err)
	}
}

func TestRemainingPhases(t *testing.T) {
	all := migration.OrderedPhases()

	if got := checkpoint.RemainingPhases(all, nil); len(got) != len(all) {
		t.Fatalf("RemainingPhases(nil) returned %d phases, want the full %d", len(got), len(all))
	}

	mid := &checkpoint.Record{LastPhase: string(migration.PhaseWarmSync)}
	got := checkpoint.RemainingPhases(all, mid)
	want := []migration.Phase{
		migration.PhaseDisableSource,
		migration.PhaseFinalSync,
		migration.PhaseReconcile,
		migration.PhaseEnableDestination,
		migration.PhasePurgeSource,
	}
	if len(got) != len(want) {
		t.Fatalf("len(RemainingPhases) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RemainingPhases[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	done := &checkpoint.Record{LastPhase: string(migration.PhasePurgeSource)}
	if got := checkpoint.RemainingPhases(all, done); len(got) != 0 {
		t.Fatalf("RemainingPhases after the last phase = %v, want empty", got)
	}

	unrecognized := &checkpoint.Record{LastPhase: "NOT_A_REAL_PHASE"}
	if got := checkpoint.RemainingPhases(all, unrecognized); len(got) != len(all) {
		t.Fatalf("RemainingPhases with an unrecognized phase returned %d, want the full %d", len(got), len(all))
	}
}
