package main

import (
	"context"
	"os"
	"testing"

	"github.com/caldavpod/podmigrate/internal/migration"
)

func withPodID(t *testing.T, podID string) {
	t.Helper()
	t.Chdir(t.TempDir())
	os.Setenv("PODMIGRATE_POD_ID", podID)
	t.Cleanup(func() { os.Unsetenv("PODMIGRATE_POD_ID") })
}

func TestNewAppBuildsCollaborators(t *testing.T) {
	withPodID(t, "pod-a")

	a, err := newApp("")
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if a.store == nil {
		t.Fatal("newApp did not set a store")
	}
	if a.directory == nil {
		t.Fatal("newApp did not set a directory")
	}
	if a.checkpoint == nil {
		t.Fatal("newApp did not set a checkpoint store")
	}
	if a.cfg.PodID != "pod-a" {
		t.Fatalf("cfg.PodID = %q, want %q", a.cfg.PodID, "pod-a")
	}
}

func TestNewAppFailsWithoutPodID(t *testing.T) {
	t.Chdir(t.TempDir())
	os.Unsetenv("PODMIGRATE_POD_ID")

	if _, err := newApp(""); err == nil {
		t.Fatal("newApp with no pod-id configured should fail")
	}
}

func TestLockForRefusesSecondConcurrentLock(t *testing.T) {
	withPodID(t, "pod-a")
	a, err := newApp("")
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	first, err := a.lockFor("user-1")
	if err != nil {
		t.Fatalf("first lockFor: %v", err)
	}
	defer first.Unlock()

	if _, err := a.lockFor("user-1"); err == nil {
		t.Fatal("second concurrent lockFor for the same diruid should fail")
	}

	// A different diruid is unaffected.
	second, err := a.lockFor("user-2")
	if err != nil {
		t.Fatalf("lockFor for a different diruid: %v", err)
	}
	second.Unlock()
}

func TestDialConduitMissingAddress(t *testing.T) {
	withPodID(t, "pod-a")
	a, err := newApp("")
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	if _, err := a.dialConduit(context.Background(), "user-1"); err == nil {
		t.Fatal("dialConduit with no address configured for the diruid should fail")
	}
}

func TestOrchestratorForMissingDirectoryRecord(t *testing.T) {
	withPodID(t, "pod-a")
	a, err := newApp("")
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	a.cfg.ConduitAddresses = map[string]string{"user-1": "/tmp/does-not-matter.sock"}

	if _, _, err := a.orchestratorFor(context.Background(), "user-1"); err == nil {
		t.Fatal("orchestratorFor with no directory record for the diruid should fail")
	} else if err != migration.ErrDirectoryRecordNotFound {
		t.Fatalf("orchestratorFor error = %v, want ErrDirectoryRecordNotFound", err)
	}
}
