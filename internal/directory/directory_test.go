package directory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/caldavpod/podmigrate/internal/directory"
	"github.com/caldavpod/podmigrate/internal/migration"
)

func TestLoadEmptyPathYieldsEmptyDirectory(t *testing.T) {
	svc, err := directory.Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	rec, err := svc.RecordWithUID(context.Background(), "anyone")
	if err != nil {
		t.Fatalf("RecordWithUID: %v", err)
	}
	if rec != nil {
		t.Fatalf("RecordWithUID on an empty directory = %+v, want nil", rec)
	}
}

func TestLoadMissingFileYieldsEmptyDirectory(t *testing.T) {
	svc, err := directory.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load on a missing file: %v", err)
	}
	rec, err := svc.RecordWithUID(context.Background(), "anyone")
	if err != nil {
		t.Fatalf("RecordWithUID: %v", err)
	}
	if rec != nil {
		t.Fatalf("RecordWithUID on a missing-file directory = %+v, want nil", rec)
	}
}

func TestLoadParsesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	contents := `records:
  - uid: user-1
    this_server: true
  - uid: user-2
    this_server: false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	svc, err := directory.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec1, err := svc.RecordWithUID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RecordWithUID(user-1): %v", err)
	}
	if rec1 == nil || !rec1.ThisServer {
		t.Fatalf("RecordWithUID(user-1) = %+v, want ThisServer=true", rec1)
	}

	rec2, err := svc.RecordWithUID(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("RecordWithUID(user-2): %v", err)
	}
	if rec2 == nil || rec2.ThisServer {
		t.Fatalf("RecordWithUID(user-2) = %+v, want ThisServer=false", rec2)
	}

	rec3, err := svc.RecordWithUID(context.Background(), "user-3")
	if err != nil {
		t.Fatalf("RecordWithUID(user-3): %v", err)
	}
	if rec3 != nil {
		t.Fatalf("RecordWithUID(user-3) = %+v, want nil (not present in file)", rec3)
	}
}

func TestPutOverridesLoadedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	contents := `records:
  - uid: user-1
    this_server: false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	svc, err := directory.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	svc.Put(&migration.DirectoryRecord{UID: "user-1", ThisServer: true})

	rec, err := svc.RecordWithUID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RecordWithUID: %v", err)
	}
	if rec == nil || !rec.ThisServer {
		t.Fatalf("RecordWithUID after overriding Put = %+v, want ThisServer=true", rec)
	}
}
