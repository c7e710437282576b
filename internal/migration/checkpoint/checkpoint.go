// Package checkpoint records the last phase a migration run completed
// for a given directory uid, so `podmigrate migrate --step` and a
// crash-recovered run can resume instead of restarting from INIT.
// Stored as TOML on disk, one file per diruid, treated as the single
// source of truth rather than layering a cache in front of it.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/caldavpod/podmigrate/internal/migration"
)

// Record is the on-disk checkpoint for one migration run.
type Record struct {
	DirUID      string    `toml:"dir_uid"`
	LastPhase   string    `toml:"last_phase"`
	CompletedAt time.Time `toml:"completed_at"`
	Attempts    int       `toml:"attempts"`
}

// Store reads and writes checkpoint files under a single directory.
type Store struct {
	dir string
}

// NewStore builds a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(diruid string) string {
	return filepath.Join(s.dir, diruid+".toml")
}

// Load returns the checkpoint for diruid, or nil if none exists yet -
// a fresh migration starting at PhaseInit.
func (s *Store) Load(diruid string) (*Record, error) {
	data, err := os.ReadFile(s.path(diruid))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: reading %s: %w", diruid, err)
	}
	var rec Record
	if _, err := toml.Decode(string(data), &rec); err != nil {
		return nil, fmt.Errorf("checkpoint: decoding %s: %w", diruid, err)
	}
	return &rec, nil
}

// Advance records phase as the last one completed for diruid and
// increments the attempt counter on every call, carrying the count
// over from any existing checkpoint.
func (s *Store) Advance(diruid string, phase migration.Phase) error {
	rec, err := s.Load(diruid)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{DirUID: diruid}
	}
	rec.LastPhase = string(phase)
	rec.CompletedAt = time.Now()
	rec.Attempts++

	f, err := os.CreateTemp(s.dir, diruid+".toml.tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file for %s: %w", diruid, err)
	}
	tmpName := f.Name()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(rec); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: encoding %s: %w", diruid, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: closing %s: %w", diruid, err)
	}
	if err := os.Rename(tmpName, s.path(diruid)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: renaming into place for %s: %w", diruid, err)
	}
	return nil
}

// Clear removes the checkpoint for diruid, called once PURGE_SOURCE
// completes and the run is fully done.
func (s *Store) Clear(diruid string) error {
	if err := os.Remove(s.path(diruid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: removing %s: %w", diruid, err)
	}
	return nil
}

// RemainingPhases returns the phases still to run for diruid, given
// the full ordered phase sequence, starting right after whatever
// phase the checkpoint last completed. A nil checkpoint (or one with
// an unrecognized phase) means the whole sequence is remaining.
func RemainingPhases(all []migration.Phase, rec *Record) []migration.Phase {
	if rec == nil || rec.LastPhase == "" {
		return all
	}
	for i, p := range all {
		if string(p) == rec.LastPhase {
			return all[i+1:]
		}
	}
	return all
}
