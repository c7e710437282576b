// Package directory provides a file-backed migration.DirectoryService:
// a flat YAML file mapping directory uids to pod residency, standing
// in for a real directory service (LDAP, XMLFile, or a
// directory-as-a-service backend). Uses gopkg.in/yaml.v3 with a plain
// read-whole-file-then-unmarshal load, rather than the viper-backed
// style used for CLI configuration, since this file is deployment data
// rather than operator configuration.
package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/caldavpod/podmigrate/internal/migration"
)

// entry is one directory uid's record as it appears on disk.
type entry struct {
	UID        string `yaml:"uid"`
	ThisServer bool   `yaml:"this_server"`
}

type file struct {
	Records []entry `yaml:"records"`
}

// Service resolves migration.DirectoryRecord values from a YAML file
// loaded once at startup. It is safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	records map[string]*migration.DirectoryRecord
}

// Load reads the directory file at path. A missing file is not an
// error - it yields an empty directory, for a pod with no local
// directory data of its own.
func Load(path string) (*Service, error) {
	s := &Service{records: map[string]*migration.DirectoryRecord{}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: reading %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("directory: parsing %s: %w", path, err)
	}
	for _, e := range f.Records {
		s.records[e.UID] = &migration.DirectoryRecord{UID: e.UID, ThisServer: e.ThisServer}
	}
	return s, nil
}

// RecordWithUID implements migration.DirectoryService.
func (s *Service) RecordWithUID(_ context.Context, uid string) (*migration.DirectoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[uid], nil
}

// Put registers or replaces a record, including one read from the
// directory file, so tests can seed directory data without a file.
func (s *Service) Put(r *migration.DirectoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.UID] = r
}

var _ migration.DirectoryService = (*Service)(nil)
