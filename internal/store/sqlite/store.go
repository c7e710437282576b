// Package sqlite persists the three migration-record tables that track
// remote->local id mappings and per-calendar sync cursors across a
// migration that may span many batched transactions. It favors
// database/sql with hand-written queries over an ORM, using the
// ncruces/go-sqlite3 driver and BEGIN IMMEDIATE transactions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/caldavpod/podmigrate/internal/migration"
)

// DB wraps the migration-record database. Callers open one DB per
// destination pod and hand out *Tx values scoped to a single
// migration.Txn lifetime.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures the migration-record schema exists.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: opening %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store/sqlite: connecting to %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store/sqlite: applying schema: %w", err)
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// Begin starts a write transaction using BEGIN IMMEDIATE, acquiring
// the write lock up front rather than promoting a deferred transaction
// mid-write and risking SQLITE_BUSY after other work has already
// happened.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	if _, err := d.sql.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("store/sqlite: BEGIN IMMEDIATE: %w", err)
	}
	return &Tx{db: d.sql}, nil
}

// Tx scopes the three migration-record stores to one underlying sqlite
// transaction. It does not implement migration.Txn by itself - a real
// deployment composes it with a concrete calendar/attachment store to
// build the full migration.Txn the core consumes.
type Tx struct {
	db        *sql.DB
	committed bool
}

func (t *Tx) Commit() error {
	if _, err := t.db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("store/sqlite: commit: %w", err)
	}
	t.committed = true
	return nil
}

func (t *Tx) Abort() error {
	if t.committed {
		return nil
	}
	if _, err := t.db.Exec("ROLLBACK"); err != nil {
		return fmt.Errorf("store/sqlite: rollback: %w", err)
	}
	return nil
}

func (t *Tx) CalendarMigrationRecords() migration.CalendarMigrationRecordStore {
	return calendarMigrationRecordStore{db: t.db}
}

func (t *Tx) CalendarObjectMigrationRecords() migration.CalendarObjectMigrationRecordStore {
	return calendarObjectMigrationRecordStore{db: t.db}
}

func (t *Tx) AttachmentMigrationRecords() migration.AttachmentMigrationRecordStore {
	return attachmentMigrationRecordStore{db: t.db}
}

type calendarMigrationRecordStore struct{ db *sql.DB }

func (s calendarMigrationRecordStore) ByHome(ctx context.Context, homeID int64) ([]*migration.CalendarMigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_home_id, remote_resource_id, local_resource_id, last_sync_token
		FROM calendar_migration_record WHERE local_home_id = ?`, homeID)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: querying calendar_migration_record: %w", err)
	}
	defer rows.Close()

	var out []*migration.CalendarMigrationRecord
	for rows.Next() {
		r := &migration.CalendarMigrationRecord{}
		if err := rows.Scan(&r.CalendarHomeResourceID, &r.RemoteResourceID, &r.LocalResourceID, &r.LastSyncToken); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s calendarMigrationRecordStore) Insert(ctx context.Context, r *migration.CalendarMigrationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_migration_record
			(local_home_id, remote_resource_id, local_resource_id, last_sync_token)
		VALUES (?, ?, ?, ?)`,
		r.CalendarHomeResourceID, r.RemoteResourceID, r.LocalResourceID, r.LastSyncToken)
	if err != nil {
		return fmt.Errorf("store/sqlite: inserting calendar_migration_record: %w", err)
	}
	return nil
}

func (s calendarMigrationRecordStore) UpdateSyncToken(ctx context.Context, r *migration.CalendarMigrationRecord, newToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_migration_record SET last_sync_token = ?
		WHERE local_home_id = ? AND remote_resource_id = ?`,
		newToken, r.CalendarHomeResourceID, r.RemoteResourceID)
	if err != nil {
		return fmt.Errorf("store/sqlite: updating calendar_migration_record sync token: %w", err)
	}
	return nil
}

func (s calendarMigrationRecordStore) DeleteByRemoteID(ctx context.Context, homeID, remoteID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM calendar_migration_record WHERE local_home_id = ? AND remote_resource_id = ?`,
		homeID, remoteID)
	if err != nil {
		return fmt.Errorf("store/sqlite: deleting calendar_migration_record: %w", err)
	}
	return nil
}

type calendarObjectMigrationRecordStore struct{ db *sql.DB }

func (s calendarObjectMigrationRecordStore) ByHome(ctx context.Context, homeID int64) ([]*migration.CalendarObjectMigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_home_id, remote_resource_id, local_resource_id
		FROM calendar_object_migration_record WHERE local_home_id = ?`, homeID)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: querying calendar_object_migration_record: %w", err)
	}
	defer rows.Close()

	var out []*migration.CalendarObjectMigrationRecord
	for rows.Next() {
		r := &migration.CalendarObjectMigrationRecord{}
		if err := rows.Scan(&r.CalendarHomeResourceID, &r.RemoteResourceID, &r.LocalResourceID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s calendarObjectMigrationRecordStore) Insert(ctx context.Context, r *migration.CalendarObjectMigrationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_object_migration_record
			(local_home_id, remote_resource_id, local_resource_id)
		VALUES (?, ?, ?)`,
		r.CalendarHomeResourceID, r.RemoteResourceID, r.LocalResourceID)
	if err != nil {
		return fmt.Errorf("store/sqlite: inserting calendar_object_migration_record: %w", err)
	}
	return nil
}

func (s calendarObjectMigrationRecordStore) DeleteByLocalObjectID(ctx context.Context, homeID, localObjectID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM calendar_object_migration_record WHERE local_home_id = ? AND local_resource_id = ?`,
		homeID, localObjectID)
	if err != nil {
		return fmt.Errorf("store/sqlite: deleting calendar_object_migration_record: %w", err)
	}
	return nil
}

type attachmentMigrationRecordStore struct{ db *sql.DB }

func (s attachmentMigrationRecordStore) ByHome(ctx context.Context, homeID int64) ([]*migration.AttachmentMigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_home_id, remote_resource_id, local_resource_id
		FROM attachment_migration_record WHERE local_home_id = ?`, homeID)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite: querying attachment_migration_record: %w", err)
	}
	defer rows.Close()

	var out []*migration.AttachmentMigrationRecord
	for rows.Next() {
		r := &migration.AttachmentMigrationRecord{}
		if err := rows.Scan(&r.CalendarHomeResourceID, &r.RemoteResourceID, &r.LocalResourceID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s attachmentMigrationRecordStore) Insert(ctx context.Context, r *migration.AttachmentMigrationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachment_migration_record
			(local_home_id, remote_resource_id, local_resource_id)
		VALUES (?, ?, ?)`,
		r.CalendarHomeResourceID, r.RemoteResourceID, r.LocalResourceID)
	if err != nil {
		return fmt.Errorf("store/sqlite: inserting attachment_migration_record: %w", err)
	}
	return nil
}

func (s attachmentMigrationRecordStore) DeleteByRemoteID(ctx context.Context, homeID, remoteID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM attachment_migration_record WHERE local_home_id = ? AND remote_resource_id = ?`,
		homeID, remoteID)
	if err != nil {
		return fmt.Errorf("store/sqlite: deleting attachment_migration_record: %w", err)
	}
	return nil
}
