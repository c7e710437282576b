package sqlite

// schema creates the three migration-record tables, keyed and indexed
// the way the core's record-store interfaces
// (internal/migration/records.go) expect to query them.
const schema = `
CREATE TABLE IF NOT EXISTS calendar_migration_record (
    local_home_id    INTEGER NOT NULL,
    remote_resource_id INTEGER NOT NULL,
    local_resource_id  INTEGER NOT NULL,
    last_sync_token     TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (local_home_id, remote_resource_id)
);

CREATE INDEX IF NOT EXISTS idx_calendar_migration_home
    ON calendar_migration_record(local_home_id);

CREATE TABLE IF NOT EXISTS calendar_object_migration_record (
    local_home_id      INTEGER NOT NULL,
    remote_resource_id INTEGER NOT NULL,
    local_resource_id  INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (local_home_id, remote_resource_id)
);

CREATE INDEX IF NOT EXISTS idx_calendar_object_migration_home
    ON calendar_object_migration_record(local_home_id);
CREATE INDEX IF NOT EXISTS idx_calendar_object_migration_local
    ON calendar_object_migration_record(local_home_id, local_resource_id);

CREATE TABLE IF NOT EXISTS attachment_migration_record (
    local_home_id      INTEGER NOT NULL,
    remote_resource_id INTEGER NOT NULL,
    local_resource_id  INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (local_home_id, remote_resource_id)
);

CREATE INDEX IF NOT EXISTS idx_attachment_migration_home
    ON attachment_migration_record(local_home_id);
`
