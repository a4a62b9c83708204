// Package metadata implements the persistent duplicate-signature table and
// presence/mtime state table described by the watcher engine's data model,
// plus their periodic purge. It follows the launcher's sqlite storage
// idiom (database/sql over the pure-Go modernc.org/sqlite driver, one
// *sql.DB per store, a component-scoped *slog.Logger) rather than an ORM.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the report_status of a PresenceCheck row.
type Status string

const (
	StatusFresh      Status = "FRESH"
	StatusExisted    Status = "EXISTED"
	StatusModifying  Status = "MODIFYING"
)

// PresenceResult is the transition code returned by CheckAndRecordPresence.
type PresenceResult string

const (
	PresenceFresh     PresenceResult = "FRESH"
	PresenceNew       PresenceResult = "NEW"
	PresenceStable    PresenceResult = "STABLE"
	PresenceModifying PresenceResult = "MODIFYING"
	PresenceModified  PresenceResult = "MODIFIED"
)

// maintenanceMinInterval bounds how often the internal prune sweep runs,
// regardless of how often Maintain is invoked.
const maintenanceMinInterval = 2 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS duplicate_check (
	file_name         TEXT NOT NULL,
	file_sig          TEXT NOT NULL,
	first_contact_time INTEGER NOT NULL,
	last_contact_time  INTEGER NOT NULL,
	lifetime_retain    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (file_name, file_sig)
);

CREATE TABLE IF NOT EXISTS presence_check (
	file_relfolder     TEXT NOT NULL,
	file_name          TEXT NOT NULL,
	file_size          INTEGER NOT NULL,
	file_mtime         INTEGER NOT NULL,
	report_status      TEXT NOT NULL,
	first_contact_time INTEGER NOT NULL,
	last_contact_time  INTEGER NOT NULL,
	PRIMARY KEY (file_relfolder, file_name)
);
`

// Store is the MetadataStore: the two tables plus their purge discipline.
// All methods are safe to call only from the single goroutine that owns
// the engine's event loop -- there is no internal locking, matching the
// "MetadataStore is touched only from the main loop" discipline in the
// concurrency model.
type Store struct {
	db      *sql.DB
	slogger *slog.Logger

	dupRetain      time.Duration
	presenceRetain time.Duration

	lastMaintain time.Time
}

// Open creates (if absent) the schema at dbPath and returns a ready Store.
func Open(ctx context.Context, slogger *slog.Logger, dbPath string, dupRetainDays, presenceRetainDays int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening %s: %w", dbPath, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadata: creating schema: %w", err)
	}

	if dupRetainDays < 1 {
		dupRetainDays = 3
	}
	if presenceRetainDays < 1 {
		presenceRetainDays = 2
	}

	return &Store{
		db:             db,
		slogger:        slogger.With("component", "metadata_store"),
		dupRetain:      time.Duration(dupRetainDays) * 24 * time.Hour,
		presenceRetain: time.Duration(presenceRetainDays) * 24 * time.Hour,
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckAndRecordDuplicate inserts (name, sig) if absent and returns false
// ("not a duplicate"); if the row already exists it updates
// last_contact_time and returns true.
func (s *Store) CheckAndRecordDuplicate(ctx context.Context, nameOrLabel, sig string, lifetimeRetain bool, now time.Time) (bool, error) {
	nowUnix := now.Unix()

	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM duplicate_check WHERE file_name = ? AND file_sig = ?`,
		nameOrLabel, sig,
	).Scan(&existing)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		retain := 0
		if lifetimeRetain {
			retain = 1
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO duplicate_check (file_name, file_sig, first_contact_time, last_contact_time, lifetime_retain)
			 VALUES (?, ?, ?, ?, ?)`,
			nameOrLabel, sig, nowUnix, nowUnix, retain,
		)
		if err != nil {
			return false, fmt.Errorf("metadata: inserting duplicate_check row: %w", err)
		}
		return false, nil
	case err != nil:
		return false, fmt.Errorf("metadata: querying duplicate_check: %w", err)
	default:
		if _, err := s.db.ExecContext(ctx,
			`UPDATE duplicate_check SET last_contact_time = ? WHERE file_name = ? AND file_sig = ?`,
			nowUnix, nameOrLabel, sig,
		); err != nil {
			return false, fmt.Errorf("metadata: updating duplicate_check row: %w", err)
		}
		return true, nil
	}
}

// CheckAndRecordPresence computes the presence/mtime state transition for
// (relfolder, name) and always writes the current observation.
func (s *Store) CheckAndRecordPresence(ctx context.Context, relfolder, name string, size, mtime int64, now time.Time) (PresenceResult, error) {
	nowUnix := now.Unix()

	var priorStatus Status
	var priorSize, priorMtime int64
	err := s.db.QueryRowContext(ctx,
		`SELECT report_status, file_size, file_mtime FROM presence_check WHERE file_relfolder = ? AND file_name = ?`,
		relfolder, name,
	).Scan(&priorStatus, &priorSize, &priorMtime)

	matches := priorSize == size && priorMtime == mtime

	var newStatus Status
	var result PresenceResult

	switch {
	case errors.Is(err, sql.ErrNoRows):
		newStatus, result = StatusFresh, PresenceFresh
	case err != nil:
		return "", fmt.Errorf("metadata: querying presence_check: %w", err)
	default:
		switch priorStatus {
		case StatusFresh:
			if matches {
				newStatus, result = StatusExisted, PresenceNew
			} else {
				newStatus, result = StatusFresh, PresenceFresh
			}
		case StatusExisted:
			if matches {
				newStatus, result = StatusExisted, PresenceStable
			} else {
				newStatus, result = StatusModifying, PresenceModifying
			}
		case StatusModifying:
			if matches {
				newStatus, result = StatusExisted, PresenceModified
			} else {
				newStatus, result = StatusModifying, PresenceModifying
			}
		default:
			newStatus, result = StatusFresh, PresenceFresh
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO presence_check (file_relfolder, file_name, file_size, file_mtime, report_status, first_contact_time, last_contact_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			relfolder, name, size, mtime, string(newStatus), nowUnix, nowUnix,
		)
		if execErr != nil {
			return "", fmt.Errorf("metadata: inserting presence_check row: %w", execErr)
		}
	} else {
		_, execErr := s.db.ExecContext(ctx,
			`UPDATE presence_check SET file_size = ?, file_mtime = ?, report_status = ?, last_contact_time = ?
			 WHERE file_relfolder = ? AND file_name = ?`,
			size, mtime, string(newStatus), nowUnix, relfolder, name,
		)
		if execErr != nil {
			return "", fmt.Errorf("metadata: updating presence_check row: %w", execErr)
		}
	}

	return result, nil
}

// RelFolderName pairs a PresenceCheck key for deletion reporting.
type RelFolderName struct {
	RelFolder string
	Name      string
}

// CollectDeletionsAndPurge selects and deletes every PresenceCheck row
// whose last_contact_time is older than cutoff, returning the keys that
// were removed so the caller can emit DELETED events for them.
func (s *Store) CollectDeletionsAndPurge(ctx context.Context, cutoff time.Time) ([]RelFolderName, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_relfolder, file_name FROM presence_check WHERE last_contact_time < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: selecting stale presence_check rows: %w", err)
	}

	var stale []RelFolderName
	for rows.Next() {
		var rf RelFolderName
		if err := rows.Scan(&rf.RelFolder, &rf.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("metadata: scanning stale presence_check row: %w", err)
		}
		stale = append(stale, rf)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("metadata: iterating stale presence_check rows: %w", err)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM presence_check WHERE last_contact_time < ?`,
		cutoff.Unix(),
	); err != nil {
		return nil, fmt.Errorf("metadata: deleting stale presence_check rows: %w", err)
	}

	return stale, nil
}

// Maintain runs the internal prune sweep (duplicate_check rows past their
// retention and not lifetime_retain; presence_check rows past their
// retention) but no more often than once every two hours. It is meant to
// be registered as a driver.PeriodicalCall.
func (s *Store) Maintain(ctx context.Context, now time.Time) error {
	if !s.lastMaintain.IsZero() && now.Sub(s.lastMaintain) < maintenanceMinInterval {
		return nil
	}
	s.lastMaintain = now

	dupCutoff := now.Add(-s.dupRetain).Unix()
	presenceCutoff := now.Add(-s.presenceRetain).Unix()

	dupRes, err := s.db.ExecContext(ctx,
		`DELETE FROM duplicate_check WHERE last_contact_time < ? AND lifetime_retain = 0`,
		dupCutoff,
	)
	if err != nil {
		return fmt.Errorf("metadata: pruning duplicate_check: %w", err)
	}

	presRes, err := s.db.ExecContext(ctx,
		`DELETE FROM presence_check WHERE last_contact_time < ?`,
		presenceCutoff,
	)
	if err != nil {
		return fmt.Errorf("metadata: pruning presence_check: %w", err)
	}

	dupN, _ := dupRes.RowsAffected()
	presN, _ := presRes.RowsAffected()
	s.slogger.Log(ctx, slog.LevelDebug,
		"maintenance sweep complete",
		"duplicate_check_pruned", dupN,
		"presence_check_pruned", presN,
	)

	return nil
}
