package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dramline/caskwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// runs and as the round-trip store in tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS catalog_records (
	natural_code   TEXT PRIMARY KEY,
	origin_token   TEXT NOT NULL,
	sequence_no    TEXT NOT NULL,
	name           TEXT NOT NULL,
	price          TEXT,
	strength       TEXT,
	age            TEXT,
	cask_type      TEXT,
	origin_name    TEXT,
	region         TEXT,
	available      INTEGER NOT NULL DEFAULT 1,
	url            TEXT NOT NULL,
	recently_added INTEGER NOT NULL DEFAULT 1,
	recent_since   DATETIME,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_catalog_records_name ON catalog_records(name);

CREATE TABLE IF NOT EXISTS alert_definitions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	scope_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (owner_id, scope_id, kind, value)
);
`

// Migrate creates tables and indexes if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Mirror returns the (name, url) projection of all persisted records.
func (s *SQLiteStore) Mirror(ctx context.Context) ([]MirrorEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, url FROM catalog_records`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query mirror")
	}
	defer rows.Close()

	var entries []MirrorEntry
	for rows.Next() {
		var e MirrorEntry
		if err := rows.Scan(&e.Name, &e.URL); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mirror entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertRecord inserts or refreshes one record keyed by natural code. The
// existence probe and the write run in one transaction; the cycle runner is
// the only writer so this is race-free in practice.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.Record) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM catalog_records WHERE natural_code = ?)`,
		rec.Code.String(),
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: probe %s", rec.Code)
	}

	now := time.Now().UTC()
	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE catalog_records SET name = ?, price = ?, strength = ?, age = ?, cask_type = ?, origin_name = ?, region = ?, available = ?, url = ?, updated_at = ?
			 WHERE natural_code = ?`,
			rec.Name, rec.Price, rec.Strength, rec.AgeText, rec.CaskType,
			rec.OriginName, rec.Region, rec.Available, rec.URL, now,
			rec.Code.String(),
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO catalog_records (natural_code, origin_token, sequence_no, name, price, strength, age, cask_type, origin_name, region, available, url, recently_added, recent_since, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			rec.Code.String(), rec.Code.Origin, rec.Code.Sequence,
			rec.Name, rec.Price, rec.Strength, rec.AgeText, rec.CaskType,
			rec.OriginName, rec.Region, rec.Available, rec.URL, now, now, now,
		)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert %s", rec.Code)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: commit upsert")
	}
	return !exists, nil
}

// SetAvailability bulk-updates availability by record name.
func (s *SQLiteStore) SetAvailability(ctx context.Context, names []string, available bool) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(names))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(names)+2)
	args = append(args, available, time.Now().UTC())
	for _, n := range names {
		args = append(args, n)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog_records SET available = ?, updated_at = ? WHERE name IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: set availability")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

// ExpireRecent clears recently_added on records past the freshness window.
func (s *SQLiteStore) ExpireRecent(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog_records SET recently_added = 0
		 WHERE recently_added AND recent_since IS NOT NULL AND recent_since < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire recent")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return n, nil
}

// ListRecords returns every persisted record.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT natural_code, origin_token, sequence_no, name, price, strength, age, cask_type, origin_name, region, available, url, recently_added, recent_since, created_at, updated_at
		 FROM catalog_records ORDER BY natural_code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var (
			rec         model.Record
			code        string
			price       sql.NullString
			strength    sql.NullString
			age         sql.NullString
			caskType    sql.NullString
			originName  sql.NullString
			region      sql.NullString
			recentSince sql.NullTime
		)
		err := rows.Scan(&code, &rec.Code.Origin, &rec.Code.Sequence, &rec.Name,
			&price, &strength, &age, &caskType, &originName, &region,
			&rec.Available, &rec.URL, &rec.RecentlyAdded, &recentSince,
			&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec.Price = price.String
		rec.Strength = strength.String
		rec.SetAge(age.String)
		rec.CaskType = caskType.String
		rec.OriginName = originName.String
		rec.Region = region.String
		if recentSince.Valid {
			t := recentSince.Time
			rec.RecentSince = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListAlerts returns every stored alert definition.
func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT id, owner_id, scope_id, kind, value, created_at FROM alert_definitions ORDER BY created_at`)
}

// ListAlertsByOwner returns the alerts owned by one user in one scope.
func (s *SQLiteStore) ListAlertsByOwner(ctx context.Context, ownerID, scopeID string) ([]model.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT id, owner_id, scope_id, kind, value, created_at FROM alert_definitions
		 WHERE owner_id = ? AND scope_id = ? ORDER BY created_at`,
		ownerID, scopeID)
}

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query alerts")
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.ScopeID, &a.Kind, &a.Value, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CreateAlert stores a new alert definition, enforcing uniqueness on
// (owner, scope, kind, value).
func (s *SQLiteStore) CreateAlert(ctx context.Context, alert model.Alert) (*model.Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_definitions (id, owner_id, scope_id, kind, value, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.OwnerID, alert.ScopeID, alert.Kind, alert.Value, alert.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateAlert
		}
		return nil, eris.Wrap(err, "sqlite: create alert")
	}
	return &alert, nil
}

// DeleteAlert removes one alert definition.
func (s *SQLiteStore) DeleteAlert(ctx context.Context, ownerID, scopeID string, kind model.AlertKind, value string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alert_definitions WHERE owner_id = ? AND scope_id = ? AND kind = ? AND value = ?`,
		ownerID, scopeID, kind, value)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete alert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
