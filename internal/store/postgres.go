package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dramline/caskwatch/internal/db"
	"github.com/dramline/caskwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-cycle hot path.
var preparedStatements = map[string]string{
	"mirror":           sqlMirror,
	"upsert_record":    sqlUpsertRecord,
	"set_availability": sqlSetAvailability,
	"expire_recent":    sqlExpireRecent,
	"list_alerts":      sqlListAlerts,
}

const sqlMirror = `SELECT name, url FROM catalog_records`

// (xmax = 0) distinguishes a true insert from a conflict update; the
// recently_added pair is written only through the VALUES branch.
const sqlUpsertRecord = `INSERT INTO catalog_records
	(natural_code, origin_token, sequence_no, name, price, strength, age, cask_type, origin_name, region, available, url, recently_added, recent_since, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE, $13, $13, $13)
	ON CONFLICT (natural_code) DO UPDATE SET
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		strength = EXCLUDED.strength,
		age = EXCLUDED.age,
		cask_type = EXCLUDED.cask_type,
		origin_name = EXCLUDED.origin_name,
		region = EXCLUDED.region,
		available = EXCLUDED.available,
		url = EXCLUDED.url,
		updated_at = EXCLUDED.updated_at
	RETURNING (xmax = 0) AS inserted`

const sqlSetAvailability = `UPDATE catalog_records SET available = $1, updated_at = $2 WHERE name = ANY($3)`

const sqlExpireRecent = `UPDATE catalog_records SET recently_added = FALSE
	WHERE recently_added AND recent_since IS NOT NULL AND recent_since < $1`

const sqlListAlerts = `SELECT id, owner_id, scope_id, kind, value, created_at FROM alert_definitions ORDER BY created_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	available      BOOLEAN NOT NULL DEFAULT TRUE,
	url            TEXT NOT NULL,
	recently_added BOOLEAN NOT NULL DEFAULT TRUE,
	recent_since   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_catalog_records_name ON catalog_records(name);
CREATE INDEX IF NOT EXISTS idx_catalog_records_recent ON catalog_records(recent_since) WHERE recently_added;

CREATE TABLE IF NOT EXISTS alert_definitions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	scope_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, scope_id, kind, value)
);

CREATE INDEX IF NOT EXISTS idx_alert_definitions_owner ON alert_definitions(owner_id, scope_id);
`

// Migrate creates tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Mirror returns the (name, url) projection of all persisted records.
func (s *PostgresStore) Mirror(ctx context.Context) ([]MirrorEntry, error) {
	rows, err := s.pool.Query(ctx, sqlMirror)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query mirror")
	}
	defer rows.Close()

	var entries []MirrorEntry
	for rows.Next() {
		var e MirrorEntry
		if err := rows.Scan(&e.Name, &e.URL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mirror entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate mirror")
	}
	return entries, nil
}

// UpsertRecord inserts or refreshes one record keyed by natural code.
func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.Record) (bool, error) {
	now := time.Now().UTC()
	var inserted bool
	err := s.pool.QueryRow(ctx, sqlUpsertRecord,
		rec.Code.String(), rec.Code.Origin, rec.Code.Sequence,
		rec.Name, rec.Price, rec.Strength, rec.AgeText, rec.CaskType,
		rec.OriginName, rec.Region, rec.Available, rec.URL, now,
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert %s", rec.Code)
	}
	return inserted, nil
}

// SetAvailability bulk-updates availability by record name.
func (s *PostgresStore) SetAvailability(ctx context.Context, names []string, available bool) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, sqlSetAvailability, available, time.Now().UTC(), names)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: set availability")
	}
	return tag.RowsAffected(), nil
}

// ExpireRecent clears recently_added on records past the freshness window.
func (s *PostgresStore) ExpireRecent(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, sqlExpireRecent, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire recent")
	}
	return tag.RowsAffected(), nil
}

const sqlListRecords = `SELECT natural_code, origin_token, sequence_no, name, price, strength, age, cask_type, origin_name, region, available, url, recently_added, recent_since, created_at, updated_at
	FROM catalog_records ORDER BY natural_code`

// ListRecords returns every persisted record.
func (s *PostgresStore) ListRecords(ctx context.Context) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, sqlListRecords)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate records")
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*model.Record, error) {
	var (
		rec         model.Record
		code        string
		price       *string
		strength    *string
		age         *string
		caskType    *string
		originName  *string
		region      *string
		recentSince *time.Time
	)
	err := row.Scan(&code, &rec.Code.Origin, &rec.Code.Sequence, &rec.Name,
		&price, &strength, &age, &caskType, &originName, &region,
		&rec.Available, &rec.URL, &rec.RecentlyAdded, &recentSince,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}
	rec.Price = deref(price)
	rec.Strength = deref(strength)
	rec.SetAge(deref(age))
	rec.CaskType = deref(caskType)
	rec.OriginName = deref(originName)
	rec.Region = deref(region)
	rec.RecentSince = recentSince
	return &rec, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListAlerts returns every stored alert definition.
func (s *PostgresStore) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	return s.queryAlerts(ctx, sqlListAlerts)
}

// ListAlertsByOwner returns the alerts owned by one user in one scope.
func (s *PostgresStore) ListAlertsByOwner(ctx context.Context, ownerID, scopeID string) ([]model.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT id, owner_id, scope_id, kind, value, created_at FROM alert_definitions
		 WHERE owner_id = $1 AND scope_id = $2 ORDER BY created_at`,
		ownerID, scopeID)
}

func (s *PostgresStore) queryAlerts(ctx context.Context, sql string, args ...any) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query alerts")
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.ScopeID, &a.Kind, &a.Value, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate alerts")
	}
	return alerts, nil
}

// CreateAlert stores a new alert definition, enforcing uniqueness on
// (owner, scope, kind, value).
func (s *PostgresStore) CreateAlert(ctx context.Context, alert model.Alert) (*model.Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alert_definitions (id, owner_id, scope_id, kind, value, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		alert.ID, alert.OwnerID, alert.ScopeID, alert.Kind, alert.Value, alert.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateAlert
		}
		return nil, eris.Wrap(err, "postgres: create alert")
	}
	return &alert, nil
}

// DeleteAlert removes one alert definition.
func (s *PostgresStore) DeleteAlert(ctx context.Context, ownerID, scopeID string, kind model.AlertKind, value string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM alert_definitions WHERE owner_id = $1 AND scope_id = $2 AND kind = $3 AND value = $4`,
		ownerID, scopeID, kind, value)
	if err != nil {
		return eris.Wrap(err, "postgres: delete alert")
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
