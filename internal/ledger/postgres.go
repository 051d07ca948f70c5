package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sss97133/nuke-recon/internal/db"
	"github.com/sss97133/nuke-recon/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vehicles (
	id         TEXT PRIMARY KEY,
	identifier TEXT,
	owner_id   TEXT,
	fields     JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	field        TEXT NOT NULL,
	value        TEXT NOT NULL,
	source_kind  TEXT NOT NULL,
	source_url   TEXT,
	submitter_id TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS image_claims (
	id               TEXT PRIMARY KEY,
	vehicle_id       TEXT NOT NULL REFERENCES vehicles(id),
	url              TEXT NOT NULL,
	status           TEXT NOT NULL,
	match_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	retry_after      TIMESTAMPTZ,
	submitter_id     TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
	id          TEXT PRIMARY KEY,
	vehicle_id  TEXT NOT NULL REFERENCES vehicles(id),
	from_owner  TEXT,
	to_owner    TEXT,
	date        TIMESTAMPTZ,
	price       INTEGER NOT NULL DEFAULT 0,
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	verified    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_vehicles_identifier ON vehicles(identifier) WHERE identifier IS NOT NULL AND identifier != '';
CREATE INDEX IF NOT EXISTS idx_evidence_entity_field ON evidence(entity_id, field);
CREATE INDEX IF NOT EXISTS idx_evidence_entity_field_value ON evidence(entity_id, field, value);
CREATE INDEX IF NOT EXISTS idx_image_claims_vehicle ON image_claims(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_image_claims_due ON image_claims(status, retry_after);
CREATE INDEX IF NOT EXISTS idx_transfers_vehicle ON transfers(vehicle_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Vehicles

func (s *PostgresStore) CreateVehicle(ctx context.Context, v *model.Vehicle) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	fieldsJSON, err := json.Marshal(vehicleFields(v))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal vehicle fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vehicles (id, identifier, owner_id, fields, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Identifier, v.OwnerID, fieldsJSON, v.CreatedAt, v.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert vehicle %s", v.ID)
}

func (s *PostgresStore) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(identifier, ''), COALESCE(owner_id, ''), fields, created_at, updated_at FROM vehicles WHERE id = $1`, id)

	var v model.Vehicle
	var fieldsJSON []byte
	err := row.Scan(&v.ID, &v.Identifier, &v.OwnerID, &fieldsJSON, &v.CreatedAt, &v.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("postgres: vehicle not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan vehicle")
	}
	if err := json.Unmarshal(fieldsJSON, &v.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal vehicle fields")
	}
	return &v, nil
}

func (s *PostgresStore) AdoptIdentifier(ctx context.Context, vehicleID, identifier string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicles SET identifier = $1, updated_at = $2 WHERE id = $3 AND (identifier IS NULL OR identifier = '')`,
		identifier, time.Now().UTC(), vehicleID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: adopt identifier for %s", vehicleID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("vehicle without identifier not found: %s", vehicleID)
	}
	return nil
}

func (s *PostgresStore) SetVehicleField(ctx context.Context, vehicleID, field, value string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicles SET fields = jsonb_set(fields, ARRAY[$1], to_jsonb($2::text)), updated_at = $3 WHERE id = $4`,
		field, value, time.Now().UTC(), vehicleID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set field %s on %s", field, vehicleID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("vehicle not found: %s", vehicleID)
	}
	return nil
}

// Evidence

func (s *PostgresStore) AppendEvidence(ctx context.Context, e *model.EvidenceEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evidence (id, entity_id, field, value, source_kind, source_url, submitter_id, confidence, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.EntityID, e.Field, e.Value, string(e.SourceKind), e.SourceURL, e.SubmitterID, e.Confidence, string(e.Status), e.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append evidence %s/%s", e.EntityID, e.Field)
}

const pgEvidenceColumns = `id, entity_id, field, value, source_kind, COALESCE(source_url, ''), submitter_id, confidence, status, created_at`

func (s *PostgresStore) CurrentValue(ctx context.Context, entityID, field string) (*model.EvidenceEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgEvidenceColumns+` FROM evidence
		 WHERE entity_id = $1 AND field = $2 AND status = $3
		 ORDER BY confidence DESC, created_at DESC, id LIMIT 1`,
		entityID, field, string(model.EvidenceAccepted),
	)
	e, err := scanPgEvidence(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current value")
	}
	return e, nil
}

func (s *PostgresStore) History(ctx context.Context, entityID, field string) ([]model.EvidenceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgEvidenceColumns+` FROM evidence
		 WHERE entity_id = $1 AND field = $2
		 ORDER BY confidence DESC, created_at DESC, id`,
		entityID, field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: history")
	}
	defer rows.Close()

	var entries []model.EvidenceEntry
	for rows.Next() {
		e, err := scanPgEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: history iterate")
}

func (s *PostgresStore) CountCorroborating(ctx context.Context, entityID, field, value string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT submitter_id) FROM evidence
		 WHERE entity_id = $1 AND field = $2 AND value = $3 AND status = $4`,
		entityID, field, value, string(model.EvidenceAccepted),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count corroborating")
}

func (s *PostgresStore) TransitionEvidence(ctx context.Context, entryID string, to model.EvidenceStatus) error {
	if to != model.EvidenceAccepted && to != model.EvidenceRejected {
		return eris.Errorf("ledger: illegal evidence transition to %q", to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), entryID, string(model.EvidencePending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition evidence %s", entryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending evidence entry not found: %s", entryID)
	}
	return nil
}

// Image claims

func (s *PostgresStore) CreateImageClaim(ctx context.Context, c *model.ImageClaim) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.ImageUnvalidated
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO image_claims (id, vehicle_id, url, status, match_confidence, retry_count, retry_after, submitter_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.VehicleID, c.URL, string(c.Status), c.MatchConfidence, c.RetryCount, c.RetryAfter, c.SubmitterID, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert image claim for %s", c.VehicleID)
}

func (s *PostgresStore) UpdateImageClaim(ctx context.Context, c *model.ImageClaim) error {
	c.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE image_claims SET status = $1, match_confidence = $2, retry_count = $3, retry_after = $4, updated_at = $5 WHERE id = $6`,
		string(c.Status), c.MatchConfidence, c.RetryCount, c.RetryAfter, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update image claim %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("image claim not found: %s", c.ID)
	}
	return nil
}

const pgImageColumns = `id, vehicle_id, url, status, match_confidence, retry_count, retry_after, submitter_id, created_at, updated_at`

func (s *PostgresStore) ListImageClaims(ctx context.Context, vehicleID string) ([]model.ImageClaim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgImageColumns+` FROM image_claims WHERE vehicle_id = $1 ORDER BY created_at, id`,
		vehicleID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list image claims")
	}
	defer rows.Close()
	return collectPgImageClaims(rows)
}

func (s *PostgresStore) DueImageClaims(ctx context.Context, now time.Time, limit int) ([]model.ImageClaim, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgImageColumns+` FROM image_claims
		 WHERE status = $1 OR (status = $2 AND retry_after <= $3)
		 ORDER BY created_at, id LIMIT $4`,
		string(model.ImageUnvalidated), string(model.ImagePendingRetry), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due image claims")
	}
	defer rows.Close()
	return collectPgImageClaims(rows)
}

// Ownership transfers

func (s *PostgresStore) CreateTransfer(ctx context.Context, t *model.OwnershipTransfer) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfers (id, vehicle_id, from_owner, to_owner, date, price, evidence_id, verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.VehicleID, t.FromOwner, t.ToOwner, t.Date, t.Price, t.EvidenceID, t.Verified, t.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert transfer for %s", t.VehicleID)
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (*model.OwnershipTransfer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, vehicle_id, COALESCE(from_owner, ''), COALESCE(to_owner, ''), date, price, evidence_id, verified, created_at
		 FROM transfers WHERE id = $1`, id)

	var t model.OwnershipTransfer
	err := row.Scan(&t.ID, &t.VehicleID, &t.FromOwner, &t.ToOwner, &t.Date, &t.Price, &t.EvidenceID, &t.Verified, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("postgres: transfer not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan transfer")
	}
	return &t, nil
}

func (s *PostgresStore) MarkTransferVerified(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transfers SET verified = TRUE WHERE id = $1 AND verified = FALSE`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: verify transfer %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("unverified transfer not found: %s", id)
	}
	return nil
}

// scan helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgEvidence(row pgScannable) (*model.EvidenceEntry, error) {
	var e model.EvidenceEntry
	var sourceKind, status string
	err := row.Scan(&e.ID, &e.EntityID, &e.Field, &e.Value, &sourceKind, &e.SourceURL, &e.SubmitterID, &e.Confidence, &status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.SourceKind = model.SourceKind(sourceKind)
	e.Status = model.EvidenceStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func collectPgImageClaims(rows pgx.Rows) ([]model.ImageClaim, error) {
	var claims []model.ImageClaim
	for rows.Next() {
		var c model.ImageClaim
		var status string
		if err := rows.Scan(&c.ID, &c.VehicleID, &c.URL, &status, &c.MatchConfidence, &c.RetryCount, &c.RetryAfter, &c.SubmitterID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan image claim")
		}
		c.Status = model.ImageStatus(status)
		claims = append(claims, c)
	}
	return claims, eris.Wrap(rows.Err(), "postgres: image claims iterate")
}

// Bulk import

var pgEvidenceImportColumns = []string{
	"id", "entity_id", "field", "value", "source_kind",
	"source_url", "submitter_id", "confidence", "status", "created_at",
}

func (s *PostgresStore) ImportEvidence(ctx context.Context, entries []model.EvidenceEntry) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.Status == "" {
			e.Status = model.EvidencePending
		}
		rows = append(rows, []any{
			e.ID, e.EntityID, e.Field, e.Value, string(e.SourceKind),
			e.SourceURL, e.SubmitterID, e.Confidence, string(e.Status), e.CreatedAt,
		})
	}
	return db.CopyFrom(ctx, s.pool, "evidence", pgEvidenceImportColumns, rows)
}

func (s *PostgresStore) ImportVehicles(ctx context.Context, vehicles []model.Vehicle) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(vehicles))
	for i := range vehicles {
		v := &vehicles[i]
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = now
		fieldsJSON, err := json.Marshal(vehicleFields(v))
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal vehicle fields for %s", v.ID)
		}
		rows = append(rows, []any{v.ID, v.Identifier, v.OwnerID, fieldsJSON, v.CreatedAt, v.UpdatedAt})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "vehicles",
		Columns:      []string{"id", "identifier", "owner_id", "fields", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"identifier", "owner_id", "fields", "updated_at"},
	}, rows)
}

// Stats

func (s *PostgresStore) LedgerStats(ctx context.Context, since time.Time) (*model.LedgerStats, error) {
	stats := &model.LedgerStats{
		EvidenceByStatus: make(map[model.EvidenceStatus]int),
		ImagesByStatus:   make(map[model.ImageStatus]int),
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM evidence WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: evidence stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence stats")
		}
		stats.EvidenceByStatus[model.EvidenceStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: evidence stats iterate")
	}

	imgRows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM image_claims GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: image stats")
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var status string
		var n int
		if err := imgRows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan image stats")
		}
		stats.ImagesByStatus[model.ImageStatus(status)] = n
	}
	if err := imgRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: image stats iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transfers WHERE verified = FALSE`).Scan(&stats.PendingTransfers)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: transfer stats")
	}

	return stats, nil
}
