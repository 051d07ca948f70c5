package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sss97133/nuke-recon/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vehicles (
	id         TEXT PRIMARY KEY,
	identifier TEXT,
	owner_id   TEXT,
	fields     TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	field        TEXT NOT NULL,
	value        TEXT NOT NULL,
	source_kind  TEXT NOT NULL,
	source_url   TEXT,
	submitter_id TEXT NOT NULL,
	confidence   REAL NOT NULL,
	status       TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS image_claims (
	id               TEXT PRIMARY KEY,
	vehicle_id       TEXT NOT NULL REFERENCES vehicles(id),
	url              TEXT NOT NULL,
	status           TEXT NOT NULL,
	match_confidence REAL NOT NULL DEFAULT 0,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	retry_after      DATETIME,
	submitter_id     TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
	id          TEXT PRIMARY KEY,
	vehicle_id  TEXT NOT NULL REFERENCES vehicles(id),
	from_owner  TEXT,
	to_owner    TEXT,
	date        DATETIME,
	price       INTEGER NOT NULL DEFAULT 0,
	evidence_id TEXT NOT NULL REFERENCES evidence(id),
	verified    INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_vehicles_identifier ON vehicles(identifier) WHERE identifier IS NOT NULL AND identifier != '';
CREATE INDEX IF NOT EXISTS idx_evidence_entity_field ON evidence(entity_id, field);
CREATE INDEX IF NOT EXISTS idx_evidence_entity_field_value ON evidence(entity_id, field, value);
CREATE INDEX IF NOT EXISTS idx_image_claims_vehicle ON image_claims(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_image_claims_due ON image_claims(status, retry_after);
CREATE INDEX IF NOT EXISTS idx_transfers_vehicle ON transfers(vehicle_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vehicles

func (s *SQLiteStore) CreateVehicle(ctx context.Context, v *model.Vehicle) error {
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
		return eris.Wrap(err, "sqlite: marshal vehicle fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, identifier, owner_id, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.Identifier, v.OwnerID, string(fieldsJSON), v.CreatedAt, v.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert vehicle %s", v.ID)
}

func (s *SQLiteStore) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identifier, owner_id, fields, created_at, updated_at FROM vehicles WHERE id = ?`, id)

	var v model.Vehicle
	var identifier, ownerID sql.NullString
	var fieldsJSON string
	err := row.Scan(&v.ID, &identifier, &ownerID, &fieldsJSON, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: vehicle not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan vehicle")
	}
	v.Identifier = identifier.String
	v.OwnerID = ownerID.String
	if err := json.Unmarshal([]byte(fieldsJSON), &v.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal vehicle fields")
	}
	return &v, nil
}

func (s *SQLiteStore) AdoptIdentifier(ctx context.Context, vehicleID, identifier string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET identifier = ?, updated_at = ? WHERE id = ? AND (identifier IS NULL OR identifier = '')`,
		identifier, time.Now().UTC(), vehicleID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: adopt identifier for %s", vehicleID)
	}
	return checkRowsAffected(res, "vehicle without identifier", vehicleID)
}

func (s *SQLiteStore) SetVehicleField(ctx context.Context, vehicleID, field, value string) error {
	v, err := s.GetVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	fields := vehicleFields(v)
	fields[field] = value
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal vehicle fields")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET fields = ?, updated_at = ? WHERE id = ?`,
		string(fieldsJSON), time.Now().UTC(), vehicleID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set field %s on %s", field, vehicleID)
	}
	return checkRowsAffected(res, "vehicle", vehicleID)
}

// Evidence

func (s *SQLiteStore) AppendEvidence(ctx context.Context, e *model.EvidenceEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence (id, entity_id, field, value, source_kind, source_url, submitter_id, confidence, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityID, e.Field, e.Value, string(e.SourceKind), e.SourceURL, e.SubmitterID, e.Confidence, string(e.Status), e.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append evidence %s/%s", e.EntityID, e.Field)
}

const evidenceColumns = `id, entity_id, field, value, source_kind, source_url, submitter_id, confidence, status, created_at`

func (s *SQLiteStore) CurrentValue(ctx context.Context, entityID, field string) (*model.EvidenceEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE entity_id = ? AND field = ? AND status = ?
		 ORDER BY confidence DESC, created_at DESC, id LIMIT 1`,
		entityID, field, string(model.EvidenceAccepted),
	)
	e, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current value")
	}
	return e, nil
}

func (s *SQLiteStore) History(ctx context.Context, entityID, field string) ([]model.EvidenceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence
		 WHERE entity_id = ? AND field = ?
		 ORDER BY confidence DESC, created_at DESC, id`,
		entityID, field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: history")
	}
	defer rows.Close()

	var entries []model.EvidenceEntry
	for rows.Next() {
		e, err := scanEvidence(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: history iterate")
}

func (s *SQLiteStore) CountCorroborating(ctx context.Context, entityID, field, value string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT submitter_id) FROM evidence
		 WHERE entity_id = ? AND field = ? AND value = ? AND status = ?`,
		entityID, field, value, string(model.EvidenceAccepted),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count corroborating")
}

func (s *SQLiteStore) TransitionEvidence(ctx context.Context, entryID string, to model.EvidenceStatus) error {
	if to != model.EvidenceAccepted && to != model.EvidenceRejected {
		return eris.Errorf("ledger: illegal evidence transition to %q", to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence SET status = ? WHERE id = ? AND status = ?`,
		string(to), entryID, string(model.EvidencePending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition evidence %s", entryID)
	}
	return checkRowsAffected(res, "pending evidence entry", entryID)
}

// Image claims

func (s *SQLiteStore) CreateImageClaim(ctx context.Context, c *model.ImageClaim) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_claims (id, vehicle_id, url, status, match_confidence, retry_count, retry_after, submitter_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VehicleID, c.URL, string(c.Status), c.MatchConfidence, c.RetryCount, c.RetryAfter, c.SubmitterID, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert image claim for %s", c.VehicleID)
}

func (s *SQLiteStore) UpdateImageClaim(ctx context.Context, c *model.ImageClaim) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE image_claims SET status = ?, match_confidence = ?, retry_count = ?, retry_after = ?, updated_at = ? WHERE id = ?`,
		string(c.Status), c.MatchConfidence, c.RetryCount, c.RetryAfter, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update image claim %s", c.ID)
	}
	return checkRowsAffected(res, "image claim", c.ID)
}

const imageColumns = `id, vehicle_id, url, status, match_confidence, retry_count, retry_after, submitter_id, created_at, updated_at`

func (s *SQLiteStore) ListImageClaims(ctx context.Context, vehicleID string) ([]model.ImageClaim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM image_claims WHERE vehicle_id = ? ORDER BY created_at, id`,
		vehicleID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list image claims")
	}
	defer rows.Close()
	return collectImageClaims(rows)
}

func (s *SQLiteStore) DueImageClaims(ctx context.Context, now time.Time, limit int) ([]model.ImageClaim, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM image_claims
		 WHERE status = ? OR (status = ? AND retry_after <= ?)
		 ORDER BY created_at, id LIMIT ?`,
		string(model.ImageUnvalidated), string(model.ImagePendingRetry), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due image claims")
	}
	defer rows.Close()
	return collectImageClaims(rows)
}

// Ownership transfers

func (s *SQLiteStore) CreateTransfer(ctx context.Context, t *model.OwnershipTransfer) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers (id, vehicle_id, from_owner, to_owner, date, price, evidence_id, verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.VehicleID, t.FromOwner, t.ToOwner, t.Date, t.Price, t.EvidenceID, boolToInt(t.Verified), t.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert transfer for %s", t.VehicleID)
}

func (s *SQLiteStore) GetTransfer(ctx context.Context, id string) (*model.OwnershipTransfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, vehicle_id, from_owner, to_owner, date, price, evidence_id, verified, created_at FROM transfers WHERE id = ?`, id)

	var t model.OwnershipTransfer
	var fromOwner, toOwner sql.NullString
	var date sql.NullTime
	var verified int
	err := row.Scan(&t.ID, &t.VehicleID, &fromOwner, &toOwner, &date, &t.Price, &t.EvidenceID, &verified, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: transfer not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan transfer")
	}
	t.FromOwner = fromOwner.String
	t.ToOwner = toOwner.String
	if date.Valid {
		d := date.Time.UTC()
		t.Date = &d
	}
	t.Verified = verified != 0
	return &t, nil
}

func (s *SQLiteStore) MarkTransferVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET verified = 1 WHERE id = ? AND verified = 0`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: verify transfer %s", id)
	}
	return checkRowsAffected(res, "unverified transfer", id)
}

// Bulk import

func (s *SQLiteStore) ImportEvidence(ctx context.Context, entries []model.EvidenceEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import evidence: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evidence (id, entity_id, field, value, source_kind, source_url, submitter_id, confidence, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import evidence: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
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
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.EntityID, e.Field, e.Value, string(e.SourceKind),
			e.SourceURL, e.SubmitterID, e.Confidence, string(e.Status), e.CreatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import evidence %s/%s", e.EntityID, e.Field)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import evidence: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ImportVehicles(ctx context.Context, vehicles []model.Vehicle) (int64, error) {
	if len(vehicles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import vehicles: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vehicles (id, identifier, owner_id, fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET identifier = excluded.identifier,
		 owner_id = excluded.owner_id, fields = excluded.fields, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import vehicles: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
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
			return 0, eris.Wrapf(err, "sqlite: marshal vehicle fields for %s", v.ID)
		}
		if _, err := stmt.ExecContext(ctx,
			v.ID, v.Identifier, v.OwnerID, string(fieldsJSON), v.CreatedAt, v.UpdatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import vehicle %s", v.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import vehicles: commit")
	}
	return n, nil
}

// Stats

func (s *SQLiteStore) LedgerStats(ctx context.Context, since time.Time) (*model.LedgerStats, error) {
	stats := &model.LedgerStats{
		EvidenceByStatus: make(map[model.EvidenceStatus]int),
		ImagesByStatus:   make(map[model.ImageStatus]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM evidence WHERE created_at >= ? GROUP BY status`, since)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: evidence stats")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence stats")
		}
		stats.EvidenceByStatus[model.EvidenceStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: evidence stats iterate")
	}

	imgRows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM image_claims GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: image stats")
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var status string
		var n int
		if err := imgRows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan image stats")
		}
		stats.ImagesByStatus[model.ImageStatus(status)] = n
	}
	if err := imgRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: image stats iterate")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers WHERE verified = 0`).Scan(&stats.PendingTransfers)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: transfer stats")
	}

	return stats, nil
}

// helpers

func vehicleFields(v *model.Vehicle) map[string]string {
	if v.Fields == nil {
		return map[string]string{}
	}
	return v.Fields
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvidence(row scannable) (*model.EvidenceEntry, error) {
	var e model.EvidenceEntry
	var sourceURL sql.NullString
	err := row.Scan(&e.ID, &e.EntityID, &e.Field, &e.Value, &e.SourceKind, &sourceURL, &e.SubmitterID, &e.Confidence, &e.Status, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.SourceURL = sourceURL.String
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scanImageClaim(row scannable) (*model.ImageClaim, error) {
	var c model.ImageClaim
	var retryAfter sql.NullTime
	err := row.Scan(&c.ID, &c.VehicleID, &c.URL, &c.Status, &c.MatchConfidence, &c.RetryCount, &retryAfter, &c.SubmitterID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if retryAfter.Valid {
		t := retryAfter.Time.UTC()
		c.RetryAfter = &t
	}
	return &c, nil
}

func collectImageClaims(rows *sql.Rows) ([]model.ImageClaim, error) {
	var claims []model.ImageClaim
	for rows.Next() {
		c, err := scanImageClaim(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan image claim")
		}
		claims = append(claims, *c)
	}
	return claims, eris.Wrap(rows.Err(), "sqlite: image claims iterate")
}
