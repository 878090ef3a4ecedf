package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/db"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// Statements prepared on each new connection. Queries pass the name in
// place of the SQL.
const (
	stmtGetRecord     = "get_record"
	stmtRecordVersion = "record_version"
)

var preparedStatements = map[string]string{
	stmtGetRecord:     `SELECT ` + recordColumns + ` FROM extractions WHERE id = $1`,
	stmtRecordVersion: `SELECT version FROM extractions WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg, preparedStatements)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// Extraction data is stored as JSON rather than JSONB so field order
// survives the round trip.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS extractions (
	id                     TEXT PRIMARY KEY,
	filename               TEXT NOT NULL,
	blob_uri               TEXT NOT NULL DEFAULT '',
	extractor_id           TEXT NOT NULL DEFAULT '',
	extractor_display_name TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL,
	extracted_data         JSON NOT NULL,
	reviewed_data          JSON,
	confidence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	reviewed_at            TIMESTAMPTZ,
	sent_at                TIMESTAMPTZ,
	version                BIGINT NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
CREATE INDEX IF NOT EXISTS idx_extractions_created_at ON extractions(created_at DESC, id DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *PostgresStore) Insert(ctx context.Context, rec *model.Record) (string, error) {
	prepareInsert(rec, uuid.NewString, s.clock())

	extracted, err := json.Marshal(rec.ExtractedData)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal extracted data")
	}
	var reviewed []byte
	if rec.ReviewedData != nil {
		if reviewed, err = json.Marshal(rec.ReviewedData); err != nil {
			return "", eris.Wrap(err, "postgres: marshal reviewed data")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO extractions (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Filename, rec.BlobURI, rec.ExtractorID, rec.ExtractorDisplayName, string(rec.Status),
		extracted, reviewed, rec.Confidence, rec.CreatedAt, rec.ReviewedAt, rec.SentAt, rec.Version,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert record %s", rec.ID)
	}
	return rec.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx, stmtGetRecord, id)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, upd model.RecordUpdate, expectedVersion int64) error {
	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.ReviewedData != nil {
		data, err := json.Marshal(upd.ReviewedData)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal reviewed data")
		}
		set("reviewed_data", data)
	}
	if upd.Status != "" {
		set("status", string(upd.Status))
	}
	if upd.ReviewedAt != nil {
		set("reviewed_at", upd.ReviewedAt.UTC())
	}
	if upd.SentAt != nil {
		set("sent_at", upd.SentAt.UTC())
	}
	sets = append(sets, "version = version + 1")

	args = append(args, id, expectedVersion)
	query := fmt.Sprintf(`UPDATE extractions SET %s WHERE id = $%d AND version = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current int64
	err = s.pool.QueryRow(ctx, stmtRecordVersion, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundError(id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read version %s", id)
	}
	return conflictError(id, expectedVersion, current)
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]model.Record, error) {
	where, args := whereClause(filter, s.clock(), postgresBind, postgresTime)
	query := `SELECT ` + recordColumns + ` FROM extractions` + where + ` ORDER BY created_at DESC, id DESC`

	args = append(args, limitOf(filter))
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: query records iterate")
}

func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := whereClause(filter, s.clock(), postgresBind, postgresTime)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM extractions`+where, args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count records")
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx, statsQuery).Scan(&st.Total, &st.Sent, &st.Pending, &st.Processing, &st.Errors)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

func postgresBind(n int) string { return fmt.Sprintf("$%d", n) }

func postgresTime(t time.Time) any { return t }

func scanPostgresRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var status string
	var extracted, reviewed []byte

	err := row.Scan(&r.ID, &r.Filename, &r.BlobURI, &r.ExtractorID, &r.ExtractorDisplayName, &status,
		&extracted, &reviewed, &r.Confidence, &r.CreatedAt, &r.ReviewedAt, &r.SentAt, &r.Version)
	if err != nil {
		return nil, err
	}
	r.Status = model.Status(status)
	if err := decodeForests(&r, extracted, reviewed); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeForests(r *model.Record, extracted, reviewed []byte) error {
	if err := json.Unmarshal(extracted, &r.ExtractedData); err != nil {
		return eris.Wrapf(err, "unmarshal extracted data of %s", r.ID)
	}
	if len(reviewed) > 0 {
		var f model.Forest
		if err := json.Unmarshal(reviewed, &f); err != nil {
			return eris.Wrapf(err, "unmarshal reviewed data of %s", r.ID)
		}
		r.ReviewedData = &f
	}
	return nil
}
