package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// sqliteTimeLayout is fixed-width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extractions (
	id                     TEXT PRIMARY KEY,
	filename               TEXT NOT NULL,
	blob_uri               TEXT NOT NULL DEFAULT '',
	extractor_id           TEXT NOT NULL DEFAULT '',
	extractor_display_name TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL,
	extracted_data         TEXT NOT NULL,
	reviewed_data          TEXT,
	confidence             REAL NOT NULL DEFAULT 0,
	created_at             TEXT NOT NULL,
	reviewed_at            TEXT,
	sent_at                TEXT,
	version                INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_extractions_status ON extractions(status);
CREATE INDEX IF NOT EXISTS idx_extractions_created_at ON extractions(created_at DESC, id DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *model.Record) (string, error) {
	prepareInsert(rec, uuid.NewString, s.clock())

	extracted, err := json.Marshal(rec.ExtractedData)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal extracted data")
	}
	var reviewed sql.NullString
	if rec.ReviewedData != nil {
		data, err := json.Marshal(rec.ReviewedData)
		if err != nil {
			return "", eris.Wrap(err, "sqlite: marshal reviewed data")
		}
		reviewed = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extractions (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Filename, rec.BlobURI, rec.ExtractorID, rec.ExtractorDisplayName, string(rec.Status),
		string(extracted), reviewed, rec.Confidence, formatTime(rec.CreatedAt),
		formatTimePtr(rec.ReviewedAt), formatTimePtr(rec.SentAt), rec.Version,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert record %s", rec.ID)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM extractions WHERE id = ?`, id)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, upd model.RecordUpdate, expectedVersion int64) error {
	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.ReviewedData != nil {
		data, err := json.Marshal(upd.ReviewedData)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal reviewed data")
		}
		set("reviewed_data", string(data))
	}
	if upd.Status != "" {
		set("status", string(upd.Status))
	}
	if upd.ReviewedAt != nil {
		set("reviewed_at", formatTime(*upd.ReviewedAt))
	}
	if upd.SentAt != nil {
		set("sent_at", formatTime(*upd.SentAt))
	}
	sets = append(sets, "version = version + 1")
	args = append(args, id, expectedVersion)

	res, err := s.db.ExecContext(ctx,
		`UPDATE extractions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND version = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var current int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM extractions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError(id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read version %s", id)
	}
	return conflictError(id, expectedVersion, current)
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]model.Record, error) {
	where, args := whereClause(filter, s.clock(), sqliteBind, sqliteTime)
	query := `SELECT ` + recordColumns + ` FROM extractions` + where + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limitOf(filter))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close() //nolint:errcheck

	var recs []model.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: query records iterate")
}

func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := whereClause(filter, s.clock(), sqliteBind, sqliteTime)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extractions`+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count records")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(&st.Total, &st.Sent, &st.Pending, &st.Processing, &st.Errors)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	return &st, nil
}

// helpers

func sqliteBind(int) string { return "?" }

func sqliteTime(t time.Time) any { return formatTime(t) }

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(sqliteTimeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSQLiteRecord(row scannable) (*model.Record, error) {
	var r model.Record
	var status, extracted, createdAt string
	var reviewed, reviewedAt, sentAt sql.NullString

	err := row.Scan(&r.ID, &r.Filename, &r.BlobURI, &r.ExtractorID, &r.ExtractorDisplayName, &status,
		&extracted, &reviewed, &r.Confidence, &createdAt, &reviewedAt, &sentAt, &r.Version)
	if err != nil {
		return nil, err
	}
	r.Status = model.Status(status)

	if r.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, eris.Wrapf(err, "parse created_at of %s", r.ID)
	}
	if r.ReviewedAt, err = parseTimePtr(reviewedAt); err != nil {
		return nil, eris.Wrapf(err, "parse reviewed_at of %s", r.ID)
	}
	if r.SentAt, err = parseTimePtr(sentAt); err != nil {
		return nil, eris.Wrapf(err, "parse sent_at of %s", r.ID)
	}

	var reviewedBytes []byte
	if reviewed.Valid {
		reviewedBytes = []byte(reviewed.String)
	}
	if err := decodeForests(&r, []byte(extracted), reviewedBytes); err != nil {
		return nil, err
	}
	return &r, nil
}
