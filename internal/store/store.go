// Package store persists extraction records in Postgres or SQLite.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// DefaultLimit caps Query when the filter sets no limit.
const DefaultLimit = 50

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = eris.New("record not found")
	// ErrConflict is returned when an update's expected version is stale.
	ErrConflict = eris.New("record version conflict")
)

// Filter specifies criteria for querying records.
type Filter struct {
	Status           model.Status `json:"status,omitempty"`
	AgeDays          int          `json:"age_days,omitempty"`
	FilenameContains string       `json:"filename_contains,omitempty"`
	Limit            int          `json:"limit,omitempty"`
	Offset           int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for extraction records.
type Store interface {
	// Insert stores a new record at version 1 and returns its id. An empty
	// ID is generated; a zero CreatedAt is set to now.
	Insert(ctx context.Context, rec *model.Record) (string, error)
	Get(ctx context.Context, id string) (*model.Record, error)
	// Update applies upd when the stored version equals expectedVersion and
	// increments the version.
	Update(ctx context.Context, id string, upd model.RecordUpdate, expectedVersion int64) error
	// Query returns records newest first.
	Query(ctx context.Context, filter Filter) ([]model.Record, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Stats(ctx context.Context) (*model.Stats, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const recordColumns = `id, filename, blob_uri, extractor_id, extractor_display_name, status,
	extracted_data, reviewed_data, confidence, created_at, reviewed_at, sent_at, version`

const statsQuery = `SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'SENT' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status IN ('EXTRACTED', 'REVIEWED') THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'PROCESSING' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'ERROR' THEN 1 ELSE 0 END), 0)
FROM extractions`

// whereClause renders the filter conditions. bind returns the placeholder
// for the n-th argument (1-based).
func whereClause(f Filter, now time.Time, bind func(n int) string, timeArg func(time.Time) any) (string, []any) {
	var conds []string
	var args []any
	add := func(format string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(format, bind(len(args))))
	}

	if f.Status != "" {
		add("status = %s", string(f.Status))
	}
	if f.AgeDays > 0 {
		add("created_at >= %s", timeArg(now.UTC().AddDate(0, 0, -f.AgeDays)))
	}
	if s := strings.TrimSpace(f.FilenameContains); s != "" {
		add(`LOWER(filename) LIKE %s ESCAPE '\'`, "%"+escapeLike(strings.ToLower(s))+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func limitOf(f Filter) int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// prepareInsert fills generated fields on a new record.
func prepareInsert(rec *model.Record, newID func() string, now time.Time) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	if rec.Status == "" {
		rec.Status = model.StatusExtracted
	}
	rec.Version = 1
}

func conflictError(id string, expected, found int64) error {
	return eris.Wrapf(ErrConflict, "record %s: expected version %d, found %d", id, expected, found)
}

func notFoundError(id string) error {
	return eris.Wrapf(ErrNotFound, "record %s", id)
}

type scannable interface {
	Scan(dest ...any) error
}
