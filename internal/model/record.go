package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of an extraction record.
type Status string

const (
	StatusExtracted  Status = "EXTRACTED"
	StatusReviewed   Status = "REVIEWED"
	StatusSent       Status = "SENT"
	StatusError      Status = "ERROR"
	StatusProcessing Status = "PROCESSING" // long-running remote jobs, not per-record
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusExtracted, StatusReviewed, StatusSent, StatusError, StatusProcessing:
		return true
	default:
		return false
	}
}

// ParseStatus parses a status name case-insensitively. An empty string
// yields the empty status.
func ParseStatus(s string) (Status, error) {
	if s == "" {
		return "", nil
	}
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", eris.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Record is the persisted unit of work for one uploaded document.
type Record struct {
	ID                   string     `json:"id"`
	Filename             string     `json:"filename"`
	BlobURI              string     `json:"blob_uri"`
	ExtractorID          string     `json:"extractor_id"`
	ExtractorDisplayName string     `json:"extractor_display_name"`
	Status               Status     `json:"status"`
	ExtractedData        Forest     `json:"extracted_data"`
	ReviewedData         *Forest    `json:"reviewed_data,omitempty"`
	Confidence           float64    `json:"confidence"`
	CreatedAt            time.Time  `json:"created_at"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	SentAt               *time.Time `json:"sent_at,omitempty"`
	Version              int64      `json:"version"`
}

// CurrentData returns the reviewed forest when one exists, else the
// extracted forest.
func (r *Record) CurrentData() Forest {
	if r.ReviewedData != nil && r.ReviewedData.Len() > 0 {
		return *r.ReviewedData
	}
	return r.ExtractedData
}

// RecordUpdate is a partial update. Nil pointers and the empty status leave
// the column unchanged.
type RecordUpdate struct {
	ReviewedData *Forest
	Status       Status
	ReviewedAt   *time.Time
	SentAt       *time.Time
}

// Empty reports whether the update changes nothing.
func (u RecordUpdate) Empty() bool {
	return u.ReviewedData == nil && u.Status == "" && u.ReviewedAt == nil && u.SentAt == nil
}

// Apply copies the update onto r. The version is left to the store.
func (u RecordUpdate) Apply(r *Record) {
	if u.ReviewedData != nil {
		fr := u.ReviewedData.Clone()
		r.ReviewedData = &fr
	}
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.ReviewedAt != nil {
		t := *u.ReviewedAt
		r.ReviewedAt = &t
	}
	if u.SentAt != nil {
		t := *u.SentAt
		r.SentAt = &t
	}
}

// Stats summarizes records by status for the dashboard.
type Stats struct {
	Total      int `json:"total"`
	Sent       int `json:"sent"`
	Pending    int `json:"pending"` // EXTRACTED + REVIEWED
	Processing int `json:"processing"`
	Errors     int `json:"errors"`
}
