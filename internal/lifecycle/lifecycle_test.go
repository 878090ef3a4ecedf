package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

var created = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newRecord(status model.Status) *model.Record {
	var f model.Forest
	f.Set("po_number", model.Single(model.Field{Value: "PO-1"}))
	return &model.Record{ID: "r1", Status: status, ExtractedData: f, CreatedAt: created, Version: 1}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to model.Status
		force    bool
		ok       bool
	}{
		{model.StatusExtracted, model.StatusReviewed, false, true},
		{model.StatusReviewed, model.StatusReviewed, false, true},
		{model.StatusExtracted, model.StatusSent, false, true},
		{model.StatusReviewed, model.StatusSent, false, true},
		{model.StatusSent, model.StatusSent, true, true},
		{model.StatusSent, model.StatusSent, false, false},
		{model.StatusSent, model.StatusReviewed, false, false},
		{model.StatusError, model.StatusSent, true, false},
		{model.StatusProcessing, model.StatusReviewed, false, false},
		{model.StatusExtracted, model.StatusExtracted, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			err := CanTransition(tt.from, tt.to, tt.force)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCanTransition_ResendErrors(t *testing.T) {
	t.Parallel()

	err := CanTransition(model.StatusSent, model.StatusSent, false)
	assert.True(t, errors.Is(err, ErrAlreadySent))

	err = CanTransition(model.StatusSent, model.StatusReviewed, false)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.StatusSent, te.From)
	assert.Equal(t, model.StatusReviewed, te.To)
}

func TestReview(t *testing.T) {
	t.Parallel()

	rec := newRecord(model.StatusExtracted)
	var reviewed model.Forest
	reviewed.Set("po_number", model.Single(model.Field{Value: "PO-2", Edited: true}))

	now := created.Add(time.Hour)
	upd, err := Review(rec, reviewed, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewed, upd.Status)
	assert.Equal(t, now, *upd.ReviewedAt)
	assert.Nil(t, upd.SentAt)
	assert.Equal(t, reviewed, *upd.ReviewedData)

	upd.Apply(rec)
	assert.NoError(t, CheckInvariants(rec))

	sent := newRecord(model.StatusSent)
	_, err = Review(sent, reviewed, now)
	assert.Error(t, err)
}

func TestSend_SetsBothTimestamps(t *testing.T) {
	t.Parallel()

	rec := newRecord(model.StatusExtracted)
	now := created.Add(2 * time.Hour)

	upd, err := Send(rec, rec.ExtractedData, now, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, upd.Status)
	assert.Equal(t, now, *upd.SentAt)
	assert.Equal(t, now, *upd.ReviewedAt)

	upd.Apply(rec)
	assert.NoError(t, CheckInvariants(rec))

	_, err = Send(rec, rec.ExtractedData, now, false)
	assert.ErrorIs(t, err, ErrAlreadySent)

	later := now.Add(time.Minute)
	upd, err = Send(rec, rec.ExtractedData, later, true)
	require.NoError(t, err)
	assert.Equal(t, later, *upd.SentAt)
}

func TestStamp_NeverGoesBackwards(t *testing.T) {
	t.Parallel()

	rec := newRecord(model.StatusReviewed)
	reviewedAt := created.Add(time.Hour)
	rec.ReviewedAt = &reviewedAt

	// Clock skew: now is earlier than the prior review.
	skewed := created.Add(-time.Minute)
	upd, err := Send(rec, rec.ExtractedData, skewed, false)
	require.NoError(t, err)
	assert.Equal(t, reviewedAt, *upd.SentAt)

	upd.Apply(rec)
	assert.NoError(t, CheckInvariants(rec))
}

func TestCheckInvariants(t *testing.T) {
	t.Parallel()

	before := created.Add(-time.Hour)
	after := created.Add(time.Hour)

	tests := []struct {
		name    string
		mutate  func(r *model.Record)
		wantErr string
	}{
		{name: "fresh", mutate: func(r *model.Record) {}},
		{name: "reviewed before created", mutate: func(r *model.Record) {
			r.Status = model.StatusReviewed
			r.ReviewedAt = &before
		}, wantErr: "reviewed before creation"},
		{name: "sent before review", mutate: func(r *model.Record) {
			r.Status = model.StatusSent
			r.ReviewedAt = &after
			r.SentAt = &created
		}, wantErr: "sent before review"},
		{name: "sent without timestamp", mutate: func(r *model.Record) {
			r.Status = model.StatusSent
		}, wantErr: "without sent_at"},
		{name: "extracted with review", mutate: func(r *model.Record) {
			r.ReviewedAt = &after
		}, wantErr: "EXTRACTED with review"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := newRecord(model.StatusExtracted)
			tt.mutate(rec)
			err := CheckInvariants(rec)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
