// Package lifecycle governs extraction record status transitions and the
// timestamps attached to them.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// ErrAlreadySent is returned when a SENT record is sent again without force.
var ErrAlreadySent = eris.New("record already sent")

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: cannot move record from %s to %s", e.From, e.To)
}

// CanTransition checks whether a record in from may move to to.
func CanTransition(from, to model.Status, force bool) error {
	switch to {
	case model.StatusReviewed:
		if from == model.StatusExtracted || from == model.StatusReviewed {
			return nil
		}
	case model.StatusSent:
		switch from {
		case model.StatusExtracted, model.StatusReviewed:
			return nil
		case model.StatusSent:
			if force {
				return nil
			}
			return ErrAlreadySent
		}
	}
	return &TransitionError{From: from, To: to}
}

// Review builds the update that stores a reviewed forest without sending.
func Review(rec *model.Record, reviewed model.Forest, now time.Time) (model.RecordUpdate, error) {
	if err := CanTransition(rec.Status, model.StatusReviewed, false); err != nil {
		return model.RecordUpdate{}, err
	}
	at := stamp(rec, now)
	data := reviewed.Clone()
	return model.RecordUpdate{
		ReviewedData: &data,
		Status:       model.StatusReviewed,
		ReviewedAt:   &at,
	}, nil
}

// CheckSend validates a send before the sink is called.
func CheckSend(rec *model.Record, force bool) error {
	return CanTransition(rec.Status, model.StatusSent, force)
}

// Send builds the update applied after the sink accepted the record. The
// reviewed forest, status and both timestamps are written together.
func Send(rec *model.Record, reviewed model.Forest, now time.Time, force bool) (model.RecordUpdate, error) {
	if err := CheckSend(rec, force); err != nil {
		return model.RecordUpdate{}, err
	}
	at := stamp(rec, now)
	reviewedAt, sentAt := at, at
	data := reviewed.Clone()
	return model.RecordUpdate{
		ReviewedData: &data,
		Status:       model.StatusSent,
		ReviewedAt:   &reviewedAt,
		SentAt:       &sentAt,
	}, nil
}

// stamp returns now, moved forward if needed so it never precedes a
// timestamp already on the record.
func stamp(rec *model.Record, now time.Time) time.Time {
	at := now.UTC()
	for _, t := range []*time.Time{&rec.CreatedAt, rec.ReviewedAt, rec.SentAt} {
		if t != nil && t.After(at) {
			at = t.UTC()
		}
	}
	return at
}

// CheckInvariants verifies timestamp ordering and status consistency.
func CheckInvariants(rec *model.Record) error {
	if rec.ReviewedAt != nil && rec.ReviewedAt.Before(rec.CreatedAt) {
		return eris.Errorf("lifecycle: record %s reviewed before creation", rec.ID)
	}
	if rec.SentAt != nil {
		if rec.SentAt.Before(rec.CreatedAt) {
			return eris.Errorf("lifecycle: record %s sent before creation", rec.ID)
		}
		if rec.ReviewedAt != nil && rec.SentAt.Before(*rec.ReviewedAt) {
			return eris.Errorf("lifecycle: record %s sent before review", rec.ID)
		}
	}
	switch rec.Status {
	case model.StatusSent:
		if rec.SentAt == nil {
			return eris.Errorf("lifecycle: record %s is SENT without sent_at", rec.ID)
		}
	case model.StatusExtracted:
		if rec.ReviewedAt != nil || rec.SentAt != nil {
			return eris.Errorf("lifecycle: record %s is EXTRACTED with review or send timestamps", rec.ID)
		}
	}
	return nil
}
