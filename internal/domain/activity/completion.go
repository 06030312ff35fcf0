package activity

import (
	"context"
	"io"
	"time"
)

// Completion records that an enrollment finished one activity.
// There is at most one completion per (EnrollmentID, ActivityKey); recording
// again overwrites CompletedAt and EvidenceRef.
type Completion struct {
	EnrollmentID string
	ActivityKey  string
	UnitID       string
	CompletedAt  time.Time
	EvidenceRef  string
}

// HasEvidence reports whether evidence was attached.
func (c *Completion) HasEvidence() bool {
	return c.EvidenceRef != ""
}

// CompletedKeys returns a set of completed keys.
func CompletedKeys(completions []*Completion) map[string]*Completion {
	out := make(map[string]*Completion, len(completions))
	for _, c := range completions {
		out[c.ActivityKey] = c
	}
	return out
}

// Blob is evidence content handed to an EvidenceStore. Only the returned
// reference is kept; the bytes never enter the record store.
type Blob struct {
	EnrollmentID string
	ActivityKey  string
	FileName     string
	ContentType  string
	Content      io.Reader
}

// EvidenceStore persists evidence blobs.
type EvidenceStore interface {
	// Store saves the blob and returns an opaque reference to it.
	Store(ctx context.Context, blob Blob) (string, error)
}

// UnitRepository stores weekly units.
type UnitRepository interface {
	// Save inserts or replaces a unit.
	Save(ctx context.Context, unit *WeeklyUnit) error

	// GetByID returns ErrUnitNotFound when the unit does not exist.
	GetByID(ctx context.Context, id string) (*WeeklyUnit, error)

	// ListByProgramme returns the programme's units ordered by week start.
	ListByProgramme(ctx context.Context, programmeID string) ([]*WeeklyUnit, error)
}

// CompletionRepository stores activity completions.
type CompletionRepository interface {
	// Upsert inserts the completion or overwrites CompletedAt, UnitID and
	// EvidenceRef of the existing one.
	Upsert(ctx context.Context, c *Completion) error

	// Get returns ErrNotFound when the activity was not completed.
	Get(ctx context.Context, enrollmentID, activityKey string) (*Completion, error)

	// ListByEnrollment returns every completion of the enrollment.
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]*Completion, error)
}
