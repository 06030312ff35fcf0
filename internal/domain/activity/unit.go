// Package activity contains weekly learning units, the activities inside them,
// and per-enrollment completion records.
// This is a pure domain layer with zero external dependencies.
package activity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

// Domain errors for activity package.
var (
	ErrEmptyKey           = errors.New("activity: key is required")
	ErrDuplicateKey       = errors.New("activity: duplicate key in unit")
	ErrEmptyLabel         = errors.New("activity: label is required")
	ErrNoActivities       = errors.New("activity: unit needs at least one activity")
	ErrInvalidWeekRange   = errors.New("activity: week end is before week start")
	ErrMissingProgrammeID = errors.New("activity: programme id is required")
)

// Keys that are reachable regardless of the order in which the other
// activities are completed. They are still behind the payment gate and
// never count toward readiness.
const (
	KeyChat        = "chat"
	KeyLiveSession = "live_session"
	KeyAskAI       = "ask_ai"
)

// IsAlwaysUnlocked reports whether key is one of the ungated interaction keys.
func IsAlwaysUnlocked(key string) bool {
	switch key {
	case KeyChat, KeyLiveSession, KeyAskAI:
		return true
	default:
		return false
	}
}

// Activity is one named step inside a weekly unit.
type Activity struct {
	Key                 string `json:"key"`
	Label               string `json:"label"`
	ContentRef          string `json:"content_ref,omitempty"`
	RequiresQuestionSet bool   `json:"requires_question_set"`
}

// Validate checks the activity fields.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return ErrEmptyKey
	}
	if strings.TrimSpace(a.Label) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyLabel, a.Key)
	}
	return nil
}

// WeeklyUnit is a programme's bundle of activities for one calendar window.
type WeeklyUnit struct {
	ID          string
	ProgrammeID string
	Title       string
	WeekStart   time.Time
	WeekEnd     time.Time
	Activities  []Activity

	// LiveSessionRef is an opaque joinable reference; the session transport
	// is never managed here.
	LiveSessionRef string

	// Credits are granted to the enrollment when the unit's result is approved.
	Credits int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks unit invariants.
func (u *WeeklyUnit) Validate() error {
	var errs []error
	if u.ProgrammeID == "" {
		errs = append(errs, ErrMissingProgrammeID)
	}
	if _, err := shared.NewDateRange(u.WeekStart, u.WeekEnd); err != nil {
		errs = append(errs, ErrInvalidWeekRange)
	}
	if len(u.Activities) == 0 {
		errs = append(errs, ErrNoActivities)
	}
	if u.Credits < 0 {
		errs = append(errs, shared.ErrNegativeValue)
	}
	seen := make(map[string]struct{}, len(u.Activities))
	for _, a := range u.Activities {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[a.Key]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateKey, a.Key))
		}
		seen[a.Key] = struct{}{}
	}
	return errors.Join(errs...)
}

// Window returns the unit's calendar range.
func (u *WeeklyUnit) Window() shared.DateRange {
	return shared.DateRange{Start: u.WeekStart, End: u.WeekEnd}
}

// Activity returns the activity with the given key.
func (u *WeeklyUnit) Activity(key string) (Activity, bool) {
	for _, a := range u.Activities {
		if a.Key == key {
			return a, true
		}
	}
	return Activity{}, false
}

// RequiredKeys returns the keys that must be completed for the unit to be
// ready, in unit order.
func (u *WeeklyUnit) RequiredKeys() []string {
	keys := make([]string, 0, len(u.Activities))
	for _, a := range u.Activities {
		if !IsAlwaysUnlocked(a.Key) {
			keys = append(keys, a.Key)
		}
	}
	return keys
}

// SelectCurrentUnit picks the unit in session at now: among units ordered by
// week start, the first whose window contains now. When none matches, the
// earliest unit is returned with inSession=false.
func SelectCurrentUnit(units []*WeeklyUnit, now time.Time) (unit *WeeklyUnit, inSession bool, err error) {
	if len(units) == 0 {
		return nil, false, shared.ErrNoUnitsDefined
	}
	ordered := make([]*WeeklyUnit, len(units))
	copy(ordered, units)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].WeekStart.Equal(ordered[j].WeekStart) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].WeekStart.Before(ordered[j].WeekStart)
	})
	for _, u := range ordered {
		if u.Window().Contains(now) {
			return u, true, nil
		}
	}
	return ordered[0], false, nil
}
