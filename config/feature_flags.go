package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags manages runtime toggles of optional engine behaviour.
// Flags are read once at startup and can be flipped in tests.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// FeatureStrictWeekSelection makes the current-unit query fail with
	// ErrNoActiveWeek instead of falling back to the earliest unit.
	FeatureStrictWeekSelection = "activity.strict_week_selection"

	// FeatureAutoSubmitApproved lets the scheduler hand approved results
	// to the certification authority.
	FeatureAutoSubmitApproved = "result.auto_submit_approved"

	// FeatureEvidenceUpload enables evidence uploads with completions.
	FeatureEvidenceUpload = "activity.evidence_upload"

	// FeatureEmailNotifications sends payment and submission e-mails.
	FeatureEmailNotifications = "notify.email"
)

var featureDefaults = []Feature{
	{
		Name:        FeatureStrictWeekSelection,
		Description: "Fail current-unit lookup when no week is in session",
		Enabled:     false,
	},
	{
		Name:        FeatureAutoSubmitApproved,
		Description: "Submit approved results on the scheduler",
		Enabled:     true,
	},
	{
		Name:        FeatureEvidenceUpload,
		Description: "Store uploaded evidence with activity completions",
		Enabled:     true,
	},
	{
		Name:        FeatureEmailNotifications,
		Description: "Send e-mail on payment confirmation and result submission",
		Enabled:     false,
	},
}

// featureKey maps a flag name to its viper key.
// "notify.email" → "features.notify_email" (env FEATURES_NOTIFY_EMAIL).
func featureKey(name string) string {
	return "features." + strings.ReplaceAll(name, ".", "_")
}

func setFeatureDefaults(v *viper.Viper) {
	for _, f := range featureDefaults {
		v.SetDefault(featureKey(f.Name), f.Enabled)
	}
}

// LoadFeatureFlags loads feature flags from a viper instance.
// A nil instance yields the built-in defaults.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := NewFeatureFlags()
	if v == nil {
		return ff
	}
	for name, f := range ff.features {
		if key := featureKey(name); v.IsSet(key) {
			f.Enabled = v.GetBool(key)
		}
	}
	return ff
}

// NewFeatureFlags returns flags at their defaults.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature, len(featureDefaults))}
	for _, f := range featureDefaults {
		feature := f
		ff.features[f.Name] = &feature
	}
	return ff
}

// IsEnabled reports whether a feature is on. Unknown names are off.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// Set flips a known feature.
func (ff *FeatureFlags) Set(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// Enabled returns the names of all features that are on, sorted.
func (ff *FeatureFlags) Enabled() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]string, 0, len(ff.features))
	for name, f := range ff.features {
		if f.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// --- Convenience methods for common checks ---

// StrictWeekSelection reports whether out-of-session lookups must fail.
func (ff *FeatureFlags) StrictWeekSelection() bool {
	return ff.IsEnabled(FeatureStrictWeekSelection)
}

// AutoSubmitApproved reports whether the scheduler submits approved results.
func (ff *FeatureFlags) AutoSubmitApproved() bool {
	return ff.IsEnabled(FeatureAutoSubmitApproved)
}

// EvidenceUpload reports whether completions may carry evidence.
func (ff *FeatureFlags) EvidenceUpload() bool {
	return ff.IsEnabled(FeatureEvidenceUpload)
}

// EmailNotifications reports whether e-mails go out.
func (ff *FeatureFlags) EmailNotifications() bool {
	return ff.IsEnabled(FeatureEmailNotifications)
}

// --- Errors ---

// ErrFeatureNotFound is returned by Set for an unknown feature name.
var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
