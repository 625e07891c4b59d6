// Package activity defines the persistent state of one Live Activity.
package activity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nightscout-labs/liveactivity/internal/dexcom"
)

// Environment selects the APNs environment a device registered under.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Valid reports whether the environment is one of the two APNs environments.
func (e Environment) Valid() bool {
	return e == EnvDevelopment || e == EnvProduction
}

// Environments lists both APNs environments, for fan-out loops.
func Environments() []Environment {
	return []Environment{EnvDevelopment, EnvProduction}
}

// Unit is the display unit the user chose for glucose values.
type Unit string

const (
	UnitMGDL Unit = "mgdl"
	UnitMMOL Unit = "mmol"
)

// TargetRange is the user's in-range band, closed on both ends, expressed in
// the same unit as provider readings.
type TargetRange struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Contains reports whether a value lies inside the band.
func (r TargetRange) Contains(value int) bool {
	return value >= r.Lower && value <= r.Upper
}

// Preferences holds the per-user alerting preferences.
type Preferences struct {
	TargetRange TargetRange `json:"targetRange"`
	Unit        Unit        `json:"unit"`
}

// Record is the single source of truth for one Live Activity. It is stored
// as JSON in the backing store; the schedule index is a reprojection of it.
type Record struct {
	// ID equals the username when one was provided, else the push token.
	ID string `json:"id"`

	PushToken       string          `json:"pushToken"`
	Environment     Environment     `json:"environment"`
	AccountLocation dexcom.Location `json:"accountLocation"`

	// Duration is the history window, in seconds, requested from the
	// upstream on each poll.
	Duration int `json:"duration"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// AccountID and SessionID are upstream session handles. They are
	// rewritten whenever a fetch refreshed them.
	AccountID *uuid.UUID `json:"accountID,omitempty"`
	SessionID *uuid.UUID `json:"sessionID,omitempty"`

	Preferences *Preferences `json:"preferences,omitempty"`

	// StartDate caps the activity lifetime.
	StartDate time.Time `json:"startDate"`

	LastReadingDate *time.Time      `json:"lastReadingDate,omitempty"`
	LastReading     *dexcom.Reading `json:"lastReading,omitempty"`

	// PollInterval is the current adaptive backoff value in seconds,
	// bounded by the processor.
	PollInterval float64 `json:"pollInterval"`

	// RetryCount counts consecutive error cycles; zeroed by any successful
	// poll that produced a reading.
	RetryCount int `json:"retryCount"`
}

// LogID returns a redacted identifier for log lines: the first character of
// an email local part padded with bullets, the first eight hex characters of
// the account UUID, or a bullet-padded prefix. The raw push token never
// appears in logs.
func (r *Record) LogID() string {
	if i := strings.IndexByte(r.Username, '@'); i > 0 {
		return firstRune(r.Username) + "••••" + r.Username[i:]
	}
	if r.Username != "" {
		return firstRune(r.Username) + "••••"
	}
	if r.AccountID != nil {
		hex := make([]byte, 0, 8)
		for _, c := range r.AccountID.String() {
			if c == '-' {
				continue
			}
			hex = append(hex, byte(c))
			if len(hex) == 8 {
				break
			}
		}
		return string(hex)
	}
	if r.PushToken != "" {
		return firstRune(r.PushToken) + "••••"
	}
	return "unknown"
}

// firstRune returns the first rune of s as a string, never splitting a
// multibyte character.
func firstRune(s string) string {
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}
