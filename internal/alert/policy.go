// Package alert decides whether a glucose reading warrants an alert on the
// Live Activity update. The decision is a pure function of the current
// reading, the previously delivered reading, and the user's preferences.
package alert

import (
	"fmt"

	"github.com/nightscout-labs/liveactivity/internal/activity"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
)

// Content is the alert text attached to a Live Activity update push.
type Content struct {
	Title string
	Body  string
}

// mmolPerMGDL converts provider units (mg/dL) to mmol/L for display.
const mmolPerMGDL = 0.0555

// Decide returns alert content when the reading warrants one, nil otherwise.
// An alert fires when the trend signals rapid change (double up/down) or the
// value crossed the target range in either direction since the previous
// reading. Without a previous reading or preferences there is nothing to
// compare against and the result is always nil.
func Decide(current dexcom.Reading, previous *dexcom.Reading, prefs *activity.Preferences) *Content {
	if previous == nil || prefs == nil {
		return nil
	}

	band := prefs.TargetRange
	rapid := current.Trend == dexcom.TrendDoubleUp || current.Trend == dexcom.TrendDoubleDown
	crossed := band.Contains(current.Value) != band.Contains(previous.Value)
	if !rapid && !crossed {
		return nil
	}

	cur := formatValue(current.Value, prefs.Unit)
	prev := formatValue(previous.Value, prefs.Unit)

	switch {
	case current.Value > band.Upper:
		return &Content{
			Title: "High Glucose",
			Body:  fmt.Sprintf("Now %s and %s, was %s.", cur, adjective(current.Trend, "rising"), prev),
		}
	case current.Value < band.Lower:
		return &Content{
			Title: "Low Glucose",
			Body:  fmt.Sprintf("Now %s and %s, was %s.", cur, adjective(current.Trend, "falling"), prev),
		}
	default:
		return &Content{
			Title: "Back in Range",
			Body:  fmt.Sprintf("Now %s and %s, was %s.", cur, adjective(current.Trend, "steady"), prev),
		}
	}
}

// formatValue renders a provider-unit value in the user's display unit.
// Conversion happens only here; range comparison always uses raw values.
func formatValue(value int, unit activity.Unit) string {
	if unit == activity.UnitMMOL {
		return fmt.Sprintf("%.1f mmol/L", float64(value)*mmolPerMGDL)
	}
	return fmt.Sprintf("%d mg/dL", value)
}

// adjective maps a trend to its body-text adjective, falling back to the
// direction word when the trend carries no usable slope.
func adjective(trend dexcom.Trend, fallback string) string {
	switch trend {
	case dexcom.TrendFlat:
		return "stable"
	case dexcom.TrendFortyFiveUp:
		return "rising slowly"
	case dexcom.TrendSingleUp:
		return "rising"
	case dexcom.TrendDoubleUp:
		return "rising quickly"
	case dexcom.TrendFortyFiveDown:
		return "falling slowly"
	case dexcom.TrendSingleDown:
		return "falling"
	case dexcom.TrendDoubleDown:
		return "falling quickly"
	default:
		return fallback
	}
}
