package apns

import (
	"math"
	"time"

	"github.com/nightscout-labs/liveactivity/internal/alert"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
)

// CurrentReading is the compact wire form of the most recent reading: unix
// seconds, value, and the trend code for the arrow.
type CurrentReading struct {
	T int64 `json:"t"`
	V int16 `json:"v"`
	D int   `json:"d"`
}

// HistoryPoint is one point of the sparkline history.
type HistoryPoint struct {
	T int64 `json:"t"`
	V int16 `json:"v"`
}

// ContentState is the Live Activity content state. The keys are single
// characters because the whole payload has to fit the 4 KB APNs budget with
// several hours of history.
type ContentState struct {
	Current        *CurrentReading `json:"c"`
	History        []HistoryPoint  `json:"h"`
	SessionExpired bool            `json:"se,omitempty"`
}

// StateFromReadings builds the content state for an update push: the latest
// reading as current plus the full window as history, oldest first.
func StateFromReadings(readings []dexcom.Reading) ContentState {
	history := make([]HistoryPoint, len(readings))
	for i, r := range readings {
		history[i] = HistoryPoint{T: r.Date.Unix(), V: clampValue(r.Value)}
	}

	state := ContentState{History: history}
	if len(readings) > 0 {
		latest := readings[len(readings)-1]
		state.Current = &CurrentReading{
			T: latest.Date.Unix(),
			V: clampValue(latest.Value),
			D: latest.Trend.Code(),
		}
	}
	return state
}

// endState is the terminal content state: no reading, no history, session
// expired so the UI stops waiting for data.
func endState() ContentState {
	return ContentState{
		Current:        nil,
		History:        []HistoryPoint{},
		SessionExpired: true,
	}
}

func clampValue(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// liveActivityPayload assembles the aps dictionary for a Live Activity push.
func liveActivityPayload(event string, state ContentState, content *alert.Content, staleDate, timestamp time.Time) map[string]any {
	aps := map[string]any{
		"timestamp":     timestamp.Unix(),
		"event":         event,
		"content-state": state,
	}
	if !staleDate.IsZero() {
		aps["stale-date"] = staleDate.Unix()
	}
	if content != nil {
		aps["alert"] = map[string]any{
			"title": content.Title,
			"body":  content.Body,
			"sound": "default",
		}
	}
	return map[string]any{"aps": aps}
}

// widgetRefreshPayload is the silent background push that makes the device
// rerun its widget timeline.
func widgetRefreshPayload() map[string]any {
	return map[string]any{
		"aps": map[string]any{
			"content-available": 1,
		},
	}
}
