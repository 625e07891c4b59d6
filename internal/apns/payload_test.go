package apns

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscout-labs/liveactivity/internal/alert"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
)

func TestStateFromReadings_WireShape(t *testing.T) {
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	readings := []dexcom.Reading{
		{Date: base.Add(-5 * time.Minute), Value: 110, Trend: dexcom.TrendFlat},
		{Date: base, Value: 120, Trend: dexcom.TrendSingleUp},
	}

	state := StateFromReadings(readings)
	data, err := json.Marshal(state)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Contains(t, wire, "c")
	assert.Contains(t, wire, "h")
	assert.NotContains(t, wire, "se", "se is omitted unless the session expired")

	require.NotNil(t, state.Current)
	assert.Equal(t, base.Unix(), state.Current.T)
	assert.Equal(t, int16(120), state.Current.V)
	assert.Equal(t, 2, state.Current.D)

	require.Len(t, state.History, 2)
	assert.Equal(t, int16(110), state.History[0].V)
	assert.Equal(t, int16(120), state.History[1].V)
	assert.Less(t, state.History[0].T, state.History[1].T)
}

func TestStateFromReadings_Empty(t *testing.T) {
	state := StateFromReadings(nil)
	assert.Nil(t, state.Current)
	assert.Empty(t, state.History)
}

func TestEndState(t *testing.T) {
	state := endState()
	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":null,"h":[],"se":true}`, string(data))
}

func TestClampValue(t *testing.T) {
	assert.Equal(t, int16(120), clampValue(120))
	assert.Equal(t, int16(math.MaxInt16), clampValue(40000))
	assert.Equal(t, int16(math.MinInt16), clampValue(-40000))
}

func TestLiveActivityPayload_Update(t *testing.T) {
	ts := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	stale := ts.Add(6 * time.Minute)
	content := &alert.Content{Title: "High Glucose", Body: "Now 185 mg/dL and rising, was 170 mg/dL."}

	payload := liveActivityPayload("update", StateFromReadings(nil), content, stale, ts)

	aps, ok := payload["aps"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "update", aps["event"])
	assert.Equal(t, ts.Unix(), aps["timestamp"])
	assert.Equal(t, stale.Unix(), aps["stale-date"])

	alertDict, ok := aps["alert"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "High Glucose", alertDict["title"])
	assert.Equal(t, "default", alertDict["sound"])
}

func TestLiveActivityPayload_EndWithoutAlert(t *testing.T) {
	payload := liveActivityPayload("end", endState(), nil, time.Time{}, time.Now())

	aps, ok := payload["aps"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "end", aps["event"])
	assert.NotContains(t, aps, "alert")
	assert.NotContains(t, aps, "stale-date")
}

func TestWidgetRefreshPayload(t *testing.T) {
	data, err := json.Marshal(widgetRefreshPayload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"aps":{"content-available":1}}`, string(data))
}
