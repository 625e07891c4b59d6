package activity

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogID_EmailKeepsFirstCharAndDomain(t *testing.T) {
	r := &Record{Username: "margaret@example.com"}
	assert.Equal(t, "m••••@example.com", r.LogID())
}

func TestLogID_PlainUsername(t *testing.T) {
	r := &Record{Username: "margaret"}
	assert.Equal(t, "m••••", r.LogID())
}

func TestLogID_MultibyteFirstRune(t *testing.T) {
	r := &Record{Username: "émile@example.com"}
	got := r.LogID()
	assert.Equal(t, "é••••@example.com", got)
	assert.True(t, utf8.ValidString(got))

	r = &Record{Username: "日本語ユーザー"}
	got = r.LogID()
	assert.Equal(t, "日••••", got)
	assert.True(t, utf8.ValidString(got))
}

func TestLogID_AccountIDFallback(t *testing.T) {
	id := uuid.MustParse("d89443d2-327c-4a6f-89e5-496bbb0317db")
	r := &Record{AccountID: &id}
	assert.Equal(t, "d89443d2", r.LogID())
}

func TestLogID_PushTokenNeverAppearsRaw(t *testing.T) {
	r := &Record{PushToken: "a1b2c3d4e5f6"}
	got := r.LogID()
	assert.Equal(t, "a••••", got)
	require.False(t, strings.Contains(got, "a1b2c3"), "raw token leaked into log id")
}

func TestLogID_Empty(t *testing.T) {
	r := &Record{}
	assert.Equal(t, "unknown", r.LogID())
}

func TestTargetRange_Contains(t *testing.T) {
	band := TargetRange{Lower: 70, Upper: 180}
	assert.True(t, band.Contains(70))
	assert.True(t, band.Contains(180))
	assert.True(t, band.Contains(120))
	assert.False(t, band.Contains(69))
	assert.False(t, band.Contains(181))
}

func TestEnvironment_Valid(t *testing.T) {
	assert.True(t, EnvDevelopment.Valid())
	assert.True(t, EnvProduction.Valid())
	assert.False(t, Environment("staging").Valid())
	assert.False(t, Environment("").Valid())
}
