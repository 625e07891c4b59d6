package store

import "github.com/nightscout-labs/liveactivity/internal/activity"

const (
	// scheduleKey is the sorted set ordering activity ids by next-poll time.
	scheduleKey = "live-activities:schedule"

	// recordKeyPrefix prefixes the per-activity hash holding the record JSON.
	recordKeyPrefix = "live-activity:data:"

	// recordField is the hash field carrying the serialized record.
	recordField = "data"

	// widgetKeyPrefix prefixes the per-environment widget token sets.
	widgetKeyPrefix = "widget-tokens:"
)

func recordKey(id string) string {
	return recordKeyPrefix + id
}

func widgetKey(env activity.Environment) string {
	return widgetKeyPrefix + string(env)
}
