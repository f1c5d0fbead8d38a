package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRunID identifies one warm-up or matching run
	FieldRunID = "run_id"

	FieldPlaylistID  = "playlist_id"
	FieldTrackID     = "track_id"
	FieldContextHash = "context_hash"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldSource is the analysis source identifier
	FieldSource = "source"
)

// Metric fields, attached per entry for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	FieldCount  = "count"
	FieldHits   = "hits"
	FieldMisses = "misses"
	FieldFailed = "failed"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
