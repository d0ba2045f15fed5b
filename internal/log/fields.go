package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldDevice    = "device"
	FieldSessionID = "session_id"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldResult    = "sdk_result"

	FieldChannel = "channel"
	FieldSeq     = "seq"
	FieldVerdict = "verdict"
	FieldLength  = "length"
	FieldBytes   = "bytes"
	FieldFormat  = "format"
)
