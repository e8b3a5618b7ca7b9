package tracing

// Span attribute keys
const (
	AttrSessionID    = "session.id"
	AttrSessionState = "session.state"
	AttrChildID      = "child.id"
	AttrAgeGroup     = "child.age_group"

	AttrVoiceRecords = "progress.voice_records"
	AttrPhotoRecords = "progress.photo_records"
)

// Span name prefixes
const (
	SpanPrefixSession  = "session."
	SpanPrefixProgress = "progress."
)
