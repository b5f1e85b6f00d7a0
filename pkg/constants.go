package shared

const (
	ProjectID = "stridetally-project" // overridden by GOOGLE_CLOUD_PROJECT

	TopicAthleteQualified = "topic-athlete-qualified"
	EventTypeQualified    = "com.stridetally.athlete.qualified"
	EventSourceQualified  = "/qualification/tracker"

	CollectionAthletes       = "athletes"
	CollectionEventActivity  = "event_activities"
	CollectionQualifiedFlags = "qualification_flags"
	CollectionSyncRuns       = "sync_runs"
)
