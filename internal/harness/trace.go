package harness

// Trace event kinds, in the order they can appear.
const (
	TraceFetch   = "fetch"
	TraceOffline = "offline"
	TraceEnqueue = "enqueue"
	TraceDrain   = "drain"
	TraceNotify  = "notify"
	TraceClose   = "close"
	TraceOpen    = "open"
)

// TraceEvent is one observable step outcome. Fields are populated per kind;
// unset fields are omitted from the serialized trace.
type TraceEvent struct {
	Seq  int64
	Kind string

	// Fetch fields.
	Path   string
	Status int
	Cache  string

	// Offline toggle.
	Offline *bool

	// Enqueue fields.
	Action string

	// Drain counters.
	Drain *DrainTrace

	// Notification fields.
	Tag   string
	Title string
	URL   string
}

// DrainTrace is the drain report as it appears in a trace. Counters are
// always serialized, zeros included, so a golden diff shows the full shape
// of every cycle.
type DrainTrace struct {
	Pending  int
	Replayed int
	Retried  int
	Buried   int
}

// toCanonicalMap converts an event to the map shape the canonical JSON
// encoder accepts. Zero-valued optional fields are dropped.
func (e TraceEvent) toCanonicalMap() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"kind": e.Kind,
	}
	if e.Path != "" {
		m["path"] = e.Path
	}
	if e.Status != 0 {
		m["status"] = int64(e.Status)
	}
	if e.Cache != "" {
		m["cache"] = e.Cache
	}
	if e.Offline != nil {
		m["offline"] = *e.Offline
	}
	if e.Action != "" {
		m["action"] = e.Action
	}
	if e.Drain != nil {
		m["drain"] = map[string]any{
			"pending":  int64(e.Drain.Pending),
			"replayed": int64(e.Drain.Replayed),
			"retried":  int64(e.Drain.Retried),
			"buried":   int64(e.Drain.Buried),
		}
	}
	if e.Tag != "" {
		m["tag"] = e.Tag
	}
	if e.Title != "" {
		m["title"] = e.Title
	}
	if e.URL != "" {
		m["url"] = e.URL
	}
	return m
}
