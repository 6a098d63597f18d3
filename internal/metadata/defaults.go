package metadata

// DefaultAlertRegistry builds the Properties Metadata registry for the
// alerts schema named in spec §6: a handful of flat columns
// (fingerprint, tenant_id, status, severity, timestamp) plus the
// nested AlertDto payload stored as a single JSON column ("event"),
// exposed through exact mappings for the well-known sub-fields and a
// wildcard fallback for everything under labels/annotations.
func DefaultAlertRegistry() *Registry {
	r := NewRegistry()

	r.Register("fingerprint", "STRING", SimpleFieldMapping{MapTo: "fingerprint"})
	r.Register("tenant_id", "STRING", SimpleFieldMapping{MapTo: "tenant_id"})
	r.Register("status", "STRING", SimpleFieldMapping{MapTo: "status"})
	r.Register("severity", "STRING", SimpleFieldMapping{MapTo: "severity"})
	r.Register("timestamp", "DATETIME", SimpleFieldMapping{MapTo: "timestamp"})

	r.Register("source", "STRING", JsonFieldMapping{JsonProp: "event", PropInJSON: []string{"source"}})
	r.Register("tags", "ARRAY", JsonFieldMapping{JsonProp: "event", PropInJSON: []string{"tags"}})

	r.RegisterWildcard("labels.*", "STRING", JsonFieldMapping{JsonProp: "event", PropInJSON: []string{"labels"}})
	r.RegisterWildcard("annotations.*", "STRING", JsonFieldMapping{JsonProp: "event", PropInJSON: []string{"annotations"}})

	// "@timestamp" occurs verbatim in some alert payloads (spec §4.1's
	// identifier grammar explicitly allows a leading "@"); alias it to
	// the canonical flat column rather than registering a second
	// mapping.
	r.Alias("@timestamp", "timestamp")

	return r
}
