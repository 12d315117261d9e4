package schema

// DefaultRegistry registers the event shapes shipped with the platform.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, entry := range builtinSchemas {
		// entries are static, registration cannot fail
		_ = r.Register(entry)
	}
	return r
}

var builtinSchemas = []EventSchema{
	{
		EventType:   "llm.tokens.v1",
		Version:     1,
		Status:      StatusActive,
		Description: "Token consumption for a single model invocation.",
		Fields: []Field{
			{Name: "quantity", Type: FieldNumber},
			{Name: "provider", Type: FieldString, Optional: true},
			{Name: "model", Type: FieldString, Optional: true},
			{Name: "costMinor", Type: FieldInteger, Optional: true},
			{Name: "metadata", Type: FieldUnknown, Optional: true},
		},
	},
	{
		EventType:   "llm.requests.v1",
		Version:     1,
		Status:      StatusActive,
		Description: "Completed model requests.",
		Fields: []Field{
			{Name: "quantity", Type: FieldNumber},
			{Name: "provider", Type: FieldString, Optional: true},
			{Name: "model", Type: FieldString, Optional: true},
			{Name: "costMinor", Type: FieldInteger, Optional: true},
		},
	},
	{
		EventType:   "storage.bytes.v1",
		Version:     1,
		Status:      StatusActive,
		Description: "Stored bytes sampled at event time.",
		Fields: []Field{
			{Name: "quantity", Type: FieldNumber},
			{Name: "provider", Type: FieldString, Optional: true},
		},
	},
	{
		EventType:   "api.calls.v1",
		Version:     1,
		Status:      StatusActive,
		Description: "Billable API invocations.",
		Fields: []Field{
			{Name: "quantity", Type: FieldNumber},
			{Name: "costMinor", Type: FieldInteger, Optional: true},
		},
	},
	{
		EventType:   "compute.seconds.v1",
		Version:     1,
		Status:      StatusDeprecated,
		Description: "Legacy compute metering, superseded by compute.seconds.v2.",
		Fields: []Field{
			{Name: "quantity", Type: FieldNumber},
		},
	},
	{
		EventType:   "compute.seconds.v2",
		Version:     2,
		Status:      StatusActive,
		Description: "Compute seconds consumed by sandboxed workloads.",
		Fields: []Field{
			{Name: "quantity", Type: FieldNumber},
			{Name: "provider", Type: FieldString, Optional: true},
			{Name: "model", Type: FieldString, Optional: true},
			{Name: "costMinor", Type: FieldInteger, Optional: true},
		},
	},
}
