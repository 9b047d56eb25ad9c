package contextkey

// Key is the typed context key used for request-scoped values.
type Key string

const (
	// TraceID identifies one request chain across services.
	TraceID Key = "trace_id"
	// RequestID identifies one inbound HTTP request.
	RequestID Key = "request_id"
	// UserID carries the authenticated user id when present.
	UserID Key = "user_id"
)
