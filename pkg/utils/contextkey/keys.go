package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	ClientIP  key = "client_ip"
)

// Fields lists the keys the logger copies into every entry.
var Fields = []key{TraceID, RequestID, ClientIP}

// String returns the field name used in logs and gin context.
func (k key) String() string { return string(k) }
