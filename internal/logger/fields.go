package logger

// Standard field keys for structured logging. Use these consistently across
// all log statements so records can be aggregated and queried by field.
const (
	// Service record identity
	KeyServiceID  = "service_id"
	KeyProviderID = "provider_id"
	KeyVersion    = "version"
	KeyState      = "state"

	// Filesystem and space accounting
	KeyPath  = "path"
	KeySize  = "size"
	KeyURL   = "url"
	KeyCount = "count"

	// Errors
	KeyError = "error"
)
