package domain

import "errors"

// Resolution and ingest error categories. Handlers map these to stable
// HTTP status codes; callers must be able to tell a provisioning problem
// (NotRegistered) from a data-integrity conflict (AmbiguousDevice,
// ConflictingSensorMap), which is never auto-resolved.
var (
	ErrNotRegistered         = errors.New("device not registered")
	ErrAmbiguousDevice       = errors.New("device id matches sensors in more than one tenant")
	ErrConflictingSensorMap  = errors.New("two sensors declare the same measurement type for one device")
	ErrUnresolvableSensorMap = errors.New("no sensor with a usable measurement type for device")

	ErrMalformedSample = errors.New("malformed sample")
	ErrUnsupportedType = errors.New("unsupported measurement type")

	// ErrBatchLimit rejects a whole batch whose item or sample counts
	// exceed the wire bounds (resource guard, not a per-item defect).
	ErrBatchLimit = errors.New("batch exceeds size bounds")

	// ErrTxRetryExhausted reports that the store kept aborting a
	// serializable transaction past the bounded retry count. It is a
	// server error: a dropped aggregate merge would break the
	// exactly-once fold guarantee.
	ErrTxRetryExhausted = errors.New("transaction retry limit exhausted")

	ErrSensorNotFound = errors.New("sensor not found")
	ErrConfigNotFound = errors.New("config version not found")

	ErrPlanInvalid     = errors.New("invalid config plan")
	ErrPublishTimeout  = errors.New("broker did not acknowledge publish in time")
	ErrHardwareIDSpace = errors.New("failed to allocate hardware id")
)
