package spec

// Reason codes are stable identifiers carried by every engine error.
// They MUST NOT change between releases; reporters key on them.
const (
	// --- Setup (fatal, before the first event) ---
	ReasonNameCollision = "NAME_COLLISION"
	ReasonSetupInvalid  = "SETUP_INVALID"
	ReasonCircularAlias = "CIRCULAR_ALIAS"

	// --- Resolution (scoped to one identity) ---
	ReasonMissingValue       = "MISSING_VALUE"
	ReasonMissingCondition   = "MISSING_CONDITION"
	ReasonFailedCondition    = "FAILED_CONDITION"
	ReasonCircularDependency = "CIRCULAR_DEPENDENCY"
	ReasonFailedDependencies = "FAILED_DEPENDENCIES"
	ReasonFailedCheck        = "FAILED_CHECK"
	ReasonAPIViolation       = "API_VIOLATION"
	ReasonProtocolViolation  = "PROTOCOL_VIOLATION" // consumer misuse of the event stream
)

// Coded is implemented by every engine error.
type Coded interface {
	error
	Code() string
}
