package dispatch

// Machine-readable error codes carried on failed results. Hosts key
// user-facing behavior off these rather than parsing messages.
const (
	CodeRateLimited      = "RATE_LIMITED"
	CodeOnCooldown       = "ON_COOLDOWN"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeCommandDisabled  = "COMMAND_DISABLED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeArgCountInvalid  = "ARG_COUNT_INVALID"
	CodeArgValueInvalid  = "ARG_VALUE_INVALID"
	CodeExecutionFailed  = "EXECUTION_FAILED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// OutcomeSuccess labels successful dispatches for observers; failures are
// labelled with their error code.
const OutcomeSuccess = "SUCCESS"
