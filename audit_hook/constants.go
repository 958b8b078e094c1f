package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountOpened    = "account.opened"
	ActionAccountDeposited = "account.deposited"

	// Stream actions
	ActionStreamCreated = "stream.created"
	ActionStreamClosed  = "stream.closed"
	ActionStreamFailed  = "stream.failed"

	// Other rejected operations
	ActionOperationFailed = "operation.failed"
)

// Resource constants for audit events.
const (
	ResourceAccount = "account"
	ResourceStream  = "stream"
)

// Category constants for audit events.
const (
	CategoryFunding    = "funding"
	CategoryEscrow     = "escrow"
	CategorySettlement = "settlement"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
