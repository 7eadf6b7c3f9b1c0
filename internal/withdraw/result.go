package withdraw

// Result is the outcome of a withdrawal transaction.
// Everything except ResultOK leaves the ledger unchanged, with one exception:
// ResultFailed after a successful commit (effect error) keeps the removal.
type Result int

const (
	ResultOK Result = iota
	ResultRateLimited
	ResultInProgress
	ResultNothingToDo
	ResultInvalidDevice
	ResultInsufficient
	ResultCancelled
	ResultFailed
)

// String returns the audit reason code.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "SUCCESS"
	case ResultRateLimited:
		return "RATE_LIMITED"
	case ResultInProgress:
		return "IN_PROGRESS"
	case ResultNothingToDo:
		return "NOTHING_TO_DO"
	case ResultInvalidDevice:
		return "INVALID_SPAWNER"
	case ResultInsufficient:
		return "INSUFFICIENT"
	case ResultCancelled:
		return "CANCELLED"
	case ResultFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Action names used for rate limiting and audit.
const (
	ActionDropPage = "drop_page"
	ActionTakeItem = "take_item"
	ActionSellAll  = "sell_all"
	ActionTakeExp  = "take_exp"
)
