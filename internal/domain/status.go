package domain

// Granular order statuses as reported by the order service. Only the
// terminal ones participate in rule evaluation.
const (
	StatusCompleted = "Completed"
	StatusCancelled = "Cancelled"
	StatusRTS       = "Returned to Sender"
)

// TerminalStatus reports whether a granular order status ends the order's
// delivery lifecycle.
func TerminalStatus(s *string) bool {
	if s == nil {
		return false
	}
	return *s == StatusCompleted || *s == StatusCancelled
}

// Decision actions. Once written to a ticket the action never changes.
const (
	ActionApprove        = "Approve"
	ActionReject         = "Reject"
	ActionResolvedResume = "Resolved (Resume Delivery)"
	ActionManualCheck    = "Manual Check"
)

// Outcomes sent to the ticketing service when committing a decision.
const (
	OutcomeResumeDelivery = "RESUME DELIVERY"
	OutcomeFoundInbound   = "FOUND - INBOUND"
	OutcomeScrapped       = "PARCEL SCRAPPED"
)

// Pipeline categories. Each category runs its own stage chain and rule set;
// categories share only the store.
const (
	CategoryAddress     = "address"
	CategoryDate        = "date"
	CategoryMissing     = "missing"
	CategorySelfCollect = "selfcollect"
)

// Categories lists every pipeline category in scheduling order.
var Categories = []string{CategoryAddress, CategoryDate, CategoryMissing, CategorySelfCollect}
