package rules

import "github.com/nvops/ticket-triage/internal/domain"

// Decision is a terminal rule outcome: the action to commit and the
// human-readable reason recorded next to it.
type Decision struct {
	Action string
	Reason string

	// ChangeAddress marks decisions that additionally push the detected
	// address to the order service before resolution.
	ChangeAddress bool
}

// Pending is returned by an evaluator when no rule matched; the ticket stays
// undecided and is re-evaluated on the next run.
var Pending = Decision{}

// Decided reports whether d carries a terminal outcome.
func (d Decision) Decided() bool { return d.Action != "" }

// Reason strings appear verbatim in the ticketing system and the export
// sheet, so they are fixed here rather than composed.
const (
	ReasonTerminalOrder  = "Order is RTS or has a granular status of Cancelled/Completed"
	ReasonStaleNoReason  = "Ticket created > 4h and no filled reason"
	ReasonMaxStorage     = "Ticket created > 5 days after first failed attempt"
	ReasonAlreadyChanged = "Order has updated address more than once"
	ReasonExemptShipper  = "Exempt shipper and no first failed attempt"
	ReasonMapTwoLevel    = "Map 2 level"
	ReasonMetroProvince  = "In province HCM, DN, HN"
	ReasonBadFormat      = "Incorrect format"
	ReasonManualHandoff  = "Have ALO link"

	ReasonNoFirstDelivery = "No first delivery date"
	ReasonDateTooFar      = "Detected date > 5 days after first delivery attempt"
	ReasonNoDetectedDate  = "Incorrect format"
	ReasonDateInHorizon   = "Detected date within reschedule horizon"
)

func terminalOrder(rts bool, status *string) bool {
	return rts || domain.TerminalStatus(status)
}
