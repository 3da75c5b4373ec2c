package rules

import (
	"time"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/domain"
)

// DateEvaluator walks the date-change chain. The chain is shorter than the
// address one: no textual matching, only the detected date against the first
// delivery attempt.
type DateEvaluator struct {
	horizon time.Duration
}

// NewDateEvaluator builds an evaluator from the rules configuration.
func NewDateEvaluator(cfg config.RulesConfig) *DateEvaluator {
	return &DateEvaluator{horizon: time.Duration(cfg.MaxRescheduleDays) * 24 * time.Hour}
}

// Evaluate returns the first matching decision for t, or Pending. A ticket
// whose extraction has not been answered yet stays pending on the
// date-dependent rules; the order-state rules above them can still fire.
func (e *DateEvaluator) Evaluate(t domain.TicketDateChange, now time.Time) Decision {
	if t.FirstDeliveryDate == nil {
		return Decision{Action: domain.ActionReject, Reason: ReasonNoFirstDelivery}
	}
	if terminalOrder(t.RTSFlag, t.OrderStatus) {
		return Decision{Action: domain.ActionReject, Reason: ReasonTerminalOrder}
	}
	if t.DetectedDate != nil && t.DetectedDate.Sub(*t.FirstDeliveryDate) >= e.horizon {
		return Decision{Action: domain.ActionReject, Reason: ReasonDateTooFar}
	}
	if t.DetectionSeen && t.DetectedDate == nil {
		return Decision{Action: domain.ActionReject, Reason: ReasonNoDetectedDate}
	}
	if t.DetectedDate != nil {
		return Decision{Action: domain.ActionApprove, Reason: ReasonDateInHorizon}
	}
	return Pending
}
