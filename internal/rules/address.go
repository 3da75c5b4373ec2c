package rules

import (
	"strings"
	"time"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/domain"
)

// AddressEvaluator walks the address-change chain. The order of the rules is
// load-bearing: the first match decides the ticket and later rules never see
// it, on this run or any other.
type AddressEvaluator struct {
	staleAfter    time.Duration
	maxStorage    time.Duration
	exemptShipper int64
	manualMarker  string
	metro         []string
}

// NewAddressEvaluator builds an evaluator from the rules configuration.
func NewAddressEvaluator(cfg config.RulesConfig) *AddressEvaluator {
	metro := make([]string, 0, len(cfg.MetroProvinces))
	for _, p := range cfg.MetroProvinces {
		if f := Fold(p); f != "" {
			metro = append(metro, f)
		}
	}
	return &AddressEvaluator{
		staleAfter:    cfg.StaleAfter,
		maxStorage:    time.Duration(cfg.MaxStorageDays) * 24 * time.Hour,
		exemptShipper: cfg.ExemptShipperID,
		manualMarker:  cfg.ManualMarker,
		metro:         metro,
	}
}

// Evaluate returns the first matching decision for t, or Pending. It never
// errors: a rule whose inputs are absent simply does not match. Thresholds
// include the boundary instant.
func (e *AddressEvaluator) Evaluate(t domain.TicketAddressChange, now time.Time) Decision {
	if terminalOrder(t.RTSFlag, t.OrderStatus) {
		return Decision{Action: domain.ActionResolvedResume, Reason: ReasonTerminalOrder}
	}
	if t.FreeText() == "" && t.TicketCreatedAt != nil && now.Sub(*t.TicketCreatedAt) >= e.staleAfter {
		return Decision{Action: domain.ActionResolvedResume, Reason: ReasonStaleNoReason}
	}
	if t.TicketCreatedAt != nil && t.FirstAttemptDate != nil &&
		t.TicketCreatedAt.Sub(*t.FirstAttemptDate) >= e.maxStorage {
		return Decision{Action: domain.ActionResolvedResume, Reason: ReasonMaxStorage}
	}
	if t.TimesChange > 0 {
		return Decision{Action: domain.ActionResolvedResume, Reason: ReasonAlreadyChanged}
	}
	if t.ShipperID != nil && *t.ShipperID == e.exemptShipper && t.FirstAttemptDate == nil {
		return Decision{Action: domain.ActionResolvedResume, Reason: ReasonExemptShipper}
	}
	if e.mapTwoLevel(t) {
		return Decision{Action: domain.ActionApprove, Reason: ReasonMapTwoLevel, ChangeAddress: true}
	}
	if t.Detection != nil && e.metroProvince(t) {
		return Decision{Action: domain.ActionApprove, Reason: ReasonMetroProvince, ChangeAddress: true}
	}
	if t.Detection != nil && !t.Detection.Complete() {
		return Decision{Action: domain.ActionResolvedResume, Reason: ReasonBadFormat}
	}
	if e.manualMarker != "" && strings.Contains(t.FreeText(), e.manualMarker) {
		return Decision{Action: domain.ActionManualCheck, Reason: ReasonManualHandoff}
	}
	return Pending
}

// mapTwoLevel holds when both the detected province and the detected
// district match the order snapshot. A level matches when exactly one side
// textually contains the other after folding, against any of the snapshot
// fields carrying that level.
func (e *AddressEvaluator) mapTwoLevel(t domain.TicketAddressChange) bool {
	d := t.Detection
	if d == nil {
		return false
	}
	province := xorContains(deref(d.Province), deref(t.OldProvince)) ||
		xorContains(deref(d.Province), deref(t.OldAddress))
	if !province {
		return false
	}
	return xorContains(deref(d.District), deref(t.OldDistrict)) ||
		xorContains(deref(d.District), deref(t.ZoneName)) ||
		xorContains(deref(d.District), deref(t.OldAddress))
}

// metroProvince holds when the ticket's reported province names one of the
// high-volume metros, shorthand forms included.
func (e *AddressEvaluator) metroProvince(t domain.TicketAddressChange) bool {
	for _, m := range e.metro {
		if foldedContains(deref(t.Province), m) {
			return true
		}
	}
	return false
}
