package arkik

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StatusAction names the terminal action chosen for an abnormal record
type StatusAction string

const (
	ActionProceedNormal      StatusAction = "proceed_normal"
	ActionReassignToExisting StatusAction = "reassign_to_existing"
	ActionMarkAsWaste        StatusAction = "mark_as_waste"
)

// WasteReason categorizes why materials were scrapped
type WasteReason string

const (
	WasteCancelled    WasteReason = "cancelled"
	WasteIncomplete   WasteReason = "incomplete"
	WasteQualityIssue WasteReason = "quality_issue"
	WasteOther        WasteReason = "other"
)

// WasteCategory maps free reason text to a WasteReason
func WasteCategory(reason string) WasteReason {
	switch WasteReason(strings.ToLower(strings.TrimSpace(reason))) {
	case WasteCancelled:
		return WasteCancelled
	case WasteIncomplete:
		return WasteIncomplete
	case WasteQualityIssue:
		return WasteQualityIssue
	}
	return WasteOther
}

// Status decision errors
var (
	ErrNotAbnormal          = errors.New("record status does not need a decision")
	ErrTargetRequired       = errors.New("reassignment requires a target record")
	ErrUnknownTarget        = errors.New("target record is not among the reassignment candidates")
	ErrSelfTarget           = errors.New("a record cannot be reassigned to itself")
	ErrNegativeQuantity     = errors.New("transferred quantities must not be negative")
	ErrNothingToTransfer    = errors.New("reassignment transfers no materials")
	ErrWasteReasonRequired  = errors.New("marking as waste requires a reason")
	ErrUnknownStatusAction  = errors.New("unknown status action")
	ErrDecisionAlreadyFinal = errors.New("record was already committed")
)

// StatusDecision is the closed set of terminal actions for an abnormal record
type StatusDecision interface {
	Action() StatusAction
	isStatusDecision()
}

// ProceedNormal imports the record as if its status were normal
type ProceedNormal struct{}

// ReassignToExisting moves the record's consumed materials onto another record
type ReassignToExisting struct {
	TargetNumber   string                     `json:"target_number"`
	TargetRecordID string                     `json:"target_record_id,omitempty"`
	Materials      map[string]decimal.Decimal `json:"materials"`
}

// MarkAsWaste excludes the record's materials from import and keeps the reason for audit
type MarkAsWaste struct {
	Reason string `json:"reason"`
}

func (ProceedNormal) Action() StatusAction      { return ActionProceedNormal }
func (ReassignToExisting) Action() StatusAction { return ActionReassignToExisting }
func (MarkAsWaste) Action() StatusAction        { return ActionMarkAsWaste }

func (ProceedNormal) isStatusDecision()      {}
func (ReassignToExisting) isStatusDecision() {}
func (MarkAsWaste) isStatusDecision()        {}

// ExcludesRecord reports whether the decision takes the record out of order and volume accounting
func ExcludesRecord(d StatusDecision) bool {
	switch d.(type) {
	case ReassignToExisting, MarkAsWaste:
		return true
	}
	return false
}

// DecisionState is the state machine for one abnormal record.
// A nil Decision is the pending state.
type DecisionState struct {
	Number         string         `json:"number"`
	OriginalStatus string         `json:"original_status"`
	Decision       StatusDecision `json:"-"`
	Notes          string         `json:"notes,omitempty"`
	DecidedAt      time.Time      `json:"decided_at,omitempty"`
}

// Pending reports whether no decision has been taken yet
func (s DecisionState) Pending() bool {
	return s.Decision == nil
}

// MarshalJSON flattens the decision variant into action fields
func (s DecisionState) MarshalJSON() ([]byte, error) {
	type alias DecisionState
	out := struct {
		alias
		State  string         `json:"state"`
		Action StatusAction   `json:"action,omitempty"`
		Detail StatusDecision `json:"detail,omitempty"`
	}{alias: alias(s), State: "pending"}
	if s.Decision != nil {
		out.State = "decided"
		out.Action = s.Decision.Action()
		out.Detail = s.Decision
	}
	return json.Marshal(out)
}

// StatusProcessor drives the per-record status decision state machine
type StatusProcessor struct {
	now func() time.Time
}

// NewStatusProcessor creates a new StatusProcessor
func NewStatusProcessor() *StatusProcessor {
	return &StatusProcessor{now: time.Now}
}

// Begin enters the pending state for an abnormal record.
// The second return is false when the record needs no decision.
func (p *StatusProcessor) Begin(rec StagingRecord) (DecisionState, bool) {
	if !rec.IsAbnormal() {
		return DecisionState{}, false
	}
	return DecisionState{Number: rec.Number, OriginalStatus: rec.RawStatus}, true
}

// Decide moves the state to decided(d). On a rejected transition the state is
// returned unchanged together with the reason. Deciding again overwrites the previous decision.
func (p *StatusProcessor) Decide(state DecisionState, rec StagingRecord, d StatusDecision, targets []ReassignmentTarget, notes string) (DecisionState, error) {
	if !rec.IsAbnormal() {
		return state, ErrNotAbnormal
	}

	switch decision := d.(type) {
	case ProceedNormal:
		// always allowed

	case ReassignToExisting:
		resolved, err := resolveReassignment(rec, decision, targets)
		if err != nil {
			return state, err
		}
		d = resolved

	case MarkAsWaste:
		if strings.TrimSpace(decision.Reason) == "" {
			return state, ErrWasteReasonRequired
		}
		d = MarkAsWaste{Reason: strings.TrimSpace(decision.Reason)}

	default:
		return state, ErrUnknownStatusAction
	}

	next := state
	next.Number = rec.Number
	next.OriginalStatus = rec.RawStatus
	next.Decision = d
	next.Notes = strings.TrimSpace(notes)
	next.DecidedAt = p.now().UTC()
	return next, nil
}

func resolveReassignment(rec StagingRecord, d ReassignToExisting, targets []ReassignmentTarget) (ReassignToExisting, error) {
	if len(targets) == 0 || strings.TrimSpace(d.TargetNumber) == "" {
		return d, ErrTargetRequired
	}
	if d.TargetNumber == rec.Number {
		return d, ErrSelfTarget
	}

	var target *ReassignmentTarget
	for i := range targets {
		if targets[i].Number == d.TargetNumber {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		return d, fmt.Errorf("%w: %s", ErrUnknownTarget, d.TargetNumber)
	}

	materials := d.Materials
	if materials == nil {
		materials = rec.RealMap()
	}

	transfer := make(map[string]decimal.Decimal, len(materials))
	for code, qty := range materials {
		if qty.IsNegative() {
			return d, fmt.Errorf("%w: %s = %s", ErrNegativeQuantity, code, qty.String())
		}
		if qty.IsPositive() {
			transfer[codeKey(code)] = qty
		}
	}
	if len(transfer) == 0 {
		return d, ErrNothingToTransfer
	}

	return ReassignToExisting{
		TargetNumber:   target.Number,
		TargetRecordID: target.RecordID,
		Materials:      transfer,
	}, nil
}

// SortedCodes returns the transferred material codes in sorted order
func (d ReassignToExisting) SortedCodes() []string {
	codes := make([]string, 0, len(d.Materials))
	for code := range d.Materials {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// OrderAssignment is the closed set of ways a non-duplicate record gets its order
type OrderAssignment interface {
	isOrderAssignment()
}

// AssignExisting attaches the record to an existing order
type AssignExisting struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// CreateNewOrder creates an order (and its line item) for the record at commit
type CreateNewOrder struct{}

func (AssignExisting) isOrderAssignment() {}
func (CreateNewOrder) isOrderAssignment() {}

// DuplicateResolution is the strategy chosen for one duplicate
type DuplicateResolution struct {
	Strategy DuplicateStrategy `json:"strategy"`
	Note     string            `json:"note,omitempty"`
}
