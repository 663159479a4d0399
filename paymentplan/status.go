package paymentplan

import "github.com/warp/commission-engine/generic"

// =============================================================================
// STATUS RESOLVER - Pure function of (amount, paid, due date, now)
// =============================================================================

// DefaultDueSoonWindowDays is how many days before the student due date an
// installment is flagged DueSoon.
const DefaultDueSoonWindowDays = 5

// StatusResolver derives installment statuses. The zero value uses a
// zero-day due-soon window; use NewStatusResolver for the default.
//
// Resolution order:
//  1. paid > 0 and paid >= amount -> Paid
//  2. 0 < paid < amount            -> Partial
//  3. no student due date          -> Draft (custom placeholder)
//  4. zero amount                  -> Paid
//  5. now > student due date       -> Overdue
//  6. now >= due - window          -> DueSoon
//  7. otherwise                    -> Pending
//
// Without a payment, advancing now only ever moves an installment forward
// along Pending -> DueSoon -> Overdue.
type StatusResolver struct {
	DueSoonWindowDays int
}

// NewStatusResolver returns a resolver with the given window, falling back to
// DefaultDueSoonWindowDays for negative values.
func NewStatusResolver(windowDays int) StatusResolver {
	if windowDays < 0 {
		windowDays = DefaultDueSoonWindowDays
	}
	return StatusResolver{DueSoonWindowDays: windowDays}
}

// Resolve returns the status of inst as of now.
func (r StatusResolver) Resolve(inst Installment, now generic.Date) Status {
	paid := inst.Paid()
	if inst.HasPayment() && !paid.LessThan(inst.Amount) {
		return StatusPaid
	}
	if paid.IsPositive() {
		return StatusPartial
	}
	if inst.StudentDueDate == nil || inst.StudentDueDate.IsZero() {
		return StatusDraft
	}
	// Nothing is owed on a dated zero-amount installment.
	if !inst.Amount.IsPositive() {
		return StatusPaid
	}
	due := *inst.StudentDueDate
	switch {
	case now.After(due):
		return StatusOverdue
	case now.AfterOrEqual(due.SubtractDays(r.DueSoonWindowDays)):
		return StatusDueSoon
	default:
		return StatusPending
	}
}

// ResolveInstallmentStatus resolves with the default due-soon window.
func ResolveInstallmentStatus(inst Installment, now generic.Date) Status {
	return NewStatusResolver(DefaultDueSoonWindowDays).Resolve(inst, now)
}

// =============================================================================
// PLAN SNAPSHOT EVALUATION
// =============================================================================

// StatusTransition records a status change observed during re-evaluation.
type StatusTransition struct {
	PlanID        PlanID        `json:"plan_id"`
	InstallmentID InstallmentID `json:"installment_id"`
	Number        int           `json:"number"`
	From          Status        `json:"from"`
	To            Status        `json:"to"`
}

// ResolveStatuses evaluates every installment of one plan against the same
// snapshot and now. It returns the re-evaluated installments (a copy; the plan
// is not modified) and the transitions relative to the stored statuses.
func (r StatusResolver) ResolveStatuses(plan Plan, now generic.Date) ([]Installment, []StatusTransition) {
	out := make([]Installment, len(plan.Installments))
	var transitions []StatusTransition
	for i, inst := range plan.Installments {
		next := r.Resolve(inst, now)
		if next != inst.Status {
			transitions = append(transitions, StatusTransition{
				PlanID:        plan.ID,
				InstallmentID: inst.ID,
				Number:        inst.Number,
				From:          inst.Status,
				To:            next,
			})
		}
		inst.Status = next
		out[i] = inst
	}
	return out, transitions
}

// ResolveStatuses evaluates one plan with the default due-soon window.
func ResolveStatuses(plan Plan, now generic.Date) ([]Installment, []StatusTransition) {
	return NewStatusResolver(DefaultDueSoonWindowDays).ResolveStatuses(plan, now)
}
