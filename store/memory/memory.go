// Package memory provides an in-memory paymentplan.TxStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st state
}

// state holds the data. Its methods assume the caller holds the lock.
type state struct {
	plans        map[paymentplan.PlanID]paymentplan.Plan // installments kept separately
	order        []paymentplan.PlanID                    // insertion order
	installments map[paymentplan.PlanID][]paymentplan.Installment
	owner        map[paymentplan.InstallmentID]paymentplan.PlanID
	colleges     map[paymentplan.CollegeID]paymentplan.College
}

func newState() state {
	return state{
		plans:        make(map[paymentplan.PlanID]paymentplan.Plan),
		installments: make(map[paymentplan.PlanID][]paymentplan.Installment),
		owner:        make(map[paymentplan.InstallmentID]paymentplan.PlanID),
		colleges:     make(map[paymentplan.CollegeID]paymentplan.College),
	}
}

func New() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) SavePlan(_ context.Context, plan paymentplan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.savePlan(plan)
}

func (m *Memory) GetPlan(_ context.Context, id paymentplan.PlanID) (paymentplan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getPlan(id)
}

func (m *Memory) ListPlans(_ context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPlans(agencyID), nil
}

func (m *Memory) ReplaceInstallments(_ context.Context, planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.replaceInstallments(planID, params, installments, updatedAt)
}

func (m *Memory) GetInstallment(_ context.Context, id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getInstallment(id)
}

func (m *Memory) UpdateInstallments(_ context.Context, installments []paymentplan.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all IDs first so a bad batch writes nothing.
	for _, inst := range installments {
		if _, ok := m.st.owner[inst.ID]; !ok {
			return fmt.Errorf("installment %s: %w", inst.ID, generic.ErrInstallmentNotFound)
		}
	}
	return m.st.updateInstallments(installments)
}

func (m *Memory) SaveCollege(_ context.Context, college paymentplan.College) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveCollege(college)
	return nil
}

func (m *Memory) GetCollege(_ context.Context, id paymentplan.CollegeID) (paymentplan.College, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getCollege(id)
}

func (m *Memory) ListColleges(_ context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.College, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listColleges(agencyID), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(paymentplan.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txView is the Store handed to WithTx callbacks. The lock is already held.
type txView struct {
	st *state
}

func (v *txView) SavePlan(_ context.Context, plan paymentplan.Plan) error {
	return v.st.savePlan(plan)
}

func (v *txView) GetPlan(_ context.Context, id paymentplan.PlanID) (paymentplan.Plan, error) {
	return v.st.getPlan(id)
}

func (v *txView) ListPlans(_ context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	return v.st.listPlans(agencyID), nil
}

func (v *txView) ReplaceInstallments(_ context.Context, planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	return v.st.replaceInstallments(planID, params, installments, updatedAt)
}

func (v *txView) GetInstallment(_ context.Context, id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	return v.st.getInstallment(id)
}

func (v *txView) UpdateInstallments(_ context.Context, installments []paymentplan.Installment) error {
	return v.st.updateInstallments(installments)
}

func (v *txView) SaveCollege(_ context.Context, college paymentplan.College) error {
	v.st.saveCollege(college)
	return nil
}

func (v *txView) GetCollege(_ context.Context, id paymentplan.CollegeID) (paymentplan.College, error) {
	return v.st.getCollege(id)
}

func (v *txView) ListColleges(_ context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.College, error) {
	return v.st.listColleges(agencyID), nil
}

// =============================================================================
// STATE (lock held)
// =============================================================================

func (s *state) savePlan(plan paymentplan.Plan) error {
	if _, ok := s.plans[plan.ID]; ok {
		return fmt.Errorf("plan %s: %w", plan.ID, generic.ErrDuplicate)
	}
	installments := cloneInstallments(plan.Installments)
	plan.Installments = nil
	s.plans[plan.ID] = plan
	s.order = append(s.order, plan.ID)
	s.setInstallments(plan.ID, installments)
	return nil
}

func (s *state) getPlan(id paymentplan.PlanID) (paymentplan.Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return paymentplan.Plan{}, fmt.Errorf("plan %s: %w", id, generic.ErrPlanNotFound)
	}
	plan.Installments = cloneInstallments(s.installments[id])
	return plan, nil
}

func (s *state) listPlans(agencyID paymentplan.AgencyID) []paymentplan.Plan {
	plans := []paymentplan.Plan{}
	for _, id := range s.order {
		plan := s.plans[id]
		if agencyID != "" && plan.AgencyID != agencyID {
			continue
		}
		plan.Installments = cloneInstallments(s.installments[id])
		plans = append(plans, plan)
	}
	return plans
}

func (s *state) replaceInstallments(planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	plan, ok := s.plans[planID]
	if !ok {
		return fmt.Errorf("plan %s: %w", planID, generic.ErrPlanNotFound)
	}
	for _, old := range s.installments[planID] {
		delete(s.owner, old.ID)
	}
	plan.Params = params
	plan.UpdatedAt = updatedAt
	s.plans[planID] = plan
	s.setInstallments(planID, cloneInstallments(installments))
	return nil
}

func (s *state) setInstallments(planID paymentplan.PlanID, installments []paymentplan.Installment) {
	sort.Slice(installments, func(i, j int) bool {
		return installments[i].Number < installments[j].Number
	})
	for i := range installments {
		installments[i].PlanID = planID
		s.owner[installments[i].ID] = planID
	}
	s.installments[planID] = installments
}

func (s *state) getInstallment(id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	planID, ok := s.owner[id]
	if !ok {
		return paymentplan.Installment{}, fmt.Errorf("installment %s: %w", id, generic.ErrInstallmentNotFound)
	}
	for _, inst := range s.installments[planID] {
		if inst.ID == id {
			return cloneInstallment(inst), nil
		}
	}
	return paymentplan.Installment{}, fmt.Errorf("installment %s: %w", id, generic.ErrInstallmentNotFound)
}

// updateInstallments writes the mutable columns only.
func (s *state) updateInstallments(installments []paymentplan.Installment) error {
	for _, upd := range installments {
		planID, ok := s.owner[upd.ID]
		if !ok {
			return fmt.Errorf("installment %s: %w", upd.ID, generic.ErrInstallmentNotFound)
		}
		rows := s.installments[planID]
		for i := range rows {
			if rows[i].ID != upd.ID {
				continue
			}
			c := cloneInstallment(upd)
			rows[i].StudentDueDate = c.StudentDueDate
			rows[i].InstitutionDueDate = c.InstitutionDueDate
			rows[i].PaidDate = c.PaidDate
			rows[i].PaidAmount = c.PaidAmount
			rows[i].Status = c.Status
		}
	}
	return nil
}

func (s *state) saveCollege(college paymentplan.College) {
	if existing, ok := s.colleges[college.ID]; ok && !existing.CreatedAt.IsZero() {
		college.CreatedAt = existing.CreatedAt
	}
	s.colleges[college.ID] = college
}

func (s *state) getCollege(id paymentplan.CollegeID) (paymentplan.College, error) {
	c, ok := s.colleges[id]
	if !ok {
		return paymentplan.College{}, fmt.Errorf("college %s: %w", id, generic.ErrCollegeNotFound)
	}
	return c, nil
}

func (s *state) listColleges(agencyID paymentplan.AgencyID) []paymentplan.College {
	colleges := []paymentplan.College{}
	for _, c := range s.colleges {
		if agencyID != "" && c.AgencyID != agencyID {
			continue
		}
		colleges = append(colleges, c)
	}
	sort.Slice(colleges, func(i, j int) bool {
		if colleges[i].Name != colleges[j].Name {
			return colleges[i].Name < colleges[j].Name
		}
		return colleges[i].ID < colleges[j].ID
	})
	return colleges
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.plans {
		c.plans[k] = v
	}
	c.order = append([]paymentplan.PlanID{}, s.order...)
	for k, v := range s.installments {
		c.installments[k] = cloneInstallments(v)
	}
	for k, v := range s.owner {
		c.owner[k] = v
	}
	for k, v := range s.colleges {
		c.colleges[k] = v
	}
	return c
}

// =============================================================================
// COPY HELPERS - callers never share pointers with the store
// =============================================================================

func cloneInstallments(in []paymentplan.Installment) []paymentplan.Installment {
	if in == nil {
		return nil
	}
	out := make([]paymentplan.Installment, len(in))
	for i, inst := range in {
		out[i] = cloneInstallment(inst)
	}
	return out
}

func cloneInstallment(inst paymentplan.Installment) paymentplan.Installment {
	if inst.StudentDueDate != nil {
		inst.StudentDueDate = generic.DatePtr(*inst.StudentDueDate)
	}
	if inst.InstitutionDueDate != nil {
		inst.InstitutionDueDate = generic.DatePtr(*inst.InstitutionDueDate)
	}
	if inst.PaidDate != nil {
		inst.PaidDate = generic.DatePtr(*inst.PaidDate)
	}
	if inst.PaidAmount != nil {
		paid := *inst.PaidAmount
		inst.PaidAmount = &paid
	}
	return inst
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}
