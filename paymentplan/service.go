package paymentplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/commission-engine/generic"
)

// =============================================================================
// SERVICE - Generate, persist, pay, re-evaluate
// =============================================================================

// Service orchestrates the pure calculators against a Store. It is the only
// part of this package that performs I/O. Callers pass "now" as a Date on
// every time-dependent call; Clock is used only for created/updated stamps.
type Service struct {
	Store    TxStore        // transactional store
	Cache    DashboardCache // optional
	Resolver StatusResolver
	Options  AggregateOptions
	Logger   *slog.Logger // optional, cache failures only
	Clock    func() time.Time
	NewID    func() string

	genMu       sync.Mutex
	generations map[AgencyID]uint64
}

// NewService returns a Service with the default resolver and aggregate
// options, uuid identifiers and the system clock.
func NewService(store TxStore, cache DashboardCache) *Service {
	return &Service{
		Store:    store,
		Cache:    cache,
		Resolver: NewStatusResolver(DefaultDueSoonWindowDays),
		Options:  DefaultAggregateOptions(),
		Clock:    time.Now,
		NewID:    uuid.NewString,
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock().UTC()
}

func (s *Service) id() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

// =============================================================================
// PLANS
// =============================================================================

// NewPlan is the input of CreatePlan.
type NewPlan struct {
	AgencyID  AgencyID       `json:"agency_id"`
	CollegeID CollegeID      `json:"college_id"`
	StudentID StudentID      `json:"student_id"`
	Params    PlanParameters `json:"params"`
}

// CreatePlan generates the schedule for np.Params, evaluates it as of asOf and
// persists it. Validation failures persist nothing.
func (s *Service) CreatePlan(ctx context.Context, np NewPlan, asOf generic.Date) (Plan, error) {
	verr := &generic.ValidationError{}
	if np.AgencyID == "" {
		verr.Add("agency_id", "is required")
	}
	if np.CollegeID == "" {
		verr.Add("college_id", "is required")
	}
	if np.StudentID == "" {
		verr.Add("student_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return Plan{}, err
	}

	installments, err := GenerateInstallmentSchedule(np.Params)
	if err != nil {
		return Plan{}, err
	}

	college, err := s.Store.GetCollege(ctx, np.CollegeID)
	if err != nil {
		return Plan{}, err
	}
	if college.AgencyID != np.AgencyID {
		return Plan{}, fmt.Errorf("college %s for agency %s: %w", np.CollegeID, np.AgencyID, generic.ErrCollegeNotFound)
	}

	stamp := s.now()
	plan := Plan{
		ID:        PlanID(s.id()),
		AgencyID:  np.AgencyID,
		CollegeID: np.CollegeID,
		StudentID: np.StudentID,
		Params:    np.Params,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	plan.Installments = s.stamp(plan.ID, installments, asOf)

	if err := s.Store.SavePlan(ctx, plan); err != nil {
		return Plan{}, fmt.Errorf("save plan: %w", err)
	}
	s.invalidate(ctx, plan.AgencyID)
	return plan, nil
}

// PreviewPlan generates and evaluates a schedule without persisting it.
func (s *Service) PreviewPlan(params PlanParameters, asOf generic.Date) ([]Installment, PlanSummary, error) {
	installments, err := GenerateInstallmentSchedule(params)
	if err != nil {
		return nil, PlanSummary{}, err
	}
	for i := range installments {
		installments[i].Status = s.Resolver.Resolve(installments[i], asOf)
	}
	return installments, AggregateInstallments(params, installments, asOf, s.Resolver), nil
}

// stamp assigns IDs and evaluates generated rows as of asOf.
func (s *Service) stamp(planID PlanID, installments []Installment, asOf generic.Date) []Installment {
	for i := range installments {
		installments[i].ID = InstallmentID(s.id())
		installments[i].PlanID = planID
		installments[i].Status = s.Resolver.Resolve(installments[i], asOf)
	}
	return installments
}

// GetPlan returns one plan.
func (s *Service) GetPlan(ctx context.Context, id PlanID) (Plan, error) {
	return s.Store.GetPlan(ctx, id)
}

// ListPlans returns the plans of an agency (every plan for an empty ID).
func (s *Service) ListPlans(ctx context.Context, agencyID AgencyID) ([]Plan, error) {
	return s.Store.ListPlans(ctx, agencyID)
}

// ReplaceSchedule regenerates a plan's schedule from new parameters. Once any
// payment is recorded the schedule is locked and generic.ErrScheduleLocked is
// returned.
func (s *Service) ReplaceSchedule(ctx context.Context, id PlanID, params PlanParameters, asOf generic.Date) (Plan, error) {
	installments, err := GenerateInstallmentSchedule(params)
	if err != nil {
		return Plan{}, err
	}

	var updated Plan
	err = s.Store.WithTx(ctx, func(tx Store) error {
		plan, err := tx.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		for _, inst := range plan.Installments {
			if inst.HasPayment() {
				return fmt.Errorf("plan %s installment %d: %w", id, inst.Number, generic.ErrScheduleLocked)
			}
		}

		plan.Params = params
		plan.UpdatedAt = s.now()
		plan.Installments = s.stamp(plan.ID, installments, asOf)
		if err := tx.ReplaceInstallments(ctx, plan.ID, params, plan.Installments, plan.UpdatedAt); err != nil {
			return fmt.Errorf("replace installments: %w", err)
		}
		updated = plan
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	s.invalidate(ctx, updated.AgencyID)
	return updated, nil
}

// =============================================================================
// PAYMENTS AND DATES
// =============================================================================

// RecordPayment adds a payment to one installment.
func (s *Service) RecordPayment(ctx context.Context, id InstallmentID, amount generic.Money, paidDate generic.Date) (Installment, error) {
	var (
		updated  Installment
		agencyID AgencyID
	)
	err := s.Store.WithTx(ctx, func(tx Store) error {
		inst, err := tx.GetInstallment(ctx, id)
		if err != nil {
			return err
		}
		plan, err := tx.GetPlan(ctx, inst.PlanID)
		if err != nil {
			return err
		}
		agencyID = plan.AgencyID

		updated, err = RecordPayment(inst, amount, paidDate)
		if err != nil {
			return err
		}
		return tx.UpdateInstallments(ctx, []Installment{updated})
	})
	if err != nil {
		return Installment{}, err
	}
	s.invalidate(ctx, agencyID)
	return updated, nil
}

// AssignDueDates dates the custom-cadence placeholders of a plan and
// re-evaluates them as of asOf.
func (s *Service) AssignDueDates(ctx context.Context, id PlanID, assignments []DueDateAssignment, asOf generic.Date) (Plan, error) {
	var updated Plan
	err := s.Store.WithTx(ctx, func(tx Store) error {
		plan, err := tx.GetPlan(ctx, id)
		if err != nil {
			return err
		}
		installments, err := AssignDueDates(plan.Installments, assignments, plan.Params.StudentLeadTimeDays)
		if err != nil {
			return err
		}

		assigned := make(map[int]bool, len(assignments))
		for _, a := range assignments {
			assigned[a.Number] = true
		}
		var changed []Installment
		for i := range installments {
			if !assigned[installments[i].Number] {
				continue
			}
			installments[i].Status = s.Resolver.Resolve(installments[i], asOf)
			changed = append(changed, installments[i])
		}
		if err := tx.UpdateInstallments(ctx, changed); err != nil {
			return err
		}
		plan.Installments = installments
		updated = plan
		return nil
	})
	if err != nil {
		return Plan{}, err
	}
	s.invalidate(ctx, updated.AgencyID)
	return updated, nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// Summary returns the progress view of one plan as of asOf.
func (s *Service) Summary(ctx context.Context, id PlanID, asOf generic.Date) (PlanSummary, error) {
	plan, err := s.Store.GetPlan(ctx, id)
	if err != nil {
		return PlanSummary{}, err
	}
	return AggregateInstallments(plan.Params, plan.Installments, asOf, s.Resolver), nil
}

// Dashboard returns the agency aggregate as of asOf. Zero option fields fall
// back to the service's options. Results are cached until the next write to
// one of the agency's plans.
func (s *Service) Dashboard(ctx context.Context, agencyID AgencyID, asOf generic.Date, opts AggregateOptions) (AgencyAggregate, error) {
	if agencyID == "" {
		return AgencyAggregate{}, generic.NewValidationError("agency_id", "is required")
	}
	if opts.ProjectionDays <= 0 {
		opts.ProjectionDays = s.Options.ProjectionDays
	}
	if opts.TopN <= 0 {
		opts.TopN = s.Options.TopN
	}
	opts.DueSoonWindowDays = s.Resolver.DueSoonWindowDays
	opts = opts.withDefaults()

	key := fmt.Sprintf("%s|%d|%d|%d", asOf, opts.ProjectionDays, opts.TopN, opts.DueSoonWindowDays)
	if s.Cache != nil {
		agg, ok, err := s.Cache.Get(ctx, agencyID, key)
		if err != nil {
			s.logCacheError("get", agencyID, err)
		} else if ok {
			return agg, nil
		}
	}

	gen := s.generation(agencyID)
	plans, err := s.Store.ListPlans(ctx, agencyID)
	if err != nil {
		return AgencyAggregate{}, err
	}
	agg := AggregateAgencyWithOptions(plans, asOf, opts)

	colleges, err := s.Store.ListColleges(ctx, agencyID)
	if err != nil {
		return AgencyAggregate{}, err
	}
	names := make(map[CollegeID]string, len(colleges))
	for _, c := range colleges {
		names[c.ID] = c.Name
	}
	for i := range agg.TopColleges {
		agg.TopColleges[i].Name = names[agg.TopColleges[i].CollegeID]
	}

	s.fill(ctx, agencyID, key, gen, agg)
	return agg, nil
}

// fill caches agg unless a write to the agency was invalidated since gen was
// read. A write that lands between the check and the Set bumps the
// generation again, so the entry is dropped straight after.
func (s *Service) fill(ctx context.Context, agencyID AgencyID, key string, gen uint64, agg AgencyAggregate) {
	if s.Cache == nil || s.generation(agencyID) != gen {
		return
	}
	if err := s.Cache.Set(ctx, agencyID, key, agg); err != nil {
		s.logCacheError("set", agencyID, err)
		return
	}
	if s.generation(agencyID) != gen {
		s.invalidateCache(ctx, agencyID)
	}
}

// =============================================================================
// STATUS RE-EVALUATION
// =============================================================================

// ReevaluationResult reports one re-evaluation pass.
type ReevaluationResult struct {
	AsOf         generic.Date       `json:"as_of"`
	PlansScanned int                `json:"plans_scanned"`
	Transitions  []StatusTransition `json:"transitions"`
}

// ReevaluateStatuses re-derives and persists the status of every installment
// as of asOf. Each plan is read and written inside its own transaction so its
// installments are evaluated from one snapshot; plans are independent of each
// other. A failing plan does not stop the pass; the errors are joined.
func (s *Service) ReevaluateStatuses(ctx context.Context, asOf generic.Date) (ReevaluationResult, error) {
	result := ReevaluationResult{AsOf: asOf}

	plans, err := s.Store.ListPlans(ctx, "")
	if err != nil {
		return result, err
	}

	var errs []error
	touched := make(map[AgencyID]bool)
	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result.PlansScanned++

		var transitions []StatusTransition
		err := s.Store.WithTx(ctx, func(tx Store) error {
			plan, err := tx.GetPlan(ctx, p.ID)
			if err != nil {
				return err
			}
			installments, ts := s.Resolver.ResolveStatuses(plan, asOf)
			if len(ts) == 0 {
				return nil
			}
			changed := make([]Installment, 0, len(ts))
			for _, t := range ts {
				for _, inst := range installments {
					if inst.ID == t.InstallmentID {
						changed = append(changed, inst)
						break
					}
				}
			}
			if err := tx.UpdateInstallments(ctx, changed); err != nil {
				return err
			}
			transitions = ts
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("plan %s: %w", p.ID, err))
			continue
		}
		if len(transitions) > 0 {
			result.Transitions = append(result.Transitions, transitions...)
			touched[p.AgencyID] = true
		}
	}

	for agencyID := range touched {
		s.invalidate(ctx, agencyID)
	}
	return result, errors.Join(errs...)
}

// =============================================================================
// COLLEGES
// =============================================================================

// SaveCollege registers a college, assigning an ID when none is given.
func (s *Service) SaveCollege(ctx context.Context, c College) (College, error) {
	verr := &generic.ValidationError{}
	if c.AgencyID == "" {
		verr.Add("agency_id", "is required")
	}
	if c.Name == "" {
		verr.Add("name", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return College{}, err
	}
	if c.ID == "" {
		c.ID = CollegeID(s.id())
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if err := s.Store.SaveCollege(ctx, c); err != nil {
		return College{}, fmt.Errorf("save college: %w", err)
	}
	s.invalidate(ctx, c.AgencyID)
	return c, nil
}

// ListColleges returns the colleges of an agency.
func (s *Service) ListColleges(ctx context.Context, agencyID AgencyID) ([]College, error) {
	return s.Store.ListColleges(ctx, agencyID)
}

// =============================================================================
// CACHE HELPERS
// =============================================================================

// invalidate bumps the agency's generation before dropping its cached
// aggregates, so a dashboard computed from older data is never stored.
func (s *Service) invalidate(ctx context.Context, agencyID AgencyID) {
	s.genMu.Lock()
	if s.generations == nil {
		s.generations = make(map[AgencyID]uint64)
	}
	s.generations[agencyID]++
	s.genMu.Unlock()

	s.invalidateCache(ctx, agencyID)
}

// InvalidateDashboard drops the cached aggregates of an agency, for writes
// made to the store outside the service.
func (s *Service) InvalidateDashboard(ctx context.Context, agencyID AgencyID) {
	s.invalidate(ctx, agencyID)
}

func (s *Service) invalidateCache(ctx context.Context, agencyID AgencyID) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, agencyID); err != nil {
		s.logCacheError("invalidate", agencyID, err)
	}
}

func (s *Service) generation(agencyID AgencyID) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[agencyID]
}

func (s *Service) logCacheError(op string, agencyID AgencyID, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn("dashboard cache", "op", op, "agency_id", agencyID, "error", err)
}
