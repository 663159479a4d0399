/*
store.go - Persistence interface for plans, installments and colleges

PURPOSE:
  Defines the boundary between the engine and the database. The calculators
  never see a Store; only Service does. Implementations hand installment rows
  back verbatim, payment fields included, so status and aggregates can be
  re-derived at any time.

WRITE MODEL:
  - SavePlan inserts a new plan with its generated schedule
  - ReplaceInstallments swaps the whole schedule (regenerate-and-replace)
  - UpdateInstallments rewrites the mutable columns of existing rows:
    due dates, paid date, paid amount, status
  Amounts and numbers are never updated in place.

ATOMICITY:
  TxStore.WithTx runs read-modify-write sequences (record a payment, replace a
  schedule, re-evaluate one plan) against one consistent snapshot. If fn
  returns an error nothing it wrote is kept.

NOT FOUND:
  Lookups return errors wrapping generic.ErrPlanNotFound,
  generic.ErrInstallmentNotFound or generic.ErrCollegeNotFound.

IMPLEMENTATIONS:
  - store/memory: in-memory, for tests and demos
  - store/sqlite: database/sql + go-sqlite3 (default)
  - store/postgres: gorm + postgres driver
*/
package paymentplan

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists plans, their installments and the college registry.
type Store interface {
	// SavePlan inserts plan together with plan.Installments.
	SavePlan(ctx context.Context, plan Plan) error

	// GetPlan returns the plan with its installments ordered by number.
	GetPlan(ctx context.Context, id PlanID) (Plan, error)

	// ListPlans returns the plans of an agency, or every plan when agencyID is
	// empty, ordered by creation time.
	ListPlans(ctx context.Context, agencyID AgencyID) ([]Plan, error)

	// ReplaceInstallments deletes the plan's schedule and inserts a new one
	// generated from params.
	ReplaceInstallments(ctx context.Context, planID PlanID, params PlanParameters, installments []Installment, updatedAt time.Time) error

	// GetInstallment returns one installment by ID.
	GetInstallment(ctx context.Context, id InstallmentID) (Installment, error)

	// UpdateInstallments writes the mutable fields of existing installments.
	UpdateInstallments(ctx context.Context, installments []Installment) error

	// SaveCollege inserts or renames a college.
	SaveCollege(ctx context.Context, college College) error

	// GetCollege returns one college by ID.
	GetCollege(ctx context.Context, id CollegeID) (College, error)

	// ListColleges returns the colleges of an agency ordered by name.
	ListColleges(ctx context.Context, agencyID AgencyID) ([]College, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// DASHBOARD CACHE
// =============================================================================

// DashboardCache stores computed agency aggregates. Service invalidates an
// agency's entries on every write that touches one of its plans.
type DashboardCache interface {
	Get(ctx context.Context, agencyID AgencyID, key string) (AgencyAggregate, bool, error)
	Set(ctx context.Context, agencyID AgencyID, key string, agg AgencyAggregate) error
	Invalidate(ctx context.Context, agencyID AgencyID) error
}
