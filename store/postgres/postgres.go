/*
Package postgres provides a gorm-backed paymentplan.TxStore for PostgreSQL.

PURPOSE:
  The managed relational database deployment. Tables mirror store/sqlite:
  colleges, plans (parameters as JSON text) and installments (cents as
  BIGINT, dates as DATE).

MIGRATION:
  Migrate runs gorm AutoMigrate for the three models. New calls it.

TRANSACTIONS:
  WithTx wraps gorm's Transaction; the Store handed to fn is bound to the
  transaction handle, so nested calls reuse it.

USAGE:
  store, err := postgres.New("host=localhost user=payplan dbname=payplan sslmode=disable")
  if err != nil {
      log.Fatal(err)
  }
  svc := paymentplan.NewService(store, nil)
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// =============================================================================
// MODELS
// =============================================================================

type collegeRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	AgencyID  string    `gorm:"size:64;not null;index:idx_colleges_agency"`
	Name      string    `gorm:"size:255;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (collegeRow) TableName() string { return "colleges" }

type planRow struct {
	ID           string           `gorm:"primaryKey;size:64"`
	AgencyID     string           `gorm:"size:64;not null;index:idx_plans_agency"`
	CollegeID    string           `gorm:"size:64;not null"`
	StudentID    string           `gorm:"size:64;not null"`
	ParamsJSON   string           `gorm:"type:text;not null"`
	Installments []installmentRow `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (planRow) TableName() string { return "plans" }

type installmentRow struct {
	ID                  string     `gorm:"primaryKey;size:64"`
	PlanID              string     `gorm:"size:64;not null;uniqueIndex:idx_installments_plan_number"`
	Number              int        `gorm:"not null;uniqueIndex:idx_installments_plan_number"`
	AmountCents         int64      `gorm:"not null"`
	StudentDueDate      *time.Time `gorm:"type:date;index"`
	InstitutionDueDate  *time.Time `gorm:"type:date"`
	IsInitialPayment    bool       `gorm:"not null;default:false"`
	GeneratesCommission bool       `gorm:"not null;default:true"`
	PaidDate            *time.Time `gorm:"type:date"`
	PaidAmountCents     *int64
	Status              string `gorm:"size:20;not null;index"`
}

func (installmentRow) TableName() string { return "installments" }

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&collegeRow{}, &planRow{}, &installmentRow{})
}

// =============================================================================
// STORE
// =============================================================================

// Store implements paymentplan.TxStore on gorm.
type Store struct {
	db *gorm.DB
}

// New opens dsn and migrates the schema.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing handle and migrates the schema.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(paymentplan.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// =============================================================================
// PLANS
// =============================================================================

func (s *Store) SavePlan(ctx context.Context, plan paymentplan.Plan) error {
	row, err := toPlanRow(plan)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("plan %s: %w", plan.ID, generic.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id paymentplan.PlanID) (paymentplan.Plan, error) {
	var row planRow
	err := s.db.WithContext(ctx).
		Preload("Installments", orderByNumber).
		First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return paymentplan.Plan{}, fmt.Errorf("plan %s: %w", id, generic.ErrPlanNotFound)
	}
	if err != nil {
		return paymentplan.Plan{}, fmt.Errorf("failed to get plan: %w", err)
	}
	return fromPlanRow(row)
}

func (s *Store) ListPlans(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	q := s.db.WithContext(ctx).Preload("Installments", orderByNumber).Order("created_at ASC, id ASC")
	if agencyID != "" {
		q = q.Where("agency_id = ?", string(agencyID))
	}
	var rows []planRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := make([]paymentplan.Plan, 0, len(rows))
	for _, row := range rows {
		plan, err := fromPlanRow(row)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (s *Store) ReplaceInstallments(ctx context.Context, planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode plan parameters: %w", err)
	}
	return s.WithTx(ctx, func(txs paymentplan.Store) error {
		tx := txs.(*Store).db
		res := tx.Model(&planRow{}).Where("id = ?", string(planID)).
			Updates(map[string]any{"params_json": string(paramsJSON), "updated_at": updatedAt})
		if res.Error != nil {
			return fmt.Errorf("failed to update plan: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("plan %s: %w", planID, generic.ErrPlanNotFound)
		}
		if err := tx.Where("plan_id = ?", string(planID)).Delete(&installmentRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete installments: %w", err)
		}
		if len(installments) == 0 {
			return nil
		}
		rows := make([]installmentRow, len(installments))
		for i, inst := range installments {
			rows[i] = toInstallmentRow(planID, inst)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert installments: %w", err)
		}
		return nil
	})
}

func orderByNumber(db *gorm.DB) *gorm.DB {
	return db.Order("number ASC")
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (s *Store) GetInstallment(ctx context.Context, id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	var row installmentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return paymentplan.Installment{}, fmt.Errorf("installment %s: %w", id, generic.ErrInstallmentNotFound)
	}
	if err != nil {
		return paymentplan.Installment{}, fmt.Errorf("failed to get installment: %w", err)
	}
	return fromInstallmentRow(row), nil
}

func (s *Store) UpdateInstallments(ctx context.Context, installments []paymentplan.Installment) error {
	return s.WithTx(ctx, func(txs paymentplan.Store) error {
		tx := txs.(*Store).db
		for _, inst := range installments {
			row := toInstallmentRow(inst.PlanID, inst)
			res := tx.Model(&installmentRow{}).Where("id = ?", row.ID).Updates(map[string]any{
				"student_due_date":     row.StudentDueDate,
				"institution_due_date": row.InstitutionDueDate,
				"paid_date":            row.PaidDate,
				"paid_amount_cents":    row.PaidAmountCents,
				"status":               row.Status,
			})
			if res.Error != nil {
				return fmt.Errorf("failed to update installment: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("installment %s: %w", inst.ID, generic.ErrInstallmentNotFound)
			}
		}
		return nil
	})
}

// =============================================================================
// COLLEGES
// =============================================================================

func (s *Store) SaveCollege(ctx context.Context, c paymentplan.College) error {
	var existing collegeRow
	err := s.db.WithContext(ctx).First(&existing, "id = ?", string(c.ID)).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := collegeRow{ID: string(c.ID), AgencyID: string(c.AgencyID), Name: c.Name, CreatedAt: c.CreatedAt}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save college: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to save college: %w", err)
	}
	existing.AgencyID = string(c.AgencyID)
	existing.Name = c.Name
	if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return fmt.Errorf("failed to save college: %w", err)
	}
	return nil
}

func (s *Store) GetCollege(ctx context.Context, id paymentplan.CollegeID) (paymentplan.College, error) {
	var row collegeRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return paymentplan.College{}, fmt.Errorf("college %s: %w", id, generic.ErrCollegeNotFound)
	}
	if err != nil {
		return paymentplan.College{}, fmt.Errorf("failed to get college: %w", err)
	}
	return fromCollegeRow(row), nil
}

func (s *Store) ListColleges(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.College, error) {
	q := s.db.WithContext(ctx).Order("name ASC, id ASC")
	if agencyID != "" {
		q = q.Where("agency_id = ?", string(agencyID))
	}
	var rows []collegeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list colleges: %w", err)
	}
	colleges := make([]paymentplan.College, len(rows))
	for i, row := range rows {
		colleges[i] = fromCollegeRow(row)
	}
	return colleges, nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&installmentRow{}, &planRow{}, &collegeRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPlanRow(plan paymentplan.Plan) (planRow, error) {
	paramsJSON, err := json.Marshal(plan.Params)
	if err != nil {
		return planRow{}, fmt.Errorf("failed to encode plan parameters: %w", err)
	}
	row := planRow{
		ID:         string(plan.ID),
		AgencyID:   string(plan.AgencyID),
		CollegeID:  string(plan.CollegeID),
		StudentID:  string(plan.StudentID),
		ParamsJSON: string(paramsJSON),
		CreatedAt:  plan.CreatedAt,
		UpdatedAt:  plan.UpdatedAt,
	}
	for _, inst := range plan.Installments {
		row.Installments = append(row.Installments, toInstallmentRow(plan.ID, inst))
	}
	return row, nil
}

func fromPlanRow(row planRow) (paymentplan.Plan, error) {
	plan := paymentplan.Plan{
		ID:        paymentplan.PlanID(row.ID),
		AgencyID:  paymentplan.AgencyID(row.AgencyID),
		CollegeID: paymentplan.CollegeID(row.CollegeID),
		StudentID: paymentplan.StudentID(row.StudentID),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.ParamsJSON), &plan.Params); err != nil {
		return plan, fmt.Errorf("failed to decode parameters of plan %s: %w", row.ID, err)
	}
	for _, ir := range row.Installments {
		plan.Installments = append(plan.Installments, fromInstallmentRow(ir))
	}
	return plan, nil
}

func toInstallmentRow(planID paymentplan.PlanID, inst paymentplan.Installment) installmentRow {
	row := installmentRow{
		ID:                  string(inst.ID),
		PlanID:              string(planID),
		Number:              inst.Number,
		AmountCents:         inst.Amount.Cents(),
		StudentDueDate:      dateToTime(inst.StudentDueDate),
		InstitutionDueDate:  dateToTime(inst.InstitutionDueDate),
		IsInitialPayment:    inst.IsInitialPayment,
		GeneratesCommission: inst.GeneratesCommission,
		PaidDate:            dateToTime(inst.PaidDate),
		Status:              string(inst.Status),
	}
	if inst.PaidAmount != nil {
		cents := inst.PaidAmount.Cents()
		row.PaidAmountCents = &cents
	}
	return row
}

func fromInstallmentRow(row installmentRow) paymentplan.Installment {
	inst := paymentplan.Installment{
		ID:                  paymentplan.InstallmentID(row.ID),
		PlanID:              paymentplan.PlanID(row.PlanID),
		Number:              row.Number,
		Amount:              generic.Cents(row.AmountCents),
		StudentDueDate:      timeToDate(row.StudentDueDate),
		InstitutionDueDate:  timeToDate(row.InstitutionDueDate),
		IsInitialPayment:    row.IsInitialPayment,
		GeneratesCommission: row.GeneratesCommission,
		PaidDate:            timeToDate(row.PaidDate),
		Status:              paymentplan.Status(row.Status),
	}
	if row.PaidAmountCents != nil {
		paid := generic.Cents(*row.PaidAmountCents)
		inst.PaidAmount = &paid
	}
	return inst
}

func fromCollegeRow(row collegeRow) paymentplan.College {
	return paymentplan.College{
		ID:        paymentplan.CollegeID(row.ID),
		AgencyID:  paymentplan.AgencyID(row.AgencyID),
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
	}
}

func dateToTime(d *generic.Date) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

func timeToDate(t *time.Time) *generic.Date {
	if t == nil {
		return nil
	}
	return generic.DatePtr(generic.DateOf(*t))
}
