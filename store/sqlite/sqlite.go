/*
Package sqlite provides a SQLite-backed paymentplan.TxStore.

PURPOSE:
  Default persistence for plans, installments and the college registry. The
  schema is small enough to stay dialect-neutral; the postgres store keeps the
  same table shapes through gorm.

KEY TABLES:
  colleges:      college registry, scoped by agency
  plans:         ownership + generation parameters (params_json)
  installments:  one row per scheduled payment, cents as INTEGER,
                 dates as YYYY-MM-DD text, NULL for unassigned/unpaid

MONEY AND DATES:
  Money is stored as integer cents so no float ever touches an amount.
  Dates are stored as ISO text; timestamps as RFC3339.

INDEXES:
  - idx_installments_plan_number: one row per (plan, number), schedule order
  - idx_installments_student_due: dashboard projection scans
  - idx_plans_agency:             dashboard and list queries

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases alive across calls.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payplan.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := paymentplan.NewService(store, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - paymentplan/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: gorm implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// Store implements paymentplan.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS colleges (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_colleges_agency
		ON colleges(agency_id, name);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL,
		college_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		params_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_agency
		ON plans(agency_id, created_at);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		amount_cents INTEGER NOT NULL,
		student_due_date TEXT,
		institution_due_date TEXT,
		is_initial_payment BOOLEAN NOT NULL DEFAULT FALSE,
		generates_commission BOOLEAN NOT NULL DEFAULT TRUE,
		paid_date TEXT,
		paid_amount_cents INTEGER,
		status TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_installments_plan_number
		ON installments(plan_id, number);

	CREATE INDEX IF NOT EXISTS idx_installments_student_due
		ON installments(student_due_date) WHERE student_due_date IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PLANS (paymentplan.Store interface)
// =============================================================================

// SavePlan inserts a plan and its schedule atomically.
func (s *Store) SavePlan(ctx context.Context, plan paymentplan.Plan) error {
	return s.WithTx(ctx, func(tx paymentplan.Store) error {
		return tx.SavePlan(ctx, plan)
	})
}

func savePlan(ctx context.Context, db dbtx, plan paymentplan.Plan) error {
	paramsJSON, err := json.Marshal(plan.Params)
	if err != nil {
		return fmt.Errorf("failed to encode plan parameters: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO plans (id, agency_id, college_id, student_id, params_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		plan.ID,
		plan.AgencyID,
		plan.CollegeID,
		plan.StudentID,
		string(paramsJSON),
		plan.CreatedAt.UTC().Format(time.RFC3339Nano),
		plan.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("plan %s: %w", plan.ID, generic.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return insertInstallments(ctx, db, plan.ID, plan.Installments)
}

func insertInstallments(ctx context.Context, db dbtx, planID paymentplan.PlanID, installments []paymentplan.Installment) error {
	for _, inst := range installments {
		_, err := db.ExecContext(ctx, `
			INSERT INTO installments
			(id, plan_id, number, amount_cents, student_due_date, institution_due_date,
			 is_initial_payment, generates_commission, paid_date, paid_amount_cents, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inst.ID,
			planID,
			inst.Number,
			inst.Amount.Cents(),
			nullDate(inst.StudentDueDate),
			nullDate(inst.InstitutionDueDate),
			inst.IsInitialPayment,
			inst.GeneratesCommission,
			nullDate(inst.PaidDate),
			nullCents(inst.PaidAmount),
			inst.Status,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("installment %s: %w", inst.ID, generic.ErrDuplicate)
			}
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

// GetPlan returns a plan with its installments.
func (s *Store) GetPlan(ctx context.Context, id paymentplan.PlanID) (paymentplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPlan(ctx, s.db, id)
}

func getPlan(ctx context.Context, db dbtx, id paymentplan.PlanID) (paymentplan.Plan, error) {
	plans, err := queryPlans(ctx, db, `
		SELECT id, agency_id, college_id, student_id, params_json, created_at, updated_at
		FROM plans WHERE id = ?
	`, id)
	if err != nil {
		return paymentplan.Plan{}, err
	}
	if len(plans) == 0 {
		return paymentplan.Plan{}, fmt.Errorf("plan %s: %w", id, generic.ErrPlanNotFound)
	}
	plan := plans[0]

	plan.Installments, err = queryInstallments(ctx, db, `
		SELECT `+installmentColumns+`
		FROM installments WHERE plan_id = ?
		ORDER BY number ASC
	`, id)
	if err != nil {
		return paymentplan.Plan{}, err
	}
	return plan, nil
}

// ListPlans returns the plans of an agency (all plans for an empty ID).
func (s *Store) ListPlans(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPlans(ctx, s.db, agencyID)
}

func listPlans(ctx context.Context, db dbtx, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	plans, err := queryPlans(ctx, db, `
		SELECT id, agency_id, college_id, student_id, params_json, created_at, updated_at
		FROM plans
		WHERE (? = '' OR agency_id = ?)
		ORDER BY created_at ASC, id ASC
	`, agencyID, agencyID)
	if err != nil {
		return nil, err
	}

	installments, err := queryInstallments(ctx, db, `
		SELECT `+prefixed("i.", installmentColumns)+`
		FROM installments i
		JOIN plans p ON p.id = i.plan_id
		WHERE (? = '' OR p.agency_id = ?)
		ORDER BY i.plan_id, i.number ASC
	`, agencyID, agencyID)
	if err != nil {
		return nil, err
	}

	byPlan := make(map[paymentplan.PlanID][]paymentplan.Installment, len(plans))
	for _, inst := range installments {
		byPlan[inst.PlanID] = append(byPlan[inst.PlanID], inst)
	}
	for i := range plans {
		plans[i].Installments = byPlan[plans[i].ID]
	}
	return plans, nil
}

// ReplaceInstallments swaps a plan's schedule and parameters atomically.
func (s *Store) ReplaceInstallments(ctx context.Context, planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	return s.WithTx(ctx, func(tx paymentplan.Store) error {
		return tx.ReplaceInstallments(ctx, planID, params, installments, updatedAt)
	})
}

func replaceInstallments(ctx context.Context, db dbtx, planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode plan parameters: %w", err)
	}
	res, err := db.ExecContext(ctx,
		"UPDATE plans SET params_json = ?, updated_at = ? WHERE id = ?",
		string(paramsJSON), updatedAt.UTC().Format(time.RFC3339Nano), planID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", planID, generic.ErrPlanNotFound)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM installments WHERE plan_id = ?", planID); err != nil {
		return fmt.Errorf("failed to delete installments: %w", err)
	}
	return insertInstallments(ctx, db, planID, installments)
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, plan_id, number, amount_cents, student_due_date, institution_due_date,
		       is_initial_payment, generates_commission, paid_date, paid_amount_cents, status`

// GetInstallment returns one installment.
func (s *Store) GetInstallment(ctx context.Context, id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInstallment(ctx, s.db, id)
}

func getInstallment(ctx context.Context, db dbtx, id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	rows, err := queryInstallments(ctx, db, "SELECT "+installmentColumns+" FROM installments WHERE id = ?", id)
	if err != nil {
		return paymentplan.Installment{}, err
	}
	if len(rows) == 0 {
		return paymentplan.Installment{}, fmt.Errorf("installment %s: %w", id, generic.ErrInstallmentNotFound)
	}
	return rows[0], nil
}

// UpdateInstallments writes the mutable columns of a batch atomically.
func (s *Store) UpdateInstallments(ctx context.Context, installments []paymentplan.Installment) error {
	return s.WithTx(ctx, func(tx paymentplan.Store) error {
		return tx.UpdateInstallments(ctx, installments)
	})
}

func updateInstallments(ctx context.Context, db dbtx, installments []paymentplan.Installment) error {
	for _, inst := range installments {
		res, err := db.ExecContext(ctx, `
			UPDATE installments
			SET student_due_date = ?, institution_due_date = ?, paid_date = ?, paid_amount_cents = ?, status = ?
			WHERE id = ?
		`,
			nullDate(inst.StudentDueDate),
			nullDate(inst.InstitutionDueDate),
			nullDate(inst.PaidDate),
			nullCents(inst.PaidAmount),
			inst.Status,
			inst.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update installment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("installment %s: %w", inst.ID, generic.ErrInstallmentNotFound)
		}
	}
	return nil
}

// =============================================================================
// COLLEGES
// =============================================================================

// SaveCollege inserts or renames a college. The creation time of an existing
// row is kept.
func (s *Store) SaveCollege(ctx context.Context, c paymentplan.College) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCollege(ctx, s.db, c)
}

func saveCollege(ctx context.Context, db dbtx, c paymentplan.College) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO colleges (id, agency_id, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET agency_id = excluded.agency_id, name = excluded.name
	`, c.ID, c.AgencyID, c.Name, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save college: %w", err)
	}
	return nil
}

// GetCollege returns one college.
func (s *Store) GetCollege(ctx context.Context, id paymentplan.CollegeID) (paymentplan.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCollege(ctx, s.db, id)
}

func getCollege(ctx context.Context, db dbtx, id paymentplan.CollegeID) (paymentplan.College, error) {
	var (
		c         paymentplan.College
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, agency_id, name, created_at FROM colleges WHERE id = ?", id,
	).Scan(&c.ID, &c.AgencyID, &c.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("college %s: %w", id, generic.ErrCollegeNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("failed to get college: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return c, nil
}

// ListColleges returns the colleges of an agency ordered by name.
func (s *Store) ListColleges(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.College, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listColleges(ctx, s.db, agencyID)
}

func listColleges(ctx context.Context, db dbtx, agencyID paymentplan.AgencyID) ([]paymentplan.College, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, agency_id, name, created_at FROM colleges
		WHERE (? = '' OR agency_id = ?)
		ORDER BY name ASC, id ASC
	`, agencyID, agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query colleges: %w", err)
	}
	defer rows.Close()

	colleges := []paymentplan.College{}
	for rows.Next() {
		var (
			c         paymentplan.College
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.AgencyID, &c.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan college: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		colleges = append(colleges, c)
	}
	return colleges, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (paymentplan.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store paymentplan.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SavePlan(ctx context.Context, plan paymentplan.Plan) error {
	return savePlan(ctx, ts.tx, plan)
}

func (ts *txStore) GetPlan(ctx context.Context, id paymentplan.PlanID) (paymentplan.Plan, error) {
	return getPlan(ctx, ts.tx, id)
}

func (ts *txStore) ListPlans(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.Plan, error) {
	return listPlans(ctx, ts.tx, agencyID)
}

func (ts *txStore) ReplaceInstallments(ctx context.Context, planID paymentplan.PlanID, params paymentplan.PlanParameters, installments []paymentplan.Installment, updatedAt time.Time) error {
	return replaceInstallments(ctx, ts.tx, planID, params, installments, updatedAt)
}

func (ts *txStore) GetInstallment(ctx context.Context, id paymentplan.InstallmentID) (paymentplan.Installment, error) {
	return getInstallment(ctx, ts.tx, id)
}

func (ts *txStore) UpdateInstallments(ctx context.Context, installments []paymentplan.Installment) error {
	return updateInstallments(ctx, ts.tx, installments)
}

func (ts *txStore) SaveCollege(ctx context.Context, c paymentplan.College) error {
	return saveCollege(ctx, ts.tx, c)
}

func (ts *txStore) GetCollege(ctx context.Context, id paymentplan.CollegeID) (paymentplan.College, error) {
	return getCollege(ctx, ts.tx, id)
}

func (ts *txStore) ListColleges(ctx context.Context, agencyID paymentplan.AgencyID) ([]paymentplan.College, error) {
	return listColleges(ctx, ts.tx, agencyID)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"installments", "plans", "colleges"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func queryPlans(ctx context.Context, db dbtx, query string, args ...any) ([]paymentplan.Plan, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	plans := []paymentplan.Plan{}
	for rows.Next() {
		var (
			plan                 paymentplan.Plan
			paramsJSON           string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&plan.ID, &plan.AgencyID, &plan.CollegeID, &plan.StudentID, &paramsJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		if err := json.Unmarshal([]byte(paramsJSON), &plan.Params); err != nil {
			return nil, fmt.Errorf("failed to decode parameters of plan %s: %w", plan.ID, err)
		}
		plan.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		plan.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func queryInstallments(ctx context.Context, db dbtx, query string, args ...any) ([]paymentplan.Installment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var installments []paymentplan.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func scanInstallment(rows *sql.Rows) (paymentplan.Installment, error) {
	var (
		inst                       paymentplan.Installment
		amountCents                int64
		studentDue, institutionDue sql.NullString
		paidDate                   sql.NullString
		paidCents                  sql.NullInt64
	)
	err := rows.Scan(
		&inst.ID, &inst.PlanID, &inst.Number, &amountCents,
		&studentDue, &institutionDue,
		&inst.IsInitialPayment, &inst.GeneratesCommission,
		&paidDate, &paidCents, &inst.Status,
	)
	if err != nil {
		return inst, fmt.Errorf("failed to scan installment: %w", err)
	}

	inst.Amount = generic.Cents(amountCents)
	if inst.StudentDueDate, err = parseNullDate(studentDue); err != nil {
		return inst, err
	}
	if inst.InstitutionDueDate, err = parseNullDate(institutionDue); err != nil {
		return inst, err
	}
	if inst.PaidDate, err = parseNullDate(paidDate); err != nil {
		return inst, err
	}
	if paidCents.Valid {
		paid := generic.Cents(paidCents.Int64)
		inst.PaidAmount = &paid
	}
	return inst, nil
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*generic.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored date: %w", err)
	}
	return &d, nil
}

func nullCents(m *generic.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Cents(), Valid: true}
}

// prefixed qualifies every column of a comma-separated list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
