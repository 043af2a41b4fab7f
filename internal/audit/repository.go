package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anesthmed/anesthmed/internal/platform/db"
)

// Repository persists committed audits in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertAuditSQL = `INSERT INTO stock_audits (id, user_id, status, total_items, discrepancy_count, vial_discrepancy_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

var auditItemColumns = []string{
	"audit_id", "med_id", "med_name", "is_narcotic", "theoretical_stock", "physical_stock",
	"gap", "comment", "expected_empty_vials", "physical_empty_vials",
}

// Insert writes the header and every item in one transaction.
func (r *Repository) Insert(ctx context.Context, a Audit) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertAuditSQL, a.ID, a.UserID, a.Status, a.TotalItems,
			a.DiscrepancyCount, a.VialDiscrepancyCount, a.CreatedAt); err != nil {
			return err
		}
		rows := make([][]any, 0, len(a.Items))
		for _, item := range a.Items {
			rows = append(rows, []any{
				a.ID, item.MedID, item.MedName, item.IsNarcotic, item.TheoreticalStock, item.PhysicalStock,
				item.Gap, item.Comment, item.ExpectedEmptyVials, item.PhysicalEmptyVials,
			})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"stock_audit_items"}, auditItemColumns, pgx.CopyFromRows(rows))
		return err
	})
}

// LastAuditAt returns the creation time of the newest audit.
func (r *Repository) LastAuditAt(ctx context.Context) (time.Time, bool, error) {
	var at *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM stock_audits`).Scan(&at); err != nil {
		return time.Time{}, false, err
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

const selectAuditSQL = `SELECT id, user_id, status, total_items, discrepancy_count, vial_discrepancy_count, created_at FROM stock_audits`

// List returns audit headers, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Audit, error) {
	rows, err := r.pool.Query(ctx, selectAuditSQL+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Audit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get loads one audit with its items sorted by medication name.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Audit, error) {
	a, err := scanAudit(r.pool.QueryRow(ctx, selectAuditSQL+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Audit{}, ErrAuditNotFound
	}
	if err != nil {
		return Audit{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT med_id, med_name, is_narcotic, theoretical_stock, physical_stock, gap, comment,
expected_empty_vials, physical_empty_vials FROM stock_audit_items WHERE audit_id = $1 ORDER BY lower(med_name)`, id)
	if err != nil {
		return Audit{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.MedID, &item.MedName, &item.IsNarcotic, &item.TheoreticalStock, &item.PhysicalStock,
			&item.Gap, &item.Comment, &item.ExpectedEmptyVials, &item.PhysicalEmptyVials); err != nil {
			return Audit{}, err
		}
		a.Items = append(a.Items, item)
	}
	return a, rows.Err()
}

func scanAudit(row pgx.Row) (Audit, error) {
	var a Audit
	err := row.Scan(&a.ID, &a.UserID, &a.Status, &a.TotalItems, &a.DiscrepancyCount, &a.VialDiscrepancyCount, &a.CreatedAt)
	return a, err
}
