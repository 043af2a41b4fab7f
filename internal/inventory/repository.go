package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anesthmed/anesthmed/internal/ledger"
)

// StatusChange records who moved a transaction out of PENDING.
type StatusChange struct {
	By   string
	At   time.Time
	Note string
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetMedicationForUpdate(ctx context.Context, id uuid.UUID) (ledger.Medication, error)
	InsertMedication(ctx context.Context, med ledger.Medication) error
	UpdateMedication(ctx context.Context, med ledger.Medication) error
	SetStock(ctx context.Context, id uuid.UUID, stock int, expiry *time.Time, at time.Time) error
	InsertTransactions(ctx context.Context, txs []ledger.Transaction) error
	TransactionsByBatch(ctx context.Context, batchID uuid.UUID) ([]ledger.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (ledger.Transaction, error)
	// UpdateStatus moves PENDING lines to status and returns how many moved.
	UpdateStatus(ctx context.Context, ids []uuid.UUID, status ledger.Status, change StatusChange) (int64, error)
}

// Repository persists the catalog and ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// Transactional reports that every WithTx callback commits or rolls back
// as one unit.
func (r *Repository) Transactional() bool {
	return true
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const medicationColumns = `id, name, stock, is_narcotic, expiry, created_at, updated_at`

const transactionColumns = `id, med_id, med_name, tx_type, quantity, occurred_at, status, category, batch_id, details, COALESCE(resolution_note, ''), created_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedication(row rowScanner) (ledger.Medication, error) {
	var m ledger.Medication
	if err := row.Scan(&m.ID, &m.Name, &m.Stock, &m.IsNarcotic, &m.Expiry, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return ledger.Medication{}, err
	}
	return m, nil
}

func scanTransaction(row rowScanner) (ledger.Transaction, error) {
	var t ledger.Transaction
	var txType, status, category string
	var details []byte
	if err := row.Scan(&t.ID, &t.MedID, &t.MedName, &txType, &t.Quantity, &t.Date, &status, &category, &t.BatchID, &details, &t.Details.Resolution, &t.CreatedBy); err != nil {
		return ledger.Transaction{}, err
	}
	resolution := t.Details.Resolution
	if len(details) > 0 {
		if err := json.Unmarshal(details, &t.Details); err != nil {
			return ledger.Transaction{}, fmt.Errorf("inventory: decode details of %s: %w", t.ID, err)
		}
	}
	t.Details.Resolution = resolution
	t.Type = ledger.TransactionType(txType)
	t.Status = ledger.Status(status)
	t.Category = ledger.Category(category)
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()
	out := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ListMedications returns the catalog sorted by name.
func (r *Repository) ListMedications(ctx context.Context) ([]ledger.Medication, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	return listMedications(ctx, r.pool)
}

// Snapshot reads the catalog and the ledger lines matching filter from one
// read-only repeatable-read transaction, so stock and lines agree.
func (r *Repository) Snapshot(ctx context.Context, filter ledger.Filter) ([]ledger.Medication, []ledger.Transaction, error) {
	if r == nil {
		return nil, nil, errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	meds, err := listMedications(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	txs, err := listTransactions(ctx, tx, filter)
	if err != nil {
		return nil, nil, err
	}
	return meds, txs, tx.Commit(ctx)
}

func listMedications(ctx context.Context, q querier) ([]ledger.Medication, error) {
	rows, err := q.Query(ctx, `SELECT `+medicationColumns+` FROM medications ORDER BY lower(name), id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meds := []ledger.Medication{}
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

// GetTransaction loads one ledger line outside any transaction.
func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	t, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM stock_transactions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

// GetMedication loads one catalog entry.
func (r *Repository) GetMedication(ctx context.Context, id uuid.UUID) (ledger.Medication, error) {
	if r == nil {
		return ledger.Medication{}, errors.New("inventory repository not initialised")
	}
	m, err := scanMedication(r.pool.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Medication{}, ErrMedicationNotFound
	}
	return m, err
}

// ListTransactions returns ledger lines matching filter, newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	return listTransactions(ctx, r.pool, filter)
}

func listTransactions(ctx context.Context, q querier, filter ledger.Filter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.MedID != uuid.Nil {
		add("med_id=$%d", filter.MedID)
	}
	if filter.BatchID != uuid.Nil {
		add("batch_id=$%d", filter.BatchID)
	}
	if filter.Type != "" {
		add("tx_type=$%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	if filter.Category != "" {
		add("category=$%d", string(filter.Category))
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= $%d", filter.To)
	}
	query := `SELECT ` + transactionColumns + ` FROM stock_transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY occurred_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *txRepository) GetMedicationForUpdate(ctx context.Context, id uuid.UUID) (ledger.Medication, error) {
	m, err := scanMedication(r.tx.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Medication{}, ErrMedicationNotFound
	}
	return m, err
}

func (r *txRepository) InsertMedication(ctx context.Context, med ledger.Medication) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO medications (id, name, stock, is_narcotic, expiry, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, med.ID, med.Name, med.Stock, med.IsNarcotic, med.Expiry, med.CreatedAt, med.UpdatedAt)
	return err
}

func (r *txRepository) UpdateMedication(ctx context.Context, med ledger.Medication) error {
	tag, err := r.tx.Exec(ctx, `UPDATE medications SET name=$2, is_narcotic=$3, expiry=$4, updated_at=$5 WHERE id=$1`,
		med.ID, med.Name, med.IsNarcotic, med.Expiry, med.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicationNotFound
	}
	return nil
}

func (r *txRepository) SetStock(ctx context.Context, id uuid.UUID, stock int, expiry *time.Time, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE medications SET stock=$2, expiry=$3, updated_at=$4 WHERE id=$1`, id, stock, expiry, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicationNotFound
	}
	return nil
}

func (r *txRepository) InsertTransactions(ctx context.Context, txs []ledger.Transaction) error {
	batch := &pgx.Batch{}
	for _, t := range txs {
		details, err := json.Marshal(t.Details)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO stock_transactions (id, med_id, med_name, tx_type, quantity, occurred_at, status, category, batch_id, details, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.MedID, t.MedName, string(t.Type), t.Quantity, t.Date, string(t.Status), string(t.Category), t.BatchID, details, t.CreatedBy)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) TransactionsByBatch(ctx context.Context, batchID uuid.UUID) ([]ledger.Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+transactionColumns+` FROM stock_transactions WHERE batch_id=$1 ORDER BY occurred_at, id FOR UPDATE`, batchID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	t, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM stock_transactions WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, ids []uuid.UUID, status ledger.Status, change StatusChange) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transactions
SET status=$2, resolved_by=$3, resolved_at=$4, resolution_note=NULLIF($5, '')
WHERE id = ANY($1) AND status='PENDING'`, ids, string(status), change.By, change.At, change.Note)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
