// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/domain/merchant"
	"github.com/starkpay/gateway/internal/app/storage"
)

// Store implements IntentStore and MerchantStore on PostgreSQL. Amounts are
// stored as NUMERIC(78,0) so u256 values survive round trips exactly.
type Store struct {
	db *sqlx.DB
}

var _ storage.IntentStore = (*Store)(nil)
var _ storage.MerchantStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// --- IntentStore ------------------------------------------------------------

type intentRow struct {
	ID              string         `db:"id"`
	MerchantAddress string         `db:"merchant_address"`
	TokenAddress    string         `db:"token_address"`
	RequestedAmount string         `db:"requested_amount"`
	Status          string         `db:"status"`
	TransactionHash sql.NullString `db:"transaction_hash"`
	PayerAddress    sql.NullString `db:"payer_address"`
	GrossAmount     sql.NullString `db:"gross_amount"`
	NetAmount       sql.NullString `db:"net_amount"`
	FeeAmount       sql.NullString `db:"fee_amount"`
	BlockNumber     sql.NullInt64  `db:"block_number"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	ExpiresAt       time.Time      `db:"expires_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const intentColumns = `id, merchant_address, token_address, requested_amount, status,
	transaction_hash, payer_address, gross_amount, net_amount, fee_amount,
	block_number, completed_at, expires_at, created_at, updated_at`

func (r intentRow) toDomain() (intent.Intent, error) {
	it := intent.Intent{
		ID:              r.ID,
		MerchantAddress: r.MerchantAddress,
		TokenAddress:    r.TokenAddress,
		RequestedAmount: r.RequestedAmount,
		Status:          intent.Status(r.Status),
		TransactionHash: r.TransactionHash.String,
		PayerAddress:    r.PayerAddress.String,
		ExpiresAt:       r.ExpiresAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.BlockNumber.Valid {
		it.BlockNumber = uint64(r.BlockNumber.Int64)
	}
	if r.CompletedAt.Valid {
		ts := r.CompletedAt.Time
		it.CompletedAt = &ts
	}

	var err error
	if it.GrossAmount, err = parseNumeric(r.GrossAmount); err != nil {
		return intent.Intent{}, fmt.Errorf("intent %s gross_amount: %w", r.ID, err)
	}
	if it.NetAmount, err = parseNumeric(r.NetAmount); err != nil {
		return intent.Intent{}, fmt.Errorf("intent %s net_amount: %w", r.ID, err)
	}
	if it.FeeAmount, err = parseNumeric(r.FeeAmount); err != nil {
		return intent.Intent{}, fmt.Errorf("intent %s fee_amount: %w", r.ID, err)
	}
	return it, nil
}

func parseNumeric(v sql.NullString) (*big.Int, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(v.String, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", v.String)
	}
	return n, nil
}

func numericArg(n *big.Int) interface{} {
	if n == nil {
		return nil
	}
	return n.String()
}

func (s *Store) CreateIntent(ctx context.Context, it intent.Intent) (intent.Intent, error) {
	if it.ID == "" {
		return intent.Intent{}, fmt.Errorf("intent id required")
	}
	if it.Status == "" {
		it.Status = intent.StatusPending
	}
	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, merchant_address, token_address, requested_amount,
			status, transaction_hash, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
	`, it.ID, it.MerchantAddress, it.TokenAddress, it.RequestedAmount,
		string(it.Status), it.TransactionHash, it.ExpiresAt, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return intent.Intent{}, fmt.Errorf("intent %s: %w", it.ID, storage.ErrAlreadyExists)
		}
		return intent.Intent{}, err
	}
	return it, nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (intent.Intent, error) {
	var row intentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return intent.Intent{}, err
	}
	return row.toDomain()
}

func (s *Store) ListIntents(ctx context.Context, merchantAddress string) ([]intent.Intent, error) {
	var rows []intentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE ($1 = '' OR merchant_address = $1)
		ORDER BY created_at
	`, merchantAddress)
	if err != nil {
		return nil, err
	}
	return rowsToDomain(rows)
}

func (s *Store) AttachTransaction(ctx context.Context, id, txHash string) (intent.Intent, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET transaction_hash = $2, status = $3, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`, id, txHash, string(intent.StatusProcessing), time.Now().UTC(),
		string(intent.StatusPending), string(intent.StatusProcessing))
	if err != nil {
		return intent.Intent{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return intent.Intent{}, s.conflictOrMissing(ctx, id)
	}
	return s.GetIntent(ctx, id)
}

func (s *Store) ListReconcilable(ctx context.Context) ([]intent.Intent, error) {
	var rows []intentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status IN ($1, $2) AND transaction_hash IS NOT NULL
		ORDER BY created_at
	`, string(intent.StatusPending), string(intent.StatusProcessing))
	if err != nil {
		return nil, err
	}
	return rowsToDomain(rows)
}

func (s *Store) ListCompletedByMerchant(ctx context.Context, merchantAddress string) ([]intent.Intent, error) {
	var rows []intentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status = $1 AND merchant_address = $2
		ORDER BY created_at
	`, string(intent.StatusCompleted), merchantAddress)
	if err != nil {
		return nil, err
	}
	return rowsToDomain(rows)
}

func (s *Store) CompleteIntent(ctx context.Context, id string, st intent.Settlement) (intent.Intent, error) {
	completedAt := st.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, payer_address = $3, gross_amount = $4, net_amount = $5,
			fee_amount = $6, block_number = $7, completed_at = $8,
			expires_at = $8, updated_at = $8
		WHERE id = $1 AND status IN ($9, $10)
	`, id, string(intent.StatusCompleted), st.PayerAddress,
		numericArg(st.GrossAmount), numericArg(st.NetAmount), numericArg(st.FeeAmount),
		int64(st.BlockNumber), completedAt,
		string(intent.StatusPending), string(intent.StatusProcessing))
	if err != nil {
		if isUniqueViolation(err) {
			return intent.Intent{}, fmt.Errorf("intent %s: %w", id, storage.ErrTxHashUsed)
		}
		return intent.Intent{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return intent.Intent{}, s.conflictOrMissing(ctx, id)
	}
	return s.GetIntent(ctx, id)
}

func (s *Store) FailIntent(ctx context.Context, id string) (intent.Intent, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, id, string(intent.StatusFailed), time.Now().UTC(),
		string(intent.StatusPending), string(intent.StatusProcessing))
	if err != nil {
		return intent.Intent{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return intent.Intent{}, s.conflictOrMissing(ctx, id)
	}
	return s.GetIntent(ctx, id)
}

func (s *Store) MarkProcessing(ctx context.Context, id string) (intent.Intent, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, string(intent.StatusProcessing), time.Now().UTC(), string(intent.StatusPending))
	if err != nil {
		return intent.Intent{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return intent.Intent{}, s.conflictOrMissing(ctx, id)
	}
	return s.GetIntent(ctx, id)
}

func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1, updated_at = $2
		WHERE status IN ($3, $4) AND expires_at < $2
	`, string(intent.StatusExpired), now.UTC(),
		string(intent.StatusPending), string(intent.StatusProcessing))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM payment_intents
		WHERE status IN ($1, $2) AND updated_at < $3
	`, string(intent.StatusExpired), string(intent.StatusFailed), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) conflictOrMissing(ctx context.Context, id string) error {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM payment_intents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("intent %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("intent %s (status %s): %w", id, status, storage.ErrConflict)
}

func rowsToDomain(rows []intentRow) ([]intent.Intent, error) {
	out := make([]intent.Intent, 0, len(rows))
	for _, row := range rows {
		it, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// --- MerchantStore ----------------------------------------------------------

type merchantRow struct {
	Address          string    `db:"address"`
	Name             string    `db:"name"`
	TotalEarnings    string    `db:"total_earnings"`
	TransactionCount int64     `db:"transaction_count"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r merchantRow) toDomain() (merchant.Account, error) {
	total, ok := new(big.Int).SetString(r.TotalEarnings, 10)
	if !ok {
		return merchant.Account{}, fmt.Errorf("merchant %s total_earnings: invalid numeric %q", r.Address, r.TotalEarnings)
	}
	return merchant.Account{
		Address:          r.Address,
		Name:             r.Name,
		TotalEarnings:    total,
		TransactionCount: r.TransactionCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func (s *Store) CreateMerchant(ctx context.Context, acct merchant.Account) (merchant.Account, error) {
	if acct.Address == "" {
		return merchant.Account{}, fmt.Errorf("merchant address required")
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.TotalEarnings == nil {
		acct.TotalEarnings = new(big.Int)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_accounts (address, name, total_earnings, transaction_count, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
	`, acct.Address, acct.Name, acct.TotalEarnings.String(), acct.TransactionCount,
		acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return merchant.Account{}, fmt.Errorf("merchant %s: %w", acct.Address, storage.ErrAlreadyExists)
		}
		return merchant.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetMerchant(ctx context.Context, address string) (merchant.Account, error) {
	var row merchantRow
	err := s.db.GetContext(ctx, &row, `
		SELECT address, name, total_earnings, transaction_count, created_at, updated_at
		FROM merchant_accounts
		WHERE address = $1
	`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return merchant.Account{}, err
	}
	return row.toDomain()
}

func (s *Store) ListMerchants(ctx context.Context) ([]merchant.Account, error) {
	var rows []merchantRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, name, total_earnings, transaction_count, created_at, updated_at
		FROM merchant_accounts
		ORDER BY address
	`)
	if err != nil {
		return nil, err
	}

	out := make([]merchant.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *Store) CreditMerchant(ctx context.Context, address string, net *big.Int) (merchant.Account, error) {
	var row merchantRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE merchant_accounts
		SET total_earnings = total_earnings + $2::numeric,
			transaction_count = transaction_count + 1,
			updated_at = $3
		WHERE address = $1
		RETURNING address, name, total_earnings, transaction_count, created_at, updated_at
	`, address, net.String(), time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return merchant.Account{}, err
	}
	return row.toDomain()
}

func (s *Store) ResetAggregates(ctx context.Context, address string, total *big.Int, count int64) (merchant.Account, error) {
	if total == nil {
		total = new(big.Int)
	}
	var row merchantRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE merchant_accounts
		SET total_earnings = $2::numeric,
			transaction_count = $3,
			updated_at = $4
		WHERE address = $1
		RETURNING address, name, total_earnings, transaction_count, created_at, updated_at
	`, address, total.String(), count, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return merchant.Account{}, fmt.Errorf("merchant %s: %w", address, storage.ErrNotFound)
	}
	if err != nil {
		return merchant.Account{}, err
	}
	return row.toDomain()
}
