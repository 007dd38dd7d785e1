package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propertyreel/server/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger against the user_credits
// table. The table itself is owned by the billing service; this repository
// only performs the conditional debit and the balance read.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger creates a ledger adapter backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// Debit atomically subtracts amount from the user's balance. The conditional
// UPDATE makes the check-and-subtract a single statement, so concurrent
// submissions cannot overdraw.
func (r *CreditLedgerPG) Debit(ctx context.Context, userID string, amount int64) (bool, int64, error) {
	query := `
UPDATE user_credits
SET balance = balance - $2, updated_at = NOW()
WHERE user_id = $1 AND balance >= $2
RETURNING balance;
`
	var newBalance int64
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&newBalance)
	if err == nil {
		return true, newBalance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, 0, err
	}
	balance, err := r.Balance(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return false, balance, nil
}

// Balance returns the user's current balance, zero if no ledger row exists.
func (r *CreditLedgerPG) Balance(ctx context.Context, userID string) (int64, error) {
	query := `
SELECT balance
FROM user_credits
WHERE user_id = $1;
`
	var balance int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
