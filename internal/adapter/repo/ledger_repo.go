package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelforge/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository. The account balance
// and its ledger entry always commit in the same transaction: a row-level
// lock on the account serializes concurrent debits and refunds per user.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new credit ledger backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// Debit removes credits from the account and appends a DEBIT entry. It fails
// with domain.ErrInsufficientCredits when the balance cannot cover the amount,
// leaving both the balance and the ledger untouched.
func (r *LedgerRepositoryPG) Debit(ctx context.Context, userID string, amount int, relatedJobID string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	if balance < amount {
		return "", domain.ErrInsufficientCredits
	}

	newBalance := balance - amount
	if err := writeBalance(ctx, tx, userID, newBalance); err != nil {
		return "", err
	}
	txID, err := appendEntry(ctx, tx, &domain.CreditTransaction{
		UserID:       userID,
		Type:         domain.TransactionDebit,
		Amount:       amount,
		BalanceAfter: newBalance,
		RelatedJobID: relatedJobID,
		Description:  "video generation",
	})
	if err != nil {
		return "", err
	}
	return txID, tx.Commit(ctx)
}

// Refund returns credits for a failed job and appends a REFUND entry. A second
// refund for the same job is rejected with domain.ErrDuplicateRefund.
func (r *LedgerRepositoryPG) Refund(ctx context.Context, userID string, amount int, relatedJobID, reason string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	balance, err := lockBalance(ctx, tx, userID)
	if err != nil {
		return "", err
	}

	var refunded bool
	err = tx.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM credit_transactions
    WHERE related_job_id = $1 AND type = $2
);`, relatedJobID, domain.TransactionRefund).Scan(&refunded)
	if err != nil {
		return "", err
	}
	if refunded {
		return "", domain.ErrDuplicateRefund
	}

	newBalance := balance + amount
	if err := writeBalance(ctx, tx, userID, newBalance); err != nil {
		return "", err
	}
	txID, err := appendEntry(ctx, tx, &domain.CreditTransaction{
		UserID:       userID,
		Type:         domain.TransactionRefund,
		Amount:       amount,
		BalanceAfter: newBalance,
		RelatedJobID: relatedJobID,
		Description:  reason,
	})
	if err != nil {
		return "", err
	}
	return txID, tx.Commit(ctx)
}

// Grant tops up an account (BONUS or SUBSCRIPTION_CREDIT), creating it on
// first use.
func (r *LedgerRepositoryPG) Grant(ctx context.Context, userID string, amount int, txType domain.TransactionType, description string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if txType != domain.TransactionBonus && txType != domain.TransactionSubscriptionCredit {
		return "", fmt.Errorf("unsupported grant type %q", txType)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var newBalance int
	err = tx.QueryRow(ctx, `
INSERT INTO credit_accounts (user_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id)
DO UPDATE SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
RETURNING balance;
`, userID, amount).Scan(&newBalance)
	if err != nil {
		return "", err
	}
	txID, err := appendEntry(ctx, tx, &domain.CreditTransaction{
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
	})
	if err != nil {
		return "", err
	}
	return txID, tx.Commit(ctx)
}

// Balance is a point-in-time read of the account balance.
func (r *LedgerRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id = $1;`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return balance, err
}

// ListTransactions returns the most recent ledger entries for the account.
func (r *LedgerRepositoryPG) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, type, amount, balance_after, COALESCE(related_job_id, ''), description, created_at
FROM credit_transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CreditTransaction
	for rows.Next() {
		var entry domain.CreditTransaction
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Type,
			&entry.Amount,
			&entry.BalanceAfter,
			&entry.RelatedJobID,
			&entry.Description,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func lockBalance(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	var balance int
	err := tx.QueryRow(ctx, `SELECT balance FROM credit_accounts WHERE user_id = $1 FOR UPDATE;`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return balance, err
}

func writeBalance(ctx context.Context, tx pgx.Tx, userID string, balance int) error {
	_, err := tx.Exec(ctx, `UPDATE credit_accounts SET balance = $2, updated_at = NOW() WHERE user_id = $1;`, userID, balance)
	return err
}

func appendEntry(ctx context.Context, tx pgx.Tx, entry *domain.CreditTransaction) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, related_job_id, description)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7);
`,
		id,
		entry.UserID,
		entry.Type,
		entry.Amount,
		entry.BalanceAfter,
		entry.RelatedJobID,
		entry.Description,
	)
	return id, err
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
