package domain

import "time"

// TransactionType enumerates the business reason for a ledger entry.
type TransactionType string

const (
	TransactionDebit              TransactionType = "DEBIT"
	TransactionRefund             TransactionType = "REFUND"
	TransactionBonus              TransactionType = "BONUS"
	TransactionSubscriptionCredit TransactionType = "SUBSCRIPTION_CREDIT"
)

// CreditTransaction is one append-only row in the credit ledger. Entries are
// never mutated or deleted; BalanceAfter is the authoritative balance
// snapshot taken inside the same transaction that applied the entry.
type CreditTransaction struct {
	ID           string
	UserID       string
	Type         TransactionType
	Amount       int
	BalanceAfter int
	RelatedJobID string
	Description  string
	CreatedAt    time.Time
}
