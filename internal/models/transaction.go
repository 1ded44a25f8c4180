package models

import "time"

// Transaction types
const (
	TransactionEarning    = "earning"
	TransactionWithdrawal = "withdrawal"
)

// Transaction statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Transaction represents a balance-affecting event on a user's wallet.
// For earnings credited by the reward postback, ReferenceID carries the
// provider transaction id and is unique system-wide.
type Transaction struct {
	ID          int       `json:"id" db:"id"`
	UserID      int       `json:"user_id" db:"user_id"`
	Type        string    `json:"type" db:"type"`
	Amount      float64   `json:"amount" db:"amount"`
	Description string    `json:"description" db:"description"`
	Status      string    `json:"status" db:"status"`
	ReferenceID string    `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// WithdrawalRequest is the payload for POST /withdraw
type WithdrawalRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	BankCode    string  `json:"bankCode" validate:"omitempty,max=11"`
	BankAccount string  `json:"bankAccount" validate:"omitempty,max=34"`
}
