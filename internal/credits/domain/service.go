package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/pkg/db/pagination"
	"gorm.io/datatypes"
)

// DefaultSignupGrant is the credit balance every new account starts with.
const DefaultSignupGrant int64 = 50

type DeductRequest struct {
	AccountID    snowflake.ID
	Amount       int64
	Action       Action
	Model        string
	DurationSecs int
	Metadata     datatypes.JSONMap
}

type AddRequest struct {
	AccountID snowflake.ID
	Amount    int64
	Action    Action
	Metadata  datatypes.JSONMap
}

type HistoryResponse struct {
	pagination.PageInfo
	Entries []*Entry `json:"entries"`
}

type Service interface {
	// GetOrCreateBalance returns the balance row for the account, creating
	// one with the default signup grant when absent.
	GetOrCreateBalance(ctx context.Context, accountID snowflake.ID) (*Balance, error)

	// Deduct atomically spends credits. The balance row is locked, the
	// remaining amount checked, and the ledger entry appended in one
	// transaction; any failure rolls back everything.
	Deduct(ctx context.Context, req DeductRequest) (*Balance, error)

	// Add grants credits, raising both total and remaining under the same
	// row lock deducts take.
	Add(ctx context.Context, req AddRequest) (*Balance, error)

	// Refund returns credits spent on a failed paid operation.
	Refund(ctx context.Context, accountID snowflake.ID, amount int64, meta datatypes.JSONMap) (*Balance, error)

	// DeductBonus spends from the secondary bonus pool with a single
	// conditional update instead of a read-then-write.
	DeductBonus(ctx context.Context, accountID snowflake.ID, amount int64, action Action) (*Balance, error)

	// History lists ledger entries for the account, newest first.
	History(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (HistoryResponse, error)
}

var (
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCursor       = errors.New("invalid_cursor")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrLedgerUnavailable   = errors.New("ledger_unavailable")
)
