package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/pkg/db"
	"github.com/postloom/postloom/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	conn  *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
	log   *zap.Logger
}

type Params struct {
	fx.In

	Conn   *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Logger *zap.Logger
}

func NewService(p Params) domain.Service {
	return &service{
		conn:  p.Conn,
		node:  p.Node,
		clock: p.Clock,
		log:   p.Logger.Named("credits.service"),
	}
}

func (s *service) GetOrCreateBalance(ctx context.Context, accountID snowflake.ID) (*domain.Balance, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	var balance domain.Balance
	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		res := tx.Exec(`
			INSERT INTO credit_balances (account_id, total_granted, used_amount, remaining_amount, bonus_amount, updated_at)
			VALUES (?, ?, 0, ?, 0, ?)
			ON CONFLICT (account_id) DO NOTHING
		`, accountID, domain.DefaultSignupGrant, domain.DefaultSignupGrant, now)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected > 0 {
			entry := domain.Entry{
				ID:        s.node.Generate(),
				AccountID: accountID,
				Action:    domain.ActionSignupGrant,
				Amount:    domain.DefaultSignupGrant,
				Metadata:  datatypes.JSONMap{},
				CreatedAt: now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}

		return tx.Raw(`SELECT * FROM credit_balances WHERE account_id = ?`, accountID).Scan(&balance).Error
	})
	if err != nil {
		return nil, s.storageError("get_or_create_balance", accountID, err)
	}
	return &balance, nil
}

// Deduct spends credits inside a single transaction: lock the row where the
// dialect supports it, guard the update on remaining_amount, append the
// ledger entry. The guarded UPDATE is the authoritative check, so the
// no-overdraft property holds even without row locks.
func (s *service) Deduct(ctx context.Context, req domain.DeductRequest) (*domain.Balance, error) {
	if req.AccountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.Action == "" {
		req.Action = domain.ActionAdminAdjustment
	}

	var balance domain.Balance
	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockBalance(tx, req.AccountID, &balance); err != nil {
			return err
		}
		if balance.RemainingAmount < req.Amount {
			return domain.ErrInsufficientBalance
		}

		now := s.clock.Now().UTC()
		greatest := db.GreatestFn(tx)
		res := tx.Exec(fmt.Sprintf(`
			UPDATE credit_balances
			SET used_amount = used_amount + ?,
			    remaining_amount = %s(0, total_granted - (used_amount + ?)),
			    updated_at = ?
			WHERE account_id = ? AND remaining_amount >= ?
		`, greatest), req.Amount, req.Amount, now, req.AccountID, req.Amount)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInsufficientBalance
		}

		meta := req.Metadata
		if meta == nil {
			meta = datatypes.JSONMap{}
		}
		entry := domain.Entry{
			ID:           s.node.Generate(),
			AccountID:    req.AccountID,
			Action:       req.Action,
			Amount:       -req.Amount,
			Model:        req.Model,
			DurationSecs: req.DurationSecs,
			Metadata:     meta,
			CreatedAt:    now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		return tx.Raw(`SELECT * FROM credit_balances WHERE account_id = ?`, req.AccountID).Scan(&balance).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return nil, domain.ErrInsufficientBalance
		}
		return nil, s.storageError("deduct", req.AccountID, err)
	}

	s.log.Debug("credits deducted",
		zap.Int64("account_id", int64(req.AccountID)),
		zap.String("action", string(req.Action)),
		zap.Int64("amount", req.Amount),
		zap.Int64("remaining", balance.RemainingAmount))
	return &balance, nil
}

func (s *service) Add(ctx context.Context, req domain.AddRequest) (*domain.Balance, error) {
	if req.AccountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.Action == "" {
		req.Action = domain.ActionAdminAdjustment
	}

	var balance domain.Balance
	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockBalance(tx, req.AccountID, &balance); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		res := tx.Exec(`
			UPDATE credit_balances
			SET total_granted = total_granted + ?,
			    remaining_amount = remaining_amount + ?,
			    updated_at = ?
			WHERE account_id = ?
		`, req.Amount, req.Amount, now, req.AccountID)
		if res.Error != nil {
			return res.Error
		}

		meta := req.Metadata
		if meta == nil {
			meta = datatypes.JSONMap{}
		}
		entry := domain.Entry{
			ID:        s.node.Generate(),
			AccountID: req.AccountID,
			Action:    req.Action,
			Amount:    req.Amount,
			Metadata:  meta,
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		return tx.Raw(`SELECT * FROM credit_balances WHERE account_id = ?`, req.AccountID).Scan(&balance).Error
	})
	if err != nil {
		return nil, s.storageError("add", req.AccountID, err)
	}

	s.log.Info("credits added",
		zap.Int64("account_id", int64(req.AccountID)),
		zap.String("action", string(req.Action)),
		zap.Int64("amount", req.Amount))
	return &balance, nil
}

func (s *service) Refund(ctx context.Context, accountID snowflake.ID, amount int64, meta datatypes.JSONMap) (*domain.Balance, error) {
	return s.Add(ctx, domain.AddRequest{
		AccountID: accountID,
		Amount:    amount,
		Action:    domain.ActionRefund,
		Metadata:  meta,
	})
}

// DeductBonus spends from the bonus pool. A single conditional update is
// enough here: the guard in the WHERE clause doubles as the balance check.
func (s *service) DeductBonus(ctx context.Context, accountID snowflake.ID, amount int64, action domain.Action) (*domain.Balance, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if action == "" {
		action = domain.ActionBonusRedemption
	}

	var balance domain.Balance
	err := s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now().UTC()
		res := tx.Exec(`
			UPDATE credit_balances
			SET bonus_amount = bonus_amount - ?, updated_at = ?
			WHERE account_id = ? AND bonus_amount >= ?
		`, amount, now, accountID, amount)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrInsufficientBalance
		}

		entry := domain.Entry{
			ID:        s.node.Generate(),
			AccountID: accountID,
			Action:    action,
			Amount:    -amount,
			Metadata:  datatypes.JSONMap{"pool": "bonus"},
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		return tx.Raw(`SELECT * FROM credit_balances WHERE account_id = ?`, accountID).Scan(&balance).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return nil, domain.ErrInsufficientBalance
		}
		return nil, s.storageError("deduct_bonus", accountID, err)
	}
	return &balance, nil
}

func (s *service) History(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (domain.HistoryResponse, error) {
	if accountID == 0 {
		return domain.HistoryResponse{}, domain.ErrInvalidAccount
	}

	limit := page.Limit()
	query := `SELECT * FROM credit_ledger_entries WHERE account_id = ?`
	args := []interface{}{accountID}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidCursor
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.HistoryResponse{}, domain.ErrInvalidCursor
		}
		query += ` AND id < ?`
		args = append(args, after)
	}

	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit+1)

	var entries []*domain.Entry
	if err := s.conn.WithContext(ctx).Raw(query, args...).Scan(&entries).Error; err != nil {
		return domain.HistoryResponse{}, s.storageError("history", accountID, err)
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, limit, func(e *domain.Entry) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})
	if pageInfo.HasMore {
		entries = entries[:limit]
	}
	return domain.HistoryResponse{PageInfo: *pageInfo, Entries: entries}, nil
}

// lockBalance ensures the balance row exists and, on dialects with row
// locking, takes FOR UPDATE so concurrent deducts serialize on the row.
func (s *service) lockBalance(tx *gorm.DB, accountID snowflake.ID, out *domain.Balance) error {
	now := s.clock.Now().UTC()
	res := tx.Exec(`
		INSERT INTO credit_balances (account_id, total_granted, used_amount, remaining_amount, bonus_amount, updated_at)
		VALUES (?, ?, 0, ?, 0, ?)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, domain.DefaultSignupGrant, domain.DefaultSignupGrant, now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		entry := domain.Entry{
			ID:        s.node.Generate(),
			AccountID: accountID,
			Action:    domain.ActionSignupGrant,
			Amount:    domain.DefaultSignupGrant,
			Metadata:  datatypes.JSONMap{},
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
	}

	query := `SELECT * FROM credit_balances WHERE account_id = ?`
	if db.SupportsRowLocking(tx) {
		query += ` FOR UPDATE`
	}
	return tx.Raw(query, accountID).Scan(out).Error
}

func (s *service) storageError(op string, accountID snowflake.ID, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.log.Error("credits storage failure",
		zap.String("op", op),
		zap.Int64("account_id", int64(accountID)),
		zap.Error(err))
	return fmt.Errorf("%w: %s", domain.ErrLedgerUnavailable, op)
}
