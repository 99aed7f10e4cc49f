package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func setupCreditsService(t *testing.T, node *snowflake.Node) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = conn.Exec("PRAGMA busy_timeout = 5000").Error

	if err := conn.AutoMigrate(&domain.Balance{}, &domain.Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := NewService(Params{
		Conn:   conn,
		Node:   node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger: zap.NewNop(),
	})
	return svc, conn
}

func countEntries(t *testing.T, conn *gorm.DB, accountID snowflake.ID) int64 {
	t.Helper()
	var count int64
	if err := conn.Raw(`SELECT COUNT(*) FROM credit_ledger_entries WHERE account_id = ?`, accountID).Scan(&count).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	return count
}

func TestGetOrCreateBalanceGrantsSignupCredits(t *testing.T) {
	node := mustNode(t)
	svc, conn := setupCreditsService(t, node)
	accountID := node.Generate()

	balance, err := svc.GetOrCreateBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if balance.TotalGranted != domain.DefaultSignupGrant || balance.RemainingAmount != domain.DefaultSignupGrant {
		t.Fatalf("expected signup grant of %d, got total=%d remaining=%d",
			domain.DefaultSignupGrant, balance.TotalGranted, balance.RemainingAmount)
	}

	again, err := svc.GetOrCreateBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get or create second: %v", err)
	}
	if again.TotalGranted != domain.DefaultSignupGrant {
		t.Fatalf("signup grant applied twice: total=%d", again.TotalGranted)
	}
	if count := countEntries(t, conn, accountID); count != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", count)
	}
}

func TestDeductAppendsLedgerEntry(t *testing.T) {
	node := mustNode(t)
	svc, conn := setupCreditsService(t, node)
	accountID := node.Generate()

	balance, err := svc.Deduct(context.Background(), domain.DeductRequest{
		AccountID: accountID,
		Amount:    10,
		Action:    domain.ActionGenerateImage,
		Model:     "gemini-2.5-flash-image",
	})
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if balance.UsedAmount != 10 || balance.RemainingAmount != domain.DefaultSignupGrant-10 {
		t.Fatalf("unexpected balance after deduct: used=%d remaining=%d", balance.UsedAmount, balance.RemainingAmount)
	}

	var entry domain.Entry
	if err := conn.Raw(`SELECT * FROM credit_ledger_entries WHERE account_id = ? AND action = ?`,
		accountID, domain.ActionGenerateImage).Scan(&entry).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.Amount != -10 {
		t.Fatalf("expected ledger amount -10, got %d", entry.Amount)
	}
	if entry.Model != "gemini-2.5-flash-image" {
		t.Fatalf("unexpected model on entry: %q", entry.Model)
	}
}

func TestDeductInsufficientBalance(t *testing.T) {
	node := mustNode(t)
	svc, conn := setupCreditsService(t, node)
	accountID := node.Generate()

	if _, err := svc.GetOrCreateBalance(context.Background(), accountID); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	before := countEntries(t, conn, accountID)

	_, err := svc.Deduct(context.Background(), domain.DeductRequest{
		AccountID: accountID,
		Amount:    domain.DefaultSignupGrant + 1,
		Action:    domain.ActionGenerateVideo,
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	balance, err := svc.GetOrCreateBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("reload balance: %v", err)
	}
	if balance.UsedAmount != 0 || balance.RemainingAmount != domain.DefaultSignupGrant {
		t.Fatalf("failed deduct mutated balance: used=%d remaining=%d", balance.UsedAmount, balance.RemainingAmount)
	}
	if after := countEntries(t, conn, accountID); after != before {
		t.Fatalf("failed deduct appended ledger entries: before=%d after=%d", before, after)
	}
}

func TestDeductRejectsInvalidAmount(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCreditsService(t, node)
	accountID := node.Generate()

	for _, amount := range []int64{0, -5} {
		_, err := svc.Deduct(context.Background(), domain.DeductRequest{AccountID: accountID, Amount: amount})
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("amount %d: expected invalid amount, got %v", amount, err)
		}
	}
}

func TestConcurrentDeductsNeverOverdraw(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCreditsService(t, node)
	accountID := node.Generate()

	if _, err := svc.GetOrCreateBalance(context.Background(), accountID); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	const workers = 10
	const each = 10

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct(context.Background(), domain.DeductRequest{
				AccountID: accountID,
				Amount:    each,
				Action:    domain.ActionGenerateImage,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, refused int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientBalance):
			refused++
		default:
			t.Fatalf("unexpected deduct error: %v", err)
		}
	}

	want := int(domain.DefaultSignupGrant / each)
	if succeeded != want {
		t.Fatalf("expected %d successful deducts, got %d (refused=%d)", want, succeeded, refused)
	}

	balance, err := svc.GetOrCreateBalance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("reload balance: %v", err)
	}
	if balance.RemainingAmount != 0 {
		t.Fatalf("expected remaining 0, got %d", balance.RemainingAmount)
	}
	if balance.UsedAmount != domain.DefaultSignupGrant {
		t.Fatalf("expected used %d, got %d", domain.DefaultSignupGrant, balance.UsedAmount)
	}
}

func TestDeductRollsBackWhenLedgerWriteFails(t *testing.T) {
	node := mustNode(t)
	svc, conn := setupCreditsService(t, node)
	accountID := node.Generate()

	if _, err := svc.GetOrCreateBalance(context.Background(), accountID); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := conn.Migrator().DropTable(&domain.Entry{}); err != nil {
		t.Fatalf("drop ledger table: %v", err)
	}

	_, err := svc.Deduct(context.Background(), domain.DeductRequest{
		AccountID: accountID,
		Amount:    10,
		Action:    domain.ActionGenerateImage,
	})
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}

	var balance domain.Balance
	if err := conn.Raw(`SELECT * FROM credit_balances WHERE account_id = ?`, accountID).Scan(&balance).Error; err != nil {
		t.Fatalf("reload balance: %v", err)
	}
	if balance.UsedAmount != 0 || balance.RemainingAmount != domain.DefaultSignupGrant {
		t.Fatalf("deduct was not rolled back: used=%d remaining=%d", balance.UsedAmount, balance.RemainingAmount)
	}
}

func TestAddAndRefundRaiseRemaining(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCreditsService(t, node)
	accountID := node.Generate()

	balance, err := svc.Add(context.Background(), domain.AddRequest{
		AccountID: accountID,
		Amount:    100,
		Action:    domain.ActionPurchase,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if balance.TotalGranted != domain.DefaultSignupGrant+100 {
		t.Fatalf("expected total %d, got %d", domain.DefaultSignupGrant+100, balance.TotalGranted)
	}

	if _, err := svc.Deduct(context.Background(), domain.DeductRequest{
		AccountID: accountID,
		Amount:    30,
		Action:    domain.ActionGenerateVideo,
	}); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	balance, err = svc.Refund(context.Background(), accountID, 30, nil)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if balance.RemainingAmount != domain.DefaultSignupGrant+100 {
		t.Fatalf("expected remaining restored to %d, got %d", domain.DefaultSignupGrant+100, balance.RemainingAmount)
	}
}

func TestDeductBonusConditionalUpdate(t *testing.T) {
	node := mustNode(t)
	svc, conn := setupCreditsService(t, node)
	accountID := node.Generate()

	if _, err := svc.GetOrCreateBalance(context.Background(), accountID); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := conn.Exec(`UPDATE credit_balances SET bonus_amount = 5 WHERE account_id = ?`, accountID).Error; err != nil {
		t.Fatalf("seed bonus: %v", err)
	}

	balance, err := svc.DeductBonus(context.Background(), accountID, 3, domain.ActionBonusRedemption)
	if err != nil {
		t.Fatalf("deduct bonus: %v", err)
	}
	if balance.BonusAmount != 2 {
		t.Fatalf("expected bonus 2, got %d", balance.BonusAmount)
	}

	_, err = svc.DeductBonus(context.Background(), accountID, 3, domain.ActionBonusRedemption)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance on bonus overdraft, got %v", err)
	}
}

func TestHistoryPagination(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupCreditsService(t, node)
	accountID := node.Generate()

	for i := 0; i < 5; i++ {
		if _, err := svc.Deduct(context.Background(), domain.DeductRequest{
			AccountID: accountID,
			Amount:    1,
			Action:    domain.ActionGenerateImage,
		}); err != nil {
			t.Fatalf("deduct %d: %v", i, err)
		}
	}

	seen := 0
	token := ""
	for {
		resp, err := svc.History(context.Background(), accountID, pagination.Pagination{PageToken: token, PageSize: 2})
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		seen += len(resp.Entries)
		if !resp.HasMore {
			break
		}
		token = resp.NextPageToken
	}

	// 5 deducts plus the signup grant.
	if seen != 6 {
		t.Fatalf("expected 6 ledger entries across pages, got %d", seen)
	}
}
