package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain"
	domusage "github.com/kailas-cloud/docextract/internal/domain/usage"
)

type fakeBudgetStore struct {
	mu     sync.Mutex
	values map[string]int64
	getErr error
}

func newFakeBudgetStore() *fakeBudgetStore {
	return &fakeBudgetStore{values: make(map[string]int64)}
}

func (f *fakeBudgetStore) IncrBy(_ context.Context, key string, val int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] += val
	return nil
}

func (f *fakeBudgetStore) Get(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.values[key], nil
}

func TestBudgetTracker_RejectWhenExceeded(t *testing.T) {
	bt := NewBudgetTracker("vision-test", 100, 0, BudgetActionReject, zap.NewNop())

	bt.Record(100)

	err := bt.Check(context.Background())
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected domain.ErrBudgetExceeded, got %v", err)
	}
}

func TestBudgetTracker_WarnWhenExceeded(t *testing.T) {
	bt := NewBudgetTracker("vision-test", 100, 0, BudgetActionWarn, zap.NewNop())

	bt.Record(250)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for warn action, got %v", err)
	}
}

func TestBudgetTracker_MonthlyReject(t *testing.T) {
	bt := NewBudgetTracker("vision-test", 0, 500, BudgetActionReject, zap.NewNop())

	bt.Record(500)

	if err := bt.Check(context.Background()); !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected domain.ErrBudgetExceeded for monthly limit, got %v", err)
	}
}

func TestBudgetTracker_Unlimited(t *testing.T) {
	bt := NewBudgetTracker("vision-test", 0, 0, BudgetActionReject, zap.NewNop())

	bt.Record(999999999)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for unlimited budget, got %v", err)
	}
	if bt.RemainingDaily() != -1 || bt.RemainingMonthly() != -1 {
		t.Error("expected -1 remaining for unlimited budget")
	}
}

func TestBudgetTracker_Remaining(t *testing.T) {
	bt := NewBudgetTracker("vision-test", 1000, 10000, BudgetActionWarn, zap.NewNop())

	bt.Record(300)

	if got := bt.RemainingDaily(); got != 700 {
		t.Errorf("expected daily remaining 700, got %d", got)
	}
	if got := bt.RemainingMonthly(); got != 9700 {
		t.Errorf("expected monthly remaining 9700, got %d", got)
	}

	bt.Record(5000)
	if got := bt.RemainingDaily(); got != 0 {
		t.Errorf("expected remaining floored at 0, got %d", got)
	}
}

func TestBudgetTracker_Window(t *testing.T) {
	now := time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)
	bt := NewBudgetTracker("vision-test", 1000, 10000, BudgetActionWarn, zap.NewNop()).
		WithClock(func() time.Time { return now })
	bt.Record(250)

	if limit, used := bt.Window(domusage.PeriodDay); limit != 1000 || used != 250 {
		t.Errorf("day window = %d/%d, want 1000/250", limit, used)
	}
	if limit, used := bt.Window(domusage.PeriodMonth); limit != 10000 || used != 250 {
		t.Errorf("month window = %d/%d, want 10000/250", limit, used)
	}

	now = now.Add(2 * time.Minute)
	if _, used := bt.Window(domusage.PeriodMonth); used != 0 {
		t.Errorf("month window after rollover: used %d, want 0", used)
	}
}

func TestBudgetTracker_DayRollover(t *testing.T) {
	now := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	bt := NewBudgetTracker("vision-test", 100, 1000, BudgetActionReject, zap.NewNop()).
		WithClock(func() time.Time { return now })

	bt.Record(100)
	if err := bt.Check(context.Background()); err == nil {
		t.Fatal("expected rejection before midnight")
	}

	now = now.Add(2 * time.Minute)
	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("daily counter must reset after midnight, got %v", err)
	}
	if got := bt.RemainingMonthly(); got != 900 {
		t.Errorf("monthly counter must survive a day rollover, got %d remaining", got)
	}
}

func TestBudgetTracker_StorePersistence(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	store := newFakeBudgetStore()
	store.values["docextract:budget:vision:daily:2024-03-15"] = 40
	store.values["docextract:budget:vision:monthly:2024-03"] = 400

	bt := NewBudgetTracker("vision-test", 100, 1000, BudgetActionReject, zap.NewNop()).
		WithClock(func() time.Time { return now }).
		WithStore(context.Background(), store)

	if got := bt.RemainingDaily(); got != 60 {
		t.Errorf("expected daily counter loaded from store, got %d remaining", got)
	}

	bt.Record(10)

	if store.values["docextract:budget:vision:daily:2024-03-15"] != 50 {
		t.Errorf("daily key not written behind: %v", store.values)
	}
	if store.values["docextract:budget:vision:monthly:2024-03"] != 410 {
		t.Errorf("monthly key not written behind: %v", store.values)
	}
}

func TestBudgetTracker_StoreLoadFailureKeepsZero(t *testing.T) {
	store := newFakeBudgetStore()
	store.getErr = errors.New("connection refused")

	bt := NewBudgetTracker("vision-test", 100, 0, BudgetActionReject, zap.NewNop()).
		WithStore(context.Background(), store)

	if got := bt.RemainingDaily(); got != 100 {
		t.Errorf("expected full budget after failed load, got %d", got)
	}
}

func TestBudgetTracker_ConcurrentRecord(t *testing.T) {
	bt := NewBudgetTracker("vision-test", 0, 1_000_000, BudgetActionWarn, zap.NewNop())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bt.Record(10)
		}()
	}
	wg.Wait()

	if got := bt.RemainingMonthly(); got != 1_000_000-500 {
		t.Errorf("expected 999500 remaining, got %d", got)
	}
}
