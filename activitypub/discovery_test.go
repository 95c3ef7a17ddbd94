package activitypub

import (
	"errors"
	"testing"
	"time"
)

func TestDiscoveryBudgetSpendsToLimit(t *testing.T) {
	budget := NewDiscoveryBudget(3, time.Minute)
	defer budget.Stop()

	for i := 0; i < 3; i++ {
		if err := budget.Spend("req-1"); err != nil {
			t.Fatalf("Spend %d failed unexpectedly: %v", i, err)
		}
	}
	if err := budget.Spend("req-1"); !errors.Is(err, ErrDiscoveryLimit) {
		t.Errorf("Expected ErrDiscoveryLimit after limit, got %v", err)
	}
	// The counter stays exhausted; later spends keep failing.
	if err := budget.Spend("req-1"); !errors.Is(err, ErrDiscoveryLimit) {
		t.Errorf("Expected ErrDiscoveryLimit on repeat spend, got %v", err)
	}
}

func TestDiscoveryBudgetPerRequestIsolation(t *testing.T) {
	budget := NewDiscoveryBudget(1, time.Minute)
	defer budget.Stop()

	if err := budget.Spend("req-1"); err != nil {
		t.Fatalf("First spend failed: %v", err)
	}
	if err := budget.Spend("req-2"); err != nil {
		t.Errorf("Different request should have its own budget, got %v", err)
	}
}

func TestDiscoveryBudgetRelease(t *testing.T) {
	budget := NewDiscoveryBudget(1, time.Minute)
	defer budget.Stop()

	if err := budget.Spend("req-1"); err != nil {
		t.Fatalf("First spend failed: %v", err)
	}
	budget.Release("req-1")
	if err := budget.Spend("req-1"); err != nil {
		t.Errorf("Spend after release should start fresh, got %v", err)
	}
}

func TestDiscoveryBudgetRemaining(t *testing.T) {
	budget := NewDiscoveryBudget(5, time.Minute)
	defer budget.Stop()

	if got := budget.Remaining("req-1"); got != 5 {
		t.Errorf("Expected 5 remaining before any spend, got %d", got)
	}
	budget.Spend("req-1")
	budget.Spend("req-1")
	if got := budget.Remaining("req-1"); got != 3 {
		t.Errorf("Expected 3 remaining after two spends, got %d", got)
	}
}

func TestResolveOptsSpendWithoutBudget(t *testing.T) {
	opts := ResolveOpts{}
	if err := opts.Spend(); err != nil {
		t.Errorf("Spend without a budget should be free, got %v", err)
	}
}

func TestResolveOptsDeeper(t *testing.T) {
	opts := ResolveOpts{Depth: 1, RequestId: "req-1"}
	deeper := opts.Deeper()
	if deeper.Depth != 2 {
		t.Errorf("Expected depth 2, got %d", deeper.Depth)
	}
	if opts.Depth != 1 {
		t.Errorf("Deeper must not mutate the original, depth is now %d", opts.Depth)
	}
	if deeper.RequestId != "req-1" {
		t.Errorf("RequestId should carry over, got %q", deeper.RequestId)
	}
}
