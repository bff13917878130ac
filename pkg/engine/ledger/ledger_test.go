package ledger

import "testing"

func TestDeposit_CreditsCash(t *testing.T) {
	l := New(nil)
	if _, err := l.Deposit("alice", 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := l.Balance(Owner{User: "alice", Kind: Cash}); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	l := New(nil)
	l.Deposit("alice", 100)

	if _, err := l.Withdraw("alice", 200); err == nil {
		t.Fatal("expected error withdrawing more than balance")
	}
}

func TestPostTradeBatch_Balances(t *testing.T) {
	l := New(nil)
	l.Deposit("alice", 10_000)
	l.Deposit("bob", 10_000)

	_, err := l.PostTradeBatch("BTC-USDC", []TradeLeg{
		{User: "alice", MarginDelta: 500, Fee: 10},
		{User: "bob", MarginDelta: 500, Fee: -2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := l.Balance(Owner{User: "alice", Kind: Margin}); got != 500 {
		t.Errorf("alice margin = %d, want 500", got)
	}
	if got := l.Balance(Owner{User: "alice", Kind: Cash}); got != 10_000-500-10 {
		t.Errorf("alice cash = %d, want %d", got, 10_000-500-10)
	}
	if got := l.Balance(Owner{User: FeeSinkUser, Kind: Fee}); got != 8 {
		t.Errorf("fee sink = %d, want 8 (10 charged - 2 rebated)", got)
	}
}

func TestPostLiquidation_AbsorbsDeficitFromInsurance(t *testing.T) {
	l := New(nil)
	l.Deposit("alice", 100)

	_, err := l.PostLiquidation("BTC-USDC", "alice", 100, -150, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// cash delta = releasedMargin + realizedPnL + deficit = 100 - 150 + 50 = 0
	if got := l.Balance(Owner{User: "alice", Kind: Cash}); got != 100 {
		t.Errorf("alice cash after liquidation = %d, want 100 (unchanged)", got)
	}
	if got := l.Balance(Owner{User: InsuranceFundUser, Kind: Insurance}); got != -50 {
		t.Errorf("insurance fund = %d, want -50 (absorbed deficit)", got)
	}
}

func TestPost_RejectsUnbalancedEntry(t *testing.T) {
	l := New(nil)
	_, err := l.post("bad", []Leg{{Owner: Owner{User: "alice", Kind: Cash}, Amount: 5}})
	if err == nil {
		t.Fatal("expected error for unbalanced entry")
	}
}
