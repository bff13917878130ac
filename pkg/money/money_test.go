package money

import "testing"

func TestAdd_Overflow(t *testing.T) {
	_, err := Add(1<<62, 1<<62)
	if err != ErrOverflow {
		t.Fatalf("Add() err = %v, want ErrOverflow", err)
	}
}

func TestAdd_Basic(t *testing.T) {
	got, err := Add(100, -30)
	if err != nil {
		t.Fatalf("Add() unexpected error: %v", err)
	}
	if got != 70 {
		t.Errorf("Add() = %d, want 70", got)
	}
}

func TestNotional(t *testing.T) {
	price := Amount(50_000 * Unit)
	qty := Amount(2 * Unit)

	got, err := Notional(price, qty)
	if err != nil {
		t.Fatalf("Notional() unexpected error: %v", err)
	}
	want := Amount(100_000 * Unit)
	if got != want {
		t.Errorf("Notional() = %d, want %d", got, want)
	}
}

func TestBpsOf(t *testing.T) {
	tests := []struct {
		name   string
		amount Amount
		bps    int64
		want   Amount
	}{
		{"1%", 1_000_000, 100, 10_000},
		{"zero bps", 1_000_000, 0, 0},
		{"50bps of large notional", 1_000_000_000, 50, 5_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BpsOf(tt.amount, tt.bps)
			if err != nil {
				t.Fatalf("BpsOf() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("BpsOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAbs(t *testing.T) {
	if Abs(-5) != 5 {
		t.Errorf("Abs(-5) != 5")
	}
	if Abs(5) != 5 {
		t.Errorf("Abs(5) != 5")
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := MulDiv(1, 1, 0)
	if err == nil {
		t.Fatalf("MulDiv() expected error for division by zero")
	}
}
