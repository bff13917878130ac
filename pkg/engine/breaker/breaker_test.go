package breaker

import (
	"testing"

	"github.com/hlq/matchcore/pkg/engine/catalog"
)

func testParams() *catalog.Params {
	return &catalog.Params{
		Symbol: "BTC-USDC",
		CircuitBands: [3]catalog.Band{
			{MoveBps: 500, Duration: 1_000},
			{MoveBps: 1000, Duration: 5_000},
			{MoveBps: 2000, Duration: 30_000},
		},
	}
}

func TestCheckTrade_NoHaltWithinBand(t *testing.T) {
	b := New(testParams(), 100_000_000)
	if b.CheckTrade(0, 103_000_000) {
		t.Fatal("3% move should not halt with first band at 5%")
	}
	if b.State() != Normal {
		t.Fatalf("state = %v, want Normal", b.State())
	}
}

func TestCheckTrade_HaltsOnBandBreach(t *testing.T) {
	b := New(testParams(), 100_000_000)
	if !b.CheckTrade(0, 106_000_000) {
		t.Fatal("6% move should halt on the 5% band")
	}
	if b.State() != Halted {
		t.Fatalf("state = %v, want Halted", b.State())
	}
	if err := b.Guard(500); err != ErrHalted {
		t.Errorf("guard mid-halt should return ErrHalted, got %v", err)
	}
}

func TestCheckTrade_ResumesAfterDuration(t *testing.T) {
	b := New(testParams(), 100_000_000)
	b.CheckTrade(0, 106_000_000)

	if err := b.Guard(1_000); err != nil {
		t.Errorf("guard at resume time should clear the halt, got %v", err)
	}
	if b.State() != Normal {
		t.Fatalf("state = %v, want Normal after resume", b.State())
	}
}

func TestForceHaltAndResume(t *testing.T) {
	b := New(testParams(), 100_000_000)
	b.ForceHalt(0, 10_000)
	if err := b.Guard(5_000); err != ErrHalted {
		t.Errorf("expected halted, got %v", err)
	}
	b.ForceResume()
	if err := b.Guard(5_001); err != nil {
		t.Errorf("expected resumed after ForceResume, got %v", err)
	}
}
