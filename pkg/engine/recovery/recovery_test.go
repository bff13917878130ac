package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/money"
)

func testCatalog(t *testing.T) *catalog.Registry {
	t.Helper()
	cat, err := catalog.Load([]*catalog.Params{{
		Symbol:               "BTC-USDC",
		TickSize:             1,
		LotSize:              1,
		MinOrderSize:         1,
		MaxOrderSize:         1_000 * money.Unit,
		MaxPosition:          1_000 * money.Unit,
		MakerFeeBps:          -2,
		TakerFeeBps:          5,
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		MaxLeverage:          10,
		CircuitBands:         [3]catalog.Band{{MoveBps: 500, Duration: 1}, {MoveBps: 1000, Duration: 1}, {MoveBps: 2000, Duration: 1}},
	}})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestRecover_RebuildsRestingOrderAndPositions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard0.journal")

	j, err := journal.Open(path, 0, journal.FsyncEveryRecord, 0)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	// bob rests a 2-unit sell at 100.
	j.Commit(1, journal.KindOrderAccepted, mustJSON(t, journal.OrderEventPayload{
		Symbol: "BTC-USDC", Owner: "bob", ID: "sell-1",
		Side: book.Sell, Type: book.Limit, TIF: book.GTC, Price: 100 * money.Unit, Qty: 2 * money.Unit,
		Rested: true,
	}))

	// alice crosses 1 unit against it, fully filling her own order (doesn't rest).
	j.Commit(2, journal.KindFill, mustJSON(t, journal.FillPayload{
		Symbol: "BTC-USDC", TakerSide: book.Buy,
		Fill: book.Fill{
			TakerOrderID: "buy-1", MakerOrderID: "sell-1",
			TakerOwner: "alice", MakerOwner: "bob",
			Price: 100 * money.Unit, Qty: 1 * money.Unit, MakerRemaining: 1 * money.Unit,
		},
	}))
	j.Commit(2, journal.KindOrderAccepted, mustJSON(t, journal.OrderEventPayload{
		Symbol: "BTC-USDC", Owner: "alice", ID: "buy-1",
		Side: book.Buy, Type: book.Limit, TIF: book.GTC, Price: 100 * money.Unit, Qty: 0,
		Rested: false, Fills: 1,
	}))

	if err := j.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	st, err := Recover(path, nil, testCatalog(t), []string{"BTC-USDC"})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	alice := st.Positions.Snapshot("alice", "BTC-USDC")
	if alice.Size != money.Unit {
		t.Errorf("alice position size = %d, want %d", alice.Size, money.Unit)
	}
	bob := st.Positions.Snapshot("bob", "BTC-USDC")
	if bob.Size != -money.Unit {
		t.Errorf("bob position size = %d, want %d", bob.Size, -money.Unit)
	}

	b := st.Books["BTC-USDC"]
	resting, ok := b.Order("sell-1")
	if !ok {
		t.Fatal("expected bob's sell order to still be resting")
	}
	if resting.Qty != money.Unit {
		t.Errorf("resting qty = %d, want %d", resting.Qty, money.Unit)
	}
	if _, ok := b.Order("buy-1"); ok {
		t.Error("alice's fully-filled order should not be resting")
	}
	if b.LastPrice() != 100*money.Unit {
		t.Errorf("last price = %d, want %d", b.LastPrice(), 100*money.Unit)
	}
}

func TestRecover_ForcedHaltSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard0.journal")

	j, _ := journal.Open(path, 0, journal.FsyncEveryRecord, 0)
	j.Commit(1, journal.KindSymbolHalted, mustJSON(t, journal.HaltPayload{Symbol: "BTC-USDC", DurationNano: 1_000_000, Forced: true}))
	j.Close()

	st, err := Recover(path, nil, testCatalog(t), []string{"BTC-USDC"})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if err := st.Breakers["BTC-USDC"].Guard(0); err == nil {
		t.Error("expected symbol to still be halted immediately after recovery")
	}
}

func TestRecover_OrganicHaltDoesNotPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard0.journal")

	j, _ := journal.Open(path, 0, journal.FsyncEveryRecord, 0)
	j.Commit(1, journal.KindSymbolHalted, mustJSON(t, journal.HaltPayload{Symbol: "BTC-USDC", Forced: false}))
	j.Close()

	st, err := Recover(path, nil, testCatalog(t), []string{"BTC-USDC"})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if err := st.Breakers["BTC-USDC"].Guard(0); err != nil {
		t.Errorf("organic halt should not survive recovery, got %v", err)
	}
}

func TestRecover_TruncatesTornTailWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard0.journal")

	j, _ := journal.Open(path, 0, journal.FsyncEveryRecord, 0)
	j.Commit(1, journal.KindReferencePriceApplied, mustJSON(t, journal.ReferencePricePayload{Symbol: "BTC-USDC", Price: 100 * money.Unit}))
	j.Close()

	goodSize, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	f.Write([]byte{0x20, 0x00, 0x00, 0x00, 0x01, 0x02})
	f.Close()

	st, err := Recover(path, nil, testCatalog(t), []string{"BTC-USDC"})
	if err != nil {
		t.Fatalf("recover should tolerate a torn tail, got: %v", err)
	}
	if st.TruncateAt != goodSize.Size() {
		t.Errorf("truncate offset = %d, want %d", st.TruncateAt, goodSize.Size())
	}
	if st.Breakers["BTC-USDC"].ReferencePrice() != 100*money.Unit {
		t.Errorf("reference price not replayed before the torn tail")
	}
}

func TestRecover_NoJournalFileYetIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	st, err := Recover(filepath.Join(dir, "missing.journal"), nil, testCatalog(t), []string{"BTC-USDC"})
	if err != nil {
		t.Fatalf("first-run recovery should not error: %v", err)
	}
	if st.Books["BTC-USDC"] == nil {
		t.Error("expected a fresh book even with no journal file")
	}
}
