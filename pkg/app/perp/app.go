package perp

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hlq/matchcore/pkg/abci"
	"github.com/hlq/matchcore/pkg/app/core/mempool"
	"github.com/hlq/matchcore/pkg/consensus"
	"github.com/hlq/matchcore/pkg/crypto"
	"github.com/hlq/matchcore/pkg/engine/catalog"
	"github.com/hlq/matchcore/pkg/engine/journal"
	"github.com/hlq/matchcore/pkg/engine/ledger"
	"github.com/hlq/matchcore/pkg/engine/recovery"
	"github.com/hlq/matchcore/pkg/engine/risk"
	"github.com/hlq/matchcore/pkg/engine/sequencer"
	"github.com/hlq/matchcore/pkg/money"
)

// TradeBroadcaster is called when a trade executes.
type TradeBroadcaster func(symbol string, price, size money.Amount, side string, timestamp int64)

// StoredDelegation represents a delegation stored on the backend.
type StoredDelegation struct {
	Delegation *crypto.AgentDelegation
	Signature  []byte // EIP-712 signature from wallet
}

// Config bundles everything NewApp needs to stand up a shard set: where
// each shard's ledger and journal live on disk, how many shards to
// spread the catalog's symbols across, and the catalog itself.
type Config struct {
	DataDir   string
	NumShards uint32
	Catalog   *catalog.Registry
}

// App is the ABCI Application gluing the sequencer's sharded matching
// engine to consensus: it classifies incoming transactions into
// sequencer commands, assigns each to the shard that owns its symbol,
// and replays a block's commands through sequencer.Shard.ApplyBatch
// inside FinalizeBlock so every replica that agrees on a block's
// transaction order also agrees on the resulting AppHash.
type App struct {
	mempool    *mempool.Mempool
	catalog    *catalog.Registry
	txVerifier *TxVerifier

	shards        []*sequencer.Shard
	shardBySymbol map[string]*sequencer.Shard
	ledgerStores  []*ledger.Store
	journals      []*journal.Journal

	// noncesMu guards nonces, the app-layer replay-protection cursor per
	// signer, generalizing pkg/app/core/account.Account.Nonce to a plain
	// map since the engine's ledger tracks balances, not nonces.
	noncesMu sync.Mutex
	nonces   map[string]uint64

	delegationsMu sync.RWMutex
	delegations   map[string]*StoredDelegation

	OnTrade TradeBroadcaster
}

// DefaultCatalog registers the single BTC-USDT perpetual NewApp falls
// back to when no Config.Catalog is supplied, carrying forward
// pkg/app/core/market_params.go's fee, margin and leverage schedule
// (those bps fields are unit-agnostic) onto the engine's micro-unit
// price/quantity scale.
func DefaultCatalog() (*catalog.Registry, error) {
	return catalog.Load([]*catalog.Params{{
		Symbol:     "BTC-USDT",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",

		TickSize: 100_000,      // 0.1 USDT
		LotSize:  10_000,       // 0.01 BTC

		MinOrderSize: 10_000,          // 0.01 BTC
		MaxOrderSize: 100 * money.Unit, // 100 BTC
		MaxPosition:  500 * money.Unit, // 500 BTC

		MakerFeeBps:          -2,  // rebate to makers
		TakerFeeBps:          5,
		InitialMarginBps:     200, // 2% = 50x leverage
		MaintenanceMarginBps: 50,  // 0.5%
		MaxLeverage:          50,

		CircuitBands: [3]catalog.Band{
			{MoveBps: 500, Duration: 30_000_000_000},
			{MoveBps: 1000, Duration: 120_000_000_000},
			{MoveBps: 2000, Duration: 300_000_000_000},
		},
		SelfTradePolicy: catalog.CancelTaker,
		MaxOpenOrders:   128,
	}})
}

// NewApp builds an App whose shards have already recovered whatever
// state their journal and ledger store held from a prior run, per
// shard symbol bucket, mirroring pkg/app/core's single-market startup
// generalized to N shards.
func NewApp(cfg Config) (*App, error) {
	if cfg.NumShards == 0 {
		cfg.NumShards = 1
	}
	cat := cfg.Catalog
	if cat == nil {
		var err error
		cat, err = DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("app: default catalog: %w", err)
		}
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}

	buckets := make(map[uint32][]string)
	for _, sym := range cat.Symbols() {
		h := fnv.New32a()
		h.Write([]byte(sym))
		id := h.Sum32() % cfg.NumShards
		buckets[id] = append(buckets[id], sym)
	}

	ids := make([]uint32, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	app := &App{
		mempool:       mempool.NewMempool(),
		catalog:       cat,
		txVerifier:    NewTxVerifier(),
		shardBySymbol: make(map[string]*sequencer.Shard),
		nonces:        make(map[string]uint64),
		delegations:   make(map[string]*StoredDelegation),
	}

	for _, id := range ids {
		syms := buckets[id]
		sort.Strings(syms)

		shardDir := filepath.Join(dataDir, fmt.Sprintf("shard-%d", id))
		if err := os.MkdirAll(shardDir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create shard %d data dir: %w", id, err)
		}

		ledgerStore, err := ledger.OpenStore(filepath.Join(shardDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("app: shard %d: open ledger store: %w", id, err)
		}
		app.ledgerStores = append(app.ledgerStores, ledgerStore)

		journalPath := filepath.Join(shardDir, "journal.log")
		st, err := recovery.Recover(journalPath, ledgerStore, cat, syms)
		if err != nil {
			return nil, fmt.Errorf("app: shard %d: recover: %w", id, err)
		}
		if st.TruncateAt != 0 {
			if err := os.Truncate(journalPath, st.TruncateAt); err != nil {
				return nil, fmt.Errorf("app: shard %d: truncate torn journal tail: %w", id, err)
			}
		}

		j, err := journal.Open(journalPath, id, journal.FsyncEveryRecord, 0)
		if err != nil {
			return nil, fmt.Errorf("app: shard %d: open journal: %w", id, err)
		}
		app.journals = append(app.journals, j)

		gate := risk.NewGate(cat, st.Ledger, st.Positions, risk.AllowAllVerifier{})

		shard, err := sequencer.NewShardFromRecovery(sequencer.Config{
			ID:      id,
			Catalog: cat,
			Gate:    gate,
			Journal: j,
		}, &sequencer.RecoveredState{
			Ledger:    st.Ledger,
			Positions: st.Positions,
			Books:     st.Books,
			Breakers:  st.Breakers,
		})
		if err != nil {
			return nil, fmt.Errorf("app: shard %d: build shard: %w", id, err)
		}
		app.shards = append(app.shards, shard)

		for _, sym := range syms {
			app.shardBySymbol[sym] = shard
		}
	}

	log.Printf("[app] initialized %d shard(s) over symbols %v", len(app.shards), cat.Symbols())

	return app, nil
}

func (a *App) PushTx(b []byte) { a.mempool.PushRaw(b) }

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock decodes every transaction in the block into a sequencer
// command, groups commands by the shard owning their symbol, and drives
// each shard's batch through sequencer.Shard.ApplyBatch on the calling
// goroutine — consensus already guarantees exactly one caller executes a
// given height's transactions, in the same order, on every replica.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	type pending struct {
		shard *sequencer.Shard
		cmd   any
		meta  txMeta
	}
	var plan []pending

	for _, tx := range req.Txs {
		cmd, meta, ok := a.decodeTx(tx)
		if !ok {
			continue
		}
		shard, ok := a.shardBySymbol[meta.Symbol]
		if !ok {
			log.Printf("[app] no shard owns symbol %s, dropping tx", meta.Symbol)
			continue
		}
		plan = append(plan, pending{shard: shard, cmd: cmd, meta: meta})
	}

	byShard := make(map[*sequencer.Shard][]pending)
	for _, p := range plan {
		byShard[p.shard] = append(byShard[p.shard], p)
	}

	totalFills := 0
	for shard, ps := range byShard {
		cmds := make([]any, len(ps))
		for i, p := range ps {
			cmds[i] = p.cmd
		}
		results := shard.ApplyBatch(cmds)
		for i, res := range results {
			if res.Err != nil {
				continue
			}
			totalFills += len(res.Fills)
			if a.OnTrade != nil {
				for _, f := range res.Fills {
					a.OnTrade(ps[i].meta.Symbol, f.Price, f.Qty, ps[i].meta.TakerSide, req.Timestamp)
				}
			}
		}
	}

	appHash := a.computeStateHash(req.Height, req.Timestamp)

	if len(req.Txs) > 0 || totalFills > 0 {
		log.Printf("[app] FinalizeBlock h=%d txs=%d fills=%d apphash=%s",
			req.Height, len(req.Txs), totalFills, formatHash(appHash))
	}

	return abci.ResponseFinalizeBlock{
		Events:  []string{"commit"},
		AppHash: appHash,
	}
}

// formatHash returns a short hex representation of hash for logging.
func formatHash(h consensus.Hash) string {
	return fmt.Sprintf("0x%x", h[:8])
}

// computeStateHash hashes height, timestamp, and every shard's book,
// ledger and position state in a deterministic order, generalizing the
// teacher's orderbook-only digest (pkg/app/perp/app.go's original
// computeStateHash) to cover the balances and positions its own TODO
// list named as extension points.
func (a *App) computeStateHash(height, timestamp int64) [32]byte {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	for _, sym := range a.catalog.Symbols() {
		shard, ok := a.shardBySymbol[sym]
		if !ok {
			continue
		}
		h.Write([]byte(sym))

		if b, ok := shard.Book(sym); ok {
			bids, asks := b.Depth(0)
			for _, lvl := range bids {
				writeAmount(h, buf[:], lvl.Price)
				writeAmount(h, buf[:], lvl.Qty)
			}
			for _, lvl := range asks {
				writeAmount(h, buf[:], lvl.Price)
				writeAmount(h, buf[:], lvl.Qty)
			}
		}
	}

	for _, shard := range a.uniqueShards() {
		balances := shard.Ledger().AllBalances()
		owners := make([]ledger.Owner, 0, len(balances))
		for o := range balances {
			owners = append(owners, o)
		}
		sort.Slice(owners, func(i, j int) bool {
			if owners[i].User != owners[j].User {
				return owners[i].User < owners[j].User
			}
			return owners[i].Kind < owners[j].Kind
		})
		for _, o := range owners {
			h.Write([]byte(o.User))
			var kindBuf [1]byte
			kindBuf[0] = byte(o.Kind)
			h.Write(kindBuf[:])
			writeAmount(h, buf[:], balances[o])
		}

		positions := shard.Positions().All()
		sort.Slice(positions, func(i, j int) bool {
			if positions[i].Owner != positions[j].Owner {
				return positions[i].Owner < positions[j].Owner
			}
			return positions[i].Symbol < positions[j].Symbol
		})
		for _, p := range positions {
			h.Write([]byte(p.Owner))
			h.Write([]byte(p.Symbol))
			writeAmount(h, buf[:], p.Size)
			writeAmount(h, buf[:], p.EntryPrice)
			writeAmount(h, buf[:], p.Margin)
		}
	}

	return sha256.Sum256(h.Sum(nil))
}

func writeAmount(h interface{ Write([]byte) (int, error) }, buf []byte, amt money.Amount) {
	binary.BigEndian.PutUint64(buf, uint64(amt))
	h.Write(buf)
}

// uniqueShards returns every distinct shard this app owns, in a stable
// order, so the hash does not touch a shard's ledger/position state
// once per owned symbol.
func (a *App) uniqueShards() []*sequencer.Shard {
	seen := make(map[*sequencer.Shard]bool, len(a.shards))
	out := make([]*sequencer.Shard, 0, len(a.shards))
	for _, sym := range a.catalog.Symbols() {
		shard, ok := a.shardBySymbol[sym]
		if !ok || seen[shard] {
			continue
		}
		seen[shard] = true
		out = append(out, shard)
	}
	return out
}

// ==============================
// Public API Accessors
// ==============================

// ListMarkets returns the catalog's registered symbols.
func (a *App) ListMarkets() []string {
	return a.catalog.Symbols()
}

// GetMempoolSize returns current mempool transaction count.
func (a *App) GetMempoolSize() int {
	return a.mempool.Len()
}

// ==============================
// Agent Delegation Management
// ==============================

// StoreDelegation stores an agent key delegation.
func (a *App) StoreDelegation(delegationID string, delegation *crypto.AgentDelegation, signature []byte) {
	a.delegationsMu.Lock()
	defer a.delegationsMu.Unlock()

	a.delegations[delegationID] = &StoredDelegation{
		Delegation: delegation,
		Signature:  signature,
	}

	log.Printf("[app] delegation stored: id=%s wallet=%s agent=%s",
		delegationID, delegation.Wallet.Hex(), delegation.Agent.Hex())
}

// GetDelegation retrieves a delegation by ID.
func (a *App) GetDelegation(delegationID string) (*StoredDelegation, bool) {
	a.delegationsMu.RLock()
	defer a.delegationsMu.RUnlock()

	delegation, ok := a.delegations[delegationID]
	return delegation, ok
}
