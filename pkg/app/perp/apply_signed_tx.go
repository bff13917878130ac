package perp

import (
	"fmt"
	"log"
	"math/big"
	"strconv"
	"strings"

	"github.com/hlq/matchcore/pkg/app/core/transaction"
	"github.com/hlq/matchcore/pkg/crypto"
	"github.com/hlq/matchcore/pkg/engine/book"
	"github.com/hlq/matchcore/pkg/engine/sequencer"
	"github.com/hlq/matchcore/pkg/money"
)

// TxVerifier handles signature verification for transactions.
type TxVerifier struct {
	verifier *transaction.Verifier
}

// NewTxVerifier creates a new transaction verifier with default domain.
func NewTxVerifier() *TxVerifier {
	domain := crypto.DefaultDomain()
	return &TxVerifier{
		verifier: transaction.NewVerifier(domain),
	}
}

// txMeta carries the bits of a decoded transaction FinalizeBlock needs
// after the sequencer command has already been built: which symbol it
// targets (to pick a shard) and which side initiated it (to label a
// resulting fill for broadcasting).
type txMeta struct {
	Symbol    string
	TakerSide string
}

// decodeTx turns one raw mempool transaction into a sequencer command,
// performing EIP-712 signature verification and nonce-replay checks here
// — upstream of the sequencer — so every shard's RiskGate can run with
// risk.AllowAllVerifier{} instead of re-verifying a signature it has no
// way to attribute back to a wallet on its own.
func (a *App) decodeTx(txBytes []byte) (any, txMeta, bool) {
	tx, err := transaction.ParseTransaction(txBytes)
	if err != nil {
		log.Printf("[app] invalid transaction: %v", err)
		return nil, txMeta{}, false
	}

	if tx.Type == transaction.TxTypeLegacy {
		return a.decodeLegacyTx(string(txBytes))
	}

	switch tx.Type {
	case transaction.TxTypeOrder:
		return a.decodeSignedOrder(tx)
	case transaction.TxTypeCancel:
		return a.decodeSignedCancel(tx)
	default:
		log.Printf("[app] unsupported transaction type: %s", tx.Type)
		return nil, txMeta{}, false
	}
}

// decodeSignedOrder verifies a signed order transaction (direct wallet or
// agent-delegated) and builds the SubmitOrder command it authorizes.
func (a *App) decodeSignedOrder(tx *transaction.SignedTransaction) (any, txMeta, bool) {
	owner, err := a.verifyOrderSignature(tx)
	if err != nil {
		log.Printf("[app] order signature rejected: %v", err)
		return nil, txMeta{}, false
	}

	orderNonce, ok := new(big.Int).SetString(tx.Order.Nonce, 10)
	if !ok {
		log.Printf("[app] invalid nonce: %s", tx.Order.Nonce)
		return nil, txMeta{}, false
	}
	if !a.bumpNonce(owner, orderNonce.Uint64()) {
		log.Printf("[app] nonce too low (replay attempt): owner=%s nonce=%s", owner, tx.Order.Nonce)
		return nil, txMeta{}, false
	}

	price, okP := new(big.Int).SetString(tx.Order.Price, 10)
	qty, okQ := new(big.Int).SetString(tx.Order.Qty, 10)
	if !okP || !okQ || price.Sign() <= 0 || qty.Sign() <= 0 {
		log.Printf("[app] invalid price or quantity")
		return nil, txMeta{}, false
	}

	side := book.Buy
	takerSide := "buy"
	if tx.Order.Side != 1 {
		side = book.Sell
		takerSide = "sell"
	}

	orderID := fmt.Sprintf("%s-ord-%s", owner, tx.Order.Nonce)

	cmd := sequencer.SubmitOrder{
		Owner:      owner,
		Symbol:     tx.Order.Symbol,
		Side:       side,
		Type:       book.Limit,
		TIF:        tifFromUint8(tx.Order.Type),
		Price:      money.Amount(price.Int64()),
		Qty:        money.Amount(qty.Int64()),
		ClientID:   orderID,
		MarkPrice:  money.Amount(price.Int64()),
	}

	log.Printf("[app] signed order accepted: %s side=%s price=%s qty=%s owner=%s",
		tx.Order.Symbol, crypto.Uint8ToSide(tx.Order.Side), tx.Order.Price, tx.Order.Qty, owner)

	return cmd, txMeta{Symbol: tx.Order.Symbol, TakerSide: takerSide}, true
}

// verifyOrderSignature dispatches to agent-delegated or direct-wallet
// verification depending on the transaction, mirroring the teacher's
// applySignedOrderWithFills branch.
func (a *App) verifyOrderSignature(tx *transaction.SignedTransaction) (string, error) {
	if tx.AgentMode && tx.DelegationID != "" {
		storedDel, ok := a.GetDelegation(tx.DelegationID)
		if !ok {
			return "", fmt.Errorf("delegation not found: %s", tx.DelegationID)
		}
		owner, valid, err := a.txVerifier.verifier.VerifyAgentOrderTransaction(tx, storedDel.Delegation, storedDel.Signature)
		if err != nil {
			return "", err
		}
		if !valid {
			return "", fmt.Errorf("invalid agent signature")
		}
		return owner.Hex(), nil
	}

	owner, valid, err := a.txVerifier.verifier.VerifyOrderTransaction(tx)
	if err != nil {
		return "", err
	}
	if !valid {
		return "", fmt.Errorf("invalid signature")
	}
	return owner.Hex(), nil
}

// decodeSignedCancel verifies a signed cancel transaction and builds the
// CancelOrder command it authorizes.
func (a *App) decodeSignedCancel(tx *transaction.SignedTransaction) (any, txMeta, bool) {
	owner, valid, err := a.txVerifier.verifier.VerifyCancelTransaction(tx)
	if err != nil {
		log.Printf("[app] cancel signature verification failed: %v", err)
		return nil, txMeta{}, false
	}
	if !valid {
		log.Printf("[app] invalid cancel signature")
		return nil, txMeta{}, false
	}

	cancelNonce, ok := new(big.Int).SetString(tx.Cancel.Nonce, 10)
	if !ok {
		log.Printf("[app] invalid cancel nonce: %s", tx.Cancel.Nonce)
		return nil, txMeta{}, false
	}
	if !a.bumpNonce(owner.Hex(), cancelNonce.Uint64()) {
		log.Printf("[app] cancel nonce too low (replay attempt)")
		return nil, txMeta{}, false
	}

	cmd := sequencer.CancelOrder{
		Owner:  owner.Hex(),
		Symbol: tx.Cancel.Symbol,
		ID:     tx.Cancel.OrderID,
	}
	return cmd, txMeta{Symbol: tx.Cancel.Symbol}, true
}

// decodeLegacyTx parses the unsigned "O:"/"C:"/"N:" mempool format used
// by TxGenerator for load testing, generalizing
// pkg/app/perp/app.go's original applyTx string parser to build
// sequencer commands instead of mutating a core.OrderBook directly. No
// signature is carried in this format, so these transactions run with
// whatever owner string they name — acceptable for load-test traffic
// only, never for a production signer.
func (a *App) decodeLegacyTx(s string) (any, txMeta, bool) {
	if strings.HasPrefix(s, "N:") {
		return nil, txMeta{}, false
	}

	if strings.HasPrefix(s, "C:") {
		rest := strings.TrimPrefix(s, "C:")
		parts := strings.Split(rest, ":")
		var sym, oid string
		if len(parts) == 1 {
			sym, oid = "BTC-USDT", parts[0]
		} else {
			sym, oid = parts[0], parts[1]
		}
		return sequencer.CancelOrder{Symbol: sym, ID: oid}, txMeta{Symbol: sym}, true
	}

	if strings.HasPrefix(s, "O:") {
		parts := strings.Split(s, ":")
		if len(parts) < 7 {
			log.Printf("[app] bad order tx: %s", s)
			return nil, txMeta{}, false
		}
		sym := parts[2]
		sideStr := parts[3]
		priceStr := strings.TrimPrefix(parts[4], "price=")
		qtyStr := strings.TrimPrefix(parts[5], "qty=")
		idStr := strings.TrimPrefix(parts[6], "id=")

		var owner string
		if len(parts) >= 8 && strings.HasPrefix(parts[7], "owner=") {
			owner = strings.TrimPrefix(parts[7], "owner=")
		}

		price, err1 := strconv.ParseInt(priceStr, 10, 64)
		qty, err2 := strconv.ParseInt(qtyStr, 10, 64)
		if err1 != nil || err2 != nil {
			log.Printf("[app] parse err(order): %s", s)
			return nil, txMeta{}, false
		}

		side, takerSide := book.Buy, "buy"
		if !strings.EqualFold(sideStr, "BUY") {
			side, takerSide = book.Sell, "sell"
		}

		cmd := sequencer.SubmitOrder{
			Owner:     owner,
			Symbol:    sym,
			Side:      side,
			Type:      book.Limit,
			TIF:       book.GTC,
			Price:     money.Amount(price),
			Qty:       money.Amount(qty),
			ClientID:  idStr,
			MarkPrice: money.Amount(price),
		}
		return cmd, txMeta{Symbol: sym, TakerSide: takerSide}, true
	}

	log.Printf("[app] unknown tx: %s", s)
	return nil, txMeta{}, false
}

// bumpNonce reports whether candidate is strictly greater than owner's
// last accepted nonce, and if so records it as the new high-water mark —
// mirroring pkg/app/core/account.Account.Nonce's replay-protection
// check, generalized to a plain map since the engine's ledger has no
// notion of per-owner nonces of its own.
func (a *App) bumpNonce(owner string, candidate uint64) bool {
	a.noncesMu.Lock()
	defer a.noncesMu.Unlock()

	if candidate <= a.nonces[owner] {
		return false
	}
	a.nonces[owner] = candidate
	return true
}

// tifFromUint8 maps the EIP-712 order "type" field (GTC=1/IOC=2/ALO=3,
// per pkg/crypto.Uint8ToOrderType) onto book.TimeInForce: ALO
// (add-liquidity-only) is the book's PostOnly behavior.
func tifFromUint8(t uint8) book.TimeInForce {
	switch t {
	case 2:
		return book.IOC
	case 3:
		return book.PostOnly
	default:
		return book.GTC
	}
}
