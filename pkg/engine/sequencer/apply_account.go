package sequencer

import "github.com/hlq/matchcore/pkg/engine/journal"

func (s *Shard) applyDeposit(c Deposit) Result {
	if _, err := s.ledger.Deposit(c.Owner, c.Amount); err != nil {
		return Result{Err: err}
	}
	s.commit(journal.KindLedgerEntry, journal.AccountEntryPayload{Kind: "deposit", Owner: c.Owner, Amount: c.Amount})
	return Result{}
}

func (s *Shard) applyWithdraw(c Withdraw) Result {
	if err := s.gate.CheckWithdraw(c.Owner, c.Amount); err != nil {
		return Result{Err: err}
	}
	if _, err := s.ledger.Withdraw(c.Owner, c.Amount); err != nil {
		return Result{Err: err}
	}
	s.commit(journal.KindLedgerEntry, journal.AccountEntryPayload{Kind: "withdraw", Owner: c.Owner, Amount: c.Amount})
	return Result{}
}
