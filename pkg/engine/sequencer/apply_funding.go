package sequencer

import "github.com/hlq/matchcore/pkg/engine/journal"

// applyFunding pays one funding interval across every owner passed in,
// crediting the ledger's funding pool and the receiving side's margin in
// one pass, mirroring the direction spec.md §4.5 defines: a positive
// rate means longs pay shorts.
func (s *Shard) applyFunding(c ApplyFunding) Result {
	for _, owner := range c.Owners {
		payment, err := s.pos.ApplyFunding(owner, c.Symbol, c.MarkPrice, c.RateBps)
		if err != nil {
			continue
		}
		if payment == 0 {
			continue
		}
		if payment < 0 {
			s.ledger.PostFunding(c.Symbol, owner, poolOwner(c.Symbol), -payment)
		} else {
			s.ledger.PostFunding(c.Symbol, poolOwner(c.Symbol), owner, payment)
		}
	}
	s.commit(journal.KindFundingApplied, journal.FundingPayload{Symbol: c.Symbol, RateBps: c.RateBps, MarkPrice: c.MarkPrice, Owners: c.Owners})
	return Result{}
}

// poolOwner names the transient funding-pool account a symbol's payments
// route through so every PostFunding call stays a balanced two-leg entry
// even though funding is logically a many-to-many transfer.
func poolOwner(symbol string) string { return "__funding_pool__:" + symbol }
