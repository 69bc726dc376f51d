package auction

import (
	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
)

// BookStats is the resting liquidity of one book.
type BookStats struct {
	Asset     Asset
	Kind      BookKind
	BidCount  uint64
	BidVolume uint64
	AskCount  uint64
	AskVolume uint64
}

type Stats struct {
	Credit   credit.Stats
	Books    []BookStats
	Sessions uint64
}

// Stats samples the service for metrics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Credit:   s.credits.Stats(),
		Sessions: s.clock.Counter(),
	}
	for _, id := range s.engine.TradableAssets() {
		asset, _ := s.engine.Asset(id)
		for _, kind := range BookKinds {
			b := BookStats{Asset: asset, Kind: kind}
			b.BidCount, b.BidVolume = s.engine.Depth(id, kind, Bid)
			b.AskCount, b.AskVolume = s.engine.Depth(id, kind, Ask)
			st.Books = append(st.Books, b)
		}
	}
	return st
}
