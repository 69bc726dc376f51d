package auction

import (
	"slices"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
	"github.com/research-ag/icrc1-auction/internal/darkbook"
	"github.com/research-ag/icrc1-auction/internal/engine"
	"github.com/research-ag/icrc1-auction/internal/history"
)

// Window pages a history stream.
type Window struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Selection picks the parts of a Query result to fill. History windows left
// nil are not read.
type Selection struct {
	Credits           bool `json:"credits,omitempty"`
	Bids              bool `json:"bids,omitempty"`
	Asks              bool `json:"asks,omitempty"`
	DarkBooks         bool `json:"darkBooks,omitempty"`
	Session           bool `json:"session,omitempty"`
	LastPrices        bool `json:"lastPrices,omitempty"`
	BookInfo          bool `json:"bookInfo,omitempty"`
	ImmediateBookInfo bool `json:"immediateBookInfo,omitempty"`

	Deposits        *Window `json:"deposits,omitempty"`
	Transactions    *Window `json:"transactions,omitempty"`
	Prices          *Window `json:"prices,omitempty"`
	ImmediatePrices *Window `json:"immediatePrices,omitempty"`

	// Reversed pages history oldest first.
	Reversed bool `json:"reversed,omitempty"`
}

type CreditInfo struct {
	Asset     AssetID `json:"asset"`
	Ledger    string  `json:"ledger"`
	Available uint64  `json:"available"`
	Locked    uint64  `json:"locked"`
	Total     uint64  `json:"total"`
}

type LastPrice struct {
	Asset     AssetID              `json:"asset"`
	Delayed   *history.PriceRecord `json:"delayed,omitempty"`
	Immediate *history.PriceRecord `json:"immediate,omitempty"`
}

type AssetBookInfo struct {
	Asset AssetID `json:"asset"`
	engine.BookInfo
}

type QueryResult struct {
	Credits           []CreditInfo                `json:"credits,omitempty"`
	Bids              []Order                     `json:"bids,omitempty"`
	Asks              []Order                     `json:"asks,omitempty"`
	DarkBooks         []darkbook.Entry            `json:"darkBooks,omitempty"`
	Session           *SessionInfo                `json:"session,omitempty"`
	LastPrices        []LastPrice                 `json:"lastPrices,omitempty"`
	BookInfo          []AssetBookInfo             `json:"bookInfo,omitempty"`
	ImmediateBookInfo []AssetBookInfo             `json:"immediateBookInfo,omitempty"`
	Deposits          []history.DepositRecord     `json:"deposits,omitempty"`
	Transactions      []history.TransactionRecord `json:"transactions,omitempty"`
	Prices            []history.PriceRecord       `json:"prices,omitempty"`
	ImmediatePrices   []history.PriceRecord       `json:"immediatePrices,omitempty"`
	AccountRevision   uint64                      `json:"accountRevision"`
}

// Query reads the state of user restricted to assets, all assets when none
// are given. Credits of explicitly requested assets are reported even when
// zero.
func (s *Service) Query(user UserID, assets []AssetID, sel Selection) (QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range assets {
		if _, ok := s.engine.Asset(a); !ok {
			return QueryResult{}, ErrUnknownAsset
		}
	}
	var res QueryResult
	res.AccountRevision = s.credits.Revision(user)

	if sel.Credits {
		res.Credits = s.queryCredits(user, assets)
	}
	if sel.Bids {
		res.Bids = s.engine.Orders(user, Bid, assets...)
	}
	if sel.Asks {
		res.Asks = s.engine.Orders(user, Ask, assets...)
	}
	if sel.DarkBooks {
		for _, e := range s.dark.Entries(user) {
			if len(assets) == 0 || slices.Contains(assets, e.Asset) {
				res.DarkBooks = append(res.DarkBooks, e)
			}
		}
	}
	if sel.Session {
		next := s.NextSession()
		res.Session = &next
	}

	tradable := s.tradable(assets)
	if sel.LastPrices {
		for _, a := range tradable {
			lp := LastPrice{Asset: a}
			if r, ok, err := s.history.LastPrice(a, Delayed); err != nil {
				return QueryResult{}, err
			} else if ok {
				lp.Delayed = &r
			}
			if r, ok, err := s.history.LastPrice(a, Immediate); err != nil {
				return QueryResult{}, err
			} else if ok {
				lp.Immediate = &r
			}
			res.LastPrices = append(res.LastPrices, lp)
		}
	}
	if sel.BookInfo {
		for _, a := range tradable {
			info, _ := s.engine.BookInfo(a)
			res.BookInfo = append(res.BookInfo, AssetBookInfo{Asset: a, BookInfo: info})
		}
	}
	if sel.ImmediateBookInfo {
		for _, a := range tradable {
			info, _ := s.engine.BookInfo(a, Immediate)
			res.ImmediateBookInfo = append(res.ImmediateBookInfo, AssetBookInfo{Asset: a, BookInfo: info})
		}
	}

	query := func(w *Window) history.Query {
		return history.Query{Assets: assets, Limit: w.Limit, Offset: w.Offset, Oldest: sel.Reversed}
	}
	var err error
	if sel.Deposits != nil {
		if res.Deposits, err = s.history.Deposits(user, query(sel.Deposits)); err != nil {
			return QueryResult{}, err
		}
	}
	if sel.Transactions != nil {
		if res.Transactions, err = s.history.Transactions(user, query(sel.Transactions)); err != nil {
			return QueryResult{}, err
		}
	}
	if sel.Prices != nil {
		if res.Prices, err = s.history.Prices(Delayed, query(sel.Prices)); err != nil {
			return QueryResult{}, err
		}
	}
	if sel.ImmediatePrices != nil {
		if res.ImmediatePrices, err = s.history.Prices(Immediate, query(sel.ImmediatePrices)); err != nil {
			return QueryResult{}, err
		}
	}
	return res, nil
}

func (s *Service) queryCredits(user UserID, assets []AssetID) []CreditInfo {
	info := func(a AssetID, acc credit.Account) CreditInfo {
		asset, _ := s.engine.Asset(a)
		return CreditInfo{
			Asset:     a,
			Ledger:    asset.Ledger,
			Available: acc.Available,
			Locked:    acc.Locked,
			Total:     acc.Total(),
		}
	}
	var out []CreditInfo
	if len(assets) > 0 {
		for _, a := range assets {
			out = append(out, info(a, s.credits.Account(user, a)))
		}
		return out
	}
	ids, accounts := s.credits.Accounts(user)
	for i, a := range ids {
		out = append(out, info(a, accounts[i]))
	}
	return out
}

// tradable narrows assets to tradable ones, all of them when none are given.
func (s *Service) tradable(assets []AssetID) []AssetID {
	if len(assets) == 0 {
		return s.engine.TradableAssets()
	}
	var out []AssetID
	for _, a := range assets {
		if a != QuoteAsset {
			out = append(out, a)
		}
	}
	return out
}
