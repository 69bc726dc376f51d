package auction

import (
	"maps"
	"slices"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/engine"
)

// OrderRequest asks for a new order on one side.
type OrderRequest struct {
	Asset  AssetID  `json:"asset"`
	Kind   BookKind `json:"orderBook"`
	Volume uint64   `json:"volume"`
	Price  float64  `json:"price"`
}

// OrderResult is the outcome of one placement. Executed is set when an
// immediate order traded on arrival.
type OrderResult struct {
	ID        OrderID `json:"id"`
	Executed  bool    `json:"executed,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Volume    uint64  `json:"volume,omitempty"`
	Discarded uint64  `json:"discarded,omitempty"`
	Err       error   `json:"-"`
}

func resultOf(r engine.PlaceResult) OrderResult {
	return OrderResult{
		ID:        r.ID,
		Executed:  r.Executed,
		Price:     r.Price,
		Volume:    r.Volume,
		Discarded: r.Discarded,
	}
}

func (s *Service) checkRevision(user UserID, expected *uint64) error {
	if expected != nil && *expected != s.credits.Revision(user) {
		return ErrAccountRevisionMismatch
	}
	return nil
}

// PlaceBids places each request independently and reports one result per
// request. A stale expected revision fails every request.
func (s *Service) PlaceBids(user UserID, reqs []OrderRequest, expectedRevision *uint64) []OrderResult {
	return s.place(user, Bid, reqs, expectedRevision)
}

func (s *Service) PlaceAsks(user UserID, reqs []OrderRequest, expectedRevision *uint64) []OrderResult {
	return s.place(user, Ask, reqs, expectedRevision)
}

func (s *Service) place(user UserID, side Side, reqs []OrderRequest, expectedRevision *uint64) []OrderResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]OrderResult, len(reqs))
	if err := s.checkRevision(user, expectedRevision); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}
	for i, req := range reqs {
		res, err := s.engine.Place(user, req.Asset, side, req.Kind, req.Price, req.Volume)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i] = resultOf(res)
		if res.Report != nil {
			s.recordClearing(*res.Report)
		}
	}
	return results
}

// Replace changes price and volume of an order of user.
func (s *Service) Replace(user UserID, id OrderID, price float64, volume uint64, expectedRevision *uint64) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRevision(user, expectedRevision); err != nil {
		return OrderResult{}, err
	}
	res, err := s.engine.Replace(user, id, price, volume)
	if err != nil {
		return OrderResult{}, err
	}
	if res.Report != nil {
		s.recordClearing(*res.Report)
	}
	return resultOf(res), nil
}

// Cancel cancels orders of user by id and reports one result per id.
func (s *Service) Cancel(user UserID, ids []OrderID) ([]Order, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]Order, len(ids))
	errs := make([]error, len(ids))
	for i, id := range ids {
		orders[i], errs[i] = s.engine.Cancel(user, id)
	}
	return orders, errs
}

// CancelAll cancels every order of user on side, restricted to assets when
// any are given.
func (s *Service) CancelAll(user UserID, side Side, assets ...AssetID) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CancelAll(user, side, assets...)
}

// Cancellation selects orders to cancel in a batch. With All set, every
// order of the user is cancelled, restricted to Assets when any are given.
type Cancellation struct {
	All    bool      `json:"all,omitempty"`
	Assets []AssetID `json:"assets,omitempty"`
	IDs    []OrderID `json:"ids,omitempty"`
}

// Placement is one new order of a batch.
type Placement struct {
	Side Side `json:"side"`
	OrderRequest
}

// undo reverts one applied step of a batch.
type undo func() error

// ManageOrders cancels and then places orders as one atomic batch. When any
// step fails, every applied step is reverted and a *BatchError names the
// failing item: cancellations are numbered first, then placements. Immediate
// placements cross only after the whole batch applied.
func (s *Service) ManageOrders(user UserID, cancel *Cancellation, place []Placement, expectedRevision *uint64) ([]OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRevision(user, expectedRevision); err != nil {
		return nil, err
	}

	var log []undo
	rollback := func(index int, err error) ([]OrderResult, error) {
		for i := len(log) - 1; i >= 0; i-- {
			if uerr := log[i](); uerr != nil {
				s.log.Error().Err(uerr).Str("user", string(user)).Msg("unable to roll back order batch")
			}
		}
		return nil, &BatchError{Index: index, Err: err}
	}
	restore := func(o Order) undo {
		return func() error { return s.engine.Restore(o) }
	}

	index := 0
	if cancel != nil {
		if cancel.All {
			for _, side := range []Side{Bid, Ask} {
				for _, o := range s.engine.CancelAll(user, side, cancel.Assets...) {
					log = append(log, restore(o))
				}
			}
			index++
		}
		for _, id := range cancel.IDs {
			o, err := s.engine.Cancel(user, id)
			if err != nil {
				return rollback(index, err)
			}
			log = append(log, restore(o))
			index++
		}
	}

	results := make([]OrderResult, len(place))
	immediate := make(map[AssetID][]OrderID)
	for i, p := range place {
		id, err := s.engine.Rest(user, p.Asset, p.Side, p.Kind, p.Price, p.Volume)
		if err != nil {
			return rollback(index+i, err)
		}
		log = append(log, func() error {
			_, err := s.engine.Cancel(user, id)
			return err
		})
		results[i] = OrderResult{ID: id}
		if p.Kind == Immediate {
			immediate[p.Asset] = append(immediate[p.Asset], id)
		}
	}

	for _, asset := range slices.Sorted(maps.Keys(immediate)) {
		crossed, report := s.engine.Cross(asset, immediate[asset]...)
		for i := range results {
			if r, ok := crossed[results[i].ID]; ok {
				results[i] = resultOf(r)
			}
		}
		if report != nil {
			s.recordClearing(*report)
		}
	}
	return results, nil
}

// DarkBookUpdate sets the encrypted order list of one asset. An empty
// ciphertext removes it.
type DarkBookUpdate struct {
	Asset      AssetID `json:"asset"`
	Ciphertext []byte  `json:"ciphertext"`
}

// ManageDarkOrderBooks applies the updates atomically and returns the
// ciphertexts they replaced.
func (s *Service) ManageDarkOrderBooks(user UserID, updates []DarkBookUpdate, expectedRevision *uint64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRevision(user, expectedRevision); err != nil {
		return nil, err
	}

	prev := make([][]byte, len(updates))
	for i, u := range updates {
		var err error
		if _, ok := s.engine.Asset(u.Asset); !ok || u.Asset == QuoteAsset {
			err = ErrUnknownAsset
		} else {
			prev[i], err = s.dark.Submit(user, u.Asset, u.Ciphertext)
		}
		if err == nil {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if _, uerr := s.dark.Submit(user, updates[j].Asset, prev[j]); uerr != nil {
				s.log.Error().Err(uerr).Str("user", string(user)).Msg("unable to roll back dark order books")
			}
		}
		return nil, &BatchError{Index: i, Err: err}
	}
	return prev, nil
}
