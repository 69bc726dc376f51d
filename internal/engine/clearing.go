package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

// ClearingState is the indicative outcome of matching the current books.
type ClearingState struct {
	Matched bool    `json:"matched"`
	Price   float64 `json:"price"`
	Volume  uint64  `json:"volume"`
}

// ClearingReport is the outcome of one matching pass over an asset.
type ClearingReport struct {
	Asset     AssetID
	BookKind  BookKind // Delayed for session auctions, Immediate on placement
	Session   uint64
	Matched   bool
	Price     float64
	Volume    uint64
	Fills     []Fill
	Timestamp time.Time
}

type chunk struct {
	bid, ask int // indices into the bid and ask lists
	volume   uint64
}

// match walks bids from the highest price and asks from the lowest while
// they cross. The last crossing pair is the marginal pair and the marginal
// bid's price is the uniform clearing price. Orders are not modified.
func match(bids, asks []*Order) (price float64, volume uint64, chunks []chunk) {
	if len(bids) == 0 || len(asks) == 0 {
		return 0, 0, nil
	}
	var i, j int
	bidLeft, askLeft := bids[0].Volume, asks[0].Volume
	for i < len(bids) && j < len(asks) && bids[i].Price >= asks[j].Price {
		q := min(bidLeft, askLeft)
		chunks = append(chunks, chunk{bid: i, ask: j, volume: q})
		volume += q
		price = bids[i].Price
		bidLeft -= q
		askLeft -= q

		// Move forward
		if bidLeft == 0 {
			i++
			if i < len(bids) {
				bidLeft = bids[i].Volume
			}
		}
		if askLeft == 0 {
			j++
			if j < len(asks) {
				askLeft = asks[j].Volume
			}
		}
	}
	return price, volume, chunks
}

// quoteShares splits total over orders that traded volumes at price. Every
// share starts as the exact quote rounded down. Shares with the largest
// remainders are then rounded up while total allows and fits approves,
// and shares with the smallest remainders give a unit back while the sum
// exceeds total. A nil fits approves every share.
func quoteShares(volumes []uint64, price float64, total uint64, fits func(i int, share uint64) bool) []uint64 {
	shares := make([]uint64, len(volumes))
	rest := make([]decimal.Decimal, len(volumes))
	order := make([]int, len(volumes))
	var sum uint64
	for i, v := range volumes {
		exact := QuoteVolume(v, price)
		shares[i] = SettleAmount(v, price)
		rest[i] = exact.Sub(exact.Floor())
		order[i] = i
		sum += shares[i]
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rest[order[a]].GreaterThan(rest[order[b]])
	})
	for _, i := range order {
		if sum >= total {
			break
		}
		if !rest[i].IsPositive() || (fits != nil && !fits(i, shares[i]+1)) {
			continue
		}
		shares[i]++
		sum++
	}
	for k := len(order) - 1; k >= 0 && sum > total; k-- {
		if i := order[k]; shares[i] > 0 {
			shares[i]--
			sum--
		}
	}
	return shares
}

// priorityLess orders one side of the auction: better price first, then
// visible orders by id, then dark orders by submission sequence.
func priorityLess(side Side, a, b *Order) bool {
	if a.Price != b.Price {
		if side == Bid {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	if a.Dark != b.Dark {
		return !a.Dark
	}
	if a.Dark {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

func collect(side Side, books []*OrderBook, dark []*Order) []*Order {
	var out []*Order
	for _, book := range books {
		book.Scan(side, func(o *Order) bool {
			out = append(out, o)
			return true
		})
	}
	for _, o := range dark {
		if o.Side == side {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityLess(side, out[i], out[j])
	})
	return out
}

// Clear runs the session auction of asset over both of its books and the
// given dark orders. Dark orders are single shot: whatever they still hold
// after the pass is released, even when the pass panics.
func (e *Engine) Clear(asset AssetID, session uint64, dark []*Order) ClearingReport {
	books, ok := e.books[asset]
	if !ok {
		return ClearingReport{Asset: asset, Session: session, Timestamp: e.now()}
	}
	defer func() {
		for _, o := range dark {
			e.credits.Unlock(o.Owner, o.LockedAsset(), o.Locked)
			o.Locked = 0
		}
	}()
	return e.clear(asset, Delayed, session, books, dark)
}

// Indicative matches the resting orders of asset without settling anything.
func (e *Engine) Indicative(asset AssetID, kinds ...BookKind) ClearingState {
	books := e.booksOf(asset, kinds)
	price, volume, _ := match(collect(Bid, books, nil), collect(Ask, books, nil))
	return ClearingState{Matched: volume > 0, Price: price, Volume: volume}
}

func (e *Engine) clear(asset AssetID, kind BookKind, session uint64, books []*OrderBook, dark []*Order) ClearingReport {
	bids := collect(Bid, books, dark)
	asks := collect(Ask, books, dark)
	price, volume, chunks := match(bids, asks)

	report := ClearingReport{
		Asset:     asset,
		BookKind:  kind,
		Session:   session,
		Timestamp: e.now(),
	}
	if volume == 0 {
		return report
	}
	report.Matched = true
	report.Price = price
	report.Volume = volume

	fills := make(map[*Order]*Fill)
	var touched []*Order
	record := func(o *Order, volume uint64) {
		f, ok := fills[o]
		if !ok {
			f = &Fill{
				OrderID:   o.ID,
				Owner:     o.Owner,
				Asset:     asset,
				Side:      o.Side,
				BookKind:  o.BookKind,
				Dark:      o.Dark,
				Price:     price,
				Session:   session,
				Timestamp: report.Timestamp,
			}
			fills[o] = f
			touched = append(touched, o)
		}
		f.Volume += volume
	}

	for _, c := range chunks {
		bid, ask := bids[c.bid], asks[c.ask]
		e.credits.Settle(ask.Owner, bid.Owner, asset, c.volume)
		ask.Locked -= c.volume

		e.reduce(bid, c.volume)
		e.reduce(ask, c.volume)
		record(bid, c.volume)
		record(ask, c.volume)
	}

	// Quote is rounded once per order. Bids pay first and the asks share
	// exactly what was paid.
	var buyers, sellers []*Order
	for _, o := range touched {
		if o.Side == Bid {
			buyers = append(buyers, o)
		} else {
			sellers = append(sellers, o)
		}
	}
	volumes := func(orders []*Order) []uint64 {
		out := make([]uint64, len(orders))
		for i, o := range orders {
			out[i] = fills[o].Volume
		}
		return out
	}
	paid := quoteShares(volumes(buyers), price, SettleAmount(volume, price), func(i int, share uint64) bool {
		o := buyers[i]
		return o.Locked >= share && o.Locked-share >= LockAmount(Bid, o.Volume, o.Price)
	})
	var total uint64
	for i, o := range buyers {
		e.credits.Spend(o.Owner, QuoteAsset, paid[i])
		o.Locked -= paid[i]
		fills[o].Quote = paid[i]
		total += paid[i]
	}
	received := quoteShares(volumes(sellers), price, total, nil)
	for i, o := range sellers {
		e.credits.Credit(o.Owner, QuoteAsset, received[i])
		fills[o].Quote = received[i]
	}

	// Bids locked at their limit but paid the clearing price. Release
	// whatever the remaining volume no longer needs.
	for _, o := range touched {
		keep := LockAmount(o.Side, o.Volume, o.Price)
		if o.Locked > keep {
			e.credits.Unlock(o.Owner, o.LockedAsset(), o.Locked-keep)
			o.Locked = keep
		}
		if o.Volume == 0 && !o.Dark {
			e.forget(o)
		}
	}

	sort.SliceStable(touched, func(i, j int) bool {
		if touched[i].Side != touched[j].Side {
			return touched[i].Side == Bid
		}
		return priorityLess(touched[i].Side, touched[i], touched[j])
	})
	report.Fills = make([]Fill, len(touched))
	for i, o := range touched {
		report.Fills[i] = *fills[o]
	}

	e.log.Debug().
		Uint32("asset", uint32(asset)).
		Stringer("book", kind).
		Uint64("session", session).
		Float64("price", price).
		Uint64("volume", volume).
		Int("fills", len(report.Fills)).
		Msg("cleared")
	return report
}

// reduce takes filled volume off an order. Resting orders keep their place
// in the book until fully filled.
func (e *Engine) reduce(order *Order, volume uint64) {
	if order.Dark {
		order.Volume -= volume
		return
	}
	e.books[order.Asset][order.BookKind].Fill(order, volume)
}

func (e *Engine) booksOf(asset AssetID, kinds []BookKind) []*OrderBook {
	all, ok := e.books[asset]
	if !ok {
		return nil
	}
	if len(kinds) == 0 {
		return all
	}
	books := make([]*OrderBook, 0, len(kinds))
	for _, k := range kinds {
		books = append(books, all[k])
	}
	return books
}

// BookInfo summarises the resting orders of asset in the given books, all
// books when none are given.
type BookInfo struct {
	Clearing  ClearingState `json:"clearing"`
	MaxBid    *float64      `json:"maxBid,omitempty"`
	MinAsk    *float64      `json:"minAsk,omitempty"`
	BidCount  uint64        `json:"bidCount"`
	BidVolume uint64        `json:"bidVolume"`
	AskCount  uint64        `json:"askCount"`
	AskVolume uint64        `json:"askVolume"`
}

func (e *Engine) BookInfo(asset AssetID, kinds ...BookKind) (BookInfo, error) {
	if _, err := e.tradable(asset); err != nil {
		return BookInfo{}, err
	}
	books := e.booksOf(asset, kinds)
	info := BookInfo{Clearing: e.Indicative(asset, kinds...)}
	for _, book := range books {
		n, v := book.Depth(Bid)
		info.BidCount += n
		info.BidVolume += v
		n, v = book.Depth(Ask)
		info.AskCount += n
		info.AskVolume += v
		if p, ok := book.Best(Bid); ok && (info.MaxBid == nil || p > *info.MaxBid) {
			info.MaxBid = &p
		}
		if p, ok := book.Best(Ask); ok && (info.MinAsk == nil || p < *info.MinAsk) {
			info.MinAsk = &p
		}
	}
	return info, nil
}

// HasOrders reports whether any book of asset holds a resting order.
func (e *Engine) HasOrders(asset AssetID) bool {
	for _, book := range e.books[asset] {
		if !book.Empty() {
			return true
		}
	}
	return false
}

// AdmitDark turns decrypted dark orders of owner into funded orders for one
// session. Orders are funded in the listed order; those below the minimum or
// that cannot be funded are dropped. seq numbers the admitted orders.
func (e *Engine) AdmitDark(owner UserID, id AssetID, orders []Order, seq *uint64) []*Order {
	asset, err := e.tradable(id)
	if err != nil {
		return nil
	}
	var admitted []*Order
	for _, o := range orders {
		if e.checkMinimum(asset, o.Side, o.Price, o.Volume) != nil {
			continue
		}
		need := LockAmount(o.Side, o.Volume, o.Price)
		lockAsset := QuoteAsset
		if o.Side == Ask {
			lockAsset = id
		}
		if e.credits.Lock(owner, lockAsset, need) != nil {
			continue
		}
		*seq++
		admitted = append(admitted, &Order{
			Owner:       owner,
			Asset:       id,
			Side:        o.Side,
			BookKind:    Delayed,
			Price:       o.Price,
			Volume:      o.Volume,
			TotalVolume: o.Volume,
			Locked:      need,
			Dark:        true,
			Seq:         *seq,
			Timestamp:   e.now(),
		})
	}
	return admitted
}

// Depth reports the resting orders and volume of one side of one book.
func (e *Engine) Depth(asset AssetID, kind BookKind, side Side) (count, volume uint64) {
	book, ok := e.Book(asset, kind)
	if !ok {
		return 0, 0
	}
	return book.Depth(side)
}
