package engine

import (
	"sort"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/tidwall/btree"
)

type PriceLevel struct {
	priceLevel float64
	orders     []*Order
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// OrderBook holds the resting orders of one asset in one book kind.
type OrderBook struct {
	kind BookKind

	// Price levels to orders sat on the price level, sorted by order id, which
	// is arrival order except for orders restored by a rolled back batch.
	bids *PriceLevels
	asks *PriceLevels

	// Some book keeping
	nBids     uint64 // Track the number of bids in the book.
	nAsks     uint64 // Track the number of asks in the book.
	bidVolume uint64 // Track the bid-side liquidity of the book.
	askVolume uint64 // Track the ask-side liquidity of the book.
}

func NewOrderBook(kind BookKind) *OrderBook {
	// Sorted greatest first.
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel > b.priceLevel
	})
	// Sorted least first.
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.priceLevel < b.priceLevel
	})
	return &OrderBook{
		kind: kind,
		bids: bids,
		asks: asks,
	}
}

func (book *OrderBook) Kind() BookKind {
	return book.kind
}

func (book *OrderBook) levels(side Side) *PriceLevels {
	if side == Bid {
		return book.bids
	}
	return book.asks
}

// Insert places the order in its price level keeping the level sorted by id.
func (book *OrderBook) Insert(order *Order) {
	levels := book.levels(order.Side)

	// Levels comparator only accounts for price levels, so we create a dummy
	// price level for the search.
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.Price})
	if ok {
		i := sort.Search(len(level.orders), func(i int) bool {
			return level.orders[i].ID > order.ID
		})
		level.orders = append(level.orders, nil)
		copy(level.orders[i+1:], level.orders[i:])
		level.orders[i] = order
	} else {
		levels.Set(&PriceLevel{
			priceLevel: order.Price,
			orders:     []*Order{order},
		})
	}
	book.account(order.Side, 1, order.Volume, true)
}

// Remove takes the order out of the book. It reports whether it was found.
func (book *OrderBook) Remove(order *Order) bool {
	levels := book.levels(order.Side)
	level, ok := levels.GetMut(&PriceLevel{priceLevel: order.Price})
	if !ok {
		return false
	}
	for i, o := range level.orders {
		if o.ID != order.ID {
			continue
		}
		level.orders = append(level.orders[:i], level.orders[i+1:]...)
		if len(level.orders) == 0 {
			levels.Delete(level)
		}
		book.account(order.Side, 1, o.Volume, false)
		return true
	}
	return false
}

// Fill reduces the remaining volume of a resting order in place, keeping its
// position. A fully filled order is removed.
func (book *OrderBook) Fill(order *Order, volume uint64) {
	order.Volume -= volume
	book.account(order.Side, 0, volume, false)
	if order.Volume == 0 {
		book.Remove(order)
	}
}

// Resize changes the remaining volume of a resting order without moving it.
func (book *OrderBook) Resize(order *Order, volume uint64) {
	book.account(order.Side, 0, order.Volume, false)
	order.Volume = volume
	book.account(order.Side, 0, order.Volume, true)
}

// Scan visits the orders of one side in priority order until fn returns false.
func (book *OrderBook) Scan(side Side, fn func(order *Order) bool) {
	book.levels(side).Scan(func(level *PriceLevel) bool {
		for _, o := range level.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// Best returns the top of book price of one side.
func (book *OrderBook) Best(side Side) (float64, bool) {
	level, ok := book.levels(side).Min()
	if !ok {
		return 0, false
	}
	return level.priceLevel, true
}

// Depth returns the number of orders and the volume resting on one side.
func (book *OrderBook) Depth(side Side) (count, volume uint64) {
	if side == Bid {
		return book.nBids, book.bidVolume
	}
	return book.nAsks, book.askVolume
}

func (book *OrderBook) Empty() bool {
	return book.nBids == 0 && book.nAsks == 0
}

func (book *OrderBook) Bids() []*PriceLevel {
	return book.bids.Items()
}

func (book *OrderBook) Asks() []*PriceLevel {
	return book.asks.Items()
}

func (book *OrderBook) account(side Side, n, volume uint64, add bool) {
	count, total := &book.nAsks, &book.askVolume
	if side == Bid {
		count, total = &book.nBids, &book.bidVolume
	}
	if add {
		*count += n
		*total += volume
		return
	}
	*count -= n
	*total -= volume
}

// FlatPriceLevel is an exported view of a price level.
type FlatPriceLevel struct {
	PriceLevel float64
	Orders     []*Order
}

// FlattenLevels copies price levels into comparable values.
func FlattenLevels(levels []*PriceLevel) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, len(levels))
	for i, level := range levels {
		flat[i] = FlatPriceLevel{
			PriceLevel: level.priceLevel,
			Orders:     append([]*Order(nil), level.orders...),
		}
	}
	return flat
}
