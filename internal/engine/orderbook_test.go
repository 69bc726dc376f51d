package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

func TestOrderBook_InsertKeepsIDOrder(t *testing.T) {
	book := NewOrderBook(Delayed)
	orders := []*Order{
		{ID: 5, Side: Ask, Price: 10, Volume: 1},
		{ID: 9, Side: Ask, Price: 10, Volume: 2},
		{ID: 7, Side: Ask, Price: 10, Volume: 3}, // restored into the middle
		{ID: 1, Side: Ask, Price: 8, Volume: 4},
	}
	for _, o := range orders {
		book.Insert(o)
	}

	assert.Equal(t, []levelView{
		{Price: 8, IDs: []OrderID{1}, Volumes: []uint64{4}},
		{Price: 10, IDs: []OrderID{5, 7, 9}, Volumes: []uint64{1, 3, 2}},
	}, viewLevels(book.Asks()))

	var seen []OrderID
	book.Scan(Ask, func(o *Order) bool {
		seen = append(seen, o.ID)
		return len(seen) < 3
	})
	assert.Equal(t, []OrderID{1, 5, 7}, seen)

	best, ok := book.Best(Ask)
	assert.True(t, ok)
	assert.Equal(t, 8.0, best)
	_, ok = book.Best(Bid)
	assert.False(t, ok)
}

func TestOrderBook_Bookkeeping(t *testing.T) {
	book := NewOrderBook(Immediate)
	a := &Order{ID: 1, Side: Bid, Price: 10, Volume: 30}
	b := &Order{ID: 2, Side: Bid, Price: 11, Volume: 20}
	book.Insert(a)
	book.Insert(b)

	n, v := book.Depth(Bid)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, uint64(50), v)

	book.Fill(a, 10)
	book.Resize(b, 5)
	n, v = book.Depth(Bid)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, uint64(25), v)

	book.Fill(a, 20)
	assert.Equal(t, []levelView{
		{Price: 11, IDs: []OrderID{2}, Volumes: []uint64{5}},
	}, viewLevels(book.Bids()))

	assert.True(t, book.Remove(b))
	assert.False(t, book.Remove(b))
	assert.True(t, book.Empty())
	assert.Equal(t, Immediate, book.Kind())
}
