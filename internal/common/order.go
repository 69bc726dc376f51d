package common

import (
	"fmt"
	"time"
)

type Order struct {
	ID          OrderID   `json:"id"`          // Priority within a price level
	Owner       UserID    `json:"owner"`       // Who owns this order
	Asset       AssetID   `json:"asset"`       // Traded asset, never the quote asset
	Side        Side      `json:"side"`        // Order side
	BookKind    BookKind  `json:"orderBook"`   // Book the order rests in
	Price       float64   `json:"price"`       // Limit price in quote units per asset unit
	Volume      uint64    `json:"volume"`      // Remaining volume
	TotalVolume uint64    `json:"totalVolume"` // Volume requested at placement
	Locked      uint64    `json:"locked"`      // Funds still reserved for the remaining volume
	Dark        bool      `json:"dark,omitempty"`
	Seq         uint64    `json:"-"`         // Priority among dark orders of the same price
	Timestamp   time.Time `json:"timestamp"` // Time of arrival into the book
}

// LockedAsset is the asset whose credit backs the order.
func (o *Order) LockedAsset() AssetID {
	if o.Side == Bid {
		return QuoteAsset
	}
	return o.Asset
}

func (o Order) String() string {
	return fmt.Sprintf(
		`ID:        %d
Owner:     %s
Asset:     %d
Side:      %v
BookKind:  %v
Price:     %f
Volume:    %d (Total: %d)
Locked:    %d
Dark:      %t
Timestamp: %v`,
		o.ID,
		o.Owner,
		o.Asset,
		o.Side,
		o.BookKind,
		o.Price,
		o.Volume,
		o.TotalVolume,
		o.Locked,
		o.Dark,
		o.Timestamp.Format(time.RFC3339),
	)
}
