package common

import (
	"fmt"
	"time"
)

// Fill accounts for the part of one order executed in a clearing pass.
type Fill struct {
	OrderID   OrderID   `json:"orderId"`
	Owner     UserID    `json:"owner"`
	Asset     AssetID   `json:"asset"`
	Side      Side      `json:"side"`
	BookKind  BookKind  `json:"orderBook"`
	Dark      bool      `json:"dark,omitempty"`
	Volume    uint64    `json:"volume"` // Asset units exchanged
	Quote     uint64    `json:"quote"`  // Quote units exchanged
	Price     float64   `json:"price"`
	Session   uint64    `json:"session"`
	Timestamp time.Time `json:"timestamp"`
}

func (f Fill) String() string {
	return fmt.Sprintf(
		`Order:     %d (dark: %t)
Owner:     %s
Asset:     %d
Side:      %v
BookKind:  %v
Volume:    %d
Quote:     %d
Price:     %f
Session:   %d
Timestamp: %v`,
		f.OrderID,
		f.Dark,
		f.Owner,
		f.Asset,
		f.Side,
		f.BookKind,
		f.Volume,
		f.Quote,
		f.Price,
		f.Session,
		f.Timestamp.Format(time.RFC3339),
	)
}
