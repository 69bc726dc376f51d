package common

import (
	"fmt"
	"math"
)

// AssetID is the registration index of an asset. The quote asset is always 0.
type AssetID uint32

// QuoteAsset is the asset every price is expressed in.
const QuoteAsset AssetID = 0

// OrderID is unique across all books and grows monotonically, so it doubles
// as time priority.
type OrderID uint64

// UserID identifies the owner of accounts and orders.
type UserID string

type Side int

const (
	Bid Side = iota
	Ask
)

var sideNames = map[Side]string{
	Bid: "bid",
	Ask: "ask",
}

func (s Side) String() string {
	if name, ok := sideNames[s]; ok {
		return name
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// Opposite returns the side an order of s would trade against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func ParseSide(s string) (Side, error) {
	for side, name := range sideNames {
		if name == s {
			return side, nil
		}
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// BookKind selects which order book an order rests in.
type BookKind int

const (
	// Delayed orders wait for the next session and are matched in the call
	// auction.
	Delayed BookKind = iota
	// Immediate orders are crossed against the immediate book on arrival.
	// Whatever rests takes part in the session auction as well.
	Immediate
)

// BookKinds lists every kind in a stable order.
var BookKinds = []BookKind{Delayed, Immediate}

var bookKindNames = map[BookKind]string{
	Delayed:   "delayed",
	Immediate: "immediate",
}

func (k BookKind) String() string {
	if name, ok := bookKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("book(%d)", int(k))
}

func ParseBookKind(s string) (BookKind, error) {
	for kind, name := range bookKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown order book kind %q", s)
}

func (k BookKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BookKind) UnmarshalText(text []byte) error {
	kind, err := ParseBookKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Asset is a registered token.
type Asset struct {
	ID             AssetID `json:"id"`
	Ledger         string  `json:"ledger"`
	MinOrderVolume uint64  `json:"minOrderVolume"`
	// LastSession is the session in which the asset was last processed.
	LastSession uint64 `json:"lastSession"`
}

// ValidPrice reports whether p can be used as a limit price.
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0
}
