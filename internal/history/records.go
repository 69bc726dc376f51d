// Package history is the append-only log of deposits, withdrawals, fills and
// clearing prices.
package history

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

type DepositKind int

const (
	Deposit DepositKind = iota
	Withdrawal
)

func (k DepositKind) String() string {
	switch k {
	case Deposit:
		return "deposit"
	case Withdrawal:
		return "withdrawal"
	}
	return fmt.Sprintf("deposit_kind(%d)", int(k))
}

func (k DepositKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *DepositKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "deposit":
		*k = Deposit
	case "withdrawal":
		*k = Withdrawal
	default:
		return fmt.Errorf("unknown deposit kind %q", text)
	}
	return nil
}

type DepositRecord struct {
	ID        uuid.UUID   `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Session   uint64      `json:"session"`
	Owner     UserID      `json:"owner"`
	Asset     AssetID     `json:"asset"`
	Kind      DepositKind `json:"kind"`
	Amount    uint64      `json:"amount"`
}

// TransactionRecord is one participant's fill in a clearing pass.
type TransactionRecord struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Session   uint64    `json:"session"`
	Owner     UserID    `json:"owner"`
	Asset     AssetID   `json:"asset"`
	Side      Side      `json:"side"`
	BookKind  BookKind  `json:"orderBook"`
	Dark      bool      `json:"dark,omitempty"`
	Volume    uint64    `json:"volume"`
	Quote     uint64    `json:"quote"`
	Price     float64   `json:"price"`
}

// PriceRecord is the outcome of one clearing pass that traded.
type PriceRecord struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Session   uint64    `json:"session"`
	Asset     AssetID   `json:"asset"`
	BookKind  BookKind  `json:"orderBook"`
	Volume    uint64    `json:"volume"`
	Price     float64   `json:"price"`
}

// NewTransaction builds the record of a fill.
func NewTransaction(f Fill) TransactionRecord {
	return TransactionRecord{
		ID:        uuid.New(),
		Timestamp: f.Timestamp,
		Session:   f.Session,
		Owner:     f.Owner,
		Asset:     f.Asset,
		Side:      f.Side,
		BookKind:  f.BookKind,
		Dark:      f.Dark,
		Volume:    f.Volume,
		Quote:     f.Quote,
		Price:     f.Price,
	}
}

// Query selects a window of a record stream. Offset 0 is the newest record
// unless Oldest asks for chronological paging. A zero Limit means no limit.
type Query struct {
	Asset *AssetID
	// Assets restricts the stream to any of the listed assets when not empty.
	Assets []AssetID
	Limit  int
	Offset int
	Oldest bool
}

func (q Query) match(asset AssetID) bool {
	if q.Asset != nil && *q.Asset != asset {
		return false
	}
	return len(q.Assets) == 0 || slices.Contains(q.Assets, asset)
}

// page walks records, stored oldest first, in query order.
func page[T any](records []T, q Query, asset func(T) AssetID) []T {
	out := []T{}
	skipped := 0
	for i := range records {
		idx := len(records) - 1 - i
		if q.Oldest {
			idx = i
		}
		r := records[idx]
		if !q.match(asset(r)) {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Store persists the history streams. Records are never mutated.
type Store interface {
	AppendDeposit(r DepositRecord) error
	AppendTransaction(r TransactionRecord) error
	AppendPrice(r PriceRecord) error

	Deposits(owner UserID, q Query) ([]DepositRecord, error)
	Transactions(owner UserID, q Query) ([]TransactionRecord, error)
	Prices(kind BookKind, q Query) ([]PriceRecord, error)
	// LastPrice is the newest price record of asset in kind.
	LastPrice(asset AssetID, kind BookKind) (PriceRecord, bool, error)

	Close() error
}
