package history

import (
	"sync"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

type priceKey struct {
	asset AssetID
	kind  BookKind
}

// MemoryStore keeps history in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	deposits     map[UserID][]DepositRecord
	transactions map[UserID][]TransactionRecord
	prices       map[BookKind][]PriceRecord
	last         map[priceKey]PriceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deposits:     make(map[UserID][]DepositRecord),
		transactions: make(map[UserID][]TransactionRecord),
		prices:       make(map[BookKind][]PriceRecord),
		last:         make(map[priceKey]PriceRecord),
	}
}

func (s *MemoryStore) AppendDeposit(r DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deposits[r.Owner] = append(s.deposits[r.Owner], r)
	return nil
}

func (s *MemoryStore) AppendTransaction(r TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[r.Owner] = append(s.transactions[r.Owner], r)
	return nil
}

func (s *MemoryStore) AppendPrice(r PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[r.BookKind] = append(s.prices[r.BookKind], r)
	s.last[priceKey{r.Asset, r.BookKind}] = r
	return nil
}

func (s *MemoryStore) Deposits(owner UserID, q Query) ([]DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.deposits[owner], q, func(r DepositRecord) AssetID { return r.Asset }), nil
}

func (s *MemoryStore) Transactions(owner UserID, q Query) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.transactions[owner], q, func(r TransactionRecord) AssetID { return r.Asset }), nil
}

func (s *MemoryStore) Prices(kind BookKind, q Query) ([]PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.prices[kind], q, func(r PriceRecord) AssetID { return r.Asset }), nil
}

func (s *MemoryStore) LastPrice(asset AssetID, kind BookKind) (PriceRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[priceKey{asset, kind}]
	return r, ok, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
