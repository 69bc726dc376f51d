package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

// Key layout, each stream ordered by a store-wide sequence:
//
//	d 0x00 owner 0x00 seq   deposit records
//	t 0x00 owner 0x00 seq   transaction records
//	p 0x00 kind       seq   price records
//	l 0x00 asset kind       newest price record
const (
	prefixDeposit     = 'd'
	prefixTransaction = 't'
	prefixPrice       = 'p'
	prefixLastPrice   = 'l'

	sequenceKey       = "seq"
	sequenceBandwidth = 1000
)

// BadgerStore persists history in a badger database.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadgerStore opens the store in dir, or in memory when dir is empty.
func OpenBadgerStore(dir string, log zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening history sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func ownerPrefix(stream byte, owner UserID) []byte {
	key := []byte{stream, 0}
	key = append(key, owner...)
	return append(key, 0)
}

func pricePrefix(kind BookKind) []byte {
	return []byte{prefixPrice, 0, byte(kind)}
}

func lastPriceKey(asset AssetID, kind BookKind) []byte {
	key := []byte{prefixLastPrice, 0}
	key = binary.BigEndian.AppendUint32(key, uint32(asset))
	return append(key, byte(kind))
}

func (s *BadgerStore) append(prefix []byte, record any, extra ...[]byte) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next history sequence: %w", err)
	}
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), n)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, val); err != nil {
			return err
		}
		for _, k := range extra {
			if err := txn.Set(k, val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) AppendDeposit(r DepositRecord) error {
	return s.append(ownerPrefix(prefixDeposit, r.Owner), r)
}

func (s *BadgerStore) AppendTransaction(r TransactionRecord) error {
	return s.append(ownerPrefix(prefixTransaction, r.Owner), r)
}

func (s *BadgerStore) AppendPrice(r PriceRecord) error {
	return s.append(pricePrefix(r.BookKind), r, lastPriceKey(r.Asset, r.BookKind))
}

// scan decodes the records under prefix in query order.
func scan[T any](db *badger.DB, prefix []byte, q Query, asset func(T) AssetID) ([]T, error) {
	out := []T{}
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = !q.Oldest
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if opts.Reverse {
			seek = binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), ^uint64(0))
		}
		skipped := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var r T
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &r)
			}); err != nil {
				return err
			}
			if !q.match(asset(r)) {
				continue
			}
			if skipped < q.Offset {
				skipped++
				continue
			}
			out = append(out, r)
			if q.Limit > 0 && len(out) == q.Limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Deposits(owner UserID, q Query) ([]DepositRecord, error) {
	return scan(s.db, ownerPrefix(prefixDeposit, owner), q, func(r DepositRecord) AssetID { return r.Asset })
}

func (s *BadgerStore) Transactions(owner UserID, q Query) ([]TransactionRecord, error) {
	return scan(s.db, ownerPrefix(prefixTransaction, owner), q, func(r TransactionRecord) AssetID { return r.Asset })
}

func (s *BadgerStore) Prices(kind BookKind, q Query) ([]PriceRecord, error) {
	return scan(s.db, pricePrefix(kind), q, func(r PriceRecord) AssetID { return r.Asset })
}

func (s *BadgerStore) LastPrice(asset AssetID, kind BookKind) (PriceRecord, bool, error) {
	var r PriceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastPriceKey(asset, kind))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return PriceRecord{}, false, nil
	}
	if err != nil {
		return PriceRecord{}, false, err
	}
	return r, true, nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

// badgerLogger routes badger's logging into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(format, args...)
}
