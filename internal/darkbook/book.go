// Package darkbook stores one encrypted order list per user and asset until
// the next session reveals it.
package darkbook

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
	"github.com/research-ag/icrc1-auction/internal/crypto"
	"github.com/research-ag/icrc1-auction/internal/utils"
)

type Entry struct {
	Owner      UserID  `json:"owner"`
	Asset      AssetID `json:"asset"`
	Ciphertext []byte  `json:"ciphertext"`
	Reserved   uint64  `json:"reserved"`
	Seq        uint64  `json:"seq"`
}

type key struct {
	owner UserID
	asset AssetID
}

// Book is not safe for concurrent use.
type Book struct {
	credits *credit.Ledger
	reserve uint64
	entries map[key]*Entry
	seq     uint64
}

// New returns a book that locks reserve quote units for every stored entry.
func New(credits *credit.Ledger, reserve uint64) *Book {
	return &Book{
		credits: credits,
		reserve: reserve,
		entries: make(map[key]*Entry),
	}
}

func (b *Book) Reserve() uint64 {
	return b.reserve
}

// Submit stores ciphertext for (owner, asset) and returns the ciphertext it
// replaced. The reserve is locked when the entry is created and kept on
// overwrite. An empty ciphertext deletes the entry and releases the reserve.
func (b *Book) Submit(owner UserID, asset AssetID, ciphertext []byte) ([]byte, error) {
	k := key{owner, asset}
	prev, ok := b.entries[k]

	if len(ciphertext) == 0 {
		if !ok {
			return nil, nil
		}
		delete(b.entries, k)
		b.credits.Unlock(owner, QuoteAsset, prev.Reserved)
		return prev.Ciphertext, nil
	}

	b.seq++
	if ok {
		old := prev.Ciphertext
		prev.Ciphertext = bytes.Clone(ciphertext)
		prev.Seq = b.seq
		return old, nil
	}
	if err := b.credits.Lock(owner, QuoteAsset, b.reserve); err != nil {
		b.seq--
		return nil, ErrNoCredit
	}
	b.entries[k] = &Entry{
		Owner:      owner,
		Asset:      asset,
		Ciphertext: bytes.Clone(ciphertext),
		Reserved:   b.reserve,
		Seq:        b.seq,
	}
	return nil, nil
}

// Entries returns the entries of owner ordered by asset.
func (b *Book) Entries(owner UserID) []Entry {
	var out []Entry
	for k, e := range b.entries {
		if k.owner == owner {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (b *Book) Len() int {
	return len(b.entries)
}

// Take detaches every entry, ordered by submission. Their reserves stay
// locked until Release.
func (b *Book) Take() []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	clear(b.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Release unlocks the reserve of a taken entry.
func (b *Book) Release(e Entry) {
	b.credits.Unlock(e.Owner, QuoteAsset, e.Reserved)
}

var errNotRevealed = fmt.Errorf("%w: not revealed", ErrDecrypt)

// Revealed is a taken entry with its decrypted orders. Err is set when the
// ciphertext could not be decrypted or parsed, in which case Orders is empty.
type Revealed struct {
	Entry
	Orders []Order
	Err    error
}

// Reveal decrypts and parses entries on a pool of workers. The result is in
// the order of entries.
func Reveal(ctx context.Context, entries []Entry, dec crypto.Decryptor, workers uint, log zerolog.Logger) []Revealed {
	out := make([]Revealed, len(entries))
	for i, e := range entries {
		out[i].Entry = e
		out[i].Err = errNotRevealed
	}
	if len(entries) == 0 {
		return out
	}

	t, ctx := tomb.WithContext(ctx)
	pool := utils.NewWorkerPool(workers, log)
	pool.Setup(t, func(t *tomb.Tomb, task any) error {
		r := &out[task.(int)]
		plaintext, err := dec.Decrypt(ctx, r.Ciphertext)
		if err == nil {
			r.Orders, err = Parse(plaintext)
		}
		r.Err = err
		if err != nil {
			r.Orders = nil
			log.Warn().Err(err).
				Str("owner", string(r.Owner)).
				Uint32("asset", uint32(r.Asset)).
				Msg("dark order book dropped")
		}
		return nil
	})
	for i := range entries {
		if !pool.AddTask(t, i) {
			break
		}
	}
	pool.Close()
	_ = t.Wait()
	return out
}
