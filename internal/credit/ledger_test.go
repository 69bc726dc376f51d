package credit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

func TestLedger_LockUnlock(t *testing.T) {
	l := New()
	l.Credit("alice", QuoteAsset, 100)

	require.NoError(t, l.Lock("alice", QuoteAsset, 60))
	assert.Equal(t, Account{Available: 40, Locked: 60}, l.Account("alice", QuoteAsset))

	// A failed lock changes nothing, revision included.
	rev := l.Revision("alice")
	assert.ErrorIs(t, l.Lock("alice", QuoteAsset, 41), ErrInsufficientCredit)
	assert.ErrorIs(t, l.Lock("bob", QuoteAsset, 1), ErrInsufficientCredit)
	assert.Equal(t, rev, l.Revision("alice"))
	assert.Equal(t, Account{Available: 40, Locked: 60}, l.Account("alice", QuoteAsset))

	l.Unlock("alice", QuoteAsset, 60)
	assert.Equal(t, Account{Available: 100}, l.Account("alice", QuoteAsset))
	assert.Panics(t, func() { l.Unlock("alice", QuoteAsset, 1) })
}

func TestLedger_Settle(t *testing.T) {
	l := New()
	l.Credit("buyer", QuoteAsset, 1_000)
	l.Credit("seller", 1, 10)
	require.NoError(t, l.Lock("buyer", QuoteAsset, 1_000))
	require.NoError(t, l.Lock("seller", 1, 10))

	l.Settle("buyer", "seller", QuoteAsset, 1_000)
	l.Settle("seller", "buyer", 1, 10)

	assert.Equal(t, Account{Available: 1_000}, l.Account("seller", QuoteAsset))
	assert.Equal(t, Account{Available: 10}, l.Account("buyer", 1))

	// Drained accounts disappear from listings.
	assets, accounts := l.Accounts("buyer")
	assert.Equal(t, []AssetID{1}, assets)
	assert.Equal(t, []Account{{Available: 10}}, accounts)

	assert.Equal(t, uint64(1_000), l.Total(QuoteAsset))
	assert.Equal(t, uint64(10), l.Total(1))
}

func TestLedger_Spend(t *testing.T) {
	l := New()
	l.Credit("buyer", QuoteAsset, 100)
	require.NoError(t, l.Lock("buyer", QuoteAsset, 60))

	l.Spend("buyer", QuoteAsset, 45)
	assert.Equal(t, Account{Available: 40, Locked: 15}, l.Account("buyer", QuoteAsset))
	assert.Equal(t, uint64(55), l.Total(QuoteAsset))
	assert.Panics(t, func() { l.Spend("buyer", QuoteAsset, 16) })
}

func TestLedger_Debit(t *testing.T) {
	l := New()
	l.Credit("alice", 2, 50)
	require.NoError(t, l.Lock("alice", 2, 20))

	assert.ErrorIs(t, l.Debit("alice", 2, 31), ErrInsufficientCredit)
	require.NoError(t, l.Debit("alice", 2, 30))
	assert.Equal(t, Account{Locked: 20}, l.Account("alice", 2))

	// Refund after a failed external transfer.
	l.Credit("alice", 2, 30)
	assert.Equal(t, Account{Available: 30, Locked: 20}, l.Account("alice", 2))
}

func TestLedger_Revision(t *testing.T) {
	l := New()
	assert.Equal(t, uint64(0), l.Revision("alice"))

	l.Credit("alice", QuoteAsset, 10)
	require.NoError(t, l.Lock("alice", QuoteAsset, 5))
	l.Unlock("alice", QuoteAsset, 5)
	l.Touch("alice")
	assert.Equal(t, uint64(4), l.Revision("alice"))

	// Zero amounts are not mutations.
	l.Credit("alice", QuoteAsset, 0)
	require.NoError(t, l.Lock("alice", QuoteAsset, 0))
	assert.Equal(t, uint64(4), l.Revision("alice"))

	acc, rev := l.Snapshot("alice", QuoteAsset)
	assert.Equal(t, Account{Available: 10}, acc)
	assert.Equal(t, uint64(4), rev)
}

func TestLedger_Stats(t *testing.T) {
	l := New()
	l.Credit("alice", QuoteAsset, 10)
	l.Credit("alice", 1, 10)
	l.Credit("bob", QuoteAsset, 10)
	require.NoError(t, l.Debit("bob", QuoteAsset, 10))

	assert.Equal(t, Stats{Accounts: 2, Users: 2, UsersWithCredits: 1}, l.Stats())
}

func TestLedger_Concurrent(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Credit("alice", QuoteAsset, 2)
			_ = l.Lock("alice", QuoteAsset, 1)
		}()
	}
	wg.Wait()

	acc := l.Account("alice", QuoteAsset)
	assert.Equal(t, uint64(100), acc.Total())
	assert.Equal(t, uint64(50), acc.Locked)
	assert.Equal(t, uint64(100), l.Revision("alice"))
}
