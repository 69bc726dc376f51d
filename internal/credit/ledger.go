// Package credit keeps the internal per-user, per-asset balances. Every change
// of money inside the engine goes through a Ledger.
package credit

import (
	"fmt"
	"sort"
	"sync"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

// Account is the credit of one user in one asset.
type Account struct {
	Available uint64 `json:"available"`
	Locked    uint64 `json:"locked"`
}

func (a Account) Total() uint64 {
	return a.Available + a.Locked
}

func (a Account) empty() bool {
	return a.Available == 0 && a.Locked == 0
}

type user struct {
	revision uint64
	accounts map[AssetID]*Account
}

// Stats summarises the ledger for metrics.
type Stats struct {
	Accounts         int // accounts with a non-zero total
	Users            int // users ever credited
	UsersWithCredits int // users holding at least one non-zero account
}

// Ledger holds all accounts. Each mutation bumps the owner's revision in the
// same critical section as the balance change.
type Ledger struct {
	mu    sync.RWMutex
	users map[UserID]*user
}

func New() *Ledger {
	return &Ledger{users: make(map[UserID]*user)}
}

// Credit increases the available balance. Used after verified deposits and
// to roll back failed withdrawals.
func (l *Ledger) Credit(owner UserID, asset AssetID, amount uint64) {
	if amount == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.user(owner)
	acc := u.account(asset)
	acc.Available += amount
	u.revision++
}

// Lock reserves amount of the available balance.
func (l *Ledger) Lock(owner UserID, asset AssetID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[owner]
	if !ok {
		return ErrInsufficientCredit
	}
	acc, ok := u.accounts[asset]
	if !ok || acc.Available < amount {
		return ErrInsufficientCredit
	}
	acc.Available -= amount
	acc.Locked += amount
	u.revision++
	return nil
}

// Unlock releases a reservation. The caller guarantees locked >= amount.
func (l *Ledger) Unlock(owner UserID, asset AssetID, amount uint64) {
	if amount == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.users[owner]
	acc := l.mustLocked(u, owner, asset, amount)
	acc.Locked -= amount
	acc.Available += amount
	u.revision++
}

// Settle moves locked funds of one user to the available balance of another.
func (l *Ledger) Settle(from, to UserID, asset AssetID, amount uint64) {
	if amount == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.users[from]
	acc := l.mustLocked(src, from, asset, amount)
	acc.Locked -= amount
	l.prune(src, asset)
	src.revision++

	dst := l.user(to)
	dst.account(asset).Available += amount
	if from != to {
		dst.revision++
	}
}

// Spend removes amount from the locked balance of owner. Crediting the
// receiving side is left to the caller.
func (l *Ledger) Spend(owner UserID, asset AssetID, amount uint64) {
	if amount == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.users[owner]
	acc := l.mustLocked(u, owner, asset, amount)
	acc.Locked -= amount
	l.prune(u, asset)
	u.revision++
}

// Debit removes available credit ahead of an external transfer.
func (l *Ledger) Debit(owner UserID, asset AssetID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[owner]
	if !ok {
		return ErrInsufficientCredit
	}
	acc, ok := u.accounts[asset]
	if !ok || acc.Available < amount {
		return ErrInsufficientCredit
	}
	acc.Available -= amount
	l.prune(u, asset)
	u.revision++
	return nil
}

// Touch bumps the revision of a user without moving funds.
func (l *Ledger) Touch(owner UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user(owner).revision++
}

// Account returns the balance of owner in asset, zero if absent.
func (l *Ledger) Account(owner UserID, asset AssetID) Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if u, ok := l.users[owner]; ok {
		if acc, ok := u.accounts[asset]; ok {
			return *acc
		}
	}
	return Account{}
}

// Accounts returns the non-empty accounts of owner ordered by asset.
func (l *Ledger) Accounts(owner UserID) ([]AssetID, []Account) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, ok := l.users[owner]
	if !ok {
		return nil, nil
	}
	assets := make([]AssetID, 0, len(u.accounts))
	for id, acc := range u.accounts {
		if !acc.empty() {
			assets = append(assets, id)
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	accounts := make([]Account, len(assets))
	for i, id := range assets {
		accounts[i] = *u.accounts[id]
	}
	return assets, accounts
}

// Revision returns the account revision of owner.
func (l *Ledger) Revision(owner UserID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if u, ok := l.users[owner]; ok {
		return u.revision
	}
	return 0
}

// Snapshot returns the balance and revision observed together.
func (l *Ledger) Snapshot(owner UserID, asset AssetID) (Account, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, ok := l.users[owner]
	if !ok {
		return Account{}, 0
	}
	if acc, ok := u.accounts[asset]; ok {
		return *acc, u.revision
	}
	return Account{}, u.revision
}

// Total sums the credit of every user in asset.
func (l *Ledger) Total(asset AssetID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total uint64
	for _, u := range l.users {
		if acc, ok := u.accounts[asset]; ok {
			total += acc.Total()
		}
	}
	return total
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{Users: len(l.users)}
	for _, u := range l.users {
		held := 0
		for _, acc := range u.accounts {
			if !acc.empty() {
				held++
			}
		}
		s.Accounts += held
		if held > 0 {
			s.UsersWithCredits++
		}
	}
	return s
}

func (l *Ledger) user(owner UserID) *user {
	u, ok := l.users[owner]
	if !ok {
		u = &user{accounts: make(map[AssetID]*Account)}
		l.users[owner] = u
	}
	return u
}

func (u *user) account(asset AssetID) *Account {
	acc, ok := u.accounts[asset]
	if !ok {
		acc = &Account{}
		u.accounts[asset] = acc
	}
	return acc
}

// prune forgets accounts that decayed to zero.
func (l *Ledger) prune(u *user, asset AssetID) {
	if acc, ok := u.accounts[asset]; ok && acc.empty() {
		delete(u.accounts, asset)
	}
}

func (l *Ledger) mustLocked(u *user, owner UserID, asset AssetID, amount uint64) *Account {
	if u != nil {
		if acc, ok := u.accounts[asset]; ok && acc.Locked >= amount {
			return acc
		}
	}
	panic(fmt.Sprintf("credit: %s holds less than %d locked in asset %d", owner, amount, asset))
}
