// Package ledger talks to the external token ledgers that back the credit
// balances.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownLedger     = errors.New("unknown ledger")
)

// Subaccount tags a sub-balance of an owner on a token ledger.
type Subaccount [32]byte

func (s Subaccount) String() string {
	return hex.EncodeToString(s[:])
}

func (s Subaccount) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts up to 32 hex-encoded bytes, left-padded with zeros.
func (s *Subaccount) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("subaccount: %w", err)
	}
	if len(b) > len(s) {
		return fmt.Errorf("subaccount: %d bytes, want at most %d", len(b), len(s))
	}
	*s = Subaccount{}
	copy(s[len(s)-len(b):], b)
	return nil
}

// Account is an owner plus subaccount. The zero subaccount is the default
// account of the owner.
type Account struct {
	Owner      string     `json:"owner"`
	Subaccount Subaccount `json:"subaccount"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s.%s", a.Owner, a.Subaccount)
}

// TokenLedger is the port to one external token ledger.
type TokenLedger interface {
	BalanceOf(ctx context.Context, account Account) (uint64, error)
	// Transfer moves amount and returns the ledger's transaction index.
	Transfer(ctx context.Context, from, to Account, amount uint64) (uint64, error)
}

// DepositSubaccount derives the subaccount of the auction that receives the
// deposits of user.
func DepositSubaccount(user string) Subaccount {
	return Subaccount(blake2b.Sum256([]byte(user)))
}

// MockLedger is an in-memory token ledger.
type MockLedger struct {
	mu       sync.Mutex
	balances map[Account]uint64
	tx       uint64
	fail     error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{balances: make(map[Account]uint64)}
}

// Issue mints amount to account.
func (m *MockLedger) Issue(to Account, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[to] += amount
}

// FailTransfers makes every following transfer fail with err until reset
// with nil.
func (m *MockLedger) FailTransfers(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockLedger) BalanceOf(ctx context.Context, account Account) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *MockLedger) Transfer(ctx context.Context, from, to Account, amount uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	if m.balances[from] < amount {
		return 0, ErrInsufficientFunds
	}
	m.balances[from] -= amount
	if m.balances[from] == 0 {
		delete(m.balances, from)
	}
	m.balances[to] += amount
	m.tx++
	return m.tx, nil
}
