package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

var (
	// MaxNumOfFailingRequests is how many calls a ledger breaker observes
	// before it may trip.
	MaxNumOfFailingRequests = 10
	// FailingRatio trips the breaker once that share of calls failed.
	FailingRatio = 0.6
)

func newCircuitBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("ledger", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
		},
	})
}

type guarded struct {
	ledger  TokenLedger
	breaker *gobreaker.CircuitBreaker
}

// Adapter moves tokens between users and the auction's account on each
// registered token ledger. Calls to a ledger go through its own breaker.
type Adapter struct {
	self string // owner of the auction's accounts
	log  zerolog.Logger

	mu       sync.RWMutex
	ledgers  map[string]guarded
	fallback func(principal string) TokenLedger
}

func NewAdapter(self string, log zerolog.Logger) *Adapter {
	return &Adapter{
		self:    self,
		log:     log,
		ledgers: make(map[string]guarded),
	}
}

// Register attaches the token ledger identified by principal.
func (a *Adapter) Register(principal string, ledger TokenLedger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ledgers[principal] = guarded{
		ledger:  ledger,
		breaker: newCircuitBreaker(principal, a.log),
	}
}

// SetFallback connects ledgers on first use that were never registered.
func (a *Adapter) SetFallback(connect func(principal string) TokenLedger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallback = connect
}

func (a *Adapter) get(principal string) (guarded, error) {
	a.mu.RLock()
	g, ok := a.ledgers[principal]
	connect := a.fallback
	a.mu.RUnlock()
	if ok {
		return g, nil
	}
	if connect == nil {
		return guarded{}, fmt.Errorf("%w: %s", ErrUnknownLedger, principal)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok := a.ledgers[principal]; ok {
		return g, nil
	}
	g = guarded{
		ledger:  connect(principal),
		breaker: newCircuitBreaker(principal, a.log),
	}
	a.ledgers[principal] = g
	return g, nil
}

// Main is the auction's own account that holds consolidated deposits.
func (a *Adapter) Main() Account {
	return Account{Owner: a.self}
}

// Subaccount is where user sends tokens before notifying a deposit.
func (a *Adapter) Subaccount(user UserID) Account {
	return Account{Owner: a.self, Subaccount: DepositSubaccount(string(user))}
}

// NotifyDeposit consolidates whatever user sent to their deposit subaccount
// into the main account and returns the amount to credit.
func (a *Adapter) NotifyDeposit(ctx context.Context, principal string, user UserID) (uint64, error) {
	g, err := a.get(principal)
	if err != nil {
		return 0, err
	}
	from := a.Subaccount(user)
	balance, err := g.breaker.Execute(func() (interface{}, error) {
		return g.ledger.BalanceOf(ctx, from)
	})
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", from, err)
	}
	amount := balance.(uint64)
	if amount == 0 {
		return 0, &NotAvailableError{Message: "Deposit was not detected"}
	}
	if _, err := g.breaker.Execute(func() (interface{}, error) {
		return g.ledger.Transfer(ctx, from, a.Main(), amount)
	}); err != nil {
		return 0, fmt.Errorf("consolidate deposit of %s: %w", user, err)
	}
	a.log.Info().Str("ledger", principal).Str("user", string(user)).Uint64("amount", amount).Msg("deposit consolidated")
	return amount, nil
}

// Withdraw sends amount from the main account to the given account and
// returns the ledger transaction index.
func (a *Adapter) Withdraw(ctx context.Context, principal string, to Account, amount uint64) (uint64, error) {
	g, err := a.get(principal)
	if err != nil {
		return 0, err
	}
	tx, err := g.breaker.Execute(func() (interface{}, error) {
		return g.ledger.Transfer(ctx, a.Main(), to, amount)
	})
	if err != nil {
		return 0, fmt.Errorf("withdraw to %s: %w", to, err)
	}
	return tx.(uint64), nil
}
