package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/research-ag/icrc1-auction/internal/common"
)

func newTestAdapter(t *testing.T) (*Adapter, *MockLedger) {
	t.Helper()
	mock := NewMockLedger()
	a := NewAdapter("auction", zerolog.Nop())
	a.Register("token", mock)
	return a, mock
}

func TestDepositSubaccount(t *testing.T) {
	assert.Equal(t, DepositSubaccount("alice"), DepositSubaccount("alice"))
	assert.NotEqual(t, DepositSubaccount("alice"), DepositSubaccount("bob"))
	assert.Len(t, DepositSubaccount("alice").String(), 64)
}

func TestSubaccountText(t *testing.T) {
	var s Subaccount
	require.NoError(t, s.UnmarshalText([]byte("0102")))
	assert.Equal(t, byte(1), s[30])
	assert.Equal(t, byte(2), s[31])

	text, err := DepositSubaccount("alice").MarshalText()
	require.NoError(t, err)
	require.NoError(t, s.UnmarshalText(text))
	assert.Equal(t, DepositSubaccount("alice"), s)

	assert.Error(t, s.UnmarshalText([]byte("zz")))
	assert.Error(t, s.UnmarshalText(make([]byte, 66)))
}

func TestNotifyDeposit(t *testing.T) {
	ctx := context.Background()
	a, mock := newTestAdapter(t)

	_, err := a.NotifyDeposit(ctx, "token", "alice")
	var na *NotAvailableError
	require.True(t, errors.As(err, &na))
	assert.Equal(t, "Deposit was not detected", na.Message)

	mock.Issue(a.Subaccount("alice"), 500)
	amount, err := a.NotifyDeposit(ctx, "token", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), amount)

	// The subaccount was swept into the main account.
	bal, _ := mock.BalanceOf(ctx, a.Subaccount("alice"))
	assert.Zero(t, bal)
	bal, _ = mock.BalanceOf(ctx, a.Main())
	assert.Equal(t, uint64(500), bal)

	_, err = a.NotifyDeposit(ctx, "other", "alice")
	assert.ErrorIs(t, err, ErrUnknownLedger)
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()
	a, mock := newTestAdapter(t)
	mock.Issue(a.Main(), 100)

	to := Account{Owner: "alice"}
	tx, err := a.Withdraw(ctx, "token", to, 60)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tx)
	bal, _ := mock.BalanceOf(ctx, to)
	assert.Equal(t, uint64(60), bal)

	_, err = a.Withdraw(ctx, "token", to, 41)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBreakerTrips(t *testing.T) {
	ctx := context.Background()
	a, mock := newTestAdapter(t)
	mock.Issue(a.Main(), 1_000)
	down := errors.New("ledger down")
	mock.FailTransfers(down)

	for i := 0; i <= MaxNumOfFailingRequests; i++ {
		_, err := a.Withdraw(ctx, "token", Account{Owner: "alice"}, 1)
		assert.ErrorIs(t, err, down)
	}
	mock.FailTransfers(nil)
	_, err := a.Withdraw(ctx, "token", Account{Owner: "alice"}, 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestFallback(t *testing.T) {
	a := NewAdapter("auction", zerolog.Nop())
	connected := map[string]*MockLedger{}
	a.SetFallback(func(principal string) TokenLedger {
		m := NewMockLedger()
		connected[principal] = m
		return m
	})

	_, err := a.NotifyDeposit(context.Background(), "fresh", "alice")
	var na *NotAvailableError
	assert.True(t, errors.As(err, &na))
	require.Contains(t, connected, "fresh")

	connected["fresh"].Issue(a.Subaccount("alice"), 7)
	amount, err := a.NotifyDeposit(context.Background(), "fresh", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), amount)
	assert.Len(t, connected, 1)
}
