package auction

import (
	"context"
	"time"

	"github.com/google/uuid"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
	"github.com/research-ag/icrc1-auction/internal/history"
	"github.com/research-ag/icrc1-auction/internal/ledger"
)

// DepositAccount is where user sends tokens before calling NotifyDeposit.
func (s *Service) DepositAccount(user UserID) ledger.Account {
	return s.ledgers.Subaccount(user)
}

// NotifyDeposit credits whatever user sent to their deposit account on the
// token ledger principal. It returns the credited amount and the new balance.
func (s *Service) NotifyDeposit(ctx context.Context, user UserID, principal string) (uint64, credit.Account, error) {
	s.mu.Lock()
	asset, ok := s.engine.AssetByLedger(principal)
	s.mu.Unlock()
	if !ok {
		return 0, credit.Account{}, &NotAvailableError{Message: "Unknown token"}
	}

	amount, err := s.ledgers.NotifyDeposit(ctx, principal, user)
	if err != nil {
		return 0, credit.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits.Credit(user, asset.ID, amount)
	s.appendDeposit(user, asset.ID, history.Deposit, amount)
	return amount, s.credits.Account(user, asset.ID), nil
}

// Withdraw debits amount of credit and sends it to the given account. If the
// transfer fails the credit is restored.
func (s *Service) Withdraw(ctx context.Context, user UserID, principal string, to ledger.Account, amount uint64) (uint64, error) {
	s.mu.Lock()
	asset, ok := s.engine.AssetByLedger(principal)
	if !ok {
		s.mu.Unlock()
		return 0, ErrUnknownAsset
	}
	if amount == 0 {
		s.mu.Unlock()
		return 0, ErrTooLowOrder
	}
	if err := s.credits.Debit(user, asset.ID, amount); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	tx, err := s.ledgers.Withdraw(ctx, principal, to, amount)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.credits.Credit(user, asset.ID, amount)
		s.log.Warn().Err(err).
			Str("user", string(user)).
			Str("ledger", principal).
			Uint64("amount", amount).
			Msg("withdrawal failed, credit restored")
		return 0, err
	}
	s.appendDeposit(user, asset.ID, history.Withdrawal, amount)
	return tx, nil
}

func (s *Service) appendDeposit(user UserID, asset AssetID, kind history.DepositKind, amount uint64) {
	err := s.history.AppendDeposit(history.DepositRecord{
		ID:        uuid.New(),
		Timestamp: time.Now(),
		Session:   s.clock.Counter(),
		Owner:     user,
		Asset:     asset,
		Kind:      kind,
		Amount:    amount,
	})
	if err != nil {
		s.log.Error().Err(err).Str("user", string(user)).Msg("unable to append deposit history")
	}
}
