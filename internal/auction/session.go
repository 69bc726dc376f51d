package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/darkbook"
	"github.com/research-ag/icrc1-auction/internal/engine"
	"github.com/research-ag/icrc1-auction/internal/history"
)

// runSession clears every asset once. Dark order books are detached and
// decrypted with the mutex released, then admitted and cleared under it.
func (s *Service) runSession(ctx context.Context, session uint64, now time.Time) {
	s.mu.Lock()
	entries := s.dark.Take()
	s.mu.Unlock()

	revealed := darkbook.Reveal(ctx, entries, s.decryptor, s.cfg.DecryptWorkers, s.log)

	s.mu.Lock()
	defer s.mu.Unlock()

	dark := make(map[AssetID][]*Order)
	for _, r := range revealed {
		s.dark.Release(r.Entry)
		if r.Err != nil {
			if err := s.reporter.ReportError(string(r.Owner), r.Err); err != nil {
				s.log.Error().Err(err).Msg("unable to report error")
			}
			continue
		}
		dark[r.Asset] = append(dark[r.Asset], s.engine.AdmitDark(r.Owner, r.Asset, r.Orders, &s.darkSeq)...)
	}

	s.engine.SetSession(session)
	cleared := 0
	for _, asset := range s.engine.TradableAssets() {
		if !s.engine.HasOrders(asset) && len(dark[asset]) == 0 {
			continue
		}
		report, err := s.clear(asset, session, dark[asset])
		if err != nil {
			s.log.Error().Err(err).Uint32("asset", uint32(asset)).Uint64("session", session).Msg("clearing skipped")
			if rerr := s.reporter.ReportError("clearing", err); rerr != nil {
				s.log.Error().Err(rerr).Msg("unable to report error")
			}
			continue
		}
		if report.Matched {
			cleared++
		}
		s.recordClearing(report)
	}
	s.engine.SetSession(session + 1)
	s.engine.MarkSession(session + 1)

	s.log.Debug().
		Uint64("session", session).
		Int("dark", len(entries)).
		Int("cleared", cleared).
		Time("at", now).
		Msg("session processed")
}

// clear runs one asset's pass. A broken invariant skips the asset for this
// session instead of taking the process down.
func (s *Service) clear(asset AssetID, session uint64, dark []*Order) (report engine.ClearingReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("clearing asset %d: %v", asset, r)
		}
	}()
	return s.engine.Clear(asset, session, dark), nil
}

// recordClearing appends the price and transaction records of a pass that
// traded and hands it to the reporter.
func (s *Service) recordClearing(report engine.ClearingReport) {
	if !report.Matched {
		return
	}
	err := s.history.AppendPrice(history.PriceRecord{
		ID:        uuid.New(),
		Timestamp: report.Timestamp,
		Session:   report.Session,
		Asset:     report.Asset,
		BookKind:  report.BookKind,
		Volume:    report.Volume,
		Price:     report.Price,
	})
	if err != nil {
		s.log.Error().Err(err).Uint32("asset", uint32(report.Asset)).Msg("unable to append price history")
	}
	for _, f := range report.Fills {
		if err := s.history.AppendTransaction(history.NewTransaction(f)); err != nil {
			s.log.Error().Err(err).Str("user", string(f.Owner)).Msg("unable to append transaction history")
		}
	}
	if err := s.reporter.ReportClearing(report); err != nil {
		s.log.Error().Err(err).Uint32("asset", uint32(report.Asset)).Msg("unable to report clearing")
	}
}
