// Package auction ties the books, credit, dark books, history and the session
// clock together behind one serialised service.
package auction

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
	"github.com/research-ag/icrc1-auction/internal/crypto"
	"github.com/research-ag/icrc1-auction/internal/darkbook"
	"github.com/research-ag/icrc1-auction/internal/engine"
	"github.com/research-ag/icrc1-auction/internal/history"
	"github.com/research-ag/icrc1-auction/internal/ledger"
	"github.com/research-ag/icrc1-auction/internal/session"
)

const (
	DefaultDarkBookReserve = 1_000_000
	DefaultSessionInterval = 2 * time.Minute
	DefaultDecryptWorkers  = 4
)

type Config struct {
	QuoteLedger        string
	QuoteVolumeMinimum uint64
	DarkBookReserve    uint64
	SessionInterval    time.Duration
	ImmediateRemainder engine.Remainder
	DecryptWorkers     uint
	Admins             []UserID
}

// Reporter is told about every clearing pass that traded and about errors
// recovered while clearing.
type Reporter interface {
	ReportClearing(report engine.ClearingReport) error
	ReportError(source string, err error) error
}

type nopReporter struct{}

func (nopReporter) ReportClearing(engine.ClearingReport) error { return nil }
func (nopReporter) ReportError(string, error) error            { return nil }

// Service is safe for concurrent use. All state is guarded by one mutex that
// is released only around calls to token ledgers and the decryptor.
type Service struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	credits  *credit.Ledger
	engine   *engine.Engine
	dark     *darkbook.Book
	darkSeq  uint64
	admins   map[UserID]bool
	reporter Reporter

	history   history.Store
	ledgers   *ledger.Adapter
	decryptor crypto.Decryptor
	clock     *session.Clock
}

// New builds a service whose first session is due one interval after now.
func New(cfg Config, store history.Store, ledgers *ledger.Adapter, decryptor crypto.Decryptor, now time.Time, log zerolog.Logger) *Service {
	if cfg.SessionInterval <= 0 {
		cfg.SessionInterval = DefaultSessionInterval
	}
	if cfg.DecryptWorkers == 0 {
		cfg.DecryptWorkers = DefaultDecryptWorkers
	}
	credits := credit.New()
	s := &Service{
		cfg:     cfg,
		log:     log,
		credits: credits,
		engine: engine.New(credits, cfg.QuoteLedger, engine.Config{
			QuoteVolumeMinimum: cfg.QuoteVolumeMinimum,
			ImmediateRemainder: cfg.ImmediateRemainder,
		}, log.With().Str("component", "engine").Logger()),
		dark:      darkbook.New(credits, cfg.DarkBookReserve),
		admins:    make(map[UserID]bool),
		reporter:  nopReporter{},
		history:   store,
		ledgers:   ledgers,
		decryptor: decryptor,
	}
	for _, a := range cfg.Admins {
		s.admins[a] = true
	}
	s.clock = session.New(cfg.SessionInterval, now, s.runSession, log.With().Str("component", "clock").Logger())
	return s
}

// SetReporter replaces the reporter. A nil reporter discards reports.
func (s *Service) SetReporter(r Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		r = nopReporter{}
	}
	s.reporter = r
}

// Clock exposes the session clock so the daemon can drive it.
func (s *Service) Clock() *session.Clock {
	return s.clock
}

// Tick runs the session that is due at now, if any.
func (s *Service) Tick(ctx context.Context, now time.Time) bool {
	return s.clock.Tick(ctx, now)
}

func (s *Service) requireAdmin(caller UserID) error {
	if !s.admins[caller] {
		return ErrPermissionDenied
	}
	return nil
}

// RegisterAsset adds a tradable token identified by its ledger principal.
func (s *Service) RegisterAsset(caller UserID, principal string, minOrderVolume uint64) (AssetID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(caller); err != nil {
		return 0, err
	}
	return s.engine.RegisterAsset(principal, minOrderVolume)
}

func (s *Service) SetMinOrderVolume(caller UserID, asset AssetID, volume uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	return s.engine.SetMinOrderVolume(asset, volume)
}

func (s *Service) SetQuoteVolumeMinimum(caller UserID, volume uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.engine.SetQuoteVolumeMinimum(volume)
	return nil
}

func (s *Service) AddAdmin(caller, admin UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	s.admins[admin] = true
	return nil
}

// RemoveAdmin revokes admin. An admin may remove itself, but never the
// last one.
func (s *Service) RemoveAdmin(caller, admin UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	if s.admins[admin] && len(s.admins) == 1 {
		return ErrLastAdmin
	}
	delete(s.admins, admin)
	return nil
}

func (s *Service) ListAdmins() []UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserID, 0, len(s.admins))
	for a := range s.admins {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Assets lists the registered assets, the quote asset first.
func (s *Service) Assets() []Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Assets()
}

type Settings struct {
	QuoteLedger        string        `json:"quoteLedger"`
	QuoteVolumeMinimum uint64        `json:"quoteVolumeMinimum"`
	DarkBookReserve    uint64        `json:"darkBookReserve"`
	SessionInterval    time.Duration `json:"sessionInterval"`
	ImmediateRemainder string        `json:"immediateRemainder"`
	NextSession        time.Time     `json:"nextSession"`
}

func (s *Service) Settings() Settings {
	s.mu.Lock()
	cfg := s.engine.Config()
	s.mu.Unlock()

	remainder := "rest"
	if cfg.ImmediateRemainder == engine.RemainderDiscard {
		remainder = "discard"
	}
	return Settings{
		QuoteLedger:        s.cfg.QuoteLedger,
		QuoteVolumeMinimum: cfg.QuoteVolumeMinimum,
		DarkBookReserve:    s.dark.Reserve(),
		SessionInterval:    s.clock.Interval(),
		ImmediateRemainder: remainder,
		NextSession:        s.clock.Next(),
	}
}

// SessionInfo is the number and due time of the next session.
type SessionInfo struct {
	Counter   uint64    `json:"counter"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Service) NextSession() SessionInfo {
	return SessionInfo{Counter: s.clock.Counter(), Timestamp: s.clock.Next()}
}
